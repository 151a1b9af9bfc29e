package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"civic-ingest/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestClassifyTextThresholdBoundary(t *testing.T) {
	count, needsOCR := ClassifyText(strings.Repeat("a", 199), 200)
	assert.Equal(t, 199, count)
	assert.True(t, needsOCR)

	count, needsOCR = ClassifyText(strings.Repeat("a", 200), 200)
	assert.Equal(t, 200, count)
	assert.False(t, needsOCR)

	// Counted in runes after trimming.
	count, _ = ClassifyText("  \n"+strings.Repeat("é", 10)+"\t ", 200)
	assert.Equal(t, 10, count)
}

func TestAnalyzePlainText(t *testing.T) {
	a := NewQualityAnalyzer(&config.Config{}, discardLogger())
	assert.Equal(t, DefaultOCRCharThreshold, a.Threshold())

	short := writeFile(t, "short.txt", strings.Repeat("x", 199))
	analysis, err := a.Analyze(context.Background(), short, "")
	require.NoError(t, err)
	assert.True(t, analysis.NeedsOCR)
	assert.Equal(t, MimeText, analysis.MimeType)
	assert.Equal(t, "plain", analysis.Method)

	long := writeFile(t, "long.md", strings.Repeat("x", 200))
	analysis, err = a.Analyze(context.Background(), long, "")
	require.NoError(t, err)
	assert.False(t, analysis.NeedsOCR)
	assert.Equal(t, MimeMarkdown, analysis.MimeType)
}

func TestAnalyzeUsesConfiguredThreshold(t *testing.T) {
	a := NewQualityAnalyzer(&config.Config{OCRCharThreshold: 10}, discardLogger())
	analysis, err := a.Analyze(context.Background(), writeFile(t, "a.csv", "a,b,c,d,e,f"), "")
	require.NoError(t, err)
	assert.False(t, analysis.NeedsOCR)
}

func TestAnalyzeReaderErrorMeansOCR(t *testing.T) {
	a := NewQualityAnalyzer(&config.Config{PdftotextBin: ""}, discardLogger())

	// Not a PDF at all: the reader fails, the analysis does not.
	broken := writeFile(t, "broken.pdf", "not really a pdf")
	analysis, err := a.Analyze(context.Background(), broken, "")
	require.NoError(t, err)
	assert.True(t, analysis.NeedsOCR)
	assert.Zero(t, analysis.ExtractedTextCharCount)
	assert.NotEmpty(t, analysis.ExtractError)
	assert.Equal(t, "go-pdf", analysis.Method)

	unsupported := writeFile(t, "photo.jpg", "jpeg")
	analysis, err = a.Analyze(context.Background(), unsupported, "")
	require.NoError(t, err)
	assert.True(t, analysis.NeedsOCR)
	assert.Equal(t, "unsupported", analysis.Method)

	_, err = a.Analyze(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), "")
	assert.Error(t, err)
}

func TestAnalyzeSpreadsheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Line item"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Appropriation"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Highway department"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 125000))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	a := NewQualityAnalyzer(&config.Config{OCRCharThreshold: 20}, discardLogger())
	analysis, err := a.Analyze(context.Background(), path, "budget.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "excelize", analysis.Method)
	assert.Contains(t, analysis.Text, "Highway department\t125000")
	assert.False(t, analysis.NeedsOCR)
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, MimePDF, MimeTypeFor("A.PDF"))
	assert.Equal(t, MimeXLSX, MimeTypeFor("b.xlsx"))
	assert.Equal(t, MimeUnknown, MimeTypeFor("c.docx"))
}
