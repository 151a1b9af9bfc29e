package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"civic-ingest/internal/config"
	"civic-ingest/models"
)

const (
	DefaultOCRCharThreshold = 200

	MimePDF      = "application/pdf"
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeCSV      = "text/csv"
	MimeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeUnknown  = "application/octet-stream"
)

// MimeTypeFor maps an eligible file extension to its MIME type
func MimeTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return MimePDF
	case ".txt":
		return MimeText
	case ".md":
		return MimeMarkdown
	case ".csv":
		return MimeCSV
	case ".xlsx":
		return MimeXLSX
	default:
		return MimeUnknown
	}
}

// ClassifyText applies the quality gate: fewer than threshold characters of
// trimmed text means the file needs OCR.
func ClassifyText(text string, threshold int) (int, bool) {
	count := utf8.RuneCountInString(strings.TrimSpace(text))
	return count, count < threshold
}

// QualityAnalyzer extracts text with the file's native reader and decides
// whether the cheap text path is good enough.
type QualityAnalyzer struct {
	threshold    int
	pdftotextBin string
	timeout      time.Duration
	logger       *slog.Logger
}

func NewQualityAnalyzer(cfg *config.Config, logger *slog.Logger) *QualityAnalyzer {
	threshold := cfg.OCRCharThreshold
	if threshold <= 0 {
		threshold = DefaultOCRCharThreshold
	}
	return &QualityAnalyzer{
		threshold:    threshold,
		pdftotextBin: cfg.PdftotextBin,
		timeout:      60 * time.Second,
		logger:       logger,
	}
}

func (a *QualityAnalyzer) Threshold() int { return a.threshold }

// Analyze never fails on unreadable content: a reader error yields zero
// characters and is reported in Analysis.ExtractError.
func (a *QualityAnalyzer) Analyze(ctx context.Context, filePath, displayFilename string) (*models.Analysis, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	name := displayFilename
	if name == "" {
		name = filePath
	}
	analysis := &models.Analysis{MimeType: MimeTypeFor(name)}

	text, method, err := a.extract(ctx, filePath, analysis.MimeType)
	analysis.Method = method
	if err != nil {
		a.logger.Warn("Native text extraction failed", "file", name, "method", method, "error", err)
		analysis.ExtractError = err.Error()
		text = ""
	}

	analysis.Text = text
	analysis.ExtractedTextCharCount, analysis.NeedsOCR = ClassifyText(text, a.threshold)
	a.logger.Debug("Analyzed file",
		"file", name,
		"method", method,
		"chars", analysis.ExtractedTextCharCount,
		"needs_ocr", analysis.NeedsOCR,
	)
	return analysis, nil
}

func (a *QualityAnalyzer) extract(ctx context.Context, filePath, mimeType string) (string, string, error) {
	switch mimeType {
	case MimePDF:
		if a.hasBinary(a.pdftotextBin) {
			text, err := a.extractWithPoppler(ctx, filePath)
			if err == nil {
				return text, "poppler", nil
			}
			a.logger.Debug("pdftotext failed, falling back to go-pdf", "error", err)
		}
		text, err := extractWithGoPDF(filePath)
		return text, "go-pdf", err
	case MimeXLSX:
		text, err := extractSpreadsheet(filePath)
		return text, "excelize", err
	case MimeText, MimeMarkdown, MimeCSV:
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", "plain", err
		}
		return string(bytes.ToValidUTF8(data, []byte("�"))), "plain", nil
	default:
		return "", "unsupported", fmt.Errorf("no text reader for %s", mimeType)
	}
}

// extractWithPoppler uses poppler-utils (pdftotext) for extraction
func (a *QualityAnalyzer) extractWithPoppler(ctx context.Context, filePath string) (string, error) {
	extractCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(extractCtx, a.pdftotextBin, "-layout", filePath, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// extractWithGoPDF uses the Go PDF library for extraction
func extractWithGoPDF(filePath string) (text string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("go-pdf panicked: %v", r)
		}
	}()

	file, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}
	defer file.Close()

	var textBuilder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			continue
		}
		textBuilder.WriteString(pageText)
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

func extractSpreadsheet(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// hasBinary checks if a binary executable exists in PATH
func (a *QualityAnalyzer) hasBinary(name string) bool {
	if name == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
