package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-ingest/models"
)

func TestExtractMetadataStructured(t *testing.T) {
	meta := ExtractMetadata("conway/minutes/zoning_board/2024/2024-03-05.pdf")
	assert.Equal(t, "conway", meta.Town)
	assert.Equal(t, "minutes", meta.Category)
	assert.Equal(t, "zoning board", meta.Board)
	assert.Equal(t, 2024, meta.Year)
	assert.Equal(t, "2024-03-05", meta.MeetingDate)
	assert.True(t, meta.IsMinutes)
	assert.Equal(t, "2024-03-05.pdf", meta.Filename)
}

func TestExtractMetadataPathExamples(t *testing.T) {
	meta := ExtractMetadata("conway/minutes/Board_of_Selectmen/2024/jan.pdf")
	assert.Equal(t, "conway", meta.Town)
	assert.Equal(t, "minutes", meta.Category)
	assert.Equal(t, "Board of Selectmen", meta.Board)
	assert.Equal(t, 2024, meta.Year)

	meta = ExtractMetadata("ossipee/ZBA_Minutes_03-14-24.pdf")
	assert.Equal(t, "ossipee", meta.Town)
	assert.Equal(t, "Zoning Board", meta.Board)
	assert.Equal(t, 2024, meta.Year)
	assert.Equal(t, "2024-03-14", meta.MeetingDate)
}

func TestExtractMetadataStructuredToleratesTypo(t *testing.T) {
	meta := ExtractMetadata("bartlett/minuts/planning-board/2023/notes.pdf")
	assert.Equal(t, "minutes", meta.Category)
	assert.Equal(t, "planning board", meta.Board)
	assert.Equal(t, 2023, meta.Year)

	// Short tokens need an exact match.
	meta = ExtractMetadata("bartlett/taxs/assessor/2023/notes.pdf")
	assert.Equal(t, models.UncategorizedCategory, meta.Category)
}

func TestExtractMetadataFlat(t *testing.T) {
	tests := []struct {
		key      string
		town     string
		category string
		board    string
		year     int
		date     string
	}{
		{"conway/ZBA_Minutes_03-05-2024.pdf", "conway", "minutes", "Zoning Board", 2024, "2024-03-05"},
		{"Madison/Select Board Agenda 2022.pdf", "madison", "agenda", "Board of Selectmen", 2022, ""},
		{"jackson/zoning-board-of-adjustment-minutes-1-9-98.pdf", "jackson", "minutes", "Zoning Board", 1998, "1998-01-09"},
		{"budget-2021.xlsx", models.UnknownTown, "budget", "", 2021, ""},
		{"eaton/warrant_article_2019_02_30.pdf", "eaton", "warrant", "", 2019, ""},
		{"notes.txt", models.UnknownTown, models.UncategorizedCategory, "", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			meta := ExtractMetadata(tt.key)
			assert.Equal(t, tt.town, meta.Town)
			assert.Equal(t, tt.category, meta.Category)
			assert.Equal(t, tt.board, meta.Board)
			assert.Equal(t, tt.year, meta.Year)
			assert.Equal(t, tt.date, meta.MeetingDate)
			assert.Equal(t, tt.category == "minutes", meta.IsMinutes)
		})
	}
}

func TestExtractMetadataBoardNeedsTokenBoundary(t *testing.T) {
	// "bos" inside "boston" is not the Board of Selectmen.
	meta := ExtractMetadata("x/boston-report.pdf")
	assert.Empty(t, meta.Board)
	assert.Equal(t, "report", meta.Category)
}

func TestLoadMetadataRulesOverridesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  - name: deed
    tokens: [deeds]
    keywords: [deed]
boards:
  - name: Registry of Deeds
    synonyms: [registry]
`), 0o600))

	rules, err := LoadMetadataRules(path)
	require.NoError(t, err)
	e := NewMetadataExtractor(rules)

	meta := e.Extract("carroll/registry-deed-2020.pdf")
	assert.Equal(t, "deed", meta.Category)
	assert.Equal(t, "Registry of Deeds", meta.Board)

	meta = e.Extract("carroll/deeds/registry/2020/a.pdf")
	assert.Equal(t, "deed", meta.Category)

	_, err = LoadMetadataRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
