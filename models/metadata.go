package models

import "strconv"

const (
	UnknownTown           = "unknown"
	StatewideTown         = "statewide"
	UncategorizedCategory = "uncategorized"
)

// DocumentMetadata is what we know about a document from its source path or reviewer input
type DocumentMetadata struct {
	Town        string `bson:"town" json:"town"`
	Category    string `bson:"category" json:"category"`
	Board       string `bson:"board,omitempty" json:"board,omitempty"`
	Year        int    `bson:"year,omitempty" json:"year,omitempty"`
	MeetingDate string `bson:"meeting_date,omitempty" json:"meeting_date,omitempty"` // YYYY-MM-DD
	IsMinutes   bool   `bson:"is_minutes" json:"is_minutes"`
	Filename    string `bson:"filename" json:"filename"`
}

// TenantKey is the search-store partition a document belongs to
func (m DocumentMetadata) TenantKey() string {
	if m.Town == "" || m.Town == UnknownTown {
		return StatewideTown
	}
	return m.Town
}

// YearString returns the year as text, or "" when unknown
func (m DocumentMetadata) YearString() string {
	if m.Year == 0 {
		return ""
	}
	return strconv.Itoa(m.Year)
}

// Analysis is the outcome of native text extraction for one file
type Analysis struct {
	NeedsOCR               bool   `json:"needs_ocr"`
	ExtractedTextCharCount int    `json:"extracted_text_char_count"`
	Text                   string `json:"-"`
	MimeType               string `json:"mime_type"`
	Method                 string `json:"method"`
	ExtractError           string `json:"extract_error,omitempty"`
}
