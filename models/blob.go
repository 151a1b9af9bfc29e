package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OCRStatus tracks where a blob is in the OCR escalation path
type OCRStatus string

const (
	OCRStatusNone       OCRStatus = "none"
	OCRStatusQueued     OCRStatus = "queued"
	OCRStatusProcessing OCRStatus = "processing"
	OCRStatusCompleted  OCRStatus = "completed"
	OCRStatusFailed     OCRStatus = "failed"
)

// FileBlob is the physical identity of one distinct byte sequence
type FileBlob struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ContentHash        string             `bson:"content_hash" json:"content_hash"`
	PreviewHash        string             `bson:"preview_hash,omitempty" json:"preview_hash,omitempty"`
	Size               int64              `bson:"size" json:"size"`
	MimeType           string             `bson:"mime_type" json:"mime_type"`
	OriginalFilename   string             `bson:"original_filename" json:"original_filename"`
	StorageLocation    string             `bson:"storage_location" json:"storage_location"`
	PreviewText        string             `bson:"preview_text,omitempty" json:"preview_text,omitempty"`
	ExtractedCharCount int                `bson:"extracted_char_count" json:"extracted_char_count"`
	Analyzed           bool               `bson:"analyzed" json:"analyzed"`
	OCRStatus          OCRStatus          `bson:"ocr_status" json:"ocr_status"`
	OCRText            string             `bson:"ocr_text,omitempty" json:"-"`
	OCRCharCount       int                `bson:"ocr_char_count" json:"ocr_char_count"`
	OCRError           string             `bson:"ocr_error,omitempty" json:"ocr_error,omitempty"`
	OCRQueuedAt        *time.Time         `bson:"ocr_queued_at,omitempty" json:"ocr_queued_at,omitempty"`
	OCRStartedAt       *time.Time         `bson:"ocr_started_at,omitempty" json:"ocr_started_at,omitempty"`
	OCRCompletedAt     *time.Time         `bson:"ocr_completed_at,omitempty" json:"ocr_completed_at,omitempty"`
	CreatedAt          time.Time          `bson:"created_at" json:"created_at"`
}

// HasOCRText reports whether a usable OCR surrogate is stored on the blob
func (b *FileBlob) HasOCRText() bool {
	return b.OCRStatus == OCRStatusCompleted && b.OCRText != ""
}

// DuplicateReport describes what the blob store already knows about a byte sequence
type DuplicateReport struct {
	Exact   *FileBlob `json:"exact,omitempty"`
	Preview *FileBlob `json:"preview,omitempty"`
}

// Warning renders the report as a reviewer-facing message; empty when nothing matched
func (r DuplicateReport) Warning() string {
	switch {
	case r.Exact != nil:
		return "exact duplicate of " + r.Exact.OriginalFilename + " (blob " + r.Exact.ID.Hex() + ")"
	case r.Preview != nil:
		return "possible duplicate: text matches " + r.Preview.OriginalFilename + " (blob " + r.Preview.ID.Hex() + ")"
	default:
		return ""
	}
}
