package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStatus is a state of the manual-review ingestion pipeline
type JobStatus string

const (
	JobStatusStaging     JobStatus = "staging"
	JobStatusNeedsReview JobStatus = "needs_review"
	JobStatusApproved    JobStatus = "approved"
	JobStatusRejected    JobStatus = "rejected"
	JobStatusIndexed     JobStatus = "indexed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusStaging:     {JobStatusNeedsReview},
	JobStatusNeedsReview: {JobStatusApproved, JobStatusRejected},
	JobStatusApproved:    {JobStatusIndexed, JobStatusRejected},
}

// CanTransitionTo reports whether the job state machine allows s -> next
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusRejected || s == JobStatusIndexed
}

// Valid reports whether s is a known job status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusStaging, JobStatusNeedsReview, JobStatusApproved, JobStatusRejected, JobStatusIndexed:
		return true
	}
	return false
}

// IngestionJob wraps a FileBlob on its way through manual review
type IngestionJob struct {
	ID                 primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Status             JobStatus           `bson:"status" json:"status"`
	BlobID             primitive.ObjectID  `bson:"blob_id" json:"blob_id"`
	Filename           string              `bson:"filename" json:"filename"`
	SourceKey          string              `bson:"source_key,omitempty" json:"source_key,omitempty"`
	SuggestedMetadata  DocumentMetadata    `bson:"suggested_metadata" json:"suggested_metadata"`
	FinalMetadata      *DocumentMetadata   `bson:"final_metadata,omitempty" json:"final_metadata,omitempty"`
	DuplicateWarning   string              `bson:"duplicate_warning,omitempty" json:"duplicate_warning,omitempty"`
	NeedsOCR           bool                `bson:"needs_ocr" json:"needs_ocr"`
	ExtractedCharCount int                 `bson:"extracted_char_count" json:"extracted_char_count"`
	ErrorMessage       string              `bson:"error_message,omitempty" json:"error_message,omitempty"`
	DocumentID         *primitive.ObjectID `bson:"document_id,omitempty" json:"document_id,omitempty"`
	VersionID          *primitive.ObjectID `bson:"version_id,omitempty" json:"version_id,omitempty"`
	CreatedAt          time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `bson:"updated_at" json:"updated_at"`
}

// EffectiveMetadata prefers reviewer-confirmed metadata over the machine suggestion
func (j *IngestionJob) EffectiveMetadata() DocumentMetadata {
	if j.FinalMetadata != nil {
		return *j.FinalMetadata
	}
	return j.SuggestedMetadata
}

// JobPatch carries the fields written together with a status transition
type JobPatch struct {
	FinalMetadata *DocumentMetadata
	ErrorMessage  *string
	DocumentID    *primitive.ObjectID
	VersionID     *primitive.ObjectID
}
