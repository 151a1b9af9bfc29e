package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LogicalDocument is the durable identity of a document across its revisions
type LogicalDocument struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	CanonicalTitle   string              `bson:"canonical_title" json:"canonical_title"`
	Town             string              `bson:"town" json:"town"`
	Board            string              `bson:"board,omitempty" json:"board,omitempty"`
	Category         string              `bson:"category" json:"category"`
	CurrentVersionID *primitive.ObjectID `bson:"current_version_id,omitempty" json:"current_version_id,omitempty"`
	CreatedAt        time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `bson:"updated_at" json:"updated_at"`
}

// DocumentVersion is one indexed instance of a logical document.
// Immutable once written except for IsCurrent.
type DocumentVersion struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	DocumentID        primitive.ObjectID  `bson:"document_id" json:"document_id"`
	BlobID            primitive.ObjectID  `bson:"blob_id" json:"blob_id"`
	Year              int                 `bson:"year,omitempty" json:"year,omitempty"`
	Notes             string              `bson:"notes,omitempty" json:"notes,omitempty"`
	StoreName         string              `bson:"store_name" json:"store_name"`
	SearchDocumentID  string              `bson:"search_document_id" json:"search_document_id"`
	IsCurrent         bool                `bson:"is_current" json:"is_current"`
	PreviousVersionID *primitive.ObjectID `bson:"previous_version_id,omitempty" json:"previous_version_id,omitempty"`
	IsMinutes         bool                `bson:"is_minutes" json:"is_minutes"`
	MeetingDate       string              `bson:"meeting_date,omitempty" json:"meeting_date,omitempty"`
	CreatedAt         time.Time           `bson:"created_at" json:"created_at"`
}
