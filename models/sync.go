package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SyncStatus is a state of the auto-sync ledger
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncRecord is one discovered object-store key on the no-review path
type SyncRecord struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SourceKey        string             `bson:"source_key" json:"source_key"`
	Town             string             `bson:"town" json:"town"`
	Category         string             `bson:"category" json:"category"`
	Board            string             `bson:"board,omitempty" json:"board,omitempty"`
	Year             int                `bson:"year,omitempty" json:"year,omitempty"`
	Status           SyncStatus         `bson:"status" json:"status"`
	SearchDocumentID string             `bson:"search_document_id,omitempty" json:"search_document_id,omitempty"`
	ErrorMessage     string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	Attempts         int                `bson:"attempts" json:"attempts"`
	DiscoveredAt     time.Time          `bson:"discovered_at" json:"discovered_at"`
	SyncedAt         *time.Time         `bson:"synced_at,omitempty" json:"synced_at,omitempty"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updated_at"`
}

// SyncFilter narrows ledger listings
type SyncFilter struct {
	Status SyncStatus
	Town   string
	Limit  int64
}
