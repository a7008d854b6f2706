// Package models defines the domain types for Ansuz.
package models

import "time"

// Entity is the identity, timestamps and sync metadata shared by every
// persisted record. The store assigns all of it; callers never set it.
type Entity struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Sync      SyncMetadata `json:"sync"`
}

// Meta exposes the embedded Entity to the generic store.
func (e *Entity) Meta() *Entity { return e }

// SyncMetadata is versioning scaffolding reserved for multi-device sync.
// Version starts at 1 and grows by exactly 1 per update.
type SyncMetadata struct {
	Version        int64      `json:"version"`
	SyncedAt       *time.Time `json:"syncedAt,omitempty"`
	IsDeleted      *bool      `json:"isDeleted,omitempty"`
	LastModifiedBy string     `json:"lastModifiedBy,omitempty"`
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
