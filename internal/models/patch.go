package models

import (
	"slices"
	"time"
)

// A nil field in a patch means "leave unchanged". Identity fields (id,
// createdAt) and the sync version are owned by the store and cannot be
// patched.

// SyncPatch merges into SyncMetadata field by field.
type SyncPatch struct {
	SyncedAt       *time.Time
	IsDeleted      *bool
	LastModifiedBy *string
}

// Apply merges p into m.
func (p *SyncPatch) Apply(m *SyncMetadata) {
	if p == nil {
		return
	}
	if p.SyncedAt != nil {
		t := *p.SyncedAt
		m.SyncedAt = &t
	}
	if p.IsDeleted != nil {
		d := *p.IsDeleted
		m.IsDeleted = &d
	}
	if p.LastModifiedBy != nil {
		m.LastModifiedBy = *p.LastModifiedBy
	}
}

// NotePatch is a partial update to a Note.
type NotePatch struct {
	Title      *string
	Content    *string
	Tags       *[]string
	Backlinks  *[]string
	IsArchived *bool
	IsPinned   *bool
	Sync       *SyncPatch
}

// Apply merges p into n.
func (p NotePatch) Apply(n *Note) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Tags != nil {
		n.Tags = slices.Clone(*p.Tags)
	}
	if p.Backlinks != nil {
		n.Backlinks = slices.Clone(*p.Backlinks)
	}
	if p.IsArchived != nil {
		n.IsArchived = *p.IsArchived
	}
	if p.IsPinned != nil {
		n.IsPinned = *p.IsPinned
	}
	p.Sync.Apply(&n.Sync)
}

// IsZero reports whether the patch changes nothing.
func (p NotePatch) IsZero() bool {
	return p.Title == nil && p.Content == nil && p.Tags == nil && p.Backlinks == nil &&
		p.IsArchived == nil && p.IsPinned == nil && p.Sync == nil
}

// TagPatch is a partial update to a Tag.
type TagPatch struct {
	Name        *string
	Color       *string
	Description *string
	// ParentID set to a pointer to "" clears the parent.
	ParentID    *string
	IsSystemTag *bool
	Sync        *SyncPatch
}

// Apply merges p into t.
func (p TagPatch) Apply(t *Tag) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ParentID != nil {
		if *p.ParentID == "" {
			t.ParentID = nil
		} else {
			id := *p.ParentID
			t.ParentID = &id
		}
	}
	if p.IsSystemTag != nil {
		t.IsSystemTag = *p.IsSystemTag
	}
	p.Sync.Apply(&t.Sync)
}

// BacklinkPatch is a partial update to a Backlink.
type BacklinkPatch struct {
	TargetNoteID *string
	LinkType     *LinkType
	Context      *string
	Position     *Position
	Sync         *SyncPatch
}

// Apply merges p into b.
func (p BacklinkPatch) Apply(b *Backlink) {
	if p.TargetNoteID != nil {
		b.TargetNoteID = *p.TargetNoteID
	}
	if p.LinkType != nil {
		b.LinkType = *p.LinkType
	}
	if p.Context != nil {
		b.Context = *p.Context
	}
	if p.Position != nil {
		b.Position = *p.Position
	}
	p.Sync.Apply(&b.Sync)
}
