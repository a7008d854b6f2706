package api

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Content    string `json:"content" example:"# Hello\nWorld #idea"`
	IsPinned   bool   `json:"isPinned"`
	IsArchived bool   `json:"isArchived"`
}

// Validate checks the request.
func (r *CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Content, validation.Required, validation.Length(0, maxBodyBytes)),
	)
}

// UpdateNoteRequest is the request body for updating a note. Content goes
// through the save routine; the flags are plain patches.
type UpdateNoteRequest struct {
	Content    *string `json:"content"`
	IsPinned   *bool   `json:"isPinned"`
	IsArchived *bool   `json:"isArchived"`
}

// Validate checks the request.
func (r *UpdateNoteRequest) Validate() error {
	if r.Content == nil && r.IsPinned == nil && r.IsArchived == nil {
		return validation.NewError("validation_empty_update", "one of content, isPinned or isArchived is required")
	}
	return nil
}

// CreateTagRequest is the request body for creating a tag.
type CreateTagRequest struct {
	Name        string  `json:"name" example:"work"`
	Color       string  `json:"color" example:"#3b82f6"`
	Description string  `json:"description"`
	ParentID    *string `json:"parentId"`
}

// Validate checks the request.
func (r *CreateTagRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Color, validation.Match(hexColor)),
	)
}

// NoteDetail is a note with its links.
type NoteDetail struct {
	*models.Note
	Checksum string            `json:"checksum"`
	Links    NoteLinksResponse `json:"links"`
	// Renamed lists notes rewritten by a title change on update.
	Renamed []string `json:"renamed,omitempty"`
}

// NoteLinksResponse splits a note's backlinks by direction.
type NoteLinksResponse struct {
	Incoming []*models.Backlink `json:"incoming"`
	Outgoing []*models.Backlink `json:"outgoing"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []*models.Note `json:"notes"`
	Total int            `json:"total"`
}

// TagListResponse wraps tag listings.
type TagListResponse struct {
	Tags []*models.Tag `json:"tags"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []query.Result `json:"results"`
}

// StatsResponse reports per-collection record counts.
type StatsResponse struct {
	Collections map[string]int `json:"collections"`
}
