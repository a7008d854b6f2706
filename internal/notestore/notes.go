package notestore

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/store"
)

// NoteQuery selects notes for GetAllNotes. Ordering and pagination run in
// the store; Filter is applied afterwards, in memory.
type NoteQuery struct {
	// OrderBy is "createdAt", "updatedAt" or empty for key order.
	OrderBy   string
	Direction store.Direction
	Offset    int
	Limit     int
	Filter    query.Filter
}

func newNote(in models.NoteInput) *models.Note {
	title := in.Title
	if title == "" {
		title = parser.Title(in.Content)
	}
	tags := slices.Clone(in.Tags)
	if tags == nil {
		tags = []string{}
	}
	return &models.Note{
		Title:      title,
		Content:    in.Content,
		Tags:       tags,
		Backlinks:  []string{},
		IsArchived: in.IsArchived,
		IsPinned:   in.IsPinned,
	}
}

// CreateNote persists a new note. An empty title is derived from content.
func (s *Service) CreateNote(ctx context.Context, in models.NoteInput) (*models.Note, error) {
	return s.notes.Create(ctx, newNote(in))
}

// CreateNotes creates notes one by one and reports partial completion in the
// result instead of failing.
func (s *Service) CreateNotes(ctx context.Context, ins []models.NoteInput) store.BatchResult[models.Note] {
	recs := make([]*models.Note, 0, len(ins))
	for _, in := range ins {
		recs = append(recs, newNote(in))
	}
	res := s.notes.CreateBatch(ctx, recs)
	if res.Err != nil {
		s.logger.Warn("notestore: bulk create stopped",
			slog.Int("created", len(res.Created)),
			slog.Int("requested", len(ins)),
			slog.String("error", res.Err.Error()))
	}
	return res
}

// GetNote returns the note, or nil when it does not exist.
func (s *Service) GetNote(ctx context.Context, id string) (*models.Note, error) {
	return s.notes.Get(ctx, id)
}

// GetAllNotes returns notes in the requested order, then filtered.
func (s *Service) GetAllNotes(ctx context.Context, q NoteQuery) ([]*models.Note, error) {
	opts := store.QueryOptions{
		Index:     q.OrderBy,
		Direction: q.Direction,
		Offset:    q.Offset,
		Limit:     q.Limit,
	}
	notes, err := s.notes.GetAll(ctx, opts)
	if err != nil {
		return nil, err
	}
	return query.Apply(notes, q.Filter), nil
}

// GetNotesByTag returns the notes referencing tagID, via the tags index.
func (s *Service) GetNotesByTag(ctx context.Context, tagID string) ([]*models.Note, error) {
	return s.notes.GetAll(ctx, store.QueryOptions{Index: "tags", Range: store.Only(tagID)})
}

// UpdateNote merges patch into the note. A missing id fails with
// ErrKeyNotFound.
func (s *Service) UpdateNote(ctx context.Context, id string, patch models.NotePatch) (*models.Note, error) {
	return s.notes.Update(ctx, id, func(n *models.Note) error {
		patch.Apply(n)
		return nil
	})
}

// DeleteNote removes a note. Backlinks that mention it are left in place.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	return s.notes.Delete(ctx, id)
}

// ScanNotes returns every note for which keep reports true, in key order.
// It reads the whole collection.
func (s *Service) ScanNotes(ctx context.Context, keep func(*models.Note) bool) ([]*models.Note, error) {
	return s.notes.Scan(ctx, keep)
}

// FindNoteByTitle resolves a wiki-link title. An exact case-insensitive
// match wins; otherwise the first note, in key order, whose title contains
// title case-insensitively. It returns nil when nothing matches.
func (s *Service) FindNoteByTitle(ctx context.Context, title string) (*models.Note, error) {
	want := strings.ToLower(strings.TrimSpace(title))
	if want == "" {
		return nil, nil
	}
	var partial *models.Note
	exact, err := s.notes.First(ctx, func(n *models.Note) bool {
		got := strings.ToLower(n.Title)
		if got == want {
			return true
		}
		if partial == nil && strings.Contains(got, want) {
			partial = n
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if exact != nil {
		return exact, nil
	}
	return partial, nil
}

// FindNoteByExactTitle returns the first note whose title equals title
// case-insensitively, or nil.
func (s *Service) FindNoteByExactTitle(ctx context.Context, title string) (*models.Note, error) {
	want := strings.ToLower(strings.TrimSpace(title))
	if want == "" {
		return nil, nil
	}
	return s.notes.First(ctx, func(n *models.Note) bool {
		return strings.ToLower(n.Title) == want
	})
}
