package notestore

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
)

// CreateTag returns the tag named in.Name, creating it first when no tag has
// that exact name. An existing tag is returned unchanged. A new tag without a
// colour gets the palette colour for the current tag count.
func (s *Service) CreateTag(ctx context.Context, in models.TagInput) (*models.Tag, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.New(apperr.ErrInvalidData, "create tag", "tag name is empty").In(Tags, "")
	}
	existing, err := s.GetTagByName(ctx, name)
	if err != nil || existing != nil {
		return existing, err
	}

	color := in.Color
	if color == "" {
		n, err := s.tags.Count(ctx)
		if err != nil {
			return nil, err
		}
		color = models.PaletteColor(n)
	}
	var parent *string
	if in.ParentID != nil {
		parent = models.Ptr(*in.ParentID)
	}
	tag, err := s.tags.Create(ctx, &models.Tag{
		Name:        name,
		Color:       color,
		Description: in.Description,
		ParentID:    parent,
		IsSystemTag: in.IsSystemTag,
	})
	if errors.Is(err, apperr.ErrTransactionFailed) {
		// A concurrent writer may have taken the name between lookup and create.
		if winner, lerr := s.GetTagByName(ctx, name); lerr == nil && winner != nil {
			return winner, nil
		}
	}
	return tag, err
}

// GetTag returns the tag, or nil when it does not exist.
func (s *Service) GetTag(ctx context.Context, id string) (*models.Tag, error) {
	return s.tags.Get(ctx, id)
}

// GetTagByName looks a tag up by exact, case-sensitive name.
func (s *Service) GetTagByName(ctx context.Context, name string) (*models.Tag, error) {
	found, err := s.tags.GetAll(ctx, store.QueryOptions{Index: "name", Range: store.Only(name), Limit: 1})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// GetAllTags returns every tag ordered by name.
func (s *Service) GetAllTags(ctx context.Context) ([]*models.Tag, error) {
	return s.tags.GetAll(ctx, store.QueryOptions{Index: "name"})
}

// UpdateTag merges patch into the tag. Renaming onto a taken name fails with
// ErrTransactionFailed.
func (s *Service) UpdateTag(ctx context.Context, id string, patch models.TagPatch) (*models.Tag, error) {
	return s.tags.Update(ctx, id, func(t *models.Tag) error {
		patch.Apply(t)
		return nil
	})
}

// NoteTagRewrite is the new tag list for one note affected by a tag removal.
type NoteTagRewrite struct {
	NoteID string
	Tags   []string
}

// PlanTagRemoval computes, without touching storage, the tag lists notes
// need once tagID is gone. Notes that do not reference tagID are skipped.
func PlanTagRemoval(tagID string, notes []*models.Note) []NoteTagRewrite {
	var out []NoteTagRewrite
	for _, n := range notes {
		if !n.HasTag(tagID) {
			continue
		}
		kept := make([]string, 0, len(n.Tags))
		for _, id := range n.Tags {
			if id != tagID {
				kept = append(kept, id)
			}
		}
		out = append(out, NoteTagRewrite{NoteID: n.ID, Tags: kept})
	}
	return out
}

// ApplyTagRewrites persists the planned tag lists. Notes deleted since the
// plan was made are skipped.
func (s *Service) ApplyTagRewrites(ctx context.Context, rewrites []NoteTagRewrite) error {
	for _, rw := range rewrites {
		tags := slices.Clone(rw.Tags)
		_, err := s.UpdateNote(ctx, rw.NoteID, models.NotePatch{Tags: &tags})
		if errors.Is(err, apperr.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteTag removes tagID from every note that references it, then deletes
// the tag. It is not atomic: on failure some notes may already be rewritten,
// and calling DeleteTag again completes the job.
func (s *Service) DeleteTag(ctx context.Context, tagID string) error {
	notes, err := s.GetNotesByTag(ctx, tagID)
	if err != nil {
		return err
	}
	rewrites := PlanTagRemoval(tagID, notes)
	if err := s.ApplyTagRewrites(ctx, rewrites); err != nil {
		return err
	}
	if err := s.tags.Delete(ctx, tagID); err != nil {
		return err
	}
	s.logger.Debug("notestore: tag deleted",
		slog.String("tag", tagID),
		slog.Int("notes_rewritten", len(rewrites)))
	return nil
}
