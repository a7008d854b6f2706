package notestore

import (
	"context"
	"fmt"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
)

// CreateBacklink persists a link. An empty LinkType defaults to wiki.
func (s *Service) CreateBacklink(ctx context.Context, in models.BacklinkInput) (*models.Backlink, error) {
	lt := in.LinkType
	if lt == "" {
		lt = models.LinkWiki
	}
	if !lt.Valid() {
		return nil, apperr.New(apperr.ErrInvalidData, "create backlink",
			fmt.Sprintf("unknown link type %q", lt)).In(Backlinks, "")
	}
	if in.SourceNoteID == "" || in.TargetNoteID == "" {
		return nil, apperr.New(apperr.ErrInvalidData, "create backlink",
			"source and target note ids are required").In(Backlinks, "")
	}
	return s.backlinks.Create(ctx, &models.Backlink{
		SourceNoteID: in.SourceNoteID,
		TargetNoteID: in.TargetNoteID,
		LinkType:     lt,
		Context:      in.Context,
		Position:     in.Position,
	})
}

// GetBacklink returns the backlink, or nil when it does not exist.
func (s *Service) GetBacklink(ctx context.Context, id string) (*models.Backlink, error) {
	return s.backlinks.Get(ctx, id)
}

// UpdateBacklink merges patch into the backlink.
func (s *Service) UpdateBacklink(ctx context.Context, id string, patch models.BacklinkPatch) (*models.Backlink, error) {
	return s.backlinks.Update(ctx, id, func(b *models.Backlink) error {
		patch.Apply(b)
		if !b.LinkType.Valid() {
			return apperr.New(apperr.ErrInvalidData, "update backlink",
				fmt.Sprintf("unknown link type %q", b.LinkType)).In(Backlinks, id)
		}
		return nil
	})
}

// GetOutgoingBacklinks returns the links whose source is noteID.
func (s *Service) GetOutgoingBacklinks(ctx context.Context, noteID string) ([]*models.Backlink, error) {
	return s.backlinks.GetAll(ctx, store.QueryOptions{Index: "sourceNoteId", Range: store.Only(noteID)})
}

// GetIncomingBacklinks returns the links whose target is noteID.
func (s *Service) GetIncomingBacklinks(ctx context.Context, noteID string) ([]*models.Backlink, error) {
	return s.backlinks.GetAll(ctx, store.QueryOptions{Index: "targetNoteId", Range: store.Only(noteID)})
}

// GetBacklinksForNote returns every link where noteID is the source or the
// target, each once. Outgoing links come first.
func (s *Service) GetBacklinksForNote(ctx context.Context, noteID string) ([]*models.Backlink, error) {
	out, err := s.GetOutgoingBacklinks(ctx, noteID)
	if err != nil {
		return nil, err
	}
	in, err := s.GetIncomingBacklinks(ctx, noteID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(out)+len(in))
	all := make([]*models.Backlink, 0, len(out)+len(in))
	for _, b := range append(out, in...) {
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		all = append(all, b)
	}
	return all, nil
}

// GetBacklinksByType returns every link of the given type.
func (s *Service) GetBacklinksByType(ctx context.Context, lt models.LinkType) ([]*models.Backlink, error) {
	return s.backlinks.GetAll(ctx, store.QueryOptions{Index: "linkType", Range: store.Only(string(lt))})
}

// DeleteBacklink removes one link. Absent ids are not an error.
func (s *Service) DeleteBacklink(ctx context.Context, id string) error {
	return s.backlinks.Delete(ctx, id)
}

// DeleteBacklinksFromSource removes every link whose source is noteID and
// reports how many were removed.
func (s *Service) DeleteBacklinksFromSource(ctx context.Context, noteID string) (int, error) {
	links, err := s.GetOutgoingBacklinks(ctx, noteID)
	if err != nil {
		return 0, err
	}
	for _, b := range links {
		if err := s.backlinks.Delete(ctx, b.ID); err != nil {
			return 0, err
		}
	}
	return len(links), nil
}
