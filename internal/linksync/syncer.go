// Package linksync keeps the tag and backlink graphs consistent with note
// content.
//
// None of the composite operations here is atomic. Each step is its own
// store transaction, so a failure part-way leaves partial results behind;
// re-running the sync repairs them.
package linksync

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/parser"
)

// Strategy selects how SyncBacklinksForNote updates persisted backlinks.
type Strategy string

// Strategies.
const (
	// Rebuild deletes every outgoing backlink and recreates them.
	Rebuild Strategy = "rebuild"
	// Reconcile diffs the desired links against the persisted ones and only
	// creates or deletes the difference.
	Reconcile Strategy = "reconcile"
)

// Syncer derives tags and backlinks from note content.
type Syncer struct {
	svc      *notestore.Service
	strategy Strategy
	logger   *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithStrategy sets the backlink sync strategy. Unknown values fall back to
// Rebuild.
func WithStrategy(s Strategy) Option {
	return func(sy *Syncer) {
		if s == Reconcile {
			sy.strategy = Reconcile
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sy *Syncer) {
		if l != nil {
			sy.logger = l
		}
	}
}

// New returns a Syncer over svc.
func New(svc *notestore.Service, opts ...Option) *Syncer {
	s := &Syncer{svc: svc, strategy: Rebuild, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Strategy returns the configured backlink strategy.
func (s *Syncer) Strategy() Strategy { return s.strategy }

// SyncTagsForNote resolves every hashtag in content to a tag, creating missing
// ones, and replaces the note's tag list with the result. Tags previously
// assigned by other means are dropped if they do not appear as hashtags.
func (s *Syncer) SyncTagsForNote(ctx context.Context, noteID, content string) ([]string, error) {
	names := parser.Hashtags(content)
	ids := make([]string, 0, len(names))
	for _, name := range names {
		tag, err := s.svc.CreateTag(ctx, models.TagInput{Name: name})
		if err != nil {
			return nil, fmt.Errorf("linksync: sync tags: %w", err)
		}
		ids = append(ids, tag.ID)
	}
	if _, err := s.svc.UpdateNote(ctx, noteID, models.NotePatch{Tags: &ids}); err != nil {
		return nil, fmt.Errorf("linksync: sync tags: %w", err)
	}
	return ids, nil
}

// desiredLink is one resolved wiki-link.
type desiredLink struct {
	target   string
	context  string
	position models.Position
}

func (d desiredLink) key() string {
	return fmt.Sprintf("%s\x00%d\x00%d\x00%s", d.target, d.position.Start, d.position.End, d.context)
}

func persistedKey(b *models.Backlink) string {
	return desiredLink{target: b.TargetNoteID, context: b.Context, position: b.Position}.key()
}

// resolve turns the wiki-links in content into target note ids. Links that
// match no note are dropped.
func (s *Syncer) resolve(ctx context.Context, content string) ([]desiredLink, error) {
	links := parser.WikiLinks(content)
	cache := make(map[string]string, len(links))
	out := make([]desiredLink, 0, len(links))
	for _, l := range links {
		key := strings.ToLower(l.Title)
		target, seen := cache[key]
		if !seen {
			n, err := s.svc.FindNoteByTitle(ctx, l.Title)
			if err != nil {
				return nil, err
			}
			if n != nil {
				target = n.ID
			}
			cache[key] = target
		}
		if target == "" {
			continue
		}
		out = append(out, desiredLink{
			target:   target,
			context:  l.Context,
			position: models.Position{Start: l.Start, End: l.End},
		})
	}
	return out, nil
}

// SyncBacklinksForNote makes the note's outgoing wiki backlinks match the
// wiki-links in content and refreshes the note's informational backlinks
// list. It returns the resulting outgoing backlinks.
func (s *Syncer) SyncBacklinksForNote(ctx context.Context, noteID, content string) ([]*models.Backlink, error) {
	desired, err := s.resolve(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("linksync: sync backlinks: %w", err)
	}

	var links []*models.Backlink
	if s.strategy == Reconcile {
		links, err = s.reconcile(ctx, noteID, desired)
	} else {
		links, err = s.rebuild(ctx, noteID, desired)
	}
	if err != nil {
		return nil, fmt.Errorf("linksync: sync backlinks: %w", err)
	}

	// Note.Backlinks records outgoing targets, deduplicated.
	targets := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, b := range links {
		if _, dup := seen[b.TargetNoteID]; dup {
			continue
		}
		seen[b.TargetNoteID] = struct{}{}
		targets = append(targets, b.TargetNoteID)
	}
	if _, err := s.svc.UpdateNote(ctx, noteID, models.NotePatch{Backlinks: &targets}); err != nil {
		return nil, fmt.Errorf("linksync: sync backlinks: %w", err)
	}
	return links, nil
}

func (s *Syncer) rebuild(ctx context.Context, noteID string, desired []desiredLink) ([]*models.Backlink, error) {
	if _, err := s.svc.DeleteBacklinksFromSource(ctx, noteID); err != nil {
		return nil, err
	}
	out := make([]*models.Backlink, 0, len(desired))
	for _, d := range desired {
		b, err := s.create(ctx, noteID, d)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Syncer) reconcile(ctx context.Context, noteID string, desired []desiredLink) ([]*models.Backlink, error) {
	existing, err := s.svc.GetOutgoingBacklinks(ctx, noteID)
	if err != nil {
		return nil, err
	}
	// Multiset of persisted wiki links by identity; other link types are
	// not derived from content and stay untouched.
	have := make(map[string][]*models.Backlink, len(existing))
	for _, b := range existing {
		if b.LinkType != models.LinkWiki {
			continue
		}
		k := persistedKey(b)
		have[k] = append(have[k], b)
	}

	out := make([]*models.Backlink, 0, len(desired))
	created := 0
	for _, d := range desired {
		k := d.key()
		if bs := have[k]; len(bs) > 0 {
			out = append(out, bs[0])
			have[k] = bs[1:]
			continue
		}
		b, err := s.create(ctx, noteID, d)
		if err != nil {
			return nil, err
		}
		created++
		out = append(out, b)
	}

	deleted := 0
	for _, stale := range have {
		for _, b := range stale {
			if err := s.svc.DeleteBacklink(ctx, b.ID); err != nil {
				return nil, err
			}
			deleted++
		}
	}
	s.logger.Debug("linksync: backlinks reconciled",
		slog.String("note", noteID),
		slog.Int("created", created),
		slog.Int("deleted", deleted))
	return out, nil
}

func (s *Syncer) create(ctx context.Context, noteID string, d desiredLink) (*models.Backlink, error) {
	return s.svc.CreateBacklink(ctx, models.BacklinkInput{
		SourceNoteID: noteID,
		TargetNoteID: d.target,
		LinkType:     models.LinkWiki,
		Context:      d.context,
		Position:     d.position,
	})
}

// wikiLinkTo matches [[title]] ignoring case and padding whitespace.
func wikiLinkTo(title string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\[\[\s*` + regexp.QuoteMeta(strings.TrimSpace(title)) + `\s*\]\]`)
}

// UpdateBacklinksOnNoteRename rewrites [[oldTitle]] to [[newTitle]] in every
// other note and re-syncs backlinks for each note it changed. The renamed
// note is found by its old title, or by its new title when it has already
// been saved. It returns the ids of the rewritten notes.
func (s *Syncer) UpdateBacklinksOnNoteRename(ctx context.Context, oldTitle, newTitle string) ([]string, error) {
	oldTitle, newTitle = strings.TrimSpace(oldTitle), strings.TrimSpace(newTitle)
	if oldTitle == "" || newTitle == "" || oldTitle == newTitle {
		return nil, nil
	}

	renamed, err := s.svc.FindNoteByExactTitle(ctx, oldTitle)
	if err == nil && renamed == nil {
		renamed, err = s.svc.FindNoteByExactTitle(ctx, newTitle)
	}
	if err != nil {
		return nil, fmt.Errorf("linksync: rename: %w", err)
	}
	renamedID := ""
	if renamed != nil {
		renamedID = renamed.ID
	}
	return s.propagateRename(ctx, renamedID, oldTitle, newTitle)
}

// propagateRename rewrites links to oldTitle in every note except renamedID.
func (s *Syncer) propagateRename(ctx context.Context, renamedID, oldTitle, newTitle string) ([]string, error) {
	oldTitle, newTitle = strings.TrimSpace(oldTitle), strings.TrimSpace(newTitle)
	if oldTitle == "" || newTitle == "" || oldTitle == newTitle {
		return nil, nil
	}
	re := wikiLinkTo(oldTitle)
	candidates, err := s.svc.ScanNotes(ctx, func(n *models.Note) bool {
		return n.ID != renamedID && re.MatchString(n.Content)
	})
	if err != nil {
		return nil, fmt.Errorf("linksync: rename: %w", err)
	}

	replacement := "[[" + strings.ReplaceAll(newTitle, "$", "$$") + "]]"
	rewritten := make([]string, 0, len(candidates))
	for _, n := range candidates {
		content := re.ReplaceAllString(n.Content, replacement)
		if _, err := s.svc.UpdateNote(ctx, n.ID, models.NotePatch{Content: &content}); err != nil {
			return rewritten, fmt.Errorf("linksync: rename: %w", err)
		}
		if _, err := s.SyncBacklinksForNote(ctx, n.ID, content); err != nil {
			return rewritten, fmt.Errorf("linksync: rename: %w", err)
		}
		rewritten = append(rewritten, n.ID)
	}

	if len(rewritten) > 0 {
		s.logger.Info("linksync: propagated rename",
			slog.String("from", oldTitle),
			slog.String("to", newTitle),
			slog.Int("notes", len(rewritten)))
	}
	return rewritten, nil
}

// SaveResult describes the effects of SaveNote.
type SaveResult struct {
	Note      *models.Note
	Backlinks []*models.Backlink
	// Renamed lists notes rewritten because the title changed.
	Renamed []string
}

// SaveNote is the editor save routine: it stores content and its derived
// title, syncs tags and backlinks, and propagates a title change to notes
// linking to the old title. A missing note fails with ErrKeyNotFound.
func (s *Syncer) SaveNote(ctx context.Context, noteID, content string) (*SaveResult, error) {
	before, err := s.svc.GetNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("linksync: save: %w", err)
	}

	title := parser.Title(content)
	if _, err := s.svc.UpdateNote(ctx, noteID, models.NotePatch{Content: &content, Title: &title}); err != nil {
		return nil, fmt.Errorf("linksync: save: %w", err)
	}
	if _, err := s.SyncTagsForNote(ctx, noteID, content); err != nil {
		return nil, err
	}
	links, err := s.SyncBacklinksForNote(ctx, noteID, content)
	if err != nil {
		return nil, err
	}

	res := &SaveResult{Backlinks: links}
	if before != nil && !strings.EqualFold(before.Title, title) {
		res.Renamed, err = s.propagateRename(ctx, noteID, before.Title, title)
		if err != nil {
			return nil, err
		}
	}

	res.Note, err = s.svc.GetNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("linksync: save: %w", err)
	}
	return res, nil
}

// CreateNote creates a note from content and syncs its tags and backlinks.
func (s *Syncer) CreateNote(ctx context.Context, in models.NoteInput) (*SaveResult, error) {
	n, err := s.svc.CreateNote(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("linksync: create: %w", err)
	}
	if _, err := s.SyncTagsForNote(ctx, n.ID, in.Content); err != nil {
		return nil, err
	}
	links, err := s.SyncBacklinksForNote(ctx, n.ID, in.Content)
	if err != nil {
		return nil, err
	}
	n, err = s.svc.GetNote(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("linksync: create: %w", err)
	}
	return &SaveResult{Note: n, Backlinks: links}, nil
}
