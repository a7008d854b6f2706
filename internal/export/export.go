// Package export writes notes out as Markdown files.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/storage"
)

// Options controls an export.
type Options struct {
	// IncludeArchived exports archived notes too.
	IncludeArchived bool
	Logger          *slog.Logger
}

// File is one exported note.
type File struct {
	NoteID string `json:"noteId"`
	Path   string `json:"path"`
}

// Slug turns a title into a lowercase, hyphen-separated file stem.
// Letters and digits of any script are kept.
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "untitled"
	}
	return s
}

// Notes writes every note to dst as <slug>.md, in creation order. Colliding
// slugs get a numeric suffix, so re-exporting into a fresh directory is
// deterministic.
func Notes(ctx context.Context, svc *notestore.Service, dst storage.Provider, opts Options) ([]File, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notes, err := svc.GetAllNotes(ctx, notestore.NoteQuery{OrderBy: "createdAt"})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	taken := make(map[string]bool, len(notes))
	out := make([]File, 0, len(notes))
	for _, n := range notes {
		if n.IsArchived && !opts.IncludeArchived {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		stem := Slug(n.Title)
		p := stem + ".md"
		for i := 2; taken[p]; i++ {
			p = stem + "-" + strconv.Itoa(i) + ".md"
		}
		taken[p] = true

		content := n.Content
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if err := dst.Write(p, []byte(content)); err != nil {
			return out, fmt.Errorf("export: %w", err)
		}
		logger.Debug("export: wrote note", slog.String("note", n.ID), slog.String("path", p))
		out = append(out, File{NoteID: n.ID, Path: p})
	}
	logger.Info("export: done", slog.String("dir", dst.Root()), slog.Int("notes", len(out)))
	return out, nil
}
