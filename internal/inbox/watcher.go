// Package inbox imports Markdown files dropped into a directory as notes.
package inbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/linksync"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
)

// ImportedDir holds imported files when they are kept. It is hidden, so
// neither the watcher nor storage listings see it.
const ImportedDir = ".imported"

// DefaultInclude matches every Markdown file.
var DefaultInclude = []string{"**/*.md"}

// ImportCallback is called after a file has been imported as a note.
type ImportCallback func(noteID, path string)

// Watcher imports files from an inbox directory. It is not safe for
// concurrent use; Run drives Scan from its own goroutine.
type Watcher struct {
	store    storage.Provider
	sync     *linksync.Syncer
	include  []string
	keep     bool
	debounce time.Duration
	logger   *slog.Logger
	onImport ImportCallback

	// seen holds checksums imported by this watcher.
	seen map[string]string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInclude sets the doublestar patterns a file must match to be imported.
func WithInclude(patterns ...string) Option {
	return func(w *Watcher) {
		if len(patterns) > 0 {
			w.include = patterns
		}
	}
}

// WithKeepImported moves imported files to ImportedDir instead of deleting them.
func WithKeepImported(keep bool) Option {
	return func(w *Watcher) { w.keep = keep }
}

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnImport registers a callback invoked after each import.
func WithOnImport(cb ImportCallback) Option {
	return func(w *Watcher) { w.onImport = cb }
}

// New creates a watcher over store. Invalid include patterns are rejected.
func New(store storage.Provider, sync *linksync.Syncer, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		store:    store,
		sync:     sync,
		include:  DefaultInclude,
		debounce: 200 * time.Millisecond,
		logger:   slog.Default(),
		seen:     make(map[string]string),
	}
	for _, o := range opts {
		o(w)
	}
	if err := storage.ValidatePatterns(w.include); err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	return w, nil
}

// Scan imports every matching file currently in the inbox and returns the
// number of notes created. A failing file is logged and left in place.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	files, err := w.store.List("", w.include)
	if err != nil {
		return 0, fmt.Errorf("inbox: scan: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	n := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := w.importFile(ctx, f.Path)
		if err != nil {
			w.logger.Warn("inbox: import failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Run imports what is already in the inbox, then watches it until ctx is
// cancelled. Bursts of writes to a file are debounced into one import.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	defer fw.Close()

	root := w.store.Root()
	if err := addDirsRecursive(fw, root); err != nil {
		return fmt.Errorf("inbox: watch: %w", err)
	}
	logger := w.logger.With(slog.String("root", root))
	logger.Info("inbox: started")

	n, err := w.Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if n > 0 {
		logger.Info("inbox: imported existing files", slog.Int("notes", n))
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("inbox: stopped")
			return nil

		case <-timerCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				if _, err := w.importFile(ctx, p); err != nil && !errors.Is(err, fs.ErrNotExist) {
					logger.Warn("inbox: import failed", slog.String("path", p), slog.String("error", err.Error()))
				}
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if storage.IsHidden(rel) {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
				if err := addDirsRecursive(fw, ev.Name); err != nil {
					logger.Warn("inbox: add new dir failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
				// Files may have landed before the directory was watched.
				if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("inbox: scan new dir failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
				continue
			}
			if !storage.Matches(rel, w.include) {
				continue
			}
			pending[rel] = struct{}{}
			schedule()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// importFile creates a note from the file at rel and then removes the file
// or moves it under ImportedDir. Empty files are left alone. A file whose
// content was already imported is cleared away without creating a note.
func (w *Watcher) importFile(ctx context.Context, rel string) (bool, error) {
	data, err := w.store.Read(rel)
	if err != nil {
		return false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}

	sum := checksum.Sum(data)
	noteID, dup := w.seen[sum]
	created := false
	if dup {
		w.logger.Debug("inbox: duplicate skipped", slog.String("path", rel), slog.String("note", noteID))
	} else {
		res, err := w.sync.CreateNote(ctx, models.NoteInput{Content: string(data)})
		if err != nil {
			return false, err
		}
		noteID = res.Note.ID
		w.seen[sum] = noteID
		created = true
	}

	if w.keep {
		err = w.store.Move(rel, path.Join(ImportedDir, rel))
	} else {
		err = w.store.Delete(rel)
	}
	if err != nil {
		return created, fmt.Errorf("inbox: clear %s: %w", rel, err)
	}

	if created {
		w.logger.Info("inbox: imported", slog.String("path", rel), slog.String("note", noteID))
		if w.onImport != nil {
			w.onImport(noteID, rel)
		}
	}
	return created, nil
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
