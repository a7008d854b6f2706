package inbox_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/inbox"
	"github.com/starford/ansuz/internal/linksync"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/testutil"
)

type env struct {
	dir   string
	svc   *notestore.Service
	store storage.Provider
	sync  *linksync.Syncer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir, store := testutil.TestVault(t)
	svc := testutil.Service(t)
	return &env{dir: dir, svc: svc, store: store, sync: linksync.New(svc, linksync.WithLogger(testutil.Logger()))}
}

func (e *env) watcher(t *testing.T, opts ...inbox.Option) *inbox.Watcher {
	t.Helper()
	opts = append([]inbox.Option{inbox.WithLogger(testutil.Logger()), inbox.WithDebounce(50 * time.Millisecond)}, opts...)
	w, err := inbox.New(e.store, e.sync, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func setup(t *testing.T, opts ...inbox.Option) (string, *notestore.Service, *inbox.Watcher) {
	t.Helper()
	e := newEnv(t)
	return e.dir, e.svc, e.watcher(t, opts...)
}

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	return err == nil
}

func noteCount(t *testing.T, svc *notestore.Service) int {
	t.Helper()
	notes, err := svc.GetAllNotes(context.Background(), notestore.NoteQuery{})
	if err != nil {
		t.Fatal(err)
	}
	return len(notes)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, store := testutil.TestVault(t)
	if _, err := inbox.New(store, nil, inbox.WithInclude("[")); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestScanImportsAndDeletes(t *testing.T) {
	dir, svc, w := setup(t)
	write(t, dir, "idea.md", "# Idea\nquick capture #inbox")
	write(t, dir, "sub/deep.md", "# Deep")
	write(t, dir, "notes.txt", "not markdown")
	write(t, dir, ".draft.md", "# Hidden")
	write(t, dir, "empty.md", "  \n")

	n, err := w.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("imported = %d, want 2", n)
	}
	if exists(dir, "idea.md") || exists(dir, "sub/deep.md") {
		t.Error("imported files should be deleted")
	}
	for _, rel := range []string{"notes.txt", ".draft.md", "empty.md"} {
		if !exists(dir, rel) {
			t.Errorf("%s should be left alone", rel)
		}
	}

	tag, err := svc.GetTagByName(context.Background(), "inbox")
	if err != nil || tag == nil {
		t.Fatalf("hashtag not synced: %v", err)
	}
}

func TestScanKeepsImported(t *testing.T) {
	dir, svc, w := setup(t, inbox.WithKeepImported(true), inbox.WithInclude("*.md"))
	write(t, dir, "a.md", "# A")
	write(t, dir, "sub/b.md", "# B")

	if _, err := w.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !exists(dir, inbox.ImportedDir+"/a.md") || exists(dir, "a.md") {
		t.Error("a.md should move under the imported dir")
	}
	if !exists(dir, "sub/b.md") {
		t.Error("sub/b.md does not match *.md and should stay")
	}
	if got := noteCount(t, svc); got != 1 {
		t.Errorf("notes = %d, want 1", got)
	}

	// The kept copy is hidden and never imported again.
	if n, _ := w.Scan(context.Background()); n != 0 {
		t.Errorf("rescan imported %d", n)
	}
}

func TestScanSkipsDuplicateContent(t *testing.T) {
	dir, svc, w := setup(t)
	write(t, dir, "one.md", "# Same")
	if _, err := w.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	write(t, dir, "two.md", "# Same")
	n, err := w.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("duplicate imported = %d", n)
	}
	if exists(dir, "two.md") {
		t.Error("duplicate should still be cleared from the inbox")
	}
	if got := noteCount(t, svc); got != 1 {
		t.Errorf("notes = %d, want 1", got)
	}
}

func TestRunImportsNewFiles(t *testing.T) {
	e := newEnv(t)
	write(t, e.dir, "before.md", "# Before")

	var mu sync.Mutex
	var imported []string
	w := e.watcher(t, inbox.WithOnImport(func(noteID, path string) {
		mu.Lock()
		imported = append(imported, path)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !exists(e.dir, "before.md")
	}, "existing file not imported on start")

	write(t, e.dir, "new.md", "# New")
	write(t, e.dir, "folder/nested.md", "# Nested")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return noteCount(t, e.svc) == 3
	}, "new files not imported by watcher")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(imported) != 3 {
		t.Errorf("callbacks = %v, want 3", imported)
	}
	if len(imported) > 0 && imported[0] != "before.md" {
		t.Errorf("first import = %q", imported[0])
	}
}
