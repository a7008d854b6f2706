package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/testutil"
)

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("Run without config should fail")
	}
}

func TestRunExport(t *testing.T) {
	ctx := context.Background()
	cfg := NewDefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data", "ansuz.db")

	svc, _, err := openStore(ctx, cfg, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateNote(ctx, models.NoteInput{Content: "# Exported note\nbody"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateNote(ctx, models.NoteInput{Content: "# Hidden", IsArchived: true}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "export")
	if err := RunExport(ctx, out, false, WithConfig(cfg), WithLogger(testutil.Logger())); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(out, "exported-note.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# Exported note\nbody\n" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(out, "hidden.md")); !os.IsNotExist(err) {
		t.Errorf("archived note exported: %v", err)
	}
}

func TestOpenStoreRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	cfg := NewDefaultConfig()
	cfg.Storage.Path = testutil.DBPath(t)

	svc, err := notestore.Open(ctx, notestore.Config{Path: cfg.Storage.Path, Version: 2, Logger: testutil.Logger()})
	if err != nil {
		t.Fatal(err)
	}
	svc.Close()

	if _, _, err := openStore(ctx, cfg, testutil.Logger()); err == nil {
		t.Fatal("opening a newer database should fail")
	}
}
