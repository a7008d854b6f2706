package export_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/ansuz/internal/export"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/testutil"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Hello World", "hello-world"},
		{"  Weekly standup: 2025-01-20!  ", "weekly-standup-2025-01-20"},
		{"Заметки о Go", "заметки-о-go"},
		{"***", "untitled"},
		{"", "untitled"},
		{"a--b", "a-b"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := export.Slug(tt.title); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestNotes(t *testing.T) {
	ctx := context.Background()
	svc := testutil.Service(t)
	dir, dst := testutil.TestVault(t)

	var ids []string
	for _, in := range []models.NoteInput{
		{Content: "# Plan\nfirst"},
		{Content: "# Plan\nsecond\n"},
		{Content: "# Plan 2"},
		{Content: "# Old", IsArchived: true},
	} {
		n, err := svc.CreateNote(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}

	files, err := export.Notes(ctx, svc, dst, export.Options{Logger: testutil.Logger()})
	if err != nil {
		t.Fatal(err)
	}
	want := []export.File{
		{NoteID: ids[0], Path: "plan.md"},
		{NoteID: ids[1], Path: "plan-2.md"},
		{NoteID: ids[2], Path: "plan-2-2.md"},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, "plan.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# Plan\nfirst\n" {
		t.Errorf("plan.md = %q", data)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "plan-2.md"))
	if string(data) != "# Plan\nsecond\n" {
		t.Errorf("plan-2.md = %q", data)
	}

	files, err = export.Notes(ctx, svc, dst, export.Options{IncludeArchived: true, Logger: testutil.Logger()})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 || files[3].Path != "old.md" {
		t.Errorf("with archived = %+v", files)
	}
}
