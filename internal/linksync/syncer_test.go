package linksync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/linksync"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/testutil"
)

func setup(t *testing.T, opts ...linksync.Option) (*notestore.Service, *linksync.Syncer) {
	t.Helper()
	svc := testutil.Service(t)
	opts = append([]linksync.Option{linksync.WithLogger(testutil.Logger())}, opts...)
	return svc, linksync.New(svc, opts...)
}

func mustNote(t *testing.T, svc *notestore.Service, title, content string) *models.Note {
	t.Helper()
	n, err := svc.CreateNote(context.Background(), models.NoteInput{Title: title, Content: content})
	require.NoError(t, err)
	return n
}

func TestSyncTagsCollapsesCase(t *testing.T) {
	ctx := context.Background()
	svc, sy := setup(t)
	n := mustNote(t, svc, "n", "")

	ids, err := sy.SyncTagsForNote(ctx, n.ID, "Ideas about #work and #Work")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	tag, err := svc.GetTag(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "work", tag.Name)

	got, err := svc.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, got.Tags)

	tags, err := svc.GetAllTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestSyncTagsReplacesList(t *testing.T) {
	ctx := context.Background()
	svc, sy := setup(t)
	manual, err := svc.CreateTag(ctx, models.TagInput{Name: "manual"})
	require.NoError(t, err)
	n, err := svc.CreateNote(ctx, models.NoteInput{Content: "x", Tags: []string{manual.ID}})
	require.NoError(t, err)

	_, err = sy.SyncTagsForNote(ctx, n.ID, "#beta then #alpha")
	require.NoError(t, err)
	got, _ := svc.GetNote(ctx, n.ID)
	require.Len(t, got.Tags, 2)
	first, _ := svc.GetTag(ctx, got.Tags[0])
	assert.Equal(t, "beta", first.Name, "first-appearance order")
	assert.False(t, got.HasTag(manual.ID), "manually assigned tag dropped")

	kept, _ := svc.GetTag(ctx, manual.ID)
	assert.NotNil(t, kept, "tags are never auto-deleted")

	_, err = sy.SyncTagsForNote(ctx, "missing", "#x")
	require.ErrorIs(t, err, apperr.ErrKeyNotFound)
}

func TestSyncBacklinksPrefersExactTitle(t *testing.T) {
	ctx := context.Background()
	svc, sy := setup(t)
	ideas := mustNote(t, svc, "Project Ideas", "")
	project := mustNote(t, svc, "Project", "")
	src := mustNote(t, svc, "Source", "")

	content := "see [[Project]] and [[ideas]] and [[Nowhere]]"
	links, err := sy.SyncBacklinksForNote(ctx, src.ID, content)
	require.NoError(t, err)
	require.Len(t, links, 2, "unresolved link dropped")
	assert.Equal(t, project.ID, links[0].TargetNoteID)
	assert.Equal(t, ideas.ID, links[1].TargetNoteID)
	assert.Equal(t, models.LinkWiki, links[0].LinkType)
	assert.Equal(t, models.Position{Start: 4, End: 15}, links[0].Position)
	assert.Equal(t, content, links[0].Context)

	got, _ := svc.GetNote(ctx, src.ID)
	assert.Equal(t, []string{project.ID, ideas.ID}, got.Backlinks)
	target, _ := svc.GetNote(ctx, project.ID)
	assert.Empty(t, target.Backlinks, "the field lists outgoing targets only")

	incoming, err := svc.GetIncomingBacklinks(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, incoming, 1)
}

func TestSyncBacklinksRegeneratesToZero(t *testing.T) {
	for _, strategy := range []linksync.Strategy{linksync.Rebuild, linksync.Reconcile} {
		t.Run(string(strategy), func(t *testing.T) {
			ctx := context.Background()
			svc, sy := setup(t, linksync.WithStrategy(strategy))
			assert.Equal(t, strategy, sy.Strategy())
			mustNote(t, svc, "Target", "")
			src := mustNote(t, svc, "Source", "")

			links, err := sy.SyncBacklinksForNote(ctx, src.ID, "link to [[Target]]")
			require.NoError(t, err)
			require.Len(t, links, 1)

			links, err = sy.SyncBacklinksForNote(ctx, src.ID, "no links any more")
			require.NoError(t, err)
			assert.Empty(t, links)

			out, err := svc.GetOutgoingBacklinks(ctx, src.ID)
			require.NoError(t, err)
			assert.Empty(t, out)
			got, _ := svc.GetNote(ctx, src.ID)
			assert.Empty(t, got.Backlinks)
		})
	}
}

func TestReconcileKeepsUnchangedLinks(t *testing.T) {
	ctx := context.Background()
	svc, sy := setup(t, linksync.WithStrategy(linksync.Reconcile))
	mustNote(t, svc, "A", "")
	mustNote(t, svc, "B", "")
	src := mustNote(t, svc, "Source", "")

	first, err := sy.SyncBacklinksForNote(ctx, src.ID, "[[A]] [[B]]")
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := sy.SyncBacklinksForNote(ctx, src.ID, "[[A]] [[B]]")
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)

	third, err := sy.SyncBacklinksForNote(ctx, src.ID, "[[A]] [[B]] and [[A]]")
	require.NoError(t, err)
	require.Len(t, third, 3)
	out, _ := svc.GetOutgoingBacklinks(ctx, src.ID)
	assert.Len(t, out, 3)
}

func TestUpdateBacklinksOnNoteRename(t *testing.T) {
	ctx := context.Background()
	svc, sy := setup(t)
	renamed := mustNote(t, svc, "Old", "# Old")
	linker := mustNote(t, svc, "Linker", "see [[old]] and [[ Old ]] but not [[Older]]")
	unrelated := mustNote(t, svc, "Unrelated", "nothing here")

	// The renamed note is saved before propagation, as the editor does.
	newTitle := "New"
	_, err := svc.UpdateNote(ctx, renamed.ID, models.NotePatch{Title: &newTitle})
	require.NoError(t, err)

	ids, err := sy.UpdateBacklinksOnNoteRename(ctx, "Old", "New")
	require.NoError(t, err)
	assert.Equal(t, []string{linker.ID}, ids)

	got, _ := svc.GetNote(ctx, linker.ID)
	assert.Equal(t, "see [[New]] and [[New]] but not [[Older]]", got.Content)

	out, err := svc.GetOutgoingBacklinks(ctx, linker.ID)
	require.NoError(t, err)
	require.Len(t, out, 2, "[[Older]] resolves to nothing")
	assert.Equal(t, renamed.ID, out[0].TargetNoteID)
	assert.Equal(t, renamed.ID, out[1].TargetNoteID)

	other, _ := svc.GetNote(ctx, unrelated.ID)
	assert.Equal(t, int64(1), other.Sync.Version)
}

func TestSaveNote(t *testing.T) {
	ctx := context.Background()
	svc, sy := setup(t)

	target, err := sy.CreateNote(ctx, models.NoteInput{Content: "# Plan\nquarterly #work"})
	require.NoError(t, err)
	assert.Equal(t, "Plan", target.Note.Title)
	require.Len(t, target.Note.Tags, 1)

	linker, err := sy.CreateNote(ctx, models.NoteInput{Content: "# Daily\nsee [[Plan]]"})
	require.NoError(t, err)
	require.Len(t, linker.Backlinks, 1)
	assert.Equal(t, target.Note.ID, linker.Backlinks[0].TargetNoteID)

	res, err := sy.SaveNote(ctx, target.Note.ID, "# Roadmap\nquarterly #work #q3")
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", res.Note.Title)
	assert.Len(t, res.Note.Tags, 2)
	assert.Equal(t, []string{linker.Note.ID}, res.Renamed)

	got, _ := svc.GetNote(ctx, linker.Note.ID)
	assert.Equal(t, "# Daily\nsee [[Roadmap]]", got.Content)
	in, err := svc.GetIncomingBacklinks(ctx, target.Note.ID)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, linker.Note.ID, in[0].SourceNoteID)

	_, err = sy.SaveNote(ctx, "missing", "# x")
	require.ErrorIs(t, err, apperr.ErrKeyNotFound)
}
