package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/linksync"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishNoteEvent(kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "note."+kind)
}

func (r *recorder) PublishTagEvent(kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "tag."+kind)
}

// testEnv sets up a temp database, service, and router for testing.
// An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string) (*notestore.Service, http.Handler, *recorder) {
	t.Helper()
	svc := testutil.Service(t)
	events := &recorder{}
	h := api.NewHandler(svc, linksync.New(svc, linksync.WithLogger(testutil.Logger())), events, testutil.Logger())
	return svc, api.NewRouter(h, authToken != "", authToken, nil), events
}

func do(t *testing.T, router http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateAndGetNote(t *testing.T) {
	_, router, events := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/notes", map[string]any{"content": "# Hello\nWorld #greeting"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decodeBody[api.NoteDetail](t, w)
	if created.Title != "Hello" {
		t.Errorf("title = %q, want Hello", created.Title)
	}
	if len(created.Tags) != 1 {
		t.Errorf("tags = %v, want one synced tag", created.Tags)
	}

	w = do(t, router, http.MethodGet, "/notes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decodeBody[api.NoteDetail](t, w)
	if got.Content != "# Hello\nWorld #greeting" {
		t.Errorf("content = %q", got.Content)
	}
	if etag := w.Header().Get("ETag"); etag != strconv.Quote(got.Checksum) {
		t.Errorf("ETag = %q, checksum = %q", etag, got.Checksum)
	}
	if len(events.events) != 1 || events.events[0] != "note.created" {
		t.Errorf("events = %v", events.events)
	}
}

func TestGetMissingNote(t *testing.T) {
	_, router, _ := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/notes/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCreateNoteValidation(t *testing.T) {
	_, router, _ := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewBufferString("{broken"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken JSON status = %d, want 400", w.Code)
	}

	if w := do(t, router, http.MethodPost, "/notes", map[string]any{"content": ""}); w.Code != http.StatusBadRequest {
		t.Errorf("empty content status = %d, want 400", w.Code)
	}
}

func TestUpdateNote(t *testing.T) {
	svc, router, _ := testEnv(t, "")

	target := decodeBody[api.NoteDetail](t, do(t, router, http.MethodPost, "/notes", map[string]any{"content": "# Plan"}))
	linker := decodeBody[api.NoteDetail](t, do(t, router, http.MethodPost, "/notes", map[string]any{"content": "see [[Plan]]"}))

	w := do(t, router, http.MethodPut, "/notes/"+target.ID, map[string]any{"content": "# Roadmap", "isPinned": true})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	got := decodeBody[api.NoteDetail](t, w)
	if got.Title != "Roadmap" || !got.IsPinned {
		t.Errorf("title = %q pinned = %v", got.Title, got.IsPinned)
	}
	if len(got.Renamed) != 1 || got.Renamed[0] != linker.ID {
		t.Errorf("renamed = %v, want [%s]", got.Renamed, linker.ID)
	}
	if len(got.Links.Incoming) != 1 {
		t.Errorf("incoming = %d, want 1", len(got.Links.Incoming))
	}

	n, err := svc.GetNote(t.Context(), linker.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n.Content != "see [[Roadmap]]" {
		t.Errorf("linker content = %q", n.Content)
	}
}

func TestUpdateNoteFlagsOnly(t *testing.T) {
	_, router, _ := testEnv(t, "")
	created := decodeBody[api.NoteDetail](t, do(t, router, http.MethodPost, "/notes", map[string]any{"content": "x"}))

	w := do(t, router, http.MethodPut, "/notes/"+created.ID, map[string]any{"isArchived": true})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decodeBody[api.NoteDetail](t, w)
	if !got.IsArchived || got.Content != "x" {
		t.Errorf("archived = %v content = %q", got.IsArchived, got.Content)
	}
	if got.Sync.Version != created.Sync.Version+1 {
		t.Errorf("version = %d, want %d", got.Sync.Version, created.Sync.Version+1)
	}

	if w := do(t, router, http.MethodPut, "/notes/"+created.ID, map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty update status = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPut, "/notes/missing", map[string]any{"isPinned": true}); w.Code != http.StatusNotFound {
		t.Errorf("missing update status = %d, want 404", w.Code)
	}
}

func TestUpdateWithOptimisticLocking(t *testing.T) {
	_, router, _ := testEnv(t, "")
	created := decodeBody[api.NoteDetail](t, do(t, router, http.MethodPost, "/notes", map[string]any{"content": "v1"}))

	w := do(t, router, http.MethodPut, "/notes/"+created.ID, map[string]any{"content": "v2"}, "If-Match", `"stale"`)
	if w.Code != http.StatusConflict {
		t.Errorf("stale If-Match status = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodPut, "/notes/"+created.ID, map[string]any{"content": "v2"}, "If-Match", strconv.Quote(created.Checksum))
	if w.Code != http.StatusOK {
		t.Errorf("matching If-Match status = %d, want 200", w.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	_, router, events := testEnv(t, "")
	created := decodeBody[api.NoteDetail](t, do(t, router, http.MethodPost, "/notes", map[string]any{"content": "gone"}))

	for range 2 {
		if w := do(t, router, http.MethodDelete, "/notes/"+created.ID, nil); w.Code != http.StatusNoContent {
			t.Fatalf("delete status = %d", w.Code)
		}
	}
	if w := do(t, router, http.MethodGet, "/notes/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
	if events.events[len(events.events)-1] != "note.deleted" {
		t.Errorf("events = %v", events.events)
	}
}

func TestListNotesFiltersAndSorts(t *testing.T) {
	svc, router, _ := testEnv(t, "")
	ctx := t.Context()
	work, err := svc.CreateTag(ctx, models.TagInput{Name: "work"})
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range []models.NoteInput{
		{Title: "b", Tags: []string{work.ID}},
		{Title: "a", Tags: []string{work.ID}, IsPinned: true},
		{Title: "c", Tags: []string{work.ID}, IsArchived: true},
		{Title: "d"},
	} {
		if _, err := svc.CreateNote(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	w := do(t, router, http.MethodGet, "/notes?tags="+work.ID+"&archived=false&sort=title&order=asc", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list := decodeBody[api.NoteListResponse](t, w)
	if list.Total != 2 {
		t.Fatalf("total = %d, want 2", list.Total)
	}
	if list.Notes[0].Title != "a" || list.Notes[1].Title != "b" {
		t.Errorf("order = %s,%s", list.Notes[0].Title, list.Notes[1].Title)
	}

	list = decodeBody[api.NoteListResponse](t, do(t, router, http.MethodGet, "/notes?sort=title&order=asc&limit=2&offset=1", nil))
	if list.Total != 4 || len(list.Notes) != 2 {
		t.Fatalf("total = %d len = %d", list.Total, len(list.Notes))
	}
	// Pinned "a" leads, so the second page starts at "b".
	if list.Notes[0].Title != "b" {
		t.Errorf("first on page = %q, want b", list.Notes[0].Title)
	}

	if w := do(t, router, http.MethodGet, "/notes?pinned=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad bool status = %d", w.Code)
	}
}

func TestBacklinksEndpoint(t *testing.T) {
	_, router, _ := testEnv(t, "")
	target := decodeBody[api.NoteDetail](t, do(t, router, http.MethodPost, "/notes", map[string]any{"content": "# Target"}))
	source := decodeBody[api.NoteDetail](t, do(t, router, http.MethodPost, "/notes", map[string]any{"content": "to [[Target]]"}))

	links := decodeBody[api.NoteLinksResponse](t, do(t, router, http.MethodGet, "/notes/"+target.ID+"/backlinks", nil))
	if len(links.Incoming) != 1 || links.Incoming[0].SourceNoteID != source.ID {
		t.Errorf("incoming = %+v", links.Incoming)
	}
	if len(links.Outgoing) != 0 {
		t.Errorf("outgoing = %+v", links.Outgoing)
	}
}

func TestTags(t *testing.T) {
	svc, router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/tags", map[string]any{"name": "work"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	tag := decodeBody[models.Tag](t, w)
	if tag.Color != models.TagPalette[0] {
		t.Errorf("color = %q", tag.Color)
	}

	w = do(t, router, http.MethodPost, "/tags", map[string]any{"name": "work"})
	if w.Code != http.StatusOK {
		t.Errorf("repeat create status = %d, want 200", w.Code)
	}
	if again := decodeBody[models.Tag](t, w); again.ID != tag.ID {
		t.Errorf("repeat create id = %s, want %s", again.ID, tag.ID)
	}

	if w := do(t, router, http.MethodPost, "/tags", map[string]any{"name": "x", "color": "blue"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad color status = %d", w.Code)
	}

	n, err := svc.CreateNote(t.Context(), models.NoteInput{Content: "x", Tags: []string{tag.ID}})
	if err != nil {
		t.Fatal(err)
	}
	if w := do(t, router, http.MethodGet, "/tags/"+tag.ID, nil); w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/tags/"+tag.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/tags/"+tag.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
	got, _ := svc.GetNote(t.Context(), n.ID)
	if len(got.Tags) != 0 {
		t.Errorf("note tags = %v, want none", got.Tags)
	}
	list := decodeBody[api.TagListResponse](t, do(t, router, http.MethodGet, "/tags", nil))
	if len(list.Tags) != 0 {
		t.Errorf("tags = %d", len(list.Tags))
	}
}

func TestSearch(t *testing.T) {
	_, router, _ := testEnv(t, "")
	do(t, router, http.MethodPost, "/notes", map[string]any{"content": "# Golang tips\nchannels"})
	do(t, router, http.MethodPost, "/notes", map[string]any{"content": "# Other\nwritten in golang"})
	do(t, router, http.MethodPost, "/notes", map[string]any{"content": "# Cooking"})

	w := do(t, router, http.MethodGet, "/search?q=golang", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	res := decodeBody[api.SearchResponse](t, w)
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
	if res.Results[0].Note.Title != "Golang tips" {
		t.Errorf("top = %q", res.Results[0].Note.Title)
	}

	res = decodeBody[api.SearchResponse](t, do(t, router, http.MethodGet, "/search?q=golang&limit=1", nil))
	if len(res.Results) != 1 {
		t.Errorf("limited results = %d", len(res.Results))
	}

	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d", w.Code)
	}
}

func TestStatsAndClear(t *testing.T) {
	_, router, _ := testEnv(t, "")
	do(t, router, http.MethodPost, "/notes", map[string]any{"content": "#a [[b]]"})

	stats := decodeBody[api.StatsResponse](t, do(t, router, http.MethodGet, "/stats", nil))
	if stats.Collections[notestore.Notes] != 1 || stats.Collections[notestore.Tags] != 1 {
		t.Errorf("stats = %v", stats.Collections)
	}

	if w := do(t, router, http.MethodDelete, "/data", nil); w.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", w.Code)
	}
	stats = decodeBody[api.StatsResponse](t, do(t, router, http.MethodGet, "/stats", nil))
	for name, n := range stats.Collections {
		if n != 0 {
			t.Errorf("%s = %d after clear", name, n)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router, _ := testEnv(t, "secret")

	if w := do(t, router, http.MethodGet, "/notes", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/notes", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/notes", nil, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}
