package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/linksync"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/query"
)

// Publisher receives change notifications. The SSE broker implements it.
type Publisher interface {
	PublishNoteEvent(kind, id string)
	PublishTagEvent(kind, id string)
}

type nopPublisher struct{}

func (nopPublisher) PublishNoteEvent(string, string) {}
func (nopPublisher) PublishTagEvent(string, string)  {}

// Handler holds API route handlers.
type Handler struct {
	svc    *notestore.Service
	sync   *linksync.Syncer
	events Publisher
	logger *slog.Logger
}

// NewHandler creates a new Handler. A nil events publisher drops notifications.
func NewHandler(svc *notestore.Service, sync *linksync.Syncer, events Publisher, logger *slog.Logger) *Handler {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, sync: sync, events: events, logger: logger}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

func optBool(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes with filtering, sorting and pagination
//	@Tags			notes
//	@Produce		json
//	@Param			tags		query		string	false	"Comma-separated tag ids"
//	@Param			archived	query		bool	false	"Archived state"
//	@Param			pinned		query		bool	false	"Pinned state"
//	@Param			q			query		string	false	"Free text"
//	@Param			sort		query		string	false	"Sort field"	Enums(updatedAt, createdAt, title)
//	@Param			order		query		string	false	"Sort order"	Enums(asc, desc)
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f query.Filter
	if raw := q.Get("tags"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				f.Tags = append(f.Tags, id)
			}
		}
	}
	var err error
	if f.IsArchived, err = optBool(q.Get("archived")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("archived must be a boolean"))
		return
	}
	if f.IsPinned, err = optBool(q.Get("pinned")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("pinned must be a boolean"))
		return
	}
	f.Search = q.Get("q")
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	notes, err := h.svc.GetAllNotes(r.Context(), notestore.NoteQuery{Filter: f})
	if err != nil {
		h.writeError(w, "list notes failed", err)
		return
	}
	query.Sort(notes, query.SortOptions{
		Field:       query.ParseSortField(q.Get("sort")),
		Descending:  q.Get("order") != "asc",
		PinnedFirst: true,
	})
	writeJSON(w, http.StatusOK, NoteListResponse{
		Notes: page(notes, offset, limit),
		Total: len(notes),
	})
}

func (h *Handler) detail(r *http.Request, n *models.Note) (*NoteDetail, error) {
	in, err := h.svc.GetIncomingBacklinks(r.Context(), n.ID)
	if err != nil {
		return nil, err
	}
	out, err := h.svc.GetOutgoingBacklinks(r.Context(), n.ID)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Note:     n,
		Checksum: checksum.String(n.Content),
		Links:    NoteLinksResponse{Incoming: in, Outgoing: out},
	}, nil
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note with its backlinks
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	NoteDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.svc.GetNote(r.Context(), id)
	if err != nil {
		h.writeError(w, "get note failed", err, slog.String("id", id))
		return
	}
	if n == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	d, err := h.detail(r, n)
	if err != nil {
		h.writeError(w, "get note failed", err, slog.String("id", id))
		return
	}
	w.Header().Set("ETag", strconv.Quote(d.Checksum))
	writeJSON(w, http.StatusOK, d)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a note from Markdown content
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.sync.CreateNote(r.Context(), models.NoteInput{
		Content:    req.Content,
		IsPinned:   req.IsPinned,
		IsArchived: req.IsArchived,
	})
	if err != nil {
		h.writeError(w, "create note failed", err)
		return
	}
	h.events.PublishNoteEvent("created", res.Note.ID)
	d, err := h.detail(r, res.Note)
	if err != nil {
		h.writeError(w, "create note failed", err, slog.String("id", res.Note.ID))
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Update a note's content or flags
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Note id"
//	@Param			If-Match	header		string				false	"Content checksum for optimistic concurrency"
//	@Param			body		body		UpdateNoteRequest	true	"Changes"
//	@Success		200			{object}	NoteDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateNoteRequest
	if !decode(w, r, &req) {
		return
	}

	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		cur, err := h.svc.GetNote(r.Context(), id)
		if err != nil {
			h.writeError(w, "update note failed", err, slog.String("id", id))
			return
		}
		if cur == nil {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		if checksum.String(cur.Content) != ifMatch {
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
			return
		}
	}

	var (
		n       *models.Note
		renamed []string
	)
	if req.Content != nil {
		res, err := h.sync.SaveNote(r.Context(), id, *req.Content)
		if err != nil {
			h.writeError(w, "save note failed", err, slog.String("id", id))
			return
		}
		n, renamed = res.Note, res.Renamed
	}
	if req.IsPinned != nil || req.IsArchived != nil {
		var err error
		n, err = h.svc.UpdateNote(r.Context(), id, models.NotePatch{
			IsPinned:   req.IsPinned,
			IsArchived: req.IsArchived,
		})
		if err != nil {
			h.writeError(w, "update note failed", err, slog.String("id", id))
			return
		}
	}

	h.events.PublishNoteEvent("updated", id)
	for _, other := range renamed {
		h.events.PublishNoteEvent("updated", other)
	}
	d, err := h.detail(r, n)
	if err != nil {
		h.writeError(w, "update note failed", err, slog.String("id", id))
		return
	}
	d.Renamed = renamed
	writeJSON(w, http.StatusOK, d)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note deleted"
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteNote(r.Context(), id); err != nil {
		h.writeError(w, "delete note failed", err, slog.String("id", id))
		return
	}
	h.events.PublishNoteEvent("deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// NoteBacklinks handles GET /api/notes/{id}/backlinks.
func (h *Handler) NoteBacklinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.svc.GetIncomingBacklinks(r.Context(), id)
	if err != nil {
		h.writeError(w, "get backlinks failed", err, slog.String("id", id))
		return
	}
	out, err := h.svc.GetOutgoingBacklinks(r.Context(), id)
	if err != nil {
		h.writeError(w, "get backlinks failed", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, NoteLinksResponse{Incoming: in, Outgoing: out})
}

// ListTags handles GET /api/tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.GetAllTags(r.Context())
	if err != nil {
		h.writeError(w, "list tags failed", err)
		return
	}
	writeJSON(w, http.StatusOK, TagListResponse{Tags: tags})
}

// CreateTag handles POST /api/tags. An existing tag with the same name is
// returned with 200 instead of 201.
func (h *Handler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req CreateTagRequest
	if !decode(w, r, &req) {
		return
	}
	existing, err := h.svc.GetTagByName(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		h.writeError(w, "create tag failed", err)
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}
	tag, err := h.svc.CreateTag(r.Context(), models.TagInput{
		Name:        req.Name,
		Color:       req.Color,
		Description: req.Description,
		ParentID:    req.ParentID,
	})
	if err != nil {
		h.writeError(w, "create tag failed", err)
		return
	}
	h.events.PublishTagEvent("created", tag.ID)
	writeJSON(w, http.StatusCreated, tag)
}

// GetTag handles GET /api/tags/{id}.
func (h *Handler) GetTag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tag, err := h.svc.GetTag(r.Context(), id)
	if err != nil {
		h.writeError(w, "get tag failed", err, slog.String("id", id))
		return
	}
	if tag == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// DeleteTag handles DELETE /api/tags/{id}. Notes referencing the tag lose it.
func (h *Handler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteTag(r.Context(), id); err != nil {
		h.writeError(w, "delete tag failed", err, slog.String("id", id))
		return
	}
	h.events.PublishTagEvent("deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Fuzzy search across titles, content and tag names
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notes, err := h.svc.GetAllNotes(r.Context(), notestore.NoteQuery{})
	if err != nil {
		h.writeError(w, "search failed", err, slog.String("query", q))
		return
	}
	tags, err := h.svc.GetAllTags(r.Context())
	if err != nil {
		h.writeError(w, "search failed", err, slog.String("query", q))
		return
	}
	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}
	results := query.Search(notes, names, q, time.Now())
	writeJSON(w, http.StatusOK, SearchResponse{Results: page(results, 0, limit)})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.GetStats(r.Context())
	if err != nil {
		h.writeError(w, "stats failed", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Collections: counts})
}

// ClearData handles DELETE /api/data.
func (h *Handler) ClearData(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearAllData(r.Context()); err != nil {
		h.writeError(w, "clear data failed", err)
		return
	}
	h.logger.Warn("all data cleared", slog.String("remote", r.RemoteAddr))
	w.WriteHeader(http.StatusNoContent)
}
