// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Ansuz tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/linksync"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/query"
)

// FormatURI is the resource URI of the note format contract.
const FormatURI = "ansuz://note-format"

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *notestore.Service
	sync   *linksync.Syncer
	logger *slog.Logger
}

// New creates a new MCP server with all Ansuz tools registered.
func New(svc *notestore.Service, sync *linksync.Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, sync: sync, logger: logger}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Fuzzy search through note titles, content and tag names. Results are ranked best first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full Markdown content of a note by id or by title."),
		mcp.WithString("id", mcp.Description("Note id")),
		mcp.WithString("title", mcp.Description("Note title; used when id is empty")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new Markdown note. Title, tags and backlinks are derived "+
			"from the content. Read the contract first via the get_note_contract tool or the "+
			FormatURI+" resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the Ansuz note format contract")),
		mcp.WithBoolean("pinned", mcp.Description("Pin the note")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the content of an existing note. A changed title is "+
			"propagated to every note linking to the old title."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New Markdown content")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the Ansuz note format contract. "+
			"Call this before creating or updating notes to ensure correct structure."),
	), s.getNoteContract)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes as id and title, pinned first, most recently updated next."),
		mcp.WithString("tag", mcp.Description("Optional tag name to filter by")),
		mcp.WithBoolean("archived", mcp.Description("Include archived notes (default false)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List all tag names in alphabetical order."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the note to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Note Format Contract",
			mcp.WithResourceDescription("Markdown conventions Ansuz derives titles, tags and links from."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError logs err and reports it to the caller as a tool-level failure.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("mcp tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	return mcp.NewToolResultError(err.Error())
}

type searchHit struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Score int    `json:"score"`
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 20)

	notes, err := s.svc.GetAllNotes(ctx, notestore.NoteQuery{})
	if err != nil {
		return s.toolError("search_notes", err), nil
	}
	tags, err := s.svc.GetAllTags(ctx)
	if err != nil {
		return s.toolError("search_notes", err), nil
	}
	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}

	hits := []searchHit{}
	for _, r := range query.Search(notes, names, q, time.Now()) {
		if limit > 0 && len(hits) == limit {
			break
		}
		hits = append(hits, searchHit{ID: r.Note.ID, Title: r.Note.Title, Score: r.Score})
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	title := req.GetString("title", "")
	var (
		n   *models.Note
		err error
	)
	switch {
	case id != "":
		n, err = s.svc.GetNote(ctx, id)
	case title != "":
		n, err = s.svc.FindNoteByTitle(ctx, title)
	default:
		return mcp.NewToolResultError("id or title is required"), nil
	}
	if err != nil {
		return s.toolError("read_note", err), nil
	}
	if n == nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s%s", id, title)), nil
	}
	return mcp.NewToolResultText(n.Content), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.sync.CreateNote(ctx, models.NoteInput{
		Content:  content,
		IsPinned: req.GetBool("pinned", false),
	})
	if err != nil {
		return s.toolError("create_note", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (%s)", res.Note.ID, res.Note.Title)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.sync.SaveNote(ctx, id, content)
	if err != nil {
		return s.toolError("update_note", err), nil
	}
	msg := fmt.Sprintf("updated: %s (%s)", res.Note.ID, res.Note.Title)
	if len(res.Renamed) > 0 {
		msg += fmt.Sprintf("; links rewritten in %d notes", len(res.Renamed))
	}
	return mcp.NewToolResultText(msg), nil
}

// tagByName looks name up as given, then lowercased as hashtag sync
// stores it.
func (s *Server) tagByName(ctx context.Context, name string) (*models.Tag, error) {
	tag, err := s.svc.GetTagByName(ctx, name)
	if err != nil || tag != nil {
		return tag, err
	}
	if lower := strings.ToLower(name); lower != name {
		return s.svc.GetTagByName(ctx, lower)
	}
	return nil, nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var f query.Filter
	if !req.GetBool("archived", false) {
		f.IsArchived = models.Ptr(false)
	}
	if name := req.GetString("tag", ""); name != "" {
		tag, err := s.tagByName(ctx, name)
		if err != nil {
			return s.toolError("list_notes", err), nil
		}
		if tag == nil {
			return mcp.NewToolResultText(""), nil
		}
		f.Tags = []string{tag.ID}
	}

	notes, err := s.svc.GetAllNotes(ctx, notestore.NoteQuery{Filter: f})
	if err != nil {
		return s.toolError("list_notes", err), nil
	}
	query.Sort(notes, query.SortOptions{Field: query.SortUpdatedAt, Descending: true, PinnedFirst: true})

	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		lines = append(lines, n.ID+"\t"+n.Title)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) listTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.svc.GetAllTags(ctx)
	if err != nil {
		return s.toolError("list_tags", err), nil
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	incoming, err := s.svc.GetIncomingBacklinks(ctx, id)
	if err != nil {
		return s.toolError("get_backlinks", err), nil
	}

	var lines []string
	seen := make(map[string]struct{}, len(incoming))
	for _, b := range incoming {
		if _, dup := seen[b.SourceNoteID]; dup {
			continue
		}
		seen[b.SourceNoteID] = struct{}{}
		src, err := s.svc.GetNote(ctx, b.SourceNoteID)
		if err != nil {
			return s.toolError("get_backlinks", err), nil
		}
		if src == nil {
			continue
		}
		lines = append(lines, src.ID+"\t"+src.Title)
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}
