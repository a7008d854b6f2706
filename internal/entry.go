// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/export"
	"github.com/starford/ansuz/internal/inbox"
	"github.com/starford/ansuz/internal/linksync"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
)

// openStore opens the note database described by cfg, creating its
// directory when needed.
func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (*notestore.Service, *linksync.Syncer, error) {
	if dir := filepath.Dir(cfg.Storage.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	svc, err := notestore.Open(ctx, notestore.Config{
		Path:    cfg.Storage.Path,
		Version: cfg.Storage.SchemaVersion,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	sy := linksync.New(svc, linksync.WithStrategy(cfg.Sync.Strategy), linksync.WithLogger(logger))
	return svc, sy, nil
}

// newInbox builds the inbox watcher, or returns nil when the inbox is disabled.
func newInbox(cfg *Config, sy *linksync.Syncer, logger *slog.Logger, broker *sse.Broker) (*inbox.Watcher, error) {
	if !cfg.Inbox.Enabled() {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	box, err := storage.NewFS(cfg.Inbox.Path)
	if err != nil {
		return nil, fmt.Errorf("init inbox: %w", err)
	}
	return inbox.New(box, sy,
		inbox.WithInclude(cfg.Inbox.Include...),
		inbox.WithKeepImported(cfg.Inbox.KeepImported),
		inbox.WithLogger(logger),
		inbox.WithOnImport(func(noteID, _ string) {
			broker.PublishNoteEvent(sse.Created, noteID)
		}),
	)
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Run starts the HTTP server, the SSE broker and the inbox watcher with the
// given options and blocks until a shutdown signal or ctx cancellation.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg, logger := app.config, app.logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_path", cfg.Storage.Path),
		slog.Int("schema_version", cfg.Storage.SchemaVersion),
		slog.String("sync_strategy", string(cfg.Sync.Strategy)),
		slog.String("inbox_path", cfg.Inbox.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, sy, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	watcher, err := newInbox(cfg, sy, logger, broker)
	if err != nil {
		return err
	}

	h := api.NewHandler(svc, sy, broker, logger)
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, `{"status":"ok"}`)
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		if _, err := svc.GetStats(req.Context()); err != nil {
			logger.Warn("readiness check failed", slog.String("error", err.Error()))
			writeStatus(w, http.StatusServiceUnavailable, `{"status":"unavailable"}`)
			return
		}
		writeStatus(w, http.StatusOK, `{"status":"ok"}`)
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if watcher != nil {
		g.Go(func() error {
			if err := watcher.Run(gCtx); err != nil {
				return fmt.Errorf("inbox watcher: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Streaming SSE clients would otherwise hold Shutdown open.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the inbox watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	svc, sy, err := openStore(ctx, app.config, app.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	app.logger.Info("MCP server starting", slog.String("storage_path", app.config.Storage.Path))
	if err := mcpserver.New(svc, sy, app.logger).ServeStdio(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// RunExport writes every note to dir as Markdown.
func RunExport(ctx context.Context, dir string, includeArchived bool, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, _, err := openStore(ctx, app.config, app.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	dst, err := storage.NewFS(dir)
	if err != nil {
		return fmt.Errorf("init export dir: %w", err)
	}
	if _, err := export.Notes(ctx, svc, dst, export.Options{
		IncludeArchived: includeArchived,
		Logger:          app.logger,
	}); err != nil {
		return err
	}
	return nil
}
