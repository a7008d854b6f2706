// Package notestore is the domain storage façade over the entity store.
//
// It owns the notes, tags and backlinks collections and enforces the
// invariants the store cannot express: unique tag names and the cleanup of
// tag references when a tag is deleted. Store errors propagate unchanged.
package notestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/store"
)

// Collection names.
const (
	Notes     = "notes"
	Tags      = "tags"
	Backlinks = "backlinks"
)

// SchemaVersion is the version of Collections.
const SchemaVersion = 1

// Collections is the schema the façade needs.
var Collections = []store.CollectionDef{
	{
		Name: Notes,
		Indexes: []store.IndexDef{
			{Name: "createdAt", KeyPath: "createdAt", Type: store.KeyTime},
			{Name: "updatedAt", KeyPath: "updatedAt", Type: store.KeyTime},
			{Name: "isArchived", KeyPath: "isArchived"},
			{Name: "isPinned", KeyPath: "isPinned"},
			{Name: "tags", KeyPath: "tags", MultiEntry: true},
		},
	},
	{
		Name: Tags,
		Indexes: []store.IndexDef{
			{Name: "name", KeyPath: "name", Unique: true},
			{Name: "createdAt", KeyPath: "createdAt", Type: store.KeyTime},
		},
	},
	{
		Name: Backlinks,
		Indexes: []store.IndexDef{
			{Name: "sourceNoteId", KeyPath: "sourceNoteId"},
			{Name: "targetNoteId", KeyPath: "targetNoteId"},
			{Name: "linkType", KeyPath: "linkType"},
		},
	},
}

// Config configures Open.
type Config struct {
	Path string
	// Version defaults to SchemaVersion.
	Version int
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Service is the storage context. Construct one per process with Open and
// pass it to every collaborator.
type Service struct {
	db        *store.DB
	notes     *store.Collection[models.Note, *models.Note]
	tags      *store.Collection[models.Tag, *models.Tag]
	backlinks *store.Collection[models.Backlink, *models.Backlink]
	logger    *slog.Logger
}

// Open opens the database at cfg.Path, upgrading its schema when needed.
func Open(ctx context.Context, cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == 0 {
		version = SchemaVersion
	}
	db, err := store.Open(ctx, store.Config{
		Path:        cfg.Path,
		Version:     version,
		Collections: Collections,
		Logger:      logger,
		Clock:       cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		db:        db,
		notes:     store.NewCollection[models.Note](db, Notes),
		tags:      store.NewCollection[models.Tag](db, Tags),
		backlinks: store.NewCollection[models.Backlink](db, Backlinks),
		logger:    logger,
	}, nil
}

// Close releases the database. Further calls fail with ErrDatabaseOpenFailed.
func (s *Service) Close() error {
	return s.db.Close()
}

// GetStats returns the record count of every collection.
func (s *Service) GetStats(ctx context.Context) (map[string]int, error) {
	return s.db.Stats(ctx)
}

// ClearAllData removes every note, tag and backlink.
func (s *Service) ClearAllData(ctx context.Context) error {
	for _, name := range []string{Backlinks, Notes, Tags} {
		if err := s.db.Clear(ctx, name); err != nil {
			return err
		}
	}
	s.logger.Info("notestore: all data cleared")
	return nil
}
