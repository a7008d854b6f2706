package store

import (
	"context"
	"encoding/json"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Record is the constraint for typed collections: a pointer to a struct that
// embeds models.Entity.
type Record[T any] interface {
	*T
	Meta() *models.Entity
}

// Collection is a typed view of one collection. Records are stored as JSON;
// the key path must be "id" so that it lines up with models.Entity.
type Collection[T any, P Record[T]] struct {
	db   *DB
	name string
}

// NewCollection returns a typed view of the named collection.
func NewCollection[T any, P Record[T]](db *DB, name string) *Collection[T, P] {
	return &Collection[T, P]{db: db, name: name}
}

// Name returns the collection name.
func (c *Collection[T, P]) Name() string { return c.name }

// Create assigns a fresh id, timestamps and sync metadata
// ({version: 1, isDeleted: false}) and persists the record. rec is not modified.
func (c *Collection[T, P]) Create(ctx context.Context, rec *T) (*T, error) {
	out := *rec
	id, err := c.db.newID()
	if err != nil {
		return nil, err
	}
	now := c.db.now()
	m := P(&out).Meta()
	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Sync = models.SyncMetadata{Version: 1, IsDeleted: models.Ptr(false)}

	doc, err := json.Marshal(&out)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidData, "create", err).In(c.name, id)
	}
	if err := c.db.insertDoc(ctx, c.name, id, doc); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchResult reports a bulk create. Success is true only when every record
// was created; Created holds whatever was persisted before the first failure.
type BatchResult[T any] struct {
	Success bool
	Created []*T
	Err     error
}

// CreateBatch creates records one transaction at a time and stops at the
// first failure. It never returns an error directly.
func (c *Collection[T, P]) CreateBatch(ctx context.Context, recs []*T) BatchResult[T] {
	res := BatchResult[T]{Created: make([]*T, 0, len(recs))}
	if _, err := c.db.collection("create batch", c.name); err != nil {
		res.Err = err
		return res
	}
	for _, rec := range recs {
		created, err := c.Create(ctx, rec)
		if err != nil {
			res.Err = err
			return res
		}
		res.Created = append(res.Created, created)
	}
	res.Success = true
	return res
}

// Get returns the record, or nil when id is absent.
func (c *Collection[T, P]) Get(ctx context.Context, id string) (*T, error) {
	doc, err := c.db.getDoc(ctx, c.name, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return c.decode("get", id, doc)
}

// GetAll returns records in index (or key) order.
func (c *Collection[T, P]) GetAll(ctx context.Context, opts QueryOptions) ([]*T, error) {
	docs, err := c.db.getAllDocs(ctx, c.name, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		rec, err := c.decode("get all", "", doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Scan returns, in key order, every record for which keep reports true.
// It reads the whole collection.
func (c *Collection[T, P]) Scan(ctx context.Context, keep func(*T) bool) ([]*T, error) {
	var out []*T
	err := c.db.scanDocs(ctx, c.name, func(id string, doc []byte) (bool, error) {
		rec, err := c.decode("scan", id, doc)
		if err != nil {
			return false, err
		}
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first record in key order for which match reports true,
// or nil.
func (c *Collection[T, P]) First(ctx context.Context, match func(*T) bool) (*T, error) {
	var found *T
	err := c.db.scanDocs(ctx, c.name, func(id string, doc []byte) (bool, error) {
		rec, err := c.decode("scan", id, doc)
		if err != nil {
			return false, err
		}
		if match(rec) {
			found = rec
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Update applies mutate to the stored record, bumps updatedAt and the sync
// version, and persists the result. id and createdAt cannot be changed. A
// missing id fails with ErrKeyNotFound; an error from mutate aborts the
// update and is returned as-is.
func (c *Collection[T, P]) Update(ctx context.Context, id string, mutate func(*T) error) (*T, error) {
	var out *T
	err := c.db.updateDoc(ctx, c.name, id, func(doc []byte) ([]byte, error) {
		cur, err := c.decode("update", id, doc)
		if err != nil {
			return nil, err
		}
		before := *P(cur).Meta()
		if err := mutate(cur); err != nil {
			return nil, err
		}
		m := P(cur).Meta()
		m.ID = before.ID
		m.CreatedAt = before.CreatedAt
		m.UpdatedAt = c.db.now()
		m.Sync.Version = before.Sync.Version + 1

		next, err := json.Marshal(cur)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInvalidData, "update", err).In(c.name, id)
		}
		out = cur
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a record; absent ids are not an error.
func (c *Collection[T, P]) Delete(ctx context.Context, id string) error {
	return c.db.Delete(ctx, c.name, id)
}

// Clear removes every record.
func (c *Collection[T, P]) Clear(ctx context.Context) error {
	return c.db.Clear(ctx, c.name)
}

// Count returns the number of records.
func (c *Collection[T, P]) Count(ctx context.Context) (int, error) {
	return c.db.Count(ctx, c.name)
}

func (c *Collection[T, P]) decode(op, id string, doc []byte) (*T, error) {
	var rec T
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidData, op, err).In(c.name, id)
	}
	return &rec, nil
}
