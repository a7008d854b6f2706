package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/apperr"
)

// Direction orders GetAll results.
type Direction int

// Directions.
const (
	Ascending Direction = iota
	Descending
)

// QueryOptions restricts and orders a GetAll call. Pagination is applied
// after ordering. The store never filters on record content.
type QueryOptions struct {
	// Index names a secondary index; empty means the primary key.
	Index     string
	Range     *KeyRange
	Direction Direction
	Offset    int
	Limit     int // 0 means no limit
}

// engineErr classifies an engine error into the store taxonomy.
func engineErr(op string, err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrFull:
			return apperr.Wrap(apperr.ErrQuotaExceeded, op, err)
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return apperr.Wrap(apperr.ErrDatabaseOpenFailed, op, err)
		}
	}
	return apperr.Wrap(apperr.ErrTransactionFailed, op, err)
}

// writeTx runs fn inside a write transaction and commits it.
func (db *DB) writeTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return engineErr(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return engineErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// putDoc stores doc under id and rebuilds its index entries. insert selects
// INSERT (fails on an existing key) over UPDATE.
func (db *DB) putDoc(ctx context.Context, tx *sql.Tx, def *CollectionDef, op, id string, doc []byte, insert bool) error {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return apperr.Wrap(apperr.ErrInvalidData, op, err).In(def.Name, id)
	}
	if key, _ := lookup(fields, def.KeyPath); key != id {
		return apperr.New(apperr.ErrInvalidData, op,
			fmt.Sprintf("key path %q does not match id", def.KeyPath)).In(def.Name, id)
	}

	if insert {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (collection, id, doc) VALUES (?, ?, ?)`, def.Name, id, string(doc)); err != nil {
			return engineErr(op, err).In(def.Name, id)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET doc = ? WHERE collection = ? AND id = ?`, string(doc), def.Name, id); err != nil {
			return engineErr(op, err).In(def.Name, id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM index_entries WHERE collection = ? AND id = ?`, def.Name, id); err != nil {
			return engineErr(op, err).In(def.Name, id)
		}
	}

	for _, ix := range def.Indexes {
		if err := writeEntries(ctx, tx, def.Name, id, ix, fields); err != nil {
			return engineErr(op, err).In(def.Name, id)
		}
	}
	return nil
}

// insertDoc persists a new record atomically.
func (db *DB) insertDoc(ctx context.Context, collection, id string, doc []byte) error {
	const op = "create"
	def, err := db.collection(op, collection)
	if err != nil {
		return err
	}
	return db.writeTx(ctx, op, func(tx *sql.Tx) error {
		return db.putDoc(ctx, tx, def, op, id, doc, true)
	})
}

// getDoc returns the stored document, or nil when id is absent.
func (db *DB) getDoc(ctx context.Context, collection, id string) ([]byte, error) {
	const op = "get"
	def, err := db.collection(op, collection)
	if err != nil {
		return nil, err
	}
	var doc string
	err = db.conn.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE collection = ? AND id = ?`, def.Name, id).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, engineErr(op, err).In(def.Name, id)
	}
	return []byte(doc), nil
}

// getAllDocs runs an ordered, optionally ranged and paginated scan.
func (db *DB) getAllDocs(ctx context.Context, collection string, opts QueryOptions) ([][]byte, error) {
	const op = "get all"
	def, err := db.collection(op, collection)
	if err != nil {
		return nil, err
	}

	dir := "ASC"
	if opts.Direction == Descending {
		dir = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		query string
		args  []any
	)
	if opts.Index == "" {
		cond, rargs, err := opts.Range.where("id", KeyAuto)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInvalidData, op, err).In(def.Name, "")
		}
		query = `SELECT doc FROM records WHERE collection = ?` + cond +
			` ORDER BY id ` + dir + ` LIMIT ? OFFSET ?`
		args = append([]any{def.Name}, rargs...)
	} else {
		ix, ok := def.index(opts.Index)
		if !ok {
			return nil, apperr.New(apperr.ErrObjectStoreNotFound, op,
				fmt.Sprintf("index %q", opts.Index)).In(def.Name, "")
		}
		cond, rargs, err := opts.Range.where("e.key", ix.Type)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInvalidData, op, err).In(def.Name, "")
		}
		query = `
			SELECT r.doc FROM index_entries e
			JOIN records r ON r.collection = e.collection AND r.id = e.id
			WHERE e.collection = ? AND e.index_name = ?` + cond + `
			ORDER BY e.key ` + dir + `, e.id ` + dir + ` LIMIT ? OFFSET ?`
		args = append([]any{def.Name, ix.Name}, rargs...)
	}
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engineErr(op, err).In(def.Name, "")
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, engineErr(op, err).In(def.Name, "")
		}
		out = append(out, []byte(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, engineErr(op, err).In(def.Name, "")
	}
	return out, nil
}

// scanDocs streams every document in key order to fn until it returns false.
func (db *DB) scanDocs(ctx context.Context, collection string, fn func(id string, doc []byte) (bool, error)) error {
	const op = "scan"
	def, err := db.collection(op, collection)
	if err != nil {
		return err
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, doc FROM records WHERE collection = ? ORDER BY id ASC`, def.Name)
	if err != nil {
		return engineErr(op, err).In(def.Name, "")
	}
	defer rows.Close()
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return engineErr(op, err).In(def.Name, "")
		}
		more, err := fn(id, []byte(doc))
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return engineErr(op, err).In(def.Name, "")
	}
	return nil
}

// updateDoc reads the record, lets merge produce the new document and writes
// it back in one transaction. A missing id fails with ErrKeyNotFound.
func (db *DB) updateDoc(ctx context.Context, collection, id string, merge func(doc []byte) ([]byte, error)) error {
	const op = "update"
	def, err := db.collection(op, collection)
	if err != nil {
		return err
	}
	return db.writeTx(ctx, op, func(tx *sql.Tx) error {
		var doc string
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM records WHERE collection = ? AND id = ?`, def.Name, id).Scan(&doc)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return apperr.New(apperr.ErrKeyNotFound, op, "no record with this id").In(def.Name, id)
		case err != nil:
			return engineErr(op, err).In(def.Name, id)
		}
		next, err := merge([]byte(doc))
		if err != nil {
			return err
		}
		return db.putDoc(ctx, tx, def, op, id, next, false)
	})
}

// Delete removes a record. Deleting an absent id succeeds.
func (db *DB) Delete(ctx context.Context, collection, id string) error {
	const op = "delete"
	def, err := db.collection(op, collection)
	if err != nil {
		return err
	}
	return db.writeTx(ctx, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM index_entries WHERE collection = ? AND id = ?`, def.Name, id); err != nil {
			return engineErr(op, err).In(def.Name, id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE collection = ? AND id = ?`, def.Name, id); err != nil {
			return engineErr(op, err).In(def.Name, id)
		}
		return nil
	})
}

// Clear removes every record in a collection.
func (db *DB) Clear(ctx context.Context, collection string) error {
	const op = "clear"
	def, err := db.collection(op, collection)
	if err != nil {
		return err
	}
	return db.writeTx(ctx, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ?`, def.Name); err != nil {
			return engineErr(op, err).In(def.Name, "")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, def.Name); err != nil {
			return engineErr(op, err).In(def.Name, "")
		}
		return nil
	})
}

// Count returns the number of records in a collection.
func (db *DB) Count(ctx context.Context, collection string) (int, error) {
	const op = "count"
	def, err := db.collection(op, collection)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM records WHERE collection = ?`, def.Name).Scan(&n); err != nil {
		return 0, engineErr(op, err).In(def.Name, "")
	}
	return n, nil
}

// Stats returns the record count of every collection in the schema.
func (db *DB) Stats(ctx context.Context) (map[string]int, error) {
	if db == nil || db.closed.Load() {
		return nil, apperr.New(apperr.ErrDatabaseOpenFailed, "stats", "store is not open")
	}
	out := make(map[string]int, len(db.names))
	for _, name := range db.names {
		n, err := db.Count(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, nil
}
