package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

// upgrade creates every collection and index in cols that the stored schema
// lacks, backfills new indexes from existing records and records the new
// version. Re-declaring an existing collection or index is a no-op.
func upgrade(ctx context.Context, conn *sql.DB, cols []CollectionDef, from, to int) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upgrade %d->%d: begin tx: %w", from, to, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, c := range cols {
		if c.Name == "" {
			return fmt.Errorf("upgrade: collection with empty name")
		}
		keyPath := c.KeyPath
		if keyPath == "" {
			keyPath = "id"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO collections (name, key_path) VALUES (?, ?)`, c.Name, keyPath); err != nil {
			return fmt.Errorf("upgrade: create collection %s: %w", c.Name, err)
		}

		for _, ix := range c.Indexes {
			if ix.Name == "" || ix.KeyPath == "" {
				return fmt.Errorf("upgrade: index on %s needs a name and key path", c.Name)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO indexes (collection, name, key_path, key_type, is_unique, multi_entry)
				VALUES (?, ?, ?, ?, ?, ?)
			`, c.Name, ix.Name, ix.KeyPath, int(ix.Type), ix.Unique, ix.MultiEntry)
			if err != nil {
				return fmt.Errorf("upgrade: create index %s.%s: %w", c.Name, ix.Name, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				if err := backfill(ctx, tx, c.Name, ix); err != nil {
					return err
				}
			}
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", to)); err != nil {
		return fmt.Errorf("upgrade: set user_version: %w", err)
	}
	return tx.Commit()
}

// backfill indexes the records that existed before ix was created.
func backfill(ctx context.Context, tx *sql.Tx, collection string, ix IndexDef) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, doc FROM records WHERE collection = ?`, collection)
	if err != nil {
		return fmt.Errorf("upgrade: backfill %s.%s: %w", collection, ix.Name, err)
	}
	type rec struct {
		id  string
		doc string
	}
	var recs []rec
	for rows.Next() {
		var r rec
		if err := rows.Scan(&r.id, &r.doc); err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range recs {
		var doc map[string]any
		if err := json.Unmarshal([]byte(r.doc), &doc); err != nil {
			return fmt.Errorf("upgrade: backfill %s/%s: decode: %w", collection, r.id, err)
		}
		if err := writeEntries(ctx, tx, collection, r.id, ix, doc); err != nil {
			return fmt.Errorf("upgrade: backfill %s.%s: %w", collection, ix.Name, err)
		}
	}
	return nil
}

// loadDefs reads the stored schema. The result is immutable for the life of the DB.
func loadDefs(ctx context.Context, conn *sql.DB) (map[string]*CollectionDef, []string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT name, key_path FROM collections`)
	if err != nil {
		return nil, nil, fmt.Errorf("load collections: %w", err)
	}
	defs := make(map[string]*CollectionDef)
	for rows.Next() {
		var c CollectionDef
		if err := rows.Scan(&c.Name, &c.KeyPath); err != nil {
			rows.Close()
			return nil, nil, err
		}
		defs[c.Name] = &c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = conn.QueryContext(ctx, `
		SELECT collection, name, key_path, key_type, is_unique, multi_entry
		FROM indexes ORDER BY collection, name
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			collection string
			ix         IndexDef
			kt         int
		)
		if err := rows.Scan(&collection, &ix.Name, &ix.KeyPath, &kt, &ix.Unique, &ix.MultiEntry); err != nil {
			return nil, nil, err
		}
		ix.Type = KeyType(kt)
		if c, ok := defs[collection]; ok {
			c.Indexes = append(c.Indexes, ix)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return defs, names, nil
}
