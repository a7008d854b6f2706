package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// KeyRange bounds an index (or primary key) scan. A nil bound is unbounded.
type KeyRange struct {
	Lower     any
	Upper     any
	LowerOpen bool
	UpperOpen bool
}

// Only matches keys equal to v.
func Only(v any) *KeyRange { return &KeyRange{Lower: v, Upper: v} }

// LowerBound matches keys >= v (or > v when open).
func LowerBound(v any, open bool) *KeyRange { return &KeyRange{Lower: v, LowerOpen: open} }

// UpperBound matches keys <= v (or < v when open).
func UpperBound(v any, open bool) *KeyRange { return &KeyRange{Upper: v, UpperOpen: open} }

// Bound matches keys between lower and upper.
func Bound(lower, upper any, lowerOpen, upperOpen bool) *KeyRange {
	return &KeyRange{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
}

// where renders the range as SQL predicates on column.
func (r *KeyRange) where(column string, kt KeyType) (string, []any, error) {
	if r == nil {
		return "", nil, nil
	}
	var (
		clauses []string
		args    []any
	)
	if r.Lower != nil {
		k, ok := normalizeKey(r.Lower, kt)
		if !ok {
			return "", nil, fmt.Errorf("invalid lower bound %v", r.Lower)
		}
		op := ">="
		if r.LowerOpen {
			op = ">"
		}
		clauses = append(clauses, column+" "+op+" ?")
		args = append(args, k)
	}
	if r.Upper != nil {
		k, ok := normalizeKey(r.Upper, kt)
		if !ok {
			return "", nil, fmt.Errorf("invalid upper bound %v", r.Upper)
		}
		op := "<="
		if r.UpperOpen {
			op = "<"
		}
		clauses = append(clauses, column+" "+op+" ?")
		args = append(args, k)
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " AND " + strings.Join(clauses, " AND "), args, nil
}

// lookup walks a dotted key path through a decoded JSON document.
func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// normalizeKey converts a JSON-decoded or caller-supplied value into the
// form stored in index_entries.key: int64, float64 or string.
func normalizeKey(v any, kt KeyType) (any, bool) {
	if kt == KeyTime {
		switch t := v.(type) {
		case time.Time:
			return t.UnixNano(), true
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, false
			}
			return parsed.UnixNano(), true
		}
		// Raw nanoseconds are accepted as well.
	}

	switch k := v.(type) {
	case string:
		return k, true
	case bool:
		if k {
			return int64(1), true
		}
		return int64(0), true
	case float64:
		if k == math.Trunc(k) && math.Abs(k) < 1<<53 {
			return int64(k), true
		}
		return k, true
	case float32:
		return normalizeKey(float64(k), KeyAuto)
	case int:
		return int64(k), true
	case int32:
		return int64(k), true
	case int64:
		return k, true
	case uint32:
		return int64(k), true
	case time.Time:
		return k.UnixNano(), true
	}
	return nil, false
}

// indexKeys computes the keys ix contributes for doc. Missing, null and
// non-indexable values produce no keys; multi-entry arrays yield one key per
// distinct element.
func indexKeys(doc map[string]any, ix IndexDef) []any {
	v, ok := lookup(doc, ix.KeyPath)
	if !ok {
		return nil
	}
	if arr, isArr := v.([]any); isArr {
		if !ix.MultiEntry {
			return nil
		}
		seen := make(map[any]struct{}, len(arr))
		out := make([]any, 0, len(arr))
		for _, el := range arr {
			k, ok := normalizeKey(el, ix.Type)
			if !ok {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		return out
	}
	k, ok := normalizeKey(v, ix.Type)
	if !ok {
		return nil
	}
	return []any{k}
}

// errUniqueViolation is returned by writeEntries when a unique index already
// maps the key to another record.
type errUniqueViolation struct {
	index string
	key   any
}

func (e *errUniqueViolation) Error() string {
	return fmt.Sprintf("unique index %q already contains key %v", e.index, e.key)
}

// writeEntries inserts the entries ix contributes for the record id.
func writeEntries(ctx context.Context, tx *sql.Tx, collection, id string, ix IndexDef, doc map[string]any) error {
	for _, k := range indexKeys(doc, ix) {
		if ix.Unique {
			var other string
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM index_entries
				WHERE collection = ? AND index_name = ? AND key = ? AND id <> ?
				LIMIT 1
			`, collection, ix.Name, k, id).Scan(&other)
			switch {
			case err == nil:
				return &errUniqueViolation{index: ix.Name, key: k}
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO index_entries (collection, index_name, key, id) VALUES (?, ?, ?, ?)
		`, collection, ix.Name, k, id); err != nil {
			return err
		}
	}
	return nil
}
