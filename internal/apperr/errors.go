// Package apperr defines the storage error taxonomy shared by every layer.
//
// Each failure is reported as an *Error whose Kind is one of the sentinel
// values below, so callers can branch with errors.Is without string matching:
//
//	if errors.Is(err, apperr.ErrKeyNotFound) { ... }
//
// The engine error that caused the failure, when there is one, is kept as
// the cause and is reachable through errors.As.
package apperr

import (
	"errors"
	"strings"
)

// Error kinds.
var (
	// ErrDatabaseOpenFailed: the engine could not be opened, or the store was used before Open / after Close.
	ErrDatabaseOpenFailed = errors.New("database open failed")

	// ErrTransactionFailed: an engine-level failure during create, read, update, delete or clear.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrKeyNotFound: an update targeted an id that does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrObjectStoreNotFound: the named collection is not part of the schema.
	ErrObjectStoreNotFound = errors.New("object store not found")

	// ErrInvalidData: a record could not be encoded, decoded or keyed.
	ErrInvalidData = errors.New("invalid data")

	// ErrQuotaExceeded: the engine ran out of space.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnknown: anything that fits none of the above.
	ErrUnknown = errors.New("unknown error")
)

// Error is the uniform error returned by the store.
type Error struct {
	Kind       error  // one of the Err* sentinels
	Op         string // operation, e.g. "create", "update"
	Collection string
	ID         string
	Msg        string
	Err        error // underlying engine error, may be nil
}

// New builds an *Error of the given kind.
func New(kind error, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error of the given kind around an engine error.
func Wrap(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// In returns a copy of e scoped to a collection and record id.
func (e *Error) In(collection, id string) *Error {
	cp := *e
	cp.Collection = collection
	cp.ID = id
	return &cp
}

// Error formats as "store: <op>: <kind>: <msg>: <cause> (collection=X id=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{"store"}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	kind := e.Kind
	if kind == nil {
		kind = ErrUnknown
	}
	parts = append(parts, kind.Error())
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	out := strings.Join(parts, ": ")

	var ctx []string
	if e.Collection != "" {
		ctx = append(ctx, "collection="+e.Collection)
	}
	if e.ID != "" {
		ctx = append(ctx, "id="+e.ID)
	}
	if len(ctx) > 0 {
		out += " (" + strings.Join(ctx, " ") + ")"
	}
	return out
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	kind := e.Kind
	if kind == nil {
		kind = ErrUnknown
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// KindOf returns the sentinel kind of err, or ErrUnknown when err carries none.
func KindOf(err error) error {
	for _, k := range []error{
		ErrDatabaseOpenFailed,
		ErrTransactionFailed,
		ErrKeyNotFound,
		ErrObjectStoreNotFound,
		ErrInvalidData,
		ErrQuotaExceeded,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnknown
}
