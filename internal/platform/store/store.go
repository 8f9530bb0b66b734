// Package store is the data-access layer behind the resource engine. Every
// backend speaks in Records keyed by API field names and interprets the
// store-agnostic predicates produced by the query package.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

// Record is one row keyed by API field name.
type Record map[string]any

// ID returns the record's primary key, or "" if absent.
func (r Record) ID() string {
	s, _ := r[query.FieldID].(string)
	return s
}

// String returns the string value of field, or "".
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Bool returns the bool value of field, or false.
func (r Record) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with the fields of patch applied.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Store is the CRUD interface every backend implements.
type Store interface {
	FindByID(ctx context.Context, d *query.Descriptor, id string) (Record, error)
	FindMany(ctx context.Context, d *query.Descriptor, spec query.Spec) ([]Record, error)
	Count(ctx context.Context, d *query.Descriptor, pred query.Predicate) (int, error)
	Create(ctx context.Context, d *query.Descriptor, data Record) (Record, error)
	Update(ctx context.Context, d *query.Descriptor, id string, data Record) (Record, error)
	Delete(ctx context.Context, d *query.Descriptor, id string) error
}

// ErrNotFound is returned by single-row operations when the id does not exist.
var ErrNotFound = errors.New("store: record not found")

// ConstraintKind identifies the violated database constraint class.
type ConstraintKind int

const (
	ConstraintUnique ConstraintKind = iota + 1
	ConstraintForeignKey
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign key"
	default:
		return "unknown"
	}
}

// ConstraintError reports a write rejected by a storage constraint. Column
// is set when the backend can tell which column was involved.
type ConstraintError struct {
	Kind       ConstraintKind
	Table      string
	Column     string
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("store: %s constraint violated on %s.%s", e.Kind, e.Table, e.Column)
	}
	return fmt.Sprintf("store: %s constraint violated on %s", e.Kind, e.Table)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Field maps the violated column back to an API field name of d.
func (e *ConstraintError) Field(d *query.Descriptor) string {
	if e.Column == "" {
		return ""
	}
	if f, ok := d.FieldByColumn(e.Column); ok {
		return f.Name
	}
	return ""
}

// AsConstraint extracts a *ConstraintError from err.
func AsConstraint(err error) (*ConstraintError, bool) {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// writable returns the descriptor fields that callers may set.
func writable(d *query.Descriptor, data Record) []query.Field {
	var out []query.Field
	for _, f := range d.Fields {
		if f.ReadOnly {
			continue
		}
		if _, ok := data[f.Name]; ok {
			out = append(out, f)
		}
	}
	return out
}

// newRow builds the complete row for an insert: a fresh id unless the caller
// supplied one, both timestamps, and every writable field present in data.
func newRow(d *query.Descriptor, data Record, now time.Time) Record {
	row := make(Record, len(d.Fields))
	id := data.ID()
	if id == "" {
		id = uuid.NewString()
	}
	row[query.FieldID] = id
	for _, f := range writable(d, data) {
		row[f.Name] = data[f.Name]
	}
	row[query.FieldCreatedAt] = now
	row[query.FieldUpdatedAt] = now
	return row
}

// patchRow builds the SET list for an update of the fields present in data.
func patchRow(d *query.Descriptor, data Record, now time.Time) Record {
	row := make(Record, len(data)+1)
	for _, f := range writable(d, data) {
		row[f.Name] = data[f.Name]
	}
	row[query.FieldUpdatedAt] = now
	return row
}
