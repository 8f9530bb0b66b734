package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

func init() {
	// casefold lower-cases with Unicode rules so search matches the other
	// backends for non-ASCII text.
	sqlite.MustRegisterDeterministicScalarFunction("casefold", 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return strings.ToLower(v), nil
			case []byte:
				return strings.ToLower(string(v)), nil
			default:
				return v, nil
			}
		})
}

// SQL is the Store backed by database/sql. It is used with the pure-Go
// SQLite driver for single-node deployments and local development.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQL wraps an open database handle.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect, now: time.Now}
}

// OpenSQLite opens (creating if needed) the database file at path with
// foreign keys enforced and creates any missing tables.
func OpenSQLite(ctx context.Context, path string, descriptors ...*query.Descriptor) (*SQL, error) {
	if path == "" {
		path = "his.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	s := NewSQL(db, SQLite)
	if err := s.Bootstrap(ctx, descriptors...); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }

// Bootstrap creates the tables for the given descriptors if they are missing.
func (s *SQL) Bootstrap(ctx context.Context, descriptors ...*query.Descriptor) error {
	for _, stmt := range DDL(s.dialect, descriptors...) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

func (s *SQL) FindByID(ctx context.Context, d *query.Descriptor, id string) (Record, error) {
	stmt, args := findSQL(s.dialect, d, id)
	recs, err := s.queryRecords(ctx, d, stmt, args)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", d.Table, err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

func (s *SQL) FindMany(ctx context.Context, d *query.Descriptor, spec query.Spec) ([]Record, error) {
	stmt, args, err := dataSQL(s.dialect, d, spec)
	if err != nil {
		return nil, err
	}
	recs, err := s.queryRecords(ctx, d, stmt, args)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.Table, err)
	}
	return recs, nil
}

func (s *SQL) Count(ctx context.Context, d *query.Descriptor, pred query.Predicate) (int, error) {
	stmt, args, err := countSQL(s.dialect, d, pred)
	if err != nil {
		return 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", d.Table, err)
	}
	return total, nil
}

func (s *SQL) Create(ctx context.Context, d *query.Descriptor, data Record) (Record, error) {
	stmt, args := insertSQL(s.dialect, d, newRow(d, data, s.now().UTC()))
	recs, err := s.queryRecords(ctx, d, stmt, args)
	if err != nil {
		return nil, s.writeErr(d, "create", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("create %s: no row returned", d.Table)
	}
	return recs[0], nil
}

func (s *SQL) Update(ctx context.Context, d *query.Descriptor, id string, data Record) (Record, error) {
	stmt, args := updateSQL(s.dialect, d, id, patchRow(d, data, s.now().UTC()))
	recs, err := s.queryRecords(ctx, d, stmt, args)
	if err != nil {
		return nil, s.writeErr(d, "update", err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

func (s *SQL) Delete(ctx context.Context, d *query.Descriptor, id string) error {
	stmt, args := deleteSQL(s.dialect, d, id)
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return s.writeErr(d, "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", d.Table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) queryRecords(ctx context.Context, d *query.Descriptor, stmt string, args []any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		rec, err := normalizeRow(d, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQL) writeErr(d *query.Descriptor, op string, err error) error {
	if ce := sqliteConstraint(d, err); ce != nil {
		return ce
	}
	return fmt.Errorf("%s %s: %w", op, d.Table, err)
}

// sqliteConstraint maps SQLite constraint failures. The unique message has
// the form "UNIQUE constraint failed: table.column".
func sqliteConstraint(d *query.Descriptor, err error) *ConstraintError {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	msg := se.Error()
	switch code := se.Code(); {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "UNIQUE"):
		ce := &ConstraintError{Kind: ConstraintUnique, Table: d.Table, Err: err}
		if _, rest, ok := strings.Cut(msg, d.Table+"."); ok {
			if f := strings.Fields(rest); len(f) > 0 {
				ce.Column = strings.TrimRight(f[0], ",)")
			}
		}
		return ce
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
		code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "FOREIGN KEY"):
		return &ConstraintError{Kind: ConstraintForeignKey, Table: d.Table, Err: err}
	}
	return nil
}
