package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emaalouf/HIS-sub006/internal/platform/db"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

// PG is the Store backed by a pgx connection pool. Calls made inside
// db.WithTx join the transaction carried by the context.
type PG struct {
	pool *pgxpool.Pool
	q    db.Querier
	now  func() time.Time
}

// NewPG returns a Postgres store over pool.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool, q: pool, now: time.Now}
}

func (s *PG) conn(ctx context.Context) db.Querier {
	if c := db.QuerierFromContext(ctx); c != nil {
		return c
	}
	return s.q
}

// Ping checks the pool.
func (s *PG) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("store: no pool")
	}
	return s.pool.Ping(ctx)
}

// Pool exposes the pool for health reporting and transactions.
func (s *PG) Pool() *pgxpool.Pool { return s.pool }

func (s *PG) FindByID(ctx context.Context, d *query.Descriptor, id string) (Record, error) {
	sql, args := findSQL(Postgres, d, id)
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", d.Table, err)
	}
	recs, err := s.collect(d, rows)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", d.Table, err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

func (s *PG) FindMany(ctx context.Context, d *query.Descriptor, spec query.Spec) ([]Record, error) {
	sql, args, err := dataSQL(Postgres, d, spec)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.Table, err)
	}
	recs, err := s.collect(d, rows)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.Table, err)
	}
	return recs, nil
}

func (s *PG) Count(ctx context.Context, d *query.Descriptor, pred query.Predicate) (int, error) {
	sql, args, err := countSQL(Postgres, d, pred)
	if err != nil {
		return 0, err
	}
	var total int
	if err := s.conn(ctx).QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", d.Table, err)
	}
	return total, nil
}

func (s *PG) Create(ctx context.Context, d *query.Descriptor, data Record) (Record, error) {
	sql, args := insertSQL(Postgres, d, newRow(d, data, s.now().UTC()))
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, s.writeErr(d, "create", err)
	}
	recs, err := s.collect(d, rows)
	if err != nil {
		return nil, s.writeErr(d, "create", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("create %s: no row returned", d.Table)
	}
	return recs[0], nil
}

func (s *PG) Update(ctx context.Context, d *query.Descriptor, id string, data Record) (Record, error) {
	sql, args := updateSQL(Postgres, d, id, patchRow(d, data, s.now().UTC()))
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, s.writeErr(d, "update", err)
	}
	recs, err := s.collect(d, rows)
	if err != nil {
		return nil, s.writeErr(d, "update", err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

func (s *PG) Delete(ctx context.Context, d *query.Descriptor, id string) error {
	sql, args := deleteSQL(Postgres, d, id)
	tag, err := s.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return s.writeErr(d, "delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Bootstrap creates the tables for the given descriptors if they are missing.
func (s *PG) Bootstrap(ctx context.Context, descriptors ...*query.Descriptor) error {
	for _, stmt := range DDL(Postgres, descriptors...) {
		if _, err := s.conn(ctx).Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

func (s *PG) collect(d *query.Descriptor, rows pgx.Rows) ([]Record, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(maps))
	for _, m := range maps {
		rec, err := normalizeRow(d, m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PG) writeErr(d *query.Descriptor, op string, err error) error {
	if ce := pgConstraint(d, err); ce != nil {
		return ce
	}
	return fmt.Errorf("%s %s: %w", op, d.Table, err)
}

// pgConstraint maps unique and foreign-key violations. Constraint names
// follow the Postgres defaults emitted by DDL: <table>_<column>_key and
// <table>_<column>_fkey.
func pgConstraint(d *query.Descriptor, err error) *ConstraintError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	var kind ConstraintKind
	var suffix string
	switch pgErr.Code {
	case "23505":
		kind, suffix = ConstraintUnique, "_key"
	case "23503":
		kind, suffix = ConstraintForeignKey, "_fkey"
	default:
		return nil
	}
	col := strings.TrimSuffix(strings.TrimPrefix(pgErr.ConstraintName, d.Table+"_"), suffix)
	if _, ok := d.FieldByColumn(col); !ok {
		col = pgErr.ColumnName
	}
	return &ConstraintError{Kind: kind, Table: d.Table, Column: col, Constraint: pgErr.ConstraintName, Err: err}
}
