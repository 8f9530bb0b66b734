package store

import (
	"strconv"
	"time"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

// Dialect captures the SQL differences between the relational backends.
type Dialect struct {
	Name string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// contains renders a case-insensitive LIKE of col against the pattern
	// placeholder ph.
	contains func(col, ph string) string
	// encode converts a canonical value into a bind argument.
	encode func(f query.Field, v any) any
	// columnType renders the DDL type of a field.
	columnType func(f query.Field) string
}

// Postgres is the dialect of the pgx backend.
var Postgres = Dialect{
	Name:        "postgres",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	contains: func(col, ph string) string {
		return col + " ILIKE " + ph + ` ESCAPE '\'`
	},
	encode: func(_ query.Field, v any) any {
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
		return v
	},
	columnType: func(f query.Field) string {
		switch f.Kind {
		case query.KindUUID:
			return "UUID"
		case query.KindBool:
			return "BOOLEAN"
		case query.KindInt:
			return "BIGINT"
		case query.KindDecimal:
			return "DOUBLE PRECISION"
		case query.KindTime:
			return "TIMESTAMPTZ"
		default:
			return "TEXT"
		}
	},
}

// SQLite is the dialect of the database/sql backend. SQLite LIKE folds ASCII
// only, so both sides go through the casefold function registered in sql.go.
// Times are stored as fixed-width UTC text and booleans as integers.
var SQLite = Dialect{
	Name:        "sqlite",
	placeholder: func(int) string { return "?" },
	contains: func(col, ph string) string {
		return "casefold(" + col + ") LIKE casefold(" + ph + `) ESCAPE '\'`
	},
	encode: func(_ query.Field, v any) any {
		switch x := v.(type) {
		case time.Time:
			return x.UTC().Format(sqliteTimeLayout)
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		}
		return v
	},
	columnType: func(f query.Field) string {
		switch f.Kind {
		case query.KindBool, query.KindInt:
			return "INTEGER"
		case query.KindDecimal:
			return "REAL"
		default:
			return "TEXT"
		}
	},
}

// DialectByName returns the named dialect.
func DialectByName(name string) (Dialect, bool) {
	switch name {
	case Postgres.Name, "postgresql", "pg":
		return Postgres, true
	case SQLite.Name, "sqlite3":
		return SQLite, true
	}
	return Dialect{}, false
}
