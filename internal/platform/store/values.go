package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

// sqliteTimeLayout is fixed width so that text comparison orders correctly.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// normalize converts a driver value into the canonical Go type for the
// field kind: string, bool, int64, float64 or time.Time (UTC).
func normalize(f query.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case query.KindUUID:
		switch x := v.(type) {
		case string:
			return x, nil
		case [16]byte:
			return uuid.UUID(x).String(), nil
		case uuid.UUID:
			return x.String(), nil
		case pgtype.UUID:
			if !x.Valid {
				return nil, nil
			}
			return uuid.UUID(x.Bytes).String(), nil
		case []byte:
			return string(x), nil
		}
	case query.KindString, query.KindEnum:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case query.KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case int:
			return x != 0, nil
		}
	case query.KindInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int32:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int:
			return int64(x), nil
		case float64:
			return int64(x), nil
		}
	case query.KindDecimal:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case pgtype.Numeric:
			if !x.Valid {
				return nil, nil
			}
			f8, err := x.Float64Value()
			if err != nil {
				return nil, err
			}
			return f8.Float64, nil
		case string:
			return strconv.ParseFloat(x, 64)
		case []byte:
			return strconv.ParseFloat(string(x), 64)
		}
	case query.KindTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			t, _, err := query.ParseTime(x)
			if err != nil {
				return nil, err
			}
			return t.UTC(), nil
		case []byte:
			t, _, err := query.ParseTime(string(x))
			if err != nil {
				return nil, err
			}
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("field %s: unexpected %T for %s", f.Name, v, f.Kind)
}

// normalizeRow converts a column-keyed driver row into a Record.
func normalizeRow(d *query.Descriptor, row map[string]any) (Record, error) {
	rec := make(Record, len(d.Fields))
	for _, f := range d.Fields {
		v, err := normalize(f, row[f.Column])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Table, err)
		}
		rec[f.Name] = v
	}
	return rec, nil
}
