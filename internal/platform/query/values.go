package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a date or date-time in the accepted layouts. dateOnly
// reports whether the input carried no time component.
func ParseTime(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, layout == "2006-01-02", nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unable to parse date: %q", s)
}

// ParseValue converts a raw query-string value for the field's kind.
func ParseValue(f Field, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch f.Kind {
	case KindUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("must be a valid UUID")
		}
		return id.String(), nil
	case KindEnum:
		v, ok := f.ParseEnum(raw)
		if !ok {
			return nil, fmt.Errorf("must be one of %s", strings.Join(f.Values, ", "))
		}
		return v, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("must be true or false")
		}
		return b, nil
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("must be an integer")
		}
		return n, nil
	case KindDecimal:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		return n, nil
	case KindTime:
		t, _, err := ParseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		return t, nil
	default:
		return raw, nil
	}
}

// CoerceJSON converts a decoded JSON value for the field's kind. Numbers
// arrive as float64 and timestamps as strings.
func CoerceJSON(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		return s, nil
	case KindUUID, KindEnum, KindTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		return ParseValue(f, s)
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("must be a boolean")
		}
		return b, nil
	case KindInt:
		n, ok := v.(float64)
		if !ok || n != float64(int64(n)) {
			return nil, fmt.Errorf("must be an integer")
		}
		return int64(n), nil
	case KindDecimal:
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("must be a number")
		}
		return n, nil
	}
	return nil, fmt.Errorf("unsupported field kind %s", f.Kind)
}
