package query

import (
	"sort"
	"strings"
	"time"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
)

// Window is the pagination slice of a list query.
type Window struct {
	Skip int
	Take int
}

// OrderTerm is one sort key. Field always comes from the descriptor.
type OrderTerm struct {
	Field Field
	Desc  bool
}

// Spec is the store-agnostic output of Build.
type Spec struct {
	Predicate Predicate
	Window    Window
	Order     []OrderTerm
}

// Build turns a list request into a predicate, a pagination window and an
// ordering for descriptor d. Unknown query parameters are ignored; known
// ones with unparseable values are rejected.
func Build(d *Descriptor, r Request) (Spec, error) {
	pred, err := Where(d, r)
	if err != nil {
		return Spec{}, err
	}
	p := r.Pagination()
	return Spec{
		Predicate: pred,
		Window:    Window{Skip: p.Skip(), Take: p.Limit},
		Order:     Ordering(d, r.SortBy, r.SortOrder),
	}, nil
}

// Where builds only the predicate of a request. Count uses it directly.
func Where(d *Descriptor, r Request) (Predicate, error) {
	var all All

	params := make([]string, 0, len(r.Filters))
	for p := range r.Filters {
		params = append(params, p)
	}
	sort.Strings(params)
	for _, param := range params {
		raw := strings.TrimSpace(r.Filters[param])
		if raw == "" {
			continue
		}
		flt, ok := d.Filter(param)
		if !ok {
			continue
		}
		f, _ := d.Field(flt.Field)
		pred, err := filterPredicate(f, flt, raw)
		if err != nil {
			return nil, err
		}
		all = append(all, pred)
	}

	if s := strings.TrimSpace(r.Search); s != "" && len(d.Search) > 0 {
		or := make(Any, 0, len(d.Search))
		for _, path := range d.Search {
			or = append(or, searchPredicate(d, path, s))
		}
		all = append(all, or)
	}

	if r.StartDate != "" || r.EndDate != "" {
		preds, err := dateRange(d, r.StartDate, r.EndDate)
		if err != nil {
			return nil, err
		}
		all = append(all, preds...)
	}
	return all, nil
}

func filterPredicate(f Field, flt Filter, raw string) (Predicate, error) {
	if flt.Mode == FilterIn {
		var values []any
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			v, err := ParseValue(f, part)
			if err != nil {
				return nil, apperr.InvalidFilter(flt.Param, err.Error())
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			return nil, apperr.InvalidFilter(flt.Param, "must list at least one value")
		}
		return OneOf{Field: f, Values: values}, nil
	}
	v, err := ParseValue(f, raw)
	if err != nil {
		return nil, apperr.InvalidFilter(flt.Param, err.Error())
	}
	return Equals{Field: f, Value: v}, nil
}

func searchPredicate(d *Descriptor, path, term string) Predicate {
	relName, name, nested := strings.Cut(path, ".")
	if !nested {
		f, _ := d.Field(path)
		return Contains{Field: f, Value: term}
	}
	rel, _ := d.Relation(relName)
	f, _ := rel.Target.Field(name)
	return RelatedContains{Relation: rel, Field: f, Value: term}
}

func dateRange(d *Descriptor, start, end string) ([]Predicate, error) {
	if d.DateField == "" {
		return nil, nil
	}
	f, _ := d.Field(d.DateField)
	var out []Predicate
	if start != "" {
		t, _, err := ParseTime(start)
		if err != nil {
			return nil, apperr.InvalidFilter(ParamStartDate, "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		out = append(out, AtLeast{Field: f, Value: t})
	}
	if end != "" {
		t, dateOnly, err := ParseTime(end)
		if err != nil {
			return nil, apperr.InvalidFilter(ParamEndDate, "must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		out = append(out, AtMost{Field: f, Value: t})
	}
	return out, nil
}

// Ordering resolves sortBy/sortOrder against the allowlist. Unknown fields
// and directions fall back to the descriptor defaults. The id is appended
// as a tie-breaker so equal sort keys page deterministically.
func Ordering(d *Descriptor, sortBy, sortOrder string) []OrderTerm {
	name := d.DefaultSort
	if d.CanSortBy(sortBy) {
		name = sortBy
	}
	desc := d.DefaultOrder == Desc
	switch strings.ToLower(sortOrder) {
	case string(Asc):
		desc = false
	case string(Desc):
		desc = true
	}
	f, _ := d.Field(name)
	terms := []OrderTerm{{Field: f, Desc: desc}}
	if name != FieldID {
		id, _ := d.Field(FieldID)
		terms = append(terms, OrderTerm{Field: id, Desc: desc})
	}
	return terms
}
