package query

import "sort"

// Predicate is a store-agnostic boolean condition over one descriptor.
// Values carried by leaf predicates are already parsed for the field kind:
// string for text, enum and uuid fields, bool, int64, float64 and time.Time.
type Predicate interface {
	predicate()
}

// All holds when every child holds. An empty All is true.
type All []Predicate

// Any holds when at least one child holds. An empty Any is false.
type Any []Predicate

// Equals compares a field to one value.
type Equals struct {
	Field Field
	Value any
}

// OneOf holds when the field equals one of Values.
type OneOf struct {
	Field  Field
	Values []any
}

// Contains is a case-insensitive substring match on a text field.
type Contains struct {
	Field Field
	Value string
}

// RelatedContains is Contains evaluated on the row referenced through Relation.
type RelatedContains struct {
	Relation Relation
	Field    Field
	Value    string
}

// AtLeast holds when Field >= Value.
type AtLeast struct {
	Field Field
	Value any
}

// AtMost holds when Field <= Value.
type AtMost struct {
	Field Field
	Value any
}

func (All) predicate()             {}
func (Any) predicate()             {}
func (Equals) predicate()          {}
func (OneOf) predicate()           {}
func (Contains) predicate()        {}
func (RelatedContains) predicate() {}
func (AtLeast) predicate()         {}
func (AtMost) predicate()          {}

// Match builds an All of Equals predicates from field/value pairs. It is
// used by services for uniqueness and lookup queries.
func Match(d *Descriptor, values map[string]any) (Predicate, bool) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(All, 0, len(names))
	for _, name := range names {
		f, ok := d.Field(name)
		if !ok {
			return nil, false
		}
		out = append(out, Equals{Field: f, Value: values[name]})
	}
	return out, true
}
