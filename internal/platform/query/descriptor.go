package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// FieldKind determines how raw values for a field are parsed and compared.
type FieldKind int

const (
	KindString FieldKind = iota
	KindUUID
	KindEnum
	KindBool
	KindInt
	KindDecimal
	KindTime
)

func (k FieldKind) String() string {
	switch k {
	case KindUUID:
		return "uuid"
	case KindEnum:
		return "enum"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	case KindTime:
		return "datetime"
	default:
		return "string"
	}
}

// System fields present on every descriptor.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Field describes one attribute of a resource.
type Field struct {
	Name     string // API name, e.g. "patientId"
	Column   string // storage column, derived from Name when empty
	Kind     FieldKind
	Values   []string // allowed values for KindEnum
	Required bool
	ReadOnly bool
}

func Text(name string) Field    { return Field{Name: name, Kind: KindString} }
func ID(name string) Field      { return Field{Name: name, Kind: KindUUID} }
func Bool(name string) Field    { return Field{Name: name, Kind: KindBool} }
func Int(name string) Field     { return Field{Name: name, Kind: KindInt} }
func Decimal(name string) Field { return Field{Name: name, Kind: KindDecimal} }
func Time(name string) Field    { return Field{Name: name, Kind: KindTime} }
func Enum(name string, values ...string) Field {
	return Field{Name: name, Kind: KindEnum, Values: values}
}

// Require marks the field as mandatory on create.
func (f Field) Require() Field { f.Required = true; return f }

// Col overrides the derived storage column.
func (f Field) Col(column string) Field { f.Column = column; return f }

// ParseEnum returns the canonical enum value matching raw, case-insensitively.
func (f Field) ParseEnum(raw string) (string, bool) {
	for _, v := range f.Values {
		if strings.EqualFold(v, raw) {
			return v, true
		}
	}
	return "", false
}

// Relation links a local foreign-id field to another descriptor.
type Relation struct {
	Name   string // path prefix used in search fields, e.g. "patient"
	Field  string // local field holding the foreign id, e.g. "patientId"
	Target *Descriptor
}

// FilterMode selects equality or set membership for an exact-match filter.
type FilterMode int

const (
	FilterEqual FilterMode = iota
	// FilterIn accepts a comma-separated list of values.
	FilterIn
)

// Filter exposes a field as an exact-match query parameter.
type Filter struct {
	Param string
	Field string
	Mode  FilterMode
}

// Eq declares an equality filter whose query parameter is the field name.
func Eq(field string) Filter { return Filter{Param: field, Field: field, Mode: FilterEqual} }

// In declares a set-membership filter whose query parameter is the field name.
func In(field string) Filter { return Filter{Param: field, Field: field, Mode: FilterIn} }

// As renames the query parameter.
func (f Filter) As(param string) Filter { f.Param = param; return f }

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Descriptor is the static metadata that drives list, search and write
// handling for one entity. Build descriptors with MustDescriptor and treat
// them as read-only afterwards.
type Descriptor struct {
	Name  string
	Table string

	Fields    []Field
	Relations []Relation

	// Search lists free-text fields, either own ("mrn") or one relation deep
	// ("patient.lastName").
	Search  []string
	Filters []Filter

	// DateField is the field targeted by startDate/endDate, if any.
	DateField string

	Sortable     []string
	DefaultSort  string
	DefaultOrder Order

	// Unique fields must not collide with another row.
	Unique []string

	byName    map[string]int
	relByName map[string]int
	relByFld  map[string]int
	byParam   map[string]int
	sortable  map[string]bool
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// MustDescriptor completes d with the system fields, derives columns and
// indexes, and panics if the descriptor is inconsistent. Descriptors are
// package-level configuration so a bad one is a programming error.
func MustDescriptor(d Descriptor) *Descriptor {
	out, err := NewDescriptor(d)
	if err != nil {
		panic(err)
	}
	return out
}

// NewDescriptor is MustDescriptor returning the validation error.
func NewDescriptor(d Descriptor) (*Descriptor, error) {
	fields := []Field{
		{Name: FieldID, Column: "id", Kind: KindUUID, ReadOnly: true},
	}
	for _, f := range d.Fields {
		if f.Column == "" {
			f.Column = SnakeCase(f.Name)
		}
		fields = append(fields, f)
	}
	fields = append(fields,
		Field{Name: FieldCreatedAt, Column: "created_at", Kind: KindTime, ReadOnly: true},
		Field{Name: FieldUpdatedAt, Column: "updated_at", Kind: KindTime, ReadOnly: true},
	)
	d.Fields = fields
	if d.DefaultSort == "" {
		d.DefaultSort = FieldCreatedAt
	}
	if d.DefaultOrder == "" {
		d.DefaultOrder = Desc
	}
	if len(d.Sortable) == 0 {
		d.Sortable = []string{FieldCreatedAt}
	}
	out := d
	if err := out.index(); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", d.Name, err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", d.Name, err)
	}
	return &out, nil
}

func (d *Descriptor) index() error {
	d.byName = make(map[string]int, len(d.Fields))
	for i, f := range d.Fields {
		if _, dup := d.byName[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		d.byName[f.Name] = i
	}
	d.relByName = make(map[string]int, len(d.Relations))
	d.relByFld = make(map[string]int, len(d.Relations))
	for i, r := range d.Relations {
		d.relByName[r.Name] = i
		d.relByFld[r.Field] = i
	}
	d.byParam = make(map[string]int, len(d.Filters))
	for i, f := range d.Filters {
		if f.Param == "" {
			f.Param = f.Field
			d.Filters[i] = f
		}
		d.byParam[f.Param] = i
	}
	d.sortable = make(map[string]bool, len(d.Sortable))
	for _, s := range d.Sortable {
		d.sortable[s] = true
	}
	return nil
}

// Validate checks internal consistency of the descriptor.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !identRe.MatchString(d.Table) {
		return fmt.Errorf("invalid table name %q", d.Table)
	}
	for _, f := range d.Fields {
		if !identRe.MatchString(f.Column) {
			return fmt.Errorf("field %s: invalid column %q", f.Name, f.Column)
		}
		if f.Kind == KindEnum && len(f.Values) == 0 {
			return fmt.Errorf("enum field %s has no values", f.Name)
		}
	}
	for _, r := range d.Relations {
		f, ok := d.Field(r.Field)
		if !ok {
			return fmt.Errorf("relation %s: unknown field %q", r.Name, r.Field)
		}
		if f.Kind != KindUUID {
			return fmt.Errorf("relation %s: field %s must be a uuid", r.Name, r.Field)
		}
		if r.Target == nil {
			return fmt.Errorf("relation %s: missing target", r.Name)
		}
	}
	for _, path := range d.Search {
		f, err := d.ResolvePath(path)
		if err != nil {
			return fmt.Errorf("search field: %w", err)
		}
		if f.Kind != KindString && f.Kind != KindEnum {
			return fmt.Errorf("search field %s is not text", path)
		}
	}
	for _, flt := range d.Filters {
		f, ok := d.Field(flt.Field)
		if !ok {
			return fmt.Errorf("filter %s: unknown field %q", flt.Param, flt.Field)
		}
		if flt.Mode == FilterIn && f.Kind != KindEnum && f.Kind != KindUUID && f.Kind != KindString {
			return fmt.Errorf("filter %s: set filters need text, enum or uuid fields", flt.Param)
		}
		if isReservedParam(flt.Param) {
			return fmt.Errorf("filter %s: parameter name is reserved", flt.Param)
		}
	}
	if d.DateField != "" {
		f, ok := d.Field(d.DateField)
		if !ok || f.Kind != KindTime {
			return fmt.Errorf("date field %q must be a datetime field", d.DateField)
		}
	}
	for _, s := range d.Sortable {
		if _, ok := d.Field(s); !ok {
			return fmt.Errorf("sort field %q is unknown", s)
		}
	}
	if !d.sortable[d.DefaultSort] {
		return fmt.Errorf("default sort %q is not in the sortable set", d.DefaultSort)
	}
	if d.DefaultOrder != Asc && d.DefaultOrder != Desc {
		return fmt.Errorf("default order %q must be asc or desc", d.DefaultOrder)
	}
	for _, u := range d.Unique {
		if _, ok := d.Field(u); !ok {
			return fmt.Errorf("unique field %q is unknown", u)
		}
	}
	return nil
}

// Field looks up a field by API name.
func (d *Descriptor) Field(name string) (Field, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Field{}, false
	}
	return d.Fields[i], true
}

// FieldByColumn looks up a field by storage column.
func (d *Descriptor) FieldByColumn(column string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return Field{}, false
}

// Relation looks up a relation by its path name.
func (d *Descriptor) Relation(name string) (Relation, bool) {
	i, ok := d.relByName[name]
	if !ok {
		return Relation{}, false
	}
	return d.Relations[i], true
}

// RelationFor returns the relation carried by the local field, if any.
func (d *Descriptor) RelationFor(field string) (Relation, bool) {
	i, ok := d.relByFld[field]
	if !ok {
		return Relation{}, false
	}
	return d.Relations[i], true
}

// Filter looks up a filter by query parameter.
func (d *Descriptor) Filter(param string) (Filter, bool) {
	i, ok := d.byParam[param]
	if !ok {
		return Filter{}, false
	}
	return d.Filters[i], true
}

// CanSortBy reports whether name is in the sort allowlist.
func (d *Descriptor) CanSortBy(name string) bool {
	return d.sortable[name]
}

// ResolvePath resolves "field" or "relation.field" to the target field.
func (d *Descriptor) ResolvePath(path string) (Field, error) {
	rel, name, nested := strings.Cut(path, ".")
	if !nested {
		f, ok := d.Field(path)
		if !ok {
			return Field{}, fmt.Errorf("unknown field %q", path)
		}
		return f, nil
	}
	r, ok := d.Relation(rel)
	if !ok {
		return Field{}, fmt.Errorf("unknown relation %q in %q", rel, path)
	}
	if strings.Contains(name, ".") {
		return Field{}, fmt.Errorf("%q nests deeper than one relation", path)
	}
	f, ok := r.Target.Field(name)
	if !ok {
		return Field{}, fmt.Errorf("unknown field %q on %s", name, r.Target.Name)
	}
	return f, nil
}

// Columns returns the storage columns in field order.
func (d *Descriptor) Columns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Column
	}
	return cols
}

// SnakeCase converts a camelCase API name to a snake_case column.
func SnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
