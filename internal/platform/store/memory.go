package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

// Memory is an in-process Store. It evaluates predicates directly and
// enforces the unique and foreign-key constraints a relational backend
// would, which makes it suitable for tests and demos.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string]Record
	// descriptors seen so far, by table, for foreign-key checks on delete.
	known map[string]*query.Descriptor
	now   func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string]map[string]Record),
		known:  make(map[string]*query.Descriptor),
		now:    time.Now,
	}
}

// SetClock replaces the timestamp source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Register makes the store aware of descriptors before any write, so that
// deletes can detect rows still referenced by them.
func (m *Memory) Register(descriptors ...*query.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range descriptors {
		m.known[d.Table] = d
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) table(d *query.Descriptor) map[string]Record {
	m.known[d.Table] = d
	t, ok := m.tables[d.Table]
	if !ok {
		t = make(map[string]Record)
		m.tables[d.Table] = t
	}
	return t
}

func (m *Memory) FindByID(_ context.Context, d *query.Descriptor, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tables[d.Table][strings.ToLower(id)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) FindMany(_ context.Context, d *query.Descriptor, spec query.Spec) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, err := m.filter(d, spec.Predicate)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j], spec.Order) })

	start := min(max(spec.Window.Skip, 0), len(rows))
	end := len(rows)
	if spec.Window.Take > 0 && spec.Window.Take < end-start {
		end = start + spec.Window.Take
	}
	out := make([]Record, 0, end-start)
	for _, r := range rows[start:end] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context, d *query.Descriptor, pred query.Predicate) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, err := m.filter(d, pred)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (m *Memory) Create(_ context.Context, d *query.Descriptor, data Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, err := canonical(d, newRow(d, data, m.now().UTC()))
	if err != nil {
		return nil, err
	}
	id := strings.ToLower(row.ID())
	row[query.FieldID] = id
	t := m.table(d)
	if _, dup := t[id]; dup {
		return nil, &ConstraintError{Kind: ConstraintUnique, Table: d.Table, Column: "id"}
	}
	for _, f := range d.Fields {
		if _, ok := row[f.Name]; !ok {
			row[f.Name] = nil
		}
	}
	if err := m.checkConstraints(d, id, row); err != nil {
		return nil, err
	}
	t[id] = row
	return row.Clone(), nil
}

func (m *Memory) Update(_ context.Context, d *query.Descriptor, id string, data Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id = strings.ToLower(id)
	t := m.table(d)
	cur, ok := t[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch, err := canonical(d, patchRow(d, data, m.now().UTC()))
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	for k, v := range patch {
		next[k] = v
	}
	if err := m.checkConstraints(d, id, next); err != nil {
		return nil, err
	}
	t[id] = next
	return next.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, d *query.Descriptor, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id = strings.ToLower(id)
	t := m.table(d)
	if _, ok := t[id]; !ok {
		return ErrNotFound
	}
	for _, other := range m.known {
		for _, r := range other.Relations {
			if r.Target.Table != d.Table {
				continue
			}
			for _, row := range m.tables[other.Table] {
				if ref, _ := row[r.Field].(string); ref == id {
					f, _ := other.Field(r.Field)
					return &ConstraintError{Kind: ConstraintForeignKey, Table: other.Table, Column: f.Column}
				}
			}
		}
	}
	delete(t, id)
	return nil
}

func (m *Memory) checkConstraints(d *query.Descriptor, id string, row Record) error {
	for _, f := range d.Fields {
		if f.Required && row[f.Name] == nil {
			return fmt.Errorf("%s: %s must not be null", d.Table, f.Column)
		}
	}
	for _, u := range d.Unique {
		v := row[u]
		if v == nil {
			continue
		}
		for otherID, other := range m.tables[d.Table] {
			if otherID != id && compare(other[u], v) == 0 {
				f, _ := d.Field(u)
				return &ConstraintError{Kind: ConstraintUnique, Table: d.Table, Column: f.Column}
			}
		}
	}
	for _, r := range d.Relations {
		ref, _ := row[r.Field].(string)
		if ref == "" {
			continue
		}
		if _, ok := m.tables[r.Target.Table][ref]; !ok {
			f, _ := d.Field(r.Field)
			return &ConstraintError{Kind: ConstraintForeignKey, Table: d.Table, Column: f.Column}
		}
	}
	return nil
}

// canonical normalizes every value to the type the SQL backends return.
func canonical(d *query.Descriptor, row Record) (Record, error) {
	out := make(Record, len(row))
	for name, v := range row {
		f, ok := d.Field(name)
		if !ok {
			continue
		}
		n, err := normalize(f, v)
		if err != nil {
			return nil, err
		}
		if s, ok := n.(string); ok && f.Kind == query.KindUUID {
			n = strings.ToLower(s)
		}
		out[name] = n
	}
	return out, nil
}

func (m *Memory) filter(d *query.Descriptor, pred query.Predicate) ([]Record, error) {
	var out []Record
	for _, row := range m.tables[d.Table] {
		ok, err := m.eval(d, row, pred)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *Memory) eval(d *query.Descriptor, row Record, p query.Predicate) (bool, error) {
	switch p := p.(type) {
	case nil:
		return true, nil
	case query.All:
		for _, c := range p {
			ok, err := m.eval(d, row, c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case query.Any:
		for _, c := range p {
			ok, err := m.eval(d, row, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case query.Equals:
		v := row[p.Field.Name]
		return v != nil && compare(v, p.Value) == 0, nil
	case query.OneOf:
		v := row[p.Field.Name]
		if v == nil {
			return false, nil
		}
		for _, want := range p.Values {
			if compare(v, want) == 0 {
				return true, nil
			}
		}
		return false, nil
	case query.Contains:
		return containsFold(row[p.Field.Name], p.Value), nil
	case query.RelatedContains:
		ref, _ := row[p.Relation.Field].(string)
		target, ok := m.tables[p.Relation.Target.Table][ref]
		if !ok {
			return false, nil
		}
		return containsFold(target[p.Field.Name], p.Value), nil
	case query.AtLeast:
		v := row[p.Field.Name]
		return v != nil && compare(v, p.Value) >= 0, nil
	case query.AtMost:
		v := row[p.Field.Name]
		return v != nil && compare(v, p.Value) <= 0, nil
	}
	return false, fmt.Errorf("unsupported predicate %T", p)
}

func containsFold(v any, term string) bool {
	s, ok := v.(string)
	return ok && strings.Contains(strings.ToLower(s), strings.ToLower(term))
}

// less orders rows by terms, with nulls last in either direction.
func less(a, b Record, terms []query.OrderTerm) bool {
	for _, t := range terms {
		av, bv := a[t.Field.Name], b[t.Field.Name]
		switch {
		case av == nil && bv == nil:
			continue
		case av == nil:
			return false
		case bv == nil:
			return true
		}
		c := compare(av, bv)
		if c == 0 {
			continue
		}
		if t.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

// compare orders two canonical values of the same kind.
func compare(a, b any) int {
	switch x := a.(type) {
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	case bool:
		y, _ := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y)
		case float64:
			return cmpOrdered(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y)
		case int64:
			return cmpOrdered(x, float64(y))
		}
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	}
	return -1
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
