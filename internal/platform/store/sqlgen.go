package store

import (
	"fmt"
	"strings"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

// mainAlias qualifies columns of the queried table so that relation
// subqueries can refer back to it.
const mainAlias = "t"

// sqlQuery accumulates a WHERE clause and its bind arguments. The same
// clause and arguments feed both the data and the count statement.
type sqlQuery struct {
	dialect Dialect
	d       *query.Descriptor
	args    []any
}

func newSQLQuery(dialect Dialect, d *query.Descriptor) *sqlQuery {
	return &sqlQuery{dialect: dialect, d: d}
}

// bind appends an argument and returns its placeholder.
func (q *sqlQuery) bind(f query.Field, v any) string {
	q.args = append(q.args, q.dialect.encode(f, v))
	return q.dialect.placeholder(len(q.args))
}

func (q *sqlQuery) col(f query.Field) string {
	return mainAlias + "." + f.Column
}

// where renders p. Leaf values come from the query package already parsed,
// and every identifier comes from a validated descriptor.
func (q *sqlQuery) where(p query.Predicate) (string, error) {
	switch p := p.(type) {
	case nil:
		return "1=1", nil
	case query.All:
		return q.join(p, " AND ", "1=1")
	case query.Any:
		return q.join(p, " OR ", "1=0")
	case query.Equals:
		return fmt.Sprintf("%s = %s", q.col(p.Field), q.bind(p.Field, p.Value)), nil
	case query.OneOf:
		if len(p.Values) == 0 {
			return "1=0", nil
		}
		phs := make([]string, len(p.Values))
		for i, v := range p.Values {
			phs[i] = q.bind(p.Field, v)
		}
		return fmt.Sprintf("%s IN (%s)", q.col(p.Field), strings.Join(phs, ", ")), nil
	case query.Contains:
		return q.dialect.contains(q.col(p.Field), q.bind(p.Field, likePattern(p.Value))), nil
	case query.RelatedContains:
		t := p.Relation.Target
		local, ok := q.d.Field(p.Relation.Field)
		if !ok {
			return "", fmt.Errorf("relation %s: unknown field %s", p.Relation.Name, p.Relation.Field)
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s r WHERE r.id = %s AND %s)",
			t.Table, q.col(local), q.dialect.contains("r."+p.Field.Column, q.bind(p.Field, likePattern(p.Value)))), nil
	case query.AtLeast:
		return fmt.Sprintf("%s >= %s", q.col(p.Field), q.bind(p.Field, p.Value)), nil
	case query.AtMost:
		return fmt.Sprintf("%s <= %s", q.col(p.Field), q.bind(p.Field, p.Value)), nil
	}
	return "", fmt.Errorf("unsupported predicate %T", p)
}

func (q *sqlQuery) join(ps []query.Predicate, sep, empty string) (string, error) {
	if len(ps) == 0 {
		return empty, nil
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		s, err := q.where(p)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// likePattern wraps s for substring matching, escaping LIKE metacharacters.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func selectList(d *query.Descriptor, alias string) string {
	cols := d.Columns()
	if alias != "" {
		for i, c := range cols {
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

func orderBy(terms []query.OrderTerm) string {
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		dir := "ASC"
		if t.Desc {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("%s.%s %s NULLS LAST", mainAlias, t.Field.Column, dir)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// dataSQL renders the paginated SELECT for spec.
func dataSQL(dialect Dialect, d *query.Descriptor, spec query.Spec) (string, []any, error) {
	q := newSQLQuery(dialect, d)
	where, err := q.where(spec.Predicate)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s%s", selectList(d, mainAlias), d.Table, mainAlias, where, orderBy(spec.Order))
	if spec.Window.Take > 0 {
		q.args = append(q.args, spec.Window.Take)
		sql += " LIMIT " + dialect.placeholder(len(q.args))
		q.args = append(q.args, spec.Window.Skip)
		sql += " OFFSET " + dialect.placeholder(len(q.args))
	}
	return sql, q.args, nil
}

// countSQL renders the COUNT over the same predicate without pagination.
func countSQL(dialect Dialect, d *query.Descriptor, pred query.Predicate) (string, []any, error) {
	q := newSQLQuery(dialect, d)
	where, err := q.where(pred)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s %s WHERE %s", d.Table, mainAlias, where), q.args, nil
}

func findSQL(dialect Dialect, d *query.Descriptor, id string) (string, []any) {
	idf, _ := d.Field(query.FieldID)
	return fmt.Sprintf("SELECT %s FROM %s %s WHERE %s.id = %s", selectList(d, mainAlias), d.Table, mainAlias, mainAlias, dialect.placeholder(1)),
		[]any{dialect.encode(idf, id)}
}

// insertSQL renders an INSERT ... RETURNING for a complete row.
func insertSQL(dialect Dialect, d *query.Descriptor, row Record) (string, []any) {
	var cols, phs []string
	var args []any
	for _, f := range d.Fields {
		v, ok := row[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, f.Column)
		args = append(args, dialect.encode(f, v))
		phs = append(phs, dialect.placeholder(len(args)))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		d.Table, strings.Join(cols, ", "), strings.Join(phs, ", "), selectList(d, "")), args
}

// updateSQL renders an UPDATE ... RETURNING that sets only the given fields.
func updateSQL(dialect Dialect, d *query.Descriptor, id string, data Record) (string, []any) {
	var sets []string
	var args []any
	for _, f := range d.Fields {
		if f.Name == query.FieldID || f.Name == query.FieldCreatedAt {
			continue
		}
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		args = append(args, dialect.encode(f, v))
		sets = append(sets, fmt.Sprintf("%s = %s", f.Column, dialect.placeholder(len(args))))
	}
	idf, _ := d.Field(query.FieldID)
	args = append(args, dialect.encode(idf, id))
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = %s RETURNING %s",
		d.Table, strings.Join(sets, ", "), dialect.placeholder(len(args)), selectList(d, "")), args
}

func deleteSQL(dialect Dialect, d *query.Descriptor, id string) (string, []any) {
	idf, _ := d.Field(query.FieldID)
	return fmt.Sprintf("DELETE FROM %s WHERE id = %s", d.Table, dialect.placeholder(1)), []any{dialect.encode(idf, id)}
}
