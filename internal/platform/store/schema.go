package store

import (
	"fmt"
	"strings"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

// DDL returns CREATE TABLE / CREATE INDEX statements for the descriptors,
// ordered so that every referenced table is created before its dependents.
// Statements are idempotent.
func DDL(dialect Dialect, descriptors ...*query.Descriptor) []string {
	var stmts []string
	for _, d := range topoSort(descriptors) {
		stmts = append(stmts, createTable(dialect, d))
		for _, r := range d.Relations {
			f, _ := d.Field(r.Field)
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", d.Table, f.Column, d.Table, f.Column))
		}
	}
	return stmts
}

func createTable(dialect Dialect, d *query.Descriptor) string {
	unique := make(map[string]bool, len(d.Unique))
	for _, u := range d.Unique {
		unique[u] = true
	}
	var cols []string
	for _, f := range d.Fields {
		def := f.Column + " " + dialect.columnType(f)
		switch {
		case f.Name == query.FieldID:
			def += " PRIMARY KEY"
		case f.Required || f.Name == query.FieldCreatedAt || f.Name == query.FieldUpdatedAt:
			def += " NOT NULL"
		}
		if unique[f.Name] {
			def += " UNIQUE"
		}
		if r, ok := d.RelationFor(f.Name); ok {
			def += fmt.Sprintf(" REFERENCES %s (id)", r.Target.Table)
		}
		cols = append(cols, "\t"+def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", d.Table, strings.Join(cols, ",\n"))
}

// topoSort orders descriptors so relation targets come first. Targets that
// are not in the input are pulled in as well.
func topoSort(descriptors []*query.Descriptor) []*query.Descriptor {
	var out []*query.Descriptor
	seen := make(map[string]bool)
	var visit func(d *query.Descriptor)
	visit = func(d *query.Descriptor) {
		if seen[d.Table] {
			return
		}
		seen[d.Table] = true
		for _, r := range d.Relations {
			visit(r.Target)
		}
		out = append(out, d)
	}
	for _, d := range descriptors {
		visit(d)
	}
	return out
}
