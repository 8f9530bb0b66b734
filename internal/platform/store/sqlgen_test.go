package store

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

const visitCols = "t.id, t.patient_id, t.status, t.duration_minutes, t.weight_kg, t.visit_date, t.created_at, t.updated_at"

func buildSpec(t *testing.T, d *query.Descriptor, v url.Values) query.Spec {
	t.Helper()
	spec, err := query.Build(d, query.ParseRequest(v))
	require.NoError(t, err)
	return spec
}

func TestDataSQL_Postgres(t *testing.T) {
	spec := buildSpec(t, testVisits, url.Values{"search": {"smith"}, "status": {"SCHEDULED,COMPLETED"}})

	sql, args, err := dataSQL(Postgres, testVisits, spec)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT "+visitCols+" FROM visits t WHERE (t.status IN ($1, $2) AND "+
			`EXISTS (SELECT 1 FROM patients r WHERE r.id = t.patient_id AND r.last_name ILIKE $3 ESCAPE '\'))`+
			" ORDER BY t.visit_date DESC NULLS LAST, t.id DESC NULLS LAST LIMIT $4 OFFSET $5",
		sql)
	assert.Equal(t, []any{"SCHEDULED", "COMPLETED", "%smith%", 10, 0}, args)
}

func TestCountSQL_SharesPredicate(t *testing.T) {
	spec := buildSpec(t, testVisits, url.Values{"search": {"smith"}, "status": {"SCHEDULED"}, "page": {"3"}})

	sql, args, err := countSQL(Postgres, testVisits, spec.Predicate)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT COUNT(*) FROM visits t WHERE (t.status IN ($1) AND "+
			`EXISTS (SELECT 1 FROM patients r WHERE r.id = t.patient_id AND r.last_name ILIKE $2 ESCAPE '\'))`,
		sql)
	assert.Equal(t, []any{"SCHEDULED", "%smith%"}, args)
}

func TestDataSQL_SQLite(t *testing.T) {
	spec := buildSpec(t, testVisits, url.Values{
		"startDate": {"2024-01-01"},
		"sortBy":    {"durationMinutes"},
		"sortOrder": {"asc"},
		"page":      {"2"},
		"limit":     {"5"},
	})

	sql, args, err := dataSQL(SQLite, testVisits, spec)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT "+visitCols+" FROM visits t WHERE t.visit_date >= ?"+
			" ORDER BY t.duration_minutes ASC NULLS LAST, t.id ASC NULLS LAST LIMIT ? OFFSET ?",
		sql)
	assert.Equal(t, []any{"2024-01-01T00:00:00.000000000Z", 5, 5}, args)
}

func TestWhere_Empty(t *testing.T) {
	spec := buildSpec(t, testPatients, url.Values{})
	sql, args, err := countSQL(Postgres, testPatients, spec.Predicate)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM patients t WHERE 1=1", sql)
	assert.Empty(t, args)
}

func TestWhere_OwnFieldSearch(t *testing.T) {
	spec := buildSpec(t, testPatients, url.Values{"search": {"50%_off"}, "isActive": {"true"}})
	sql, args, err := countSQL(SQLite, testPatients, spec.Predicate)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT COUNT(*) FROM patients t WHERE (t.is_active = ? AND (casefold(t.first_name) LIKE casefold(?) ESCAPE '\' OR casefold(t.last_name) LIKE casefold(?) ESCAPE '\' OR casefold(t.mrn) LIKE casefold(?) ESCAPE '\'))`,
		sql)
	assert.Equal(t, []any{int64(1), `%50\%\_off%`, `%50\%\_off%`, `%50\%\_off%`}, args)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%smith%", likePattern("smith"))
	assert.Equal(t, `%a\\b%`, likePattern(`a\b`))
}

func TestInsertSQL(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	row := newRow(testPatients, Record{"id": "p-1", "firstName": "Ana", "lastName": "Smith", "mrn": "M1"}, now)
	sql, args := insertSQL(Postgres, testPatients, row)
	assert.Equal(t,
		"INSERT INTO patients (id, first_name, last_name, mrn, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)"+
			" RETURNING id, first_name, last_name, mrn, gender, is_active, created_at, updated_at",
		sql)
	assert.Equal(t, []any{"p-1", "Ana", "Smith", "M1", now, now}, args)
}

func TestNewRow_IgnoresReadOnlyAndUnknown(t *testing.T) {
	now := time.Now().UTC()
	row := newRow(testPatients, Record{"firstName": "Ana", "createdAt": "1999-01-01", "passwordHash": "x"}, now)
	assert.NotEmpty(t, row.ID())
	assert.Equal(t, now, row["createdAt"])
	assert.NotContains(t, row, "passwordHash")
}

func TestUpdateSQL(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sql, args := updateSQL(SQLite, testPatients, "p-1", patchRow(testPatients, Record{"lastName": "Jones", "isActive": false}, now))
	assert.Equal(t,
		"UPDATE patients SET last_name = ?, is_active = ?, updated_at = ? WHERE id = ?"+
			" RETURNING id, first_name, last_name, mrn, gender, is_active, created_at, updated_at",
		sql)
	assert.Equal(t, []any{"Jones", int64(0), "2024-05-01T08:00:00.000000000Z", "p-1"}, args)
}

func TestDeleteSQL(t *testing.T) {
	sql, args := deleteSQL(Postgres, testPatients, "p-1")
	assert.Equal(t, "DELETE FROM patients WHERE id = $1", sql)
	assert.Equal(t, []any{"p-1"}, args)
}
