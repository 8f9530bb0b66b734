package store

import (
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
)

var testPatients = query.MustDescriptor(query.Descriptor{
	Name:  "patient",
	Table: "patients",
	Fields: []query.Field{
		query.Text("firstName").Require(),
		query.Text("lastName").Require(),
		query.Text("mrn").Require(),
		query.Enum("gender", "MALE", "FEMALE", "OTHER"),
		query.Bool("isActive"),
	},
	Search:      []string{"firstName", "lastName", "mrn"},
	Filters:     []query.Filter{query.Eq("gender"), query.Eq("isActive")},
	Sortable:    []string{"lastName", "createdAt"},
	DefaultSort: "createdAt",
	Unique:      []string{"mrn"},
})

var testVisits = query.MustDescriptor(query.Descriptor{
	Name:  "visit",
	Table: "visits",
	Fields: []query.Field{
		query.ID("patientId").Require(),
		query.Enum("status", "SCHEDULED", "COMPLETED", "CANCELLED"),
		query.Int("durationMinutes"),
		query.Decimal("weightKg"),
		query.Time("visitDate").Require(),
	},
	Relations: []query.Relation{
		{Name: "patient", Field: "patientId", Target: testPatients},
	},
	Search:      []string{"patient.lastName"},
	Filters:     []query.Filter{query.Eq("patientId"), query.In("status")},
	DateField:   "visitDate",
	Sortable:    []string{"visitDate", "durationMinutes", "createdAt"},
	DefaultSort: "visitDate",
})
