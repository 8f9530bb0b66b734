// Package labs declares the laboratory catalog, orders and results, and
// resolves the reference range that applies to a patient.
package labs

import (
	"context"

	"github.com/emaalouf/HIS-sub006/internal/domain/identity"
	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

var (
	Tests = query.MustDescriptor(query.Descriptor{
		Name:  "lab test",
		Table: "lab_tests",
		Fields: []query.Field{
			query.Text("code").Require(),
			query.Text("name").Require(),
			query.Text("loincCode"),
			query.Text("category"),
			query.Text("unit"),
			query.Enum("specimenType", "BLOOD", "SERUM", "PLASMA", "URINE", "DIALYSATE", "OTHER"),
			query.Bool("isActive"),
		},
		Search:       []string{"code", "name", "loincCode", "category"},
		Filters:      []query.Filter{query.Eq("category"), query.Eq("specimenType"), query.Eq("isActive")},
		Sortable:     []string{"name", "code", "category", "createdAt"},
		DefaultSort:  "name",
		DefaultOrder: query.Asc,
		Unique:       []string{"code"},
	})

	Panels = query.MustDescriptor(query.Descriptor{
		Name:  "lab panel",
		Table: "lab_panels",
		Fields: []query.Field{
			query.Text("code").Require(),
			query.Text("name").Require(),
			query.Text("description"),
			query.Bool("isActive"),
		},
		Search:       []string{"code", "name", "description"},
		Filters:      []query.Filter{query.Eq("isActive")},
		Sortable:     []string{"name", "code", "createdAt"},
		DefaultSort:  "name",
		DefaultOrder: query.Asc,
		Unique:       []string{"code"},
	})

	ReferenceRanges = query.MustDescriptor(query.Descriptor{
		Name:  "reference range",
		Table: "reference_ranges",
		Fields: []query.Field{
			query.ID("testId").Require(),
			query.Enum("gender", identity.Genders...),
			query.Int("ageMin"),
			query.Int("ageMax"),
			query.Decimal("low"),
			query.Decimal("high"),
			query.Decimal("criticalLow"),
			query.Decimal("criticalHigh"),
			query.Text("unit"),
			query.Bool("isDefault"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "test", Field: "testId", Target: Tests},
		},
		Search:       []string{"notes", "test.name", "test.code"},
		Filters:      []query.Filter{query.Eq("testId"), query.Eq("gender"), query.Eq("isDefault")},
		Sortable:     []string{"ageMin", "createdAt"},
		DefaultSort:  "ageMin",
		DefaultOrder: query.Asc,
	})

	Orders = query.MustDescriptor(query.Descriptor{
		Name:  "lab order",
		Table: "lab_orders",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("orderedById").Require(),
			query.ID("testId"),
			query.ID("panelId"),
			query.Enum("priority", "ROUTINE", "URGENT", "STAT"),
			query.Enum("status", "ORDERED", "COLLECTED", "IN_PROGRESS", "COMPLETED", "CANCELLED"),
			query.Time("orderedAt").Require(),
			query.Time("collectedAt"),
			query.Text("clinicalNotes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "orderedBy", Field: "orderedById", Target: identity.Users},
			{Name: "test", Field: "testId", Target: Tests},
			{Name: "panel", Field: "panelId", Target: Panels},
		},
		Search: []string{"clinicalNotes", "patient.lastName", "patient.mrn", "test.name", "panel.name"},
		Filters: []query.Filter{
			query.Eq("patientId"), query.Eq("orderedById"), query.Eq("testId"), query.Eq("panelId"),
			query.In("status"), query.In("priority"),
		},
		DateField:   "orderedAt",
		Sortable:    []string{"orderedAt", "priority", "status", "createdAt"},
		DefaultSort: "orderedAt",
	})

	Results = query.MustDescriptor(query.Descriptor{
		Name:  "lab result",
		Table: "lab_results",
		Fields: []query.Field{
			query.ID("orderId").Require(),
			query.ID("patientId").Require(),
			query.ID("testId").Require(),
			query.ID("performedById"),
			query.ID("referenceRangeId"),
			query.Decimal("value").Require(),
			query.Text("unit"),
			query.Enum("flag", FlagNames()...),
			query.Time("resultedAt").Require(),
			query.Text("comment"),
		},
		Relations: []query.Relation{
			{Name: "order", Field: "orderId", Target: Orders},
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "test", Field: "testId", Target: Tests},
			{Name: "performedBy", Field: "performedById", Target: identity.Users},
			{Name: "referenceRange", Field: "referenceRangeId", Target: ReferenceRanges},
		},
		Search: []string{"comment", "patient.lastName", "patient.mrn", "test.name", "test.code"},
		Filters: []query.Filter{
			query.Eq("orderId"), query.Eq("patientId"), query.Eq("testId"), query.In("flag"),
		},
		DateField:   "resultedAt",
		Sortable:    []string{"resultedAt", "value", "createdAt"},
		DefaultSort: "resultedAt",
	})
)

var (
	catalog   = []auth.Role{auth.RoleAdmin, auth.RoleLabTechnician}
	ordering  = []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse}
	adminOnly = []auth.Role{auth.RoleAdmin}
)

// Resources returns the laboratory resources. Result flags are computed
// with resolver.
func Resources(resolver *Resolver) []resource.Resource {
	return []resource.Resource{
		{
			Slug:       "lab-tests",
			Descriptor: Tests,
			Policy:     resource.Policy{Create: catalog, Update: catalog, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Defaults(map[string]any{"isActive": true}),
			},
		},
		{
			Slug:       "lab-panels",
			Descriptor: Panels,
			Policy:     resource.Policy{Create: catalog, Update: catalog, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Defaults(map[string]any{"isActive": true}),
			},
		},
		{
			Slug:       "reference-ranges",
			Descriptor: ReferenceRanges,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("testId", Tests),
			},
			Policy: resource.Policy{Create: catalog, Update: catalog, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Chain(
					resource.Defaults(map[string]any{"isDefault": false}),
					checkRange,
				),
				BeforeUpdate: func(ctx context.Context, patch, current store.Record) error {
					return checkRange(ctx, current.Merge(patch))
				},
			},
		},
		{
			Slug:       "lab-orders",
			Descriptor: Orders,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients, refcheck.Active("Patient is not active")),
				refcheck.Ref("orderedById", identity.Users,
					refcheck.HasRole("Ordering provider must be an active clinician", true, auth.Clinicians...)),
				refcheck.Ref("testId", Tests, refcheck.Active("Lab test is not active")),
				refcheck.Ref("panelId", Panels, refcheck.Active("Lab panel is not active")),
			},
			Policy: resource.Policy{
				Create: ordering,
				Update: []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse, auth.RoleLabTechnician},
				Delete: adminOnly,
			},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Chain(
					resource.Defaults(map[string]any{"status": "ORDERED", "priority": "ROUTINE"}),
					testOrPanel,
				),
				BeforeUpdate: func(ctx context.Context, patch, current store.Record) error {
					return testOrPanel(ctx, current.Merge(patch))
				},
			},
		},
		{
			Slug:       "lab-results",
			Descriptor: Results,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
				refcheck.Ref("orderId", Orders,
					refcheck.SameParent("patientId", "patientId"),
					refcheck.FieldIn("status", "Lab order is not open for results", "ORDERED", "COLLECTED", "IN_PROGRESS")),
				refcheck.Ref("testId", Tests),
				refcheck.Ref("performedById", identity.Users,
					refcheck.HasRole("Performer must be an active lab technician", true, auth.RoleLabTechnician)),
			},
			Policy: resource.Policy{Create: catalog, Update: catalog, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resolver.flagResult,
				BeforeUpdate: resolver.reflagResult,
			},
		},
	}
}

func testOrPanel(_ context.Context, rec store.Record) error {
	if rec["testId"] == nil && rec["panelId"] == nil {
		return apperr.Validation(apperr.CodeInvalidPayload, "testId", "testId or panelId is required")
	}
	return nil
}

// checkRange rejects bounds that are inverted or negative.
func checkRange(_ context.Context, rec store.Record) error {
	lo, hasLo := rec["ageMin"].(int64)
	hi, hasHi := rec["ageMax"].(int64)
	switch {
	case hasLo && lo < 0:
		return apperr.Validation(apperr.CodeInvalidPayload, "ageMin", "must not be negative")
	case hasLo && hasHi && hi < lo:
		return apperr.Validation(apperr.CodeInvalidPayload, "ageMax", "must not be less than ageMin")
	}
	pairs := [][2]string{{"low", "high"}, {"criticalLow", "low"}, {"high", "criticalHigh"}}
	for _, p := range pairs {
		a, okA := rec[p[0]].(float64)
		b, okB := rec[p[1]].(float64)
		if okA && okB && b < a {
			return apperr.Validation(apperr.CodeInvalidPayload, p[1], "must not be less than "+p[0])
		}
	}
	return nil
}
