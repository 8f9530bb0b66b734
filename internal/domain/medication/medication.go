// Package medication declares the formulary, medication orders and the
// administration record.
package medication

import (
	"github.com/emaalouf/HIS-sub006/internal/domain/identity"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
)

const (
	OrderActive       = "ACTIVE"
	OrderOnHold       = "ON_HOLD"
	OrderCompleted    = "COMPLETED"
	OrderDiscontinued = "DISCONTINUED"
)

var Routes = []string{"ORAL", "IV", "IM", "SC", "TOPICAL", "INHALED", "OTHER"}

var (
	Medications = query.MustDescriptor(query.Descriptor{
		Name:  "medication",
		Table: "medications",
		Fields: []query.Field{
			query.Text("code").Require(),
			query.Text("name").Require(),
			query.Text("genericName"),
			query.Enum("form", "TABLET", "CAPSULE", "INJECTION", "SOLUTION", "SUSPENSION", "CREAM", "OTHER"),
			query.Text("strength"),
			query.Text("manufacturer"),
			query.Bool("isActive"),
		},
		Search:       []string{"code", "name", "genericName"},
		Filters:      []query.Filter{query.Eq("form"), query.Eq("isActive")},
		Sortable:     []string{"name", "code", "createdAt"},
		DefaultSort:  "name",
		DefaultOrder: query.Asc,
		Unique:       []string{"code"},
	})

	Orders = query.MustDescriptor(query.Descriptor{
		Name:  "medication order",
		Table: "medication_orders",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("medicationId").Require(),
			query.ID("prescriberId").Require(),
			query.Text("dose").Require(),
			query.Enum("route", Routes...).Require(),
			query.Text("frequency").Require(),
			query.Time("startDate").Require(),
			query.Time("endDate"),
			query.Enum("status", OrderActive, OrderOnHold, OrderCompleted, OrderDiscontinued),
			query.Text("instructions"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "medication", Field: "medicationId", Target: Medications},
			{Name: "prescriber", Field: "prescriberId", Target: identity.Users},
		},
		Search:      []string{"instructions", "medication.name", "patient.lastName", "patient.mrn"},
		Filters:     []query.Filter{query.Eq("patientId"), query.Eq("medicationId"), query.Eq("prescriberId"), query.In("status")},
		DateField:   "startDate",
		Sortable:    []string{"startDate", "status", "createdAt"},
		DefaultSort: "startDate",
	})

	Administrations = query.MustDescriptor(query.Descriptor{
		Name:  "medication administration",
		Table: "medication_administrations",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("orderId").Require(),
			query.ID("administeredById").Require(),
			query.Time("administeredAt").Require(),
			query.Text("doseGiven"),
			query.Enum("status", "GIVEN", "HELD", "REFUSED", "MISSED").Require(),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "order", Field: "orderId", Target: Orders},
			{Name: "administeredBy", Field: "administeredById", Target: identity.Users},
		},
		Search:      []string{"notes", "patient.lastName", "patient.mrn"},
		Filters:     []query.Filter{query.Eq("patientId"), query.Eq("orderId"), query.Eq("administeredById"), query.In("status")},
		DateField:   "administeredAt",
		Sortable:    []string{"administeredAt", "createdAt"},
		DefaultSort: "administeredAt",
	})
)

var (
	formulary   = []auth.Role{auth.RoleAdmin, auth.RolePharmacist}
	prescribers = []auth.Role{auth.RoleAdmin, auth.RoleDoctor}
	bedside     = []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse}
	adminOnly   = []auth.Role{auth.RoleAdmin}
)

func Resources() []resource.Resource {
	return []resource.Resource{
		{
			Slug:       "medications",
			Descriptor: Medications,
			Policy:     resource.Policy{Create: formulary, Update: formulary, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Defaults(map[string]any{"isActive": true}),
			},
		},
		{
			Slug:       "medication-orders",
			Descriptor: Orders,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients, refcheck.Active("Patient is not active")),
				refcheck.Ref("medicationId", Medications, refcheck.Active("Medication is not active")),
				refcheck.Ref("prescriberId", identity.Users,
					refcheck.HasRole("Prescriber must be an active doctor", true, auth.RoleDoctor)),
			},
			// Pharmacists verify and hold orders but do not create them.
			Policy: resource.Policy{
				Create: prescribers,
				Update: []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RolePharmacist},
				Delete: adminOnly,
			},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Defaults(map[string]any{"status": OrderActive}),
			},
		},
		{
			Slug:       "medication-administrations",
			Descriptor: Administrations,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
				refcheck.Ref("orderId", Orders,
					refcheck.SameParent("patientId", "patientId"),
					refcheck.FieldIn("status", "Medication order is not active", OrderActive)),
				refcheck.Ref("administeredById", identity.Users,
					refcheck.HasRole("Administering user must be an active clinician", true, auth.Clinicians...)),
			},
			Policy: resource.Policy{Create: bedside, Update: bedside, Delete: adminOnly},
		},
	}
}
