// Package nephrology declares clinic visits and chronic kidney disease
// assessments.
package nephrology

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

// CKD stages by KDIGO GFR category.
var Stages = []string{"G1", "G2", "G3A", "G3B", "G4", "G5"}

var (
	Visits = query.MustDescriptor(query.Descriptor{
		Name:  "nephrology visit",
		Table: "nephrology_visits",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("providerId").Require(),
			query.Time("visitDate").Require(),
			query.Text("chiefComplaint"),
			query.Decimal("egfr"),
			query.Decimal("serumCreatinine"),
			query.Int("systolicBp"),
			query.Int("diastolicBp"),
			query.Decimal("weightKg"),
			query.Enum("ckdStage", Stages...),
			query.Text("assessment"),
			query.Text("plan"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "provider", Field: "providerId", Target: identity.Users},
		},
		Search:      []string{"chiefComplaint", "assessment", "notes", "patient.lastName", "patient.mrn"},
		Filters:     []query.Filter{query.Eq("patientId"), query.Eq("providerId"), query.In("ckdStage")},
		DateField:   "visitDate",
		Sortable:    []string{"visitDate", "egfr", "createdAt"},
		DefaultSort: "visitDate",
	})

	Assessments = query.MustDescriptor(query.Descriptor{
		Name:  "ckd assessment",
		Table: "ckd_assessments",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("assessedById").Require(),
			query.ID("visitId"),
			query.Time("assessmentDate").Require(),
			query.Decimal("egfr").Require(),
			query.Enum("stage", Stages...),
			query.Enum("albuminuria", "A1", "A2", "A3"),
			query.Decimal("uacr"),
			query.Text("etiology"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "assessedBy", Field: "assessedById", Target: identity.Users},
			{Name: "visit", Field: "visitId", Target: Visits},
		},
		Search:      []string{"etiology", "notes", "patient.lastName", "patient.mrn"},
		Filters:     []query.Filter{query.Eq("patientId"), query.Eq("assessedById"), query.In("stage"), query.Eq("albuminuria")},
		DateField:   "assessmentDate",
		Sortable:    []string{"assessmentDate", "egfr", "createdAt"},
		DefaultSort: "assessmentDate",
	})
)

var (
	clinicians = []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse}
	doctors    = []auth.Role{auth.RoleAdmin, auth.RoleDoctor}
	adminOnly  = []auth.Role{auth.RoleAdmin}
)

func Resources() []resource.Resource {
	return []resource.Resource{
		{
			Slug:       "nephrology-visits",
			Descriptor: Visits,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
				refcheck.Ref("providerId", identity.Users, refcheck.ActiveClinician()),
			},
			Policy: resource.Policy{Create: clinicians, Update: clinicians, Delete: adminOnly},
		},
		{
			Slug:       "ckd-assessments",
			Descriptor: Assessments,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
				refcheck.Ref("assessedById", identity.Users,
					refcheck.HasRole("Assessor must be an active doctor", true, auth.RoleDoctor)),
				refcheck.Ref("visitId", Visits, refcheck.SameParent("patientId", "patientId")),
			},
			Policy: resource.Policy{Create: doctors, Update: doctors, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: stageFromEGFR,
				BeforeUpdate: func(ctx context.Context, patch, _ store.Record) error {
					if _, ok := patch["egfr"]; !ok {
						return nil
					}
					return stageFromEGFR(ctx, patch)
				},
			},
		},
	}
}

// StageForEGFR returns the GFR category for an eGFR in mL/min/1.73m².
func StageForEGFR(egfr float64) string {
	switch {
	case egfr >= 90:
		return "G1"
	case egfr >= 60:
		return "G2"
	case egfr >= 45:
		return "G3A"
	case egfr >= 30:
		return "G3B"
	case egfr >= 15:
		return "G4"
	default:
		return "G5"
	}
}

// stageFromEGFR fills the stage when the caller omitted it.
func stageFromEGFR(_ context.Context, rec store.Record) error {
	egfr, ok := rec["egfr"].(float64)
	if !ok {
		return nil
	}
	if egfr < 0 {
		return apperr.Validation(apperr.CodeInvalidPayload, "egfr", "must not be negative")
	}
	if rec["stage"] == nil {
		rec["stage"] = StageForEGFR(egfr)
	}
	return nil
}
