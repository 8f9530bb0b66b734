// Package scheduling declares the appointment resource.
package scheduling

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

const (
	StatusScheduled = "SCHEDULED"
	StatusConfirmed = "CONFIRMED"
	StatusCheckedIn = "CHECKED_IN"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusNoShow    = "NO_SHOW"
)

var Appointments = query.MustDescriptor(query.Descriptor{
	Name:  "appointment",
	Table: "appointments",
	Fields: []query.Field{
		query.ID("patientId").Require(),
		query.ID("providerId").Require(),
		query.Time("scheduledAt").Require(),
		query.Int("durationMinutes"),
		query.Enum("type", "CONSULTATION", "FOLLOW_UP", "DIALYSIS", "LAB", "PROCEDURE"),
		query.Enum("status", StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow),
		query.Text("reason"),
		query.Text("notes"),
	},
	Relations: []query.Relation{
		{Name: "patient", Field: "patientId", Target: identity.Patients},
		{Name: "provider", Field: "providerId", Target: identity.Users},
	},
	Search:       []string{"reason", "patient.firstName", "patient.lastName", "patient.mrn"},
	Filters:      []query.Filter{query.Eq("patientId"), query.Eq("providerId"), query.In("status"), query.Eq("type")},
	DateField:    "scheduledAt",
	Sortable:     []string{"scheduledAt", "status", "createdAt"},
	DefaultSort:  "scheduledAt",
	DefaultOrder: query.Asc,
})

var frontDesk = []auth.Role{auth.RoleAdmin, auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse}

func Resources() []resource.Resource {
	return []resource.Resource{{
		Slug:       "appointments",
		Descriptor: Appointments,
		Dependencies: []refcheck.Dependency{
			refcheck.Ref("patientId", identity.Patients, refcheck.Active("Patient is not active")),
			refcheck.Ref("providerId", identity.Users, refcheck.ActiveClinician()),
		},
		Policy: resource.Policy{
			Create: frontDesk,
			Update: frontDesk,
			Delete: []auth.Role{auth.RoleAdmin, auth.RoleReceptionist},
		},
		Hooks: resource.Hooks{
			BeforeCreate: resource.Chain(
				resource.Defaults(map[string]any{"status": StatusScheduled, "durationMinutes": int64(30)}),
				checkDuration,
			),
			BeforeUpdate: func(ctx context.Context, patch, _ store.Record) error {
				if _, ok := patch["durationMinutes"]; !ok {
					return nil
				}
				return checkDuration(ctx, patch)
			},
		},
	}}
}

func checkDuration(_ context.Context, rec store.Record) error {
	if n, ok := rec["durationMinutes"].(int64); ok && (n <= 0 || n > 24*60) {
		return apperr.Validation(apperr.CodeInvalidPayload, "durationMinutes", "must be between 1 and 1440")
	}
	return nil
}
