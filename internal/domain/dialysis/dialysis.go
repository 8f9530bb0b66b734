// Package dialysis declares prescriptions, sessions, vascular accesses and
// the machine inventory of the dialysis unit.
package dialysis

import (
	"context"
	"time"

	"github.com/emaalouf/HIS-sub006/internal/domain/identity"
	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

const (
	MachineAvailable    = "AVAILABLE"
	MachineInUse        = "IN_USE"
	MachineMaintenance  = "MAINTENANCE"
	MachineOutOfService = "OUT_OF_SERVICE"
)

const (
	SessionScheduled  = "SCHEDULED"
	SessionInProgress = "IN_PROGRESS"
	SessionCompleted  = "COMPLETED"
	SessionCancelled  = "CANCELLED"
)

var (
	Machines = query.MustDescriptor(query.Descriptor{
		Name:  "dialysis machine",
		Table: "dialysis_machines",
		Fields: []query.Field{
			query.Text("serialNumber").Require(),
			query.Text("model").Require(),
			query.Text("manufacturer"),
			query.Text("location"),
			query.Enum("status", MachineAvailable, MachineInUse, MachineMaintenance, MachineOutOfService),
			query.Time("lastMaintenanceAt"),
			query.Time("nextMaintenanceAt"),
		},
		Search:       []string{"serialNumber", "model", "manufacturer", "location"},
		Filters:      []query.Filter{query.In("status"), query.Eq("location")},
		DateField:    "nextMaintenanceAt",
		Sortable:     []string{"serialNumber", "nextMaintenanceAt", "createdAt"},
		DefaultSort:  "serialNumber",
		DefaultOrder: query.Asc,
		Unique:       []string{"serialNumber"},
	})

	VascularAccesses = query.MustDescriptor(query.Descriptor{
		Name:  "vascular access",
		Table: "vascular_accesses",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.Enum("type", "AV_FISTULA", "AV_GRAFT", "CENTRAL_VENOUS_CATHETER").Require(),
			query.Text("site").Require(),
			query.Time("placedAt"),
			query.Enum("status", "MATURING", "ACTIVE", "FAILED", "ABANDONED"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
		},
		Search:    []string{"site", "notes", "patient.lastName", "patient.mrn"},
		Filters:   []query.Filter{query.Eq("patientId"), query.Eq("type"), query.In("status")},
		DateField: "placedAt",
		Sortable:  []string{"placedAt", "createdAt"},
	})

	Prescriptions = query.MustDescriptor(query.Descriptor{
		Name:  "dialysis prescription",
		Table: "dialysis_prescriptions",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("prescriberId").Require(),
			query.Enum("modality", "HEMODIALYSIS", "HEMODIAFILTRATION", "PERITONEAL").Require(),
			query.Int("sessionsPerWeek").Require(),
			query.Int("durationMinutes").Require(),
			query.Int("bloodFlowRate"),
			query.Int("dialysateFlowRate"),
			query.Text("dialyzer"),
			query.Decimal("dryWeightKg"),
			query.Text("anticoagulation"),
			query.Time("startDate").Require(),
			query.Time("endDate"),
			query.Bool("isActive"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "prescriber", Field: "prescriberId", Target: identity.Users},
		},
		Search:      []string{"dialyzer", "notes", "patient.lastName", "patient.mrn"},
		Filters:     []query.Filter{query.Eq("patientId"), query.Eq("prescriberId"), query.Eq("modality"), query.Eq("isActive")},
		DateField:   "startDate",
		Sortable:    []string{"startDate", "createdAt"},
		DefaultSort: "startDate",
	})

	Sessions = query.MustDescriptor(query.Descriptor{
		Name:  "dialysis session",
		Table: "dialysis_sessions",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("prescriptionId").Require(),
			query.ID("machineId"),
			query.ID("vascularAccessId"),
			query.ID("nurseId"),
			query.Time("sessionDate").Require(),
			query.Time("startedAt"),
			query.Time("endedAt"),
			query.Enum("status", SessionScheduled, SessionInProgress, SessionCompleted, SessionCancelled),
			query.Decimal("preWeightKg"),
			query.Decimal("postWeightKg"),
			query.Int("ultrafiltrationMl"),
			query.Int("preSystolicBp"),
			query.Int("postSystolicBp"),
			query.Text("complications"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "prescription", Field: "prescriptionId", Target: Prescriptions},
			{Name: "machine", Field: "machineId", Target: Machines},
			{Name: "vascularAccess", Field: "vascularAccessId", Target: VascularAccesses},
			{Name: "nurse", Field: "nurseId", Target: identity.Users},
		},
		Search: []string{"complications", "notes", "patient.lastName", "patient.mrn", "machine.serialNumber"},
		Filters: []query.Filter{
			query.Eq("patientId"), query.Eq("prescriptionId"), query.Eq("machineId"),
			query.Eq("nurseId"), query.In("status"),
		},
		DateField:   "sessionDate",
		Sortable:    []string{"sessionDate", "status", "createdAt"},
		DefaultSort: "sessionDate",
	})
)

var (
	unitStaff = []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse}
	doctors   = []auth.Role{auth.RoleAdmin, auth.RoleDoctor}
	equipment = []auth.Role{auth.RoleAdmin, auth.RoleNurse}
	adminOnly = []auth.Role{auth.RoleAdmin}
)

func Resources() []resource.Resource {
	return []resource.Resource{
		{
			Slug:       "dialysis-machines",
			Descriptor: Machines,
			Policy:     resource.Policy{Create: equipment, Update: equipment, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Defaults(map[string]any{"status": MachineAvailable}),
			},
		},
		{
			Slug:       "vascular-accesses",
			Descriptor: VascularAccesses,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
			},
			Policy: resource.Policy{Create: unitStaff, Update: unitStaff, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Defaults(map[string]any{"status": "MATURING"}),
			},
		},
		{
			Slug:       "dialysis-prescriptions",
			Descriptor: Prescriptions,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients, refcheck.Active("Patient is not active")),
				refcheck.Ref("prescriberId", identity.Users,
					refcheck.HasRole("Prescriber must be an active doctor", true, auth.RoleDoctor)),
			},
			Policy: resource.Policy{Create: doctors, Update: doctors, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Chain(
					resource.Defaults(map[string]any{"isActive": true}),
					checkPrescription,
				),
				BeforeUpdate: func(ctx context.Context, patch, current store.Record) error {
					return checkPrescription(ctx, current.Merge(patch))
				},
			},
		},
		{
			Slug:       "dialysis-sessions",
			Descriptor: Sessions,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
				refcheck.Ref("prescriptionId", Prescriptions,
					refcheck.SameParent("patientId", "patientId"),
					refcheck.Active("Prescription is not active")),
				refcheck.Ref("vascularAccessId", VascularAccesses,
					refcheck.SameParent("patientId", "patientId"),
					refcheck.FieldIn("status", "Vascular access is not usable", "ACTIVE", "MATURING")),
				refcheck.Ref("machineId", Machines,
					refcheck.FieldIn("status", "Machine is not available", MachineAvailable, MachineInUse)),
				refcheck.Ref("nurseId", identity.Users,
					refcheck.HasRole("Nurse must be an active clinician", true, auth.Clinicians...)),
			},
			Policy: resource.Policy{Create: unitStaff, Update: unitStaff, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Chain(
					resource.Defaults(map[string]any{"status": SessionScheduled}),
					checkSession,
				),
				BeforeUpdate: func(ctx context.Context, patch, current store.Record) error {
					return checkSession(ctx, current.Merge(patch))
				},
			},
		},
	}
}

func checkPrescription(_ context.Context, rec store.Record) error {
	if n, ok := rec["sessionsPerWeek"].(int64); ok && (n < 1 || n > 7) {
		return apperr.Validation(apperr.CodeInvalidPayload, "sessionsPerWeek", "must be between 1 and 7")
	}
	if n, ok := rec["durationMinutes"].(int64); ok && n <= 0 {
		return apperr.Validation(apperr.CodeInvalidPayload, "durationMinutes", "must be positive")
	}
	return checkOrder(rec, "startDate", "endDate")
}

func checkSession(_ context.Context, rec store.Record) error {
	if n, ok := rec["ultrafiltrationMl"].(int64); ok && n < 0 {
		return apperr.Validation(apperr.CodeInvalidPayload, "ultrafiltrationMl", "must not be negative")
	}
	return checkOrder(rec, "startedAt", "endedAt")
}

// checkOrder rejects an end time before its start when both are set.
func checkOrder(rec store.Record, start, end string) error {
	s, ok1 := rec[start].(time.Time)
	e, ok2 := rec[end].(time.Time)
	if ok1 && ok2 && e.Before(s) {
		return apperr.Validation(apperr.CodeInvalidPayload, end, "must not be before "+start)
	}
	return nil
}
