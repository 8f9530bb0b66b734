package refcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

var (
	users = query.MustDescriptor(query.Descriptor{
		Name:  "users",
		Table: "users",
		Fields: []query.Field{
			query.Text("email").Require(),
			query.Enum("role", auth.RoleNames()...).Require(),
			query.Bool("isActive"),
		},
	})
	patients = query.MustDescriptor(query.Descriptor{
		Name:   "patients",
		Table:  "patients",
		Fields: []query.Field{query.Text("lastName")},
	})
	prescriptions = query.MustDescriptor(query.Descriptor{
		Name:      "dialysis-prescriptions",
		Table:     "dialysis_prescriptions",
		Fields:    []query.Field{query.ID("patientId").Require(), query.Enum("status", "ACTIVE", "STOPPED")},
		Relations: []query.Relation{{Name: "patient", Field: "patientId", Target: patients}},
	})
	sessionDeps = []Dependency{
		Ref("patientId", patients),
		Ref("providerId", users, ActiveClinician()),
		Ref("prescriptionId", prescriptions,
			SameParent("patientId", "patientId"),
			FieldIn("status", "Prescription must be active", "ACTIVE")),
	}
)

const missingID = "00000000-0000-0000-0000-000000000000"

// countingStore records FindByID calls per table.
type countingStore struct {
	store.Store
	calls map[string]int
	fail  error
}

func (s *countingStore) FindByID(ctx context.Context, d *query.Descriptor, id string) (store.Record, error) {
	s.calls[d.Table]++
	if s.fail != nil {
		return nil, s.fail
	}
	return s.Store.FindByID(ctx, d, id)
}

type fixture struct {
	store        *countingStore
	patient      string
	otherPatient string
	doctor       string
	receptionist string
	retired      string
	prescription string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	create := func(d *query.Descriptor, r store.Record) string {
		rec, err := m.Create(ctx, d, r)
		require.NoError(t, err)
		return rec.ID()
	}
	f := fixture{store: &countingStore{Store: m, calls: map[string]int{}}}
	f.patient = create(patients, store.Record{"lastName": "Smith"})
	f.otherPatient = create(patients, store.Record{"lastName": "Jones"})
	f.doctor = create(users, store.Record{"email": "d@x", "role": "DOCTOR", "isActive": true})
	f.receptionist = create(users, store.Record{"email": "r@x", "role": "RECEPTIONIST", "isActive": true})
	f.retired = create(users, store.Record{"email": "n@x", "role": "NURSE", "isActive": false})
	f.prescription = create(prescriptions, store.Record{"patientId": f.patient, "status": "ACTIVE"})
	return f
}

func TestValidate_AllReferencesValid(t *testing.T) {
	f := newFixture(t)
	err := New(f.store).Validate(context.Background(), sessionDeps, store.Record{
		"patientId": f.patient, "providerId": f.doctor, "prescriptionId": f.prescription,
	})
	assert.NoError(t, err)
}

func TestValidate_ReceptionistProviderRejected(t *testing.T) {
	f := newFixture(t)
	err := New(f.store).Validate(context.Background(), sessionDeps, store.Record{
		"patientId": f.patient, "providerId": f.receptionist,
	})
	require.ErrorIs(t, err, apperr.ErrInvalidReference)
	ae := apperr.As(err)
	assert.Equal(t, "providerId", ae.Field)
	assert.Equal(t, "Provider must be an active clinician", ae.Message)
}

func TestValidate_InactiveClinicianRejected(t *testing.T) {
	f := newFixture(t)
	err := New(f.store).Validate(context.Background(), sessionDeps, store.Record{"providerId": f.retired})
	require.ErrorIs(t, err, apperr.ErrInvalidReference)
	assert.Equal(t, "providerId", apperr.As(err).Field)
}

func TestValidate_MissingReferenceShortCircuits(t *testing.T) {
	f := newFixture(t)
	err := New(f.store).Validate(context.Background(), sessionDeps, store.Record{
		"patientId": missingID, "providerId": f.receptionist, "prescriptionId": f.prescription,
	})
	require.ErrorIs(t, err, apperr.ErrMissingReference)
	assert.Equal(t, "patientId", apperr.As(err).Field)
	assert.Equal(t, 1, f.store.calls["patients"])
	assert.Zero(t, f.store.calls["users"], "later dependencies must not be consulted")
	assert.Zero(t, f.store.calls["dialysis_prescriptions"])
}

func TestValidate_AbsentAndNullFieldsSkipped(t *testing.T) {
	f := newFixture(t)
	err := New(f.store).Validate(context.Background(), sessionDeps, store.Record{"patientId": nil})
	assert.NoError(t, err)
	assert.Empty(t, f.store.calls)
}

func TestValidate_SameParent(t *testing.T) {
	f := newFixture(t)
	err := New(f.store).Validate(context.Background(), sessionDeps, store.Record{
		"patientId": f.otherPatient, "prescriptionId": f.prescription,
	})
	require.ErrorIs(t, err, apperr.ErrInvalidReference)
	assert.Equal(t, "prescriptionId", apperr.As(err).Field)
	assert.Equal(t, "must belong to the same patient", apperr.As(err).Message)
}

func TestValidateUpdate_OnlyPatchedFields(t *testing.T) {
	f := newFixture(t)
	current := store.Record{"patientId": f.otherPatient, "providerId": f.receptionist, "prescriptionId": f.prescription}

	// The stale providerId in current is not re-validated.
	err := New(f.store).ValidateUpdate(context.Background(), sessionDeps, store.Record{"patientId": f.patient}, current)
	assert.NoError(t, err)
	assert.Zero(t, f.store.calls["users"])

	// Constraints see the current row: the prescription belongs to f.patient.
	err = New(f.store).ValidateUpdate(context.Background(), sessionDeps, store.Record{"prescriptionId": f.prescription}, current)
	require.ErrorIs(t, err, apperr.ErrInvalidReference)
}

func TestValidate_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.store.fail = errors.New("connection reset")
	err := New(f.store).Validate(context.Background(), sessionDeps, store.Record{"patientId": f.patient})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestValidate_ObserveCalledOnRejection(t *testing.T) {
	f := newFixture(t)
	v := New(f.store)
	var seen []string
	v.Observe = func(dep Dependency, err *apperr.Error) { seen = append(seen, dep.Field+":"+err.Code) }

	_ = v.Validate(context.Background(), sessionDeps, store.Record{"providerId": missingID})
	assert.Equal(t, []string{"providerId:missing_reference"}, seen)
}
