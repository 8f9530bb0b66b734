package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

func TestResources_Validate(t *testing.T) {
	for _, r := range Resources() {
		if err := r.Validate(); err != nil {
			t.Errorf("%s: %v", r.Slug, err)
		}
	}
}

func TestUserStore_LookupUser(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	users := resource.NewService(Resources()[0], m, nil)

	nurse, err := users.Create(ctx, map[string]any{
		"email": "n@example.org", "firstName": "Nia", "lastName": "Ward", "role": "NURSE",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	lookup := NewUserStore(m)

	id, err := lookup.LookupUser(ctx, nurse.ID())
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if id.Role != auth.RoleNurse || !id.Active || id.Email != "n@example.org" {
		t.Errorf("identity = %+v", id)
	}

	if _, err := lookup.LookupUser(ctx, "00000000-0000-0000-0000-000000000001"); !errors.Is(err, auth.ErrUnknownUser) {
		t.Errorf("missing user: got %v", err)
	}
	if _, err := lookup.LookupUser(ctx, "not-a-uuid"); !errors.Is(err, auth.ErrUnknownUser) {
		t.Errorf("malformed id: got %v", err)
	}
}

type brokenStore struct{ store.Store }

func (brokenStore) FindByID(context.Context, *query.Descriptor, string) (store.Record, error) {
	return nil, errors.New("connection reset")
}

func TestUserStore_LookupFailure(t *testing.T) {
	_, err := NewUserStore(brokenStore{}).LookupUser(context.Background(), "00000000-0000-0000-0000-000000000001")
	if err == nil || errors.Is(err, auth.ErrUnknownUser) {
		t.Fatalf("want wrapped store error, got %v", err)
	}
}

func TestPatients_GenderIsExhaustive(t *testing.T) {
	svc := resource.NewService(Resources()[1], store.NewMemory(), nil)
	_, err := svc.Create(context.Background(), map[string]any{
		"mrn": "M-1", "firstName": "A", "lastName": "B", "dateOfBirth": "1990-01-01", "gender": "UNKNOWN",
	})
	if err == nil {
		t.Fatal("unknown gender accepted")
	}
}
