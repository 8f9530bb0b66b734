// Package identity declares the patient and staff-user resources, and
// resolves token subjects to the stored staff identity.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

// Patient genders. Reference ranges use the same values.
const (
	GenderMale   = "MALE"
	GenderFemale = "FEMALE"
	GenderOther  = "OTHER"
)

var Genders = []string{GenderMale, GenderFemale, GenderOther}

var (
	Users = query.MustDescriptor(query.Descriptor{
		Name:  "user",
		Table: "users",
		Fields: []query.Field{
			query.Text("email").Require(),
			query.Text("firstName").Require(),
			query.Text("lastName").Require(),
			query.Enum("role", auth.RoleNames()...).Require(),
			query.Text("phone"),
			query.Text("department"),
			query.Bool("isActive"),
		},
		Search:       []string{"firstName", "lastName", "email"},
		Filters:      []query.Filter{query.In("role"), query.Eq("isActive"), query.Eq("department")},
		Sortable:     []string{"lastName", "email", "role", "createdAt"},
		DefaultSort:  "lastName",
		DefaultOrder: query.Asc,
		Unique:       []string{"email"},
	})

	Patients = query.MustDescriptor(query.Descriptor{
		Name:  "patient",
		Table: "patients",
		Fields: []query.Field{
			query.Text("mrn").Require(),
			query.Text("firstName").Require(),
			query.Text("lastName").Require(),
			query.Time("dateOfBirth").Require(),
			query.Enum("gender", Genders...).Require(),
			query.Text("phone"),
			query.Text("email"),
			query.Text("address"),
			query.Enum("bloodType", "A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"),
			query.Text("emergencyContactName"),
			query.Text("emergencyContactPhone"),
			query.Bool("isActive"),
		},
		Search:    []string{"firstName", "lastName", "mrn", "phone", "email"},
		Filters:   []query.Filter{query.Eq("gender"), query.Eq("isActive"), query.Eq("bloodType")},
		DateField: query.FieldCreatedAt,
		Sortable:  []string{"lastName", "firstName", "mrn", "dateOfBirth", "createdAt"},
		Unique:    []string{"mrn"},
	})
)

var (
	registrars = []auth.Role{auth.RoleAdmin, auth.RoleReceptionist, auth.RoleDoctor, auth.RoleNurse}
	adminOnly  = []auth.Role{auth.RoleAdmin}
)

func Resources() []resource.Resource {
	return []resource.Resource{
		{
			Slug:       "users",
			Descriptor: Users,
			Policy: resource.Policy{
				Create: adminOnly,
				Update: adminOnly,
				Delete: adminOnly,
			},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Defaults(map[string]any{"isActive": true}),
			},
		},
		{
			Slug:       "patients",
			Descriptor: Patients,
			Policy: resource.Policy{
				Create: registrars,
				Update: registrars,
				Delete: adminOnly,
			},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Defaults(map[string]any{"isActive": true}),
			},
		},
	}
}

// UserStore resolves staff identities from the users table.
type UserStore struct {
	store store.Store
}

func NewUserStore(s store.Store) *UserStore {
	return &UserStore{store: s}
}

// LookupUser returns the stored identity for id. Ids that are not UUIDs
// cannot name a user and report auth.ErrUnknownUser.
func (u *UserStore) LookupUser(ctx context.Context, id string) (auth.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return auth.Identity{}, auth.ErrUnknownUser
	}
	rec, err := u.store.FindByID(ctx, Users, id)
	if errors.Is(err, store.ErrNotFound) {
		return auth.Identity{}, auth.ErrUnknownUser
	}
	if err != nil {
		return auth.Identity{}, fmt.Errorf("lookup user %s: %w", id, err)
	}
	return auth.Identity{
		ID:     rec.ID(),
		Email:  rec.String("email"),
		Role:   auth.Role(rec.String("role")),
		Active: rec.Bool("isActive"),
	}, nil
}
