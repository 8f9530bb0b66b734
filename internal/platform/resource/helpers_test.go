package resource

import (
	"context"
	"sync"
	"time"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

var (
	testUsers = query.MustDescriptor(query.Descriptor{
		Name:  "users",
		Table: "users",
		Fields: []query.Field{
			query.Text("email").Require(),
			query.Enum("role", auth.RoleNames()...).Require(),
			query.Bool("isActive"),
		},
		Unique: []string{"email"},
	})
	testPatients = query.MustDescriptor(query.Descriptor{
		Name:  "patients",
		Table: "patients",
		Fields: []query.Field{
			query.Text("firstName").Require(),
			query.Text("lastName").Require(),
			query.Text("mrn").Require(),
			query.Enum("gender", "MALE", "FEMALE", "OTHER"),
			query.Time("dateOfBirth"),
			query.Bool("isActive"),
		},
		Search:   []string{"firstName", "lastName", "mrn"},
		Filters:  []query.Filter{query.Eq("gender"), query.Eq("isActive")},
		Sortable: []string{"lastName", "createdAt"},
		Unique:   []string{"mrn"},
	})
	testVisits = query.MustDescriptor(query.Descriptor{
		Name:  "nephrology-visits",
		Table: "nephrology_visits",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("providerId").Require(),
			query.Time("visitDate").Require(),
			query.Int("egfr"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: testPatients},
			{Name: "provider", Field: "providerId", Target: testUsers},
		},
		Search:    []string{"notes", "patient.lastName"},
		Filters:   []query.Filter{query.Eq("patientId"), query.Eq("providerId")},
		DateField: "visitDate",
		Sortable:  []string{"visitDate", "createdAt"},
	})

	patientResource = Resource{
		Slug:       "patients",
		Descriptor: testPatients,
		Policy: Policy{
			Create: []auth.Role{auth.RoleAdmin, auth.RoleReceptionist},
			Update: []auth.Role{auth.RoleAdmin, auth.RoleReceptionist},
			Delete: []auth.Role{auth.RoleAdmin},
		},
	}
	visitResource = Resource{
		Slug:       "nephrology-visits",
		Descriptor: testVisits,
		Dependencies: []refcheck.Dependency{
			refcheck.Ref("patientId", testPatients),
			refcheck.Ref("providerId", testUsers, refcheck.ActiveClinician()),
		},
		Policy: Policy{
			Create: []auth.Role{auth.RoleAdmin, auth.RoleDoctor},
			Update: []auth.Role{auth.RoleAdmin, auth.RoleDoctor},
			Delete: []auth.Role{auth.RoleAdmin},
		},
	}
)

func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func newMemory() *store.Memory {
	m := store.NewMemory()
	m.SetClock(tickingClock())
	m.Register(testUsers, testPatients, testVisits)
	return m
}

func newServices(m *store.Memory) (patients, visits *Service) {
	refs := refcheck.New(m)
	return NewService(patientResource, m, refs), NewService(visitResource, m, refs)
}

// staticProvider maps bearer tokens to identities.
type staticProvider map[string]auth.Identity

func (p staticProvider) ResolveIdentity(_ context.Context, credential string) (auth.Identity, error) {
	id, ok := p[credential]
	if !ok {
		return auth.Identity{}, apperr.Unauthenticated("invalid token")
	}
	return id, nil
}
