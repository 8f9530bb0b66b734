package catalog

import (
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/openapi"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

func TestCatalog_Validates(t *testing.T) {
	require.NoError(t, New(nil).Validate())
}

func TestCatalog_DuplicateSlugRejected(t *testing.T) {
	c := New(nil)
	c.Resources = append(c.Resources, c.Resources[0])
	assert.ErrorContains(t, c.Validate(), "declared twice")
}

func TestCatalog_UnservedDependencyRejected(t *testing.T) {
	c := New(nil)
	for i, r := range c.Resources {
		if r.Slug == "users" {
			c.Resources = append(c.Resources[:i], c.Resources[i+1:]...)
			break
		}
	}
	assert.ErrorContains(t, c.Validate(), "unserved table")
}

func TestCatalog_Policies(t *testing.T) {
	table := New(nil).Policies()

	p, ok := table.Lookup(http.MethodGet, "/api/v1/lab-tests/:id/reference-range")
	require.True(t, ok)
	assert.Empty(t, p.Roles)

	p, ok = table.Lookup(http.MethodDelete, "/api/v1/patients/:id")
	require.True(t, ok)
	assert.Equal(t, []auth.Role{auth.RoleAdmin}, p.Roles)

	_, ok = table.Lookup(http.MethodPost, "/api/v1/auth/revoke")
	assert.True(t, ok)

	for _, p := range table {
		if auth.IsMutating(p.Method) {
			assert.NotEmpty(t, p.Roles, p.Key())
		}
	}
}

func TestCatalog_DescriptorsCoverEveryTable(t *testing.T) {
	ds := New(nil).Descriptors()
	tables := map[string]bool{}
	for _, d := range ds {
		tables[d.Table] = true
	}
	for _, want := range []string{"users", "patients", "appointments", "dialysis_sessions", "lab_results", "payments"} {
		assert.True(t, tables[want], want)
	}
	assert.Len(t, store.DDL(store.SQLite, ds...), len(ds)+countRelations(ds))
}

func countRelations(ds []*query.Descriptor) int {
	n := 0
	for _, d := range ds {
		n += len(d.Relations)
	}
	return n
}

func TestCatalog_RegisterRoutes(t *testing.T) {
	m := store.NewMemory()
	c := New(m)
	m.Register(c.Descriptors()...)
	services := c.Services(m, nil)
	require.Len(t, services, len(c.Resources))

	e := echo.New()
	api := e.Group(resource.APIPrefix)
	c.RegisterRoutes(api, services)
	c.OpenAPI("test", "http://localhost").RegisterRoutes(api)
	registered := map[string]bool{}
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, p := range c.Policies() {
		if p.Path == "/api/v1/auth/revoke" || p.Path == "/api/v1/auth/revoke-user" || p.Path == "/api/v1/auth/revocations" {
			continue
		}
		assert.True(t, registered[p.Key()], p.Key())
	}
}

func TestCatalog_OpenAPIDocumentsEveryRoute(t *testing.T) {
	c := New(nil)
	spec := c.OpenAPI("1.0.0", "http://localhost:8000").GenerateSpec()
	paths := spec["paths"].(map[string]interface{})
	for _, p := range c.Policies() {
		if p.Path == openapi.Policy.Path || strings.HasPrefix(p.Path, "/api/v1/auth/") {
			continue
		}
		path := strings.ReplaceAll(p.Path, ":id", "{id}")
		item, ok := paths[path].(map[string]interface{})
		if assert.True(t, ok, path) {
			assert.Contains(t, item, strings.ToLower(p.Method), p.Key())
		}
	}
}
