// Package catalog assembles every clinical resource served by the API.
package catalog

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/internal/domain/billing"
	"github.com/emaalouf/HIS-sub006/internal/domain/dialysis"
	"github.com/emaalouf/HIS-sub006/internal/domain/identity"
	"github.com/emaalouf/HIS-sub006/internal/domain/labs"
	"github.com/emaalouf/HIS-sub006/internal/domain/medication"
	"github.com/emaalouf/HIS-sub006/internal/domain/nephrology"
	"github.com/emaalouf/HIS-sub006/internal/domain/scheduling"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/openapi"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

// Catalog is the set of resources of one server instance.
type Catalog struct {
	Resolver  *labs.Resolver
	Resources []resource.Resource
}

// New builds the catalog over st. st may be nil when only the declarations
// are needed.
func New(st store.Store) *Catalog {
	resolver := labs.NewResolver(st)
	var all []resource.Resource
	for _, group := range [][]resource.Resource{
		identity.Resources(),
		scheduling.Resources(),
		nephrology.Resources(),
		dialysis.Resources(),
		medication.Resources(),
		labs.Resources(resolver),
		billing.Resources(),
	} {
		all = append(all, group...)
	}
	return &Catalog{Resolver: resolver, Resources: all}
}

// Descriptors returns the descriptor of every resource, in declaration order.
func (c *Catalog) Descriptors() []*query.Descriptor {
	out := make([]*query.Descriptor, len(c.Resources))
	for i, r := range c.Resources {
		out[i] = r.Descriptor
	}
	return out
}

// Policies returns the route policy of every endpoint the server mounts.
func (c *Catalog) Policies() auth.PolicyTable {
	var table auth.PolicyTable
	for _, r := range c.Resources {
		table = append(table, r.Policies()...)
	}
	table = append(table, labs.Policies()...)
	table = append(table, openapi.Policy)
	return append(table, auth.RevocationPolicies...)
}

// Validate checks every resource and the combined policy table. Slugs and
// tables must be unique and every dependency target must be served.
func (c *Catalog) Validate() error {
	slugs := make(map[string]bool, len(c.Resources))
	tables := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if err := r.Validate(); err != nil {
			return err
		}
		if slugs[r.Slug] {
			return fmt.Errorf("catalog: slug %q declared twice", r.Slug)
		}
		if tables[r.Descriptor.Table] {
			return fmt.Errorf("catalog: table %q declared twice", r.Descriptor.Table)
		}
		slugs[r.Slug] = true
		tables[r.Descriptor.Table] = true
	}
	for _, r := range c.Resources {
		for _, dep := range r.Dependencies {
			if !tables[dep.Target.Table] {
				return fmt.Errorf("catalog: %s.%s references unserved table %q", r.Slug, dep.Field, dep.Target.Table)
			}
		}
	}
	return c.Policies().Validate()
}

// Services builds one service per resource sharing refs.
func (c *Catalog) Services(st store.Store, refs *refcheck.Validator, opts ...resource.Option) []*resource.Service {
	out := make([]*resource.Service, len(c.Resources))
	for i, r := range c.Resources {
		out[i] = resource.NewService(r, st, refs, opts...)
	}
	return out
}

// RegisterRoutes mounts the generic endpoints of every service and the lab
// endpoints on api.
func (c *Catalog) RegisterRoutes(api *echo.Group, services []*resource.Service) {
	for _, svc := range services {
		resource.NewHandler(svc).RegisterRoutes(api)
	}
	labs.NewHandler(c.Resolver).RegisterRoutes(api)
}

// OpenAPI returns the document generator for every endpoint in the catalog.
func (c *Catalog) OpenAPI(version, baseURL string) *openapi.Generator {
	g := openapi.NewGenerator(c.Resources, version, baseURL)
	g.AddPath("/lab-tests/:id/reference-range", map[string]interface{}{
		"get": map[string]interface{}{
			"summary":     "Resolve the reference range of a lab test for a patient",
			"operationId": "resolveReferenceRange",
			"tags":        []string{"lab-tests"},
			"parameters": []map[string]interface{}{
				{"name": "id", "in": "path", "required": true, "schema": map[string]string{"type": "string", "format": "uuid"}},
				{"name": "patientId", "in": "query", "required": true, "schema": map[string]string{"type": "string", "format": "uuid"}},
				{"name": "value", "in": "query", "schema": map[string]string{"type": "number"}},
			},
			"responses": map[string]interface{}{
				"200": map[string]interface{}{"description": "Applicable range, patient age in months and optional flag"},
				"404": map[string]interface{}{"description": "Test, patient or range not found"},
			},
		},
	})
	return g
}
