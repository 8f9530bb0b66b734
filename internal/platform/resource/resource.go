// Package resource is the generic engine behind every clinical resource:
// list/search, single reads and guarded writes driven by a descriptor, a
// role policy and a dependency list.
package resource

import (
	"context"
	"fmt"
	"net/http"

	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

// APIPrefix is the path prefix of every resource route.
const APIPrefix = "/api/v1"

// Policy lists the roles allowed per operation. Read may be empty, which
// admits any authenticated active identity.
type Policy struct {
	Read   []auth.Role
	Create []auth.Role
	Update []auth.Role
	Delete []auth.Role
}

// Hooks let a resource adjust a validated record before it is written.
type Hooks struct {
	// BeforeCreate receives the decoded payload after reference checks.
	BeforeCreate func(ctx context.Context, rec store.Record) error
	// BeforeUpdate receives the patch and the current row.
	BeforeUpdate func(ctx context.Context, patch, current store.Record) error
}

// Resource is the full declaration of one entity type.
type Resource struct {
	Slug         string
	Descriptor   *query.Descriptor
	Dependencies []refcheck.Dependency
	Policy       Policy
	Hooks        Hooks
}

func (r Resource) basePath() string { return APIPrefix + "/" + r.Slug }

// Policies returns the route policies of the generic endpoints.
func (r Resource) Policies() auth.PolicyTable {
	base, item := r.basePath(), r.basePath()+"/:id"
	return auth.PolicyTable{
		{Method: http.MethodGet, Path: base, Roles: r.Policy.Read},
		{Method: http.MethodGet, Path: base + "/export", Roles: r.Policy.Read},
		{Method: http.MethodGet, Path: item, Roles: r.Policy.Read},
		{Method: http.MethodPost, Path: base, Roles: r.Policy.Create},
		{Method: http.MethodPut, Path: item, Roles: r.Policy.Update},
		{Method: http.MethodPatch, Path: item, Roles: r.Policy.Update},
		{Method: http.MethodDelete, Path: item, Roles: r.Policy.Delete},
	}
}

// Validate checks the declaration for consistency.
func (r Resource) Validate() error {
	if r.Slug == "" || r.Descriptor == nil {
		return fmt.Errorf("resource %q: slug and descriptor are required", r.Slug)
	}
	if err := r.Descriptor.Validate(); err != nil {
		return fmt.Errorf("resource %s: %w", r.Slug, err)
	}
	for _, dep := range r.Dependencies {
		f, ok := r.Descriptor.Field(dep.Field)
		if !ok || f.Kind != query.KindUUID {
			return fmt.Errorf("resource %s: dependency field %q must be a uuid field", r.Slug, dep.Field)
		}
		if dep.Target == nil {
			return fmt.Errorf("resource %s: dependency %q has no target", r.Slug, dep.Field)
		}
	}
	if err := r.Policies().Validate(); err != nil {
		return fmt.Errorf("resource %s: %w", r.Slug, err)
	}
	return nil
}

// Defaults returns a BeforeCreate hook that fills fields that are absent
// or null in the payload.
func Defaults(values map[string]any) func(context.Context, store.Record) error {
	return func(_ context.Context, rec store.Record) error {
		for k, v := range values {
			if rec[k] == nil {
				rec[k] = v
			}
		}
		return nil
	}
}

// Chain runs BeforeCreate hooks in order and stops at the first error.
func Chain(hooks ...func(context.Context, store.Record) error) func(context.Context, store.Record) error {
	return func(ctx context.Context, rec store.Record) error {
		for _, h := range hooks {
			if err := h(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}
}
