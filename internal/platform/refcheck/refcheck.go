// Package refcheck verifies that the foreign ids in a write payload point at
// existing rows that satisfy the caller's constraints.
package refcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

// Constraint inspects a referenced row. record is the row being written
// (the payload, or for updates the current row with the patch applied).
// A non-nil error rejects the reference and its message is the reason.
type Constraint func(target, record store.Record) error

// Dependency declares that Field holds the id of a Target row.
type Dependency struct {
	Field       string
	Target      *query.Descriptor
	Constraints []Constraint
}

// Ref declares a dependency.
func Ref(field string, target *query.Descriptor, constraints ...Constraint) Dependency {
	return Dependency{Field: field, Target: target, Constraints: constraints}
}

// Validator checks dependencies against a store.
type Validator struct {
	store store.Store
	// Observe, when set, is called with every rejected reference.
	Observe func(dep Dependency, err *apperr.Error)
}

func New(s store.Store) *Validator {
	return &Validator{store: s}
}

// Validate checks, in declaration order, every dependency whose field is
// present and non-null in payload. The first failure is returned.
func (v *Validator) Validate(ctx context.Context, deps []Dependency, payload store.Record) error {
	return v.check(ctx, deps, payload, payload)
}

// ValidateUpdate checks only the dependencies whose field is present in
// patch. Constraints see current with patch applied.
func (v *Validator) ValidateUpdate(ctx context.Context, deps []Dependency, patch, current store.Record) error {
	return v.check(ctx, deps, patch, current.Merge(patch))
}

func (v *Validator) check(ctx context.Context, deps []Dependency, present, record store.Record) error {
	for _, dep := range deps {
		raw, ok := present[dep.Field]
		if !ok || raw == nil {
			continue
		}
		if err := v.checkOne(ctx, dep, raw, record); err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Kind != apperr.KindInternal {
				zerolog.Ctx(ctx).Debug().
					Str("field", dep.Field).
					Str("target", dep.Target.Name).
					Str("code", ae.Code).
					Msg("reference rejected")
				if v.Observe != nil {
					v.Observe(dep, ae)
				}
			}
			return err
		}
	}
	return nil
}

func (v *Validator) checkOne(ctx context.Context, dep Dependency, raw any, record store.Record) error {
	id, ok := raw.(string)
	if !ok || id == "" {
		return apperr.InvalidReference(dep.Field, "must be an id")
	}
	target, err := v.store.FindByID(ctx, dep.Target, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.MissingReference(dep.Field)
	case err != nil:
		return apperr.Internal(fmt.Sprintf("check %s reference", dep.Field), err)
	}
	for _, c := range dep.Constraints {
		if err := c(target, record); err != nil {
			return apperr.InvalidReference(dep.Field, err.Error())
		}
	}
	return nil
}
