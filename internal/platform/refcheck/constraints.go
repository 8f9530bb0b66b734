package refcheck

import (
	"errors"
	"fmt"

	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

const activeField = "isActive"

// ActiveClinician requires a user row with a clinical role that is active.
func ActiveClinician() Constraint {
	return HasRole("Provider must be an active clinician", true, auth.Clinicians...)
}

// Active requires the target's isActive flag to be true.
func Active(reason string) Constraint {
	return func(target, _ store.Record) error {
		if !target.Bool(activeField) {
			return errors.New(reason)
		}
		return nil
	}
}

// HasRole requires the target's role to be one of roles, and when
// mustBeActive is set, the target to be active.
func HasRole(reason string, mustBeActive bool, roles ...auth.Role) Constraint {
	return func(target, _ store.Record) error {
		if mustBeActive && !target.Bool(activeField) {
			return errors.New(reason)
		}
		if !auth.HasRole(roles, auth.Role(target.String("role"))) {
			return errors.New(reason)
		}
		return nil
	}
}

// FieldIn requires the target's field to hold one of values.
func FieldIn(field string, reason string, values ...string) Constraint {
	return func(target, _ store.Record) error {
		got := target.String(field)
		for _, v := range values {
			if got == v {
				return nil
			}
		}
		return errors.New(reason)
	}
}

// SameParent requires target[targetField] to equal record[localField], for
// example a session's prescription belonging to the session's patient. The
// check is skipped when the record has no value for localField.
func SameParent(targetField, localField string) Constraint {
	return func(target, record store.Record) error {
		want, ok := record[localField]
		if !ok || want == nil {
			return nil
		}
		if fmt.Sprint(target[targetField]) != fmt.Sprint(want) {
			return fmt.Errorf("must belong to the same %s", parentName(localField))
		}
		return nil
	}
}

func parentName(field string) string {
	if n := len(field); n > 2 && field[n-2:] == "Id" {
		return field[:n-2]
	}
	return field
}
