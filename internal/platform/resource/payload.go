package resource

import (
	"fmt"
	"sort"

	"github.com/hengadev/errsx"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

// Decode checks a JSON object against d and converts every value to its
// field kind. All problems are collected into one validation error.
// Read-only fields are dropped. On create (partial false) required fields
// must be present and non-null; on update they may be omitted but not
// nulled.
func Decode(d *query.Descriptor, payload map[string]any, partial bool) (store.Record, error) {
	errs := make(errsx.Map)
	out := make(store.Record, len(payload))

	names := make([]string, 0, len(payload))
	for name := range payload {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f, ok := d.Field(name)
		if !ok {
			errs.Set(name, "unknown field")
			continue
		}
		if f.ReadOnly {
			continue
		}
		raw := payload[name]
		if raw == nil {
			if f.Required {
				errs.Set(name, "must not be null")
				continue
			}
			out[name] = nil
			continue
		}
		v, err := query.CoerceJSON(f, raw)
		if err != nil {
			errs.Set(name, err.Error())
			continue
		}
		out[name] = v
	}

	if !partial {
		for _, f := range d.Fields {
			if _, present := payload[f.Name]; f.Required && !present {
				errs.Set(f.Name, "is required")
			}
		}
	}

	if errs.IsEmpty() {
		return out, nil
	}
	return nil, payloadError(errs)
}

func payloadError(errs errsx.Map) *apperr.Error {
	details := make(map[string]string, len(errs))
	for k, v := range errs {
		details[k] = fmt.Sprint(v)
	}
	return apperr.InvalidPayload(details)
}
