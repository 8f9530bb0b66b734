package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
	"github.com/emaalouf/HIS-sub006/pkg/pagination"
)

// Result is one page of a list plus the total number of matching rows.
type Result struct {
	Items []store.Record `json:"items"`
	Total int            `json:"total"`
}

// Observer receives engine measurements.
type Observer interface {
	ObserveList(resource string, elapsed time.Duration, err error)
	ObserveWrite(resource, op string, err error)
}

// TxRunner runs fn in one database transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

type Option func(*Service)

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithTx makes reference checks and the write share one transaction.
func WithTx(run TxRunner) Option { return func(s *Service) { s.tx = run } }

// Service implements the operations of one resource.
type Service struct {
	res      Resource
	store    store.Store
	refs     *refcheck.Validator
	observer Observer
	tx       TxRunner
}

func NewService(res Resource, st store.Store, refs *refcheck.Validator, opts ...Option) *Service {
	if refs == nil {
		refs = refcheck.New(st)
	}
	s := &Service{res: res, store: st, refs: refs, tx: noTx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Resource() Resource { return s.res }

// List returns one page of the rows matching r and the total match count.
// The page and the count are two independent reads.
func (s *Service) List(ctx context.Context, r query.Request) (res Result, err error) {
	start := time.Now()
	if s.observer != nil {
		defer func() { s.observer.ObserveList(s.res.Slug, time.Since(start), err) }()
	}
	d := s.res.Descriptor
	spec, err := query.Build(d, r)
	if err != nil {
		return Result{}, err
	}
	items, err := s.store.FindMany(ctx, d, spec)
	if err != nil {
		return Result{}, s.internal(ctx, "list", err)
	}
	total, err := s.store.Count(ctx, d, spec.Predicate)
	if err != nil {
		return Result{}, s.internal(ctx, "count", err)
	}
	if items == nil {
		items = []store.Record{}
	}
	return Result{Items: items, Total: total}, nil
}

// ListAll collects up to max matching rows, reading MaxLimit rows per page.
func (s *Service) ListAll(ctx context.Context, r query.Request, max int) ([]store.Record, error) {
	var out []store.Record
	r.Page, r.Limit = 1, pagination.MaxLimit
	for len(out) < max {
		page, err := s.List(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if len(page.Items) < r.Limit {
			break
		}
		r.Page++
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (store.Record, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	rec, err := s.store.FindByID(ctx, s.res.Descriptor, id)
	if err != nil {
		return nil, s.storeErr(ctx, "get", err)
	}
	return rec, nil
}

// Create validates payload and inserts it.
func (s *Service) Create(ctx context.Context, payload map[string]any) (rec store.Record, err error) {
	if s.observer != nil {
		defer func() { s.observer.ObserveWrite(s.res.Slug, "create", err) }()
	}
	d := s.res.Descriptor
	data, err := Decode(d, payload, false)
	if err != nil {
		return nil, err
	}
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.refs.Validate(ctx, s.res.Dependencies, data); err != nil {
			return err
		}
		if err := s.checkUnique(ctx, "", data); err != nil {
			return err
		}
		if h := s.res.Hooks.BeforeCreate; h != nil {
			if err := h(ctx, data); err != nil {
				return err
			}
		}
		created, err := s.store.Create(ctx, d, data)
		if err != nil {
			return s.storeErr(ctx, "create", err)
		}
		rec = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("resource", s.res.Slug).Str("id", rec.ID()).Msg("record created")
	return rec, nil
}

// Update applies a partial payload. Only the fields present are validated
// and written; PUT and PATCH share these semantics.
func (s *Service) Update(ctx context.Context, id string, payload map[string]any) (rec store.Record, err error) {
	if s.observer != nil {
		defer func() { s.observer.ObserveWrite(s.res.Slug, "update", err) }()
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	d := s.res.Descriptor
	patch, err := Decode(d, payload, true)
	if err != nil {
		return nil, err
	}
	err = s.tx(ctx, func(ctx context.Context) error {
		current, err := s.store.FindByID(ctx, d, id)
		if err != nil {
			return s.storeErr(ctx, "update", err)
		}
		if len(patch) == 0 {
			rec = current
			return nil
		}
		if err := s.refs.ValidateUpdate(ctx, s.res.Dependencies, patch, current); err != nil {
			return err
		}
		if err := s.checkUnique(ctx, current.ID(), patch); err != nil {
			return err
		}
		if h := s.res.Hooks.BeforeUpdate; h != nil {
			if err := h(ctx, patch, current); err != nil {
				return err
			}
		}
		updated, err := s.store.Update(ctx, d, id, patch)
		if err != nil {
			return s.storeErr(ctx, "update", err)
		}
		rec = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, id string) (err error) {
	if s.observer != nil {
		defer func() { s.observer.ObserveWrite(s.res.Slug, "delete", err) }()
	}
	if err := checkID(id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, s.res.Descriptor, id); err != nil {
		return s.storeErr(ctx, "delete", err)
	}
	zerolog.Ctx(ctx).Info().Str("resource", s.res.Slug).Str("id", id).Msg("record deleted")
	return nil
}

// checkUnique reports a Conflict when another row already holds a unique
// value present in data. self is the id of the row being updated.
func (s *Service) checkUnique(ctx context.Context, self string, data store.Record) error {
	d := s.res.Descriptor
	for _, name := range d.Unique {
		v, ok := data[name]
		if !ok || v == nil {
			continue
		}
		pred, _ := query.Match(d, map[string]any{name: v})
		if self == "" {
			n, err := s.store.Count(ctx, d, pred)
			if err != nil {
				return s.internal(ctx, "unique check", err)
			}
			if n > 0 {
				return duplicate(name)
			}
			continue
		}
		rows, err := s.store.FindMany(ctx, d, query.Spec{Predicate: pred, Window: query.Window{Take: 2}})
		if err != nil {
			return s.internal(ctx, "unique check", err)
		}
		for _, r := range rows {
			if r.ID() != self {
				return duplicate(name)
			}
		}
	}
	return nil
}

func duplicate(field string) error {
	return apperr.Conflict(field, fmt.Sprintf("%s already exists", field))
}

// storeErr maps a store failure for operation op.
func (s *Service) storeErr(ctx context.Context, op string, err error) error {
	d := s.res.Descriptor
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(d.Name)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if ce, ok := store.AsConstraint(err); ok {
		field := ce.Field(d)
		switch {
		case ce.Kind == store.ConstraintUnique:
			if field == "" {
				return apperr.Conflict("", "record already exists")
			}
			return duplicate(field)
		case op == "delete":
			return apperr.Conflict("", fmt.Sprintf("%s is still referenced by %s", d.Name, ce.Table))
		default:
			return apperr.InvalidReference(field, "referenced record does not exist")
		}
	}
	return s.internal(ctx, op, err)
}

func (s *Service) internal(ctx context.Context, op string, err error) error {
	zerolog.Ctx(ctx).Error().Err(err).Str("resource", s.res.Slug).Str("op", op).Msg("store failure")
	return apperr.Internal(op+" "+s.res.Slug, err)
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Validation("invalid_id", "id", "must be a UUID")
	}
	return nil
}
