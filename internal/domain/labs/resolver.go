package labs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emaalouf/HIS-sub006/internal/domain/identity"
	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

// Flag classifies a result value against its reference range.
type Flag string

const (
	FlagNormal       Flag = "NORMAL"
	FlagLow          Flag = "LOW"
	FlagHigh         Flag = "HIGH"
	FlagCriticalLow  Flag = "CRITICAL_LOW"
	FlagCriticalHigh Flag = "CRITICAL_HIGH"
)

func FlagNames() []string {
	return []string{
		string(FlagNormal), string(FlagLow), string(FlagHigh),
		string(FlagCriticalLow), string(FlagCriticalHigh),
	}
}

// Range is one reference band. Absent bounds are nil. Ages are in months.
type Range struct {
	ID           string   `json:"id"`
	TestID       string   `json:"testId"`
	Gender       string   `json:"gender,omitempty"`
	AgeMin       *int64   `json:"ageMin,omitempty"`
	AgeMax       *int64   `json:"ageMax,omitempty"`
	Low          *float64 `json:"low,omitempty"`
	High         *float64 `json:"high,omitempty"`
	CriticalLow  *float64 `json:"criticalLow,omitempty"`
	CriticalHigh *float64 `json:"criticalHigh,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	IsDefault    bool     `json:"isDefault"`
}

func rangeFromRecord(rec store.Record) Range {
	r := Range{
		ID:        rec.ID(),
		TestID:    rec.String("testId"),
		Gender:    rec.String("gender"),
		Unit:      rec.String("unit"),
		IsDefault: rec.Bool("isDefault"),
	}
	if v, ok := rec["ageMin"].(int64); ok {
		r.AgeMin = &v
	}
	if v, ok := rec["ageMax"].(int64); ok {
		r.AgeMax = &v
	}
	for name, dst := range map[string]**float64{
		"low": &r.Low, "high": &r.High, "criticalLow": &r.CriticalLow, "criticalHigh": &r.CriticalHigh,
	} {
		if v, ok := rec[name].(float64); ok {
			*dst = &v
		}
	}
	return r
}

// Brackets reports whether age falls inside the present bounds, inclusive.
func (r Range) Brackets(ageMonths int) bool {
	a := int64(ageMonths)
	if r.AgeMin != nil && a < *r.AgeMin {
		return false
	}
	if r.AgeMax != nil && a > *r.AgeMax {
		return false
	}
	return true
}

func (r Range) bounds() int {
	n := 0
	if r.AgeMin != nil {
		n++
	}
	if r.AgeMax != nil {
		n++
	}
	return n
}

// moreSpecific orders candidates: gender-specific before unisex, more age
// bounds before fewer, a narrower bracket before a wider one, non-default
// before default, then by id.
func moreSpecific(a, b Range) bool {
	if (a.Gender != "") != (b.Gender != "") {
		return a.Gender != ""
	}
	if a.bounds() != b.bounds() {
		return a.bounds() > b.bounds()
	}
	if a.bounds() == 2 {
		sa, sb := *a.AgeMax-*a.AgeMin, *b.AgeMax-*b.AgeMin
		if sa != sb {
			return sa < sb
		}
	}
	if a.IsDefault != b.IsDefault {
		return !a.IsDefault
	}
	return a.ID < b.ID
}

// Interpret classifies value. Critical limits are checked first; a value
// equal to a limit is inside it.
func Interpret(value float64, r Range) Flag {
	switch {
	case r.CriticalLow != nil && value < *r.CriticalLow:
		return FlagCriticalLow
	case r.CriticalHigh != nil && value > *r.CriticalHigh:
		return FlagCriticalHigh
	case r.Low != nil && value < *r.Low:
		return FlagLow
	case r.High != nil && value > *r.High:
		return FlagHigh
	}
	return FlagNormal
}

// AgeInMonths counts whole calendar months between the birth month and the
// current month. The day of month is ignored.
func AgeInMonths(dob, now time.Time) int {
	return (now.Year()-dob.Year())*12 + int(now.Month()) - int(dob.Month())
}

// Subject is the patient data that range selection depends on.
type Subject struct {
	Gender      string
	DateOfBirth time.Time
}

// Resolver selects the reference range that applies to a patient.
type Resolver struct {
	store store.Store
	now   func() time.Time
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s, now: time.Now}
}

// SetClock replaces the time source used for age computation.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Resolve returns the range for testID that applies to a patient of the
// given gender and date of birth. The most specific range bracketing the
// patient's age wins; otherwise the test's default range applies. NotFound
// is returned when neither exists.
func (r *Resolver) Resolve(ctx context.Context, testID, gender string, dob time.Time) (Range, error) {
	f, _ := ReferenceRanges.Field("testId")
	id, err := query.ParseValue(f, testID)
	if err != nil {
		return Range{}, apperr.Validation("invalid_id", "testId", "must be a UUID")
	}
	age := AgeInMonths(dob.UTC(), r.now().UTC())
	if age < 0 {
		return Range{}, apperr.Validation(apperr.CodeInvalidPayload, "dateOfBirth", "must not be in the future")
	}
	gender = strings.ToUpper(strings.TrimSpace(gender))

	pred, _ := query.Match(ReferenceRanges, map[string]any{"testId": id})
	rows, err := r.store.FindMany(ctx, ReferenceRanges, query.Spec{Predicate: pred})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("test_id", testID).Msg("load reference ranges")
		return Range{}, apperr.Internal("resolve reference range", err)
	}
	candidates := make([]Range, 0, len(rows))
	for _, row := range rows {
		c := rangeFromRecord(row)
		if c.Gender == "" || c.Gender == gender {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return moreSpecific(candidates[i], candidates[j]) })

	for _, c := range candidates {
		if c.Brackets(age) {
			return c, nil
		}
	}
	for _, c := range candidates {
		if c.IsDefault {
			return c, nil
		}
	}
	return Range{}, apperr.NotFound("reference range")
}

// Subject loads the gender and date of birth of a patient.
func (r *Resolver) Subject(ctx context.Context, patientID string) (Subject, error) {
	if _, err := uuid.Parse(patientID); err != nil {
		return Subject{}, apperr.Validation("invalid_id", "patientId", "must be a UUID")
	}
	rec, err := r.store.FindByID(ctx, identity.Patients, patientID)
	if errors.Is(err, store.ErrNotFound) {
		return Subject{}, apperr.NotFound("patient")
	}
	if err != nil {
		return Subject{}, apperr.Internal("load patient", err)
	}
	dob, ok := rec["dateOfBirth"].(time.Time)
	if !ok {
		return Subject{}, apperr.Validation(apperr.CodeInvalidPayload, "patientId", "patient has no date of birth")
	}
	return Subject{Gender: rec.String("gender"), DateOfBirth: dob}, nil
}

// flagResult sets the flag and referenceRangeId of a new result from the
// range that applies to its patient. Without an applicable range the
// submitted flag is kept.
func (r *Resolver) flagResult(ctx context.Context, rec store.Record) error {
	value, ok := rec["value"].(float64)
	if !ok {
		return nil
	}
	subj, err := r.Subject(ctx, rec.String("patientId"))
	if err != nil {
		return err
	}
	rng, err := r.Resolve(ctx, rec.String("testId"), subj.Gender, subj.DateOfBirth)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rec["referenceRangeId"] = rng.ID
	rec["flag"] = string(Interpret(value, rng))
	return nil
}

// reflagResult recomputes the flag when the value, test or patient changes.
func (r *Resolver) reflagResult(ctx context.Context, patch, current store.Record) error {
	changed := false
	for _, k := range []string{"value", "testId", "patientId"} {
		if _, ok := patch[k]; ok {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	merged := current.Merge(patch)
	if err := r.flagResult(ctx, merged); err != nil {
		return err
	}
	for _, k := range []string{"flag", "referenceRangeId"} {
		if merged[k] != current[k] {
			patch[k] = merged[k]
		}
	}
	return nil
}
