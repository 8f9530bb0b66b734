package labs

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

// ReferenceRangePolicy guards the range lookup. Any authenticated active
// identity may read it.
var ReferenceRangePolicy = auth.RoutePolicy{
	Method: http.MethodGet,
	Path:   resource.APIPrefix + "/lab-tests/:id/reference-range",
}

// Policies returns the route policies of the endpoints registered by Handler.
func Policies() auth.PolicyTable {
	return auth.PolicyTable{ReferenceRangePolicy}
}

type Handler struct {
	resolver *Resolver
}

func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// RegisterRoutes mounts the lab endpoints on the APIPrefix group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/lab-tests/:id/reference-range", h.ReferenceRange, auth.Require(ReferenceRangePolicy))
}

type rangeResponse struct {
	Range     Range    `json:"range"`
	AgeMonths int      `json:"ageMonths"`
	Value     *float64 `json:"value,omitempty"`
	Flag      Flag     `json:"flag,omitempty"`
}

// ReferenceRange resolves the range of a lab test for a patient, and
// classifies value when one is given.
func (h *Handler) ReferenceRange(c echo.Context) error {
	ctx := c.Request().Context()
	testID, patientID := c.Param("id"), c.QueryParam("patientId")
	if patientID == "" {
		return apperr.Validation(apperr.CodeInvalidFilter, "patientId", "is required")
	}
	var value *float64
	if raw := c.QueryParam("value"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return apperr.InvalidFilter("value", "must be a number")
		}
		value = &v
	}

	test, err := h.resolver.findTest(ctx, testID)
	if err != nil {
		return err
	}
	subj, err := h.resolver.Subject(ctx, patientID)
	if err != nil {
		return err
	}
	rng, err := h.resolver.Resolve(ctx, test.ID(), subj.Gender, subj.DateOfBirth)
	if err != nil {
		return err
	}
	if rng.Unit == "" {
		rng.Unit = test.String("unit")
	}
	out := rangeResponse{
		Range:     rng,
		AgeMonths: AgeInMonths(subj.DateOfBirth.UTC(), h.resolver.now().UTC()),
		Value:     value,
	}
	if value != nil {
		out.Flag = Interpret(*value, rng)
	}
	return c.JSON(http.StatusOK, out)
}

func (r *Resolver) findTest(ctx context.Context, id string) (store.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Validation("invalid_id", "id", "must be a UUID")
	}
	rec, err := r.store.FindByID(ctx, Tests, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.NotFound(Tests.Name)
	case err != nil:
		return nil, apperr.Internal("load lab test", err)
	}
	return rec, nil
}
