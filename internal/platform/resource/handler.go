package resource

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/pkg/pagination"
)

// maxBodyBytes bounds write payloads.
const maxBodyBytes = 1 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the generic endpoints on api, which must be the
// APIPrefix group running auth.Gate.Middleware.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	res := h.svc.Resource()
	policies := res.Policies()
	guard := func(method, path string) echo.MiddlewareFunc {
		p, _ := policies.Lookup(method, APIPrefix+path)
		return auth.Require(p)
	}

	base, item := "/"+res.Slug, "/"+res.Slug+"/:id"
	api.GET(base, h.List, guard(http.MethodGet, base))
	api.GET(base+"/export", h.Export, guard(http.MethodGet, base+"/export"))
	api.GET(item, h.Get, guard(http.MethodGet, item))
	api.POST(base, h.Create, guard(http.MethodPost, base))
	api.PUT(item, h.Update, guard(http.MethodPut, item))
	api.PATCH(item, h.Update, guard(http.MethodPatch, item))
	api.DELETE(item, h.Delete, guard(http.MethodDelete, item))
}

func (h *Handler) List(c echo.Context) error {
	r := query.RequestFromContext(c)
	res, err := h.svc.List(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(res.Items, res.Total, r.Pagination()))
}

func (h *Handler) Get(c echo.Context) error {
	rec, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Create(c echo.Context) error {
	payload, err := bindObject(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Create(c.Request().Context(), payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Update(c echo.Context) error {
	payload, err := bindObject(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Update(c.Request().Context(), c.Param("id"), payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// bindObject decodes the request body as a single JSON object with the
// echo JSON serializer. Path and query parameters are not merged in.
func bindObject(c echo.Context) (map[string]any, error) {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)
	var payload map[string]any
	err := c.Echo().JSONSerializer.Deserialize(c, &payload)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case err != nil || payload == nil:
		return nil, apperr.Validation(apperr.CodeInvalidPayload, "", "request body must be a JSON object")
	}
	return payload, nil
}
