package resource

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	patients, visits := newServices(newMemory())
	gate := auth.NewGate(staticProvider{
		"admin":  {ID: "u-admin", Role: auth.RoleAdmin, Active: true},
		"clerk":  {ID: "u-clerk", Role: auth.RoleReceptionist, Active: true},
		"nurse":  {ID: "u-nurse", Role: auth.RoleNurse, Active: true},
		"former": {ID: "u-former", Role: auth.RoleAdmin, Active: false},
	})
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	api := e.Group(APIPrefix, gate.Middleware())
	NewHandler(patients).RegisterRoutes(api)
	NewHandler(visits).RegisterRoutes(api)
	return e
}

func do(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, r)
	return rec
}

func TestHandler_CRUDRoundTrip(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/v1/patients", "clerk", `{"firstName":"Ana","lastName":"Smith","mrn":"M-1","gender":"FEMALE"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"].(string)

	rec = do(e, http.MethodGet, "/api/v1/patients/"+id, "nurse", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPatch, "/api/v1/patients/"+id, "clerk", `{"lastName":"Smythe"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"lastName":"Smythe"`)

	rec = do(e, http.MethodGet, "/api/v1/patients?search=smy", "nurse", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
		Page  int              `json:"page"`
		Limit int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.Limit)

	rec = do(e, http.MethodDelete, "/api/v1/patients/"+id, "clerk", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(e, http.MethodDelete, "/api/v1/patients/"+id, "admin", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(e, http.MethodGet, "/api/v1/patients/"+id, "admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Authorization(t *testing.T) {
	e := newTestServer(t)
	body := `{"firstName":"Ana","lastName":"Smith","mrn":"M-1"}`

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/v1/patients", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/v1/patients", "former", "").Code)
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodPost, "/api/v1/patients", "nurse", body).Code)
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodPost, "/api/v1/nephrology-visits", "clerk", `{}`).Code)
}

func TestHandler_ErrorEnvelope(t *testing.T) {
	e := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/v1/patients", "clerk", `{"firstName":"Ana"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body apperr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.CodeInvalidPayload, body.Error.Code)
	assert.Equal(t, "is required", body.Error.Details["mrn"])

	rec = do(e, http.MethodPost, "/api/v1/patients", "clerk", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/patients", "clerk", `{"firstName":"`+strings.Repeat("a", maxBodyBytes)+`"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "payload_too_large", body.Error.Code)

	rec = do(e, http.MethodGet, "/api/v1/nephrology-visits?startDate=yesterday", "nurse", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.CodeInvalidFilter, body.Error.Code)
}

func TestHandler_Export(t *testing.T) {
	e := newTestServer(t)
	for _, mrn := range []string{"M-1", "M-2"} {
		rec := do(e, http.MethodPost, "/api/v1/patients", "clerk", `{"firstName":"Ana","lastName":"Smith","mrn":"`+mrn+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(e, http.MethodGet, "/api/v1/patients/export?sortBy=lastName&sortOrder=asc", "nurse", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "patients-")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Contains(t, rows[0], "mrn")
}
