package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/emaalouf/HIS-sub006/internal/config"
	"github.com/emaalouf/HIS-sub006/internal/domain/catalog"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
)

func newTestServer(t *testing.T, tweaks ...func(*config.Config)) *echo.Echo {
	t.Helper()
	cfg := &config.Config{
		Env:            "test",
		StoreDriver:    config.DriverMemory,
		MetricsEnabled: true,
		RequestTimeout: 5 * time.Second,
		CORSOrigins:    []string{"http://localhost:3000"},
	}
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	be, err := openBackend(context.Background(), cfg, catalog.New(nil).Descriptors())
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	revoked := auth.NewRevocationList()
	t.Cleanup(revoked.Close)
	return newServer(cfg, zerolog.Nop(), catalog.New(be.store), be, auth.DevProvider{}, revoked).router()
}

func do(e *echo.Echo, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newTestServer(t)
	for _, path := range []string{"/health", "/health/db"} {
		if rec := do(e, http.MethodGet, path, nil); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200: %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestRateLimitThrottlesFailedAuthentication(t *testing.T) {
	e := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimitRPS = 0.001
		cfg.RateLimitBurst = 2
	})
	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer guessed-token")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("status codes = %v, want %v", codes, want)
		}
	}
}

func TestPatientCreateAndList(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodPost, "/api/v1/patients", map[string]any{
		"mrn": "MRN-1", "firstName": "Ana", "lastName": "Silva", "dateOfBirth": "1980-05-01", "gender": "FEMALE",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/patients?search=silva", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d: %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Total int              `json:"total"`
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0]["isActive"] != true {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestMissingReferenceIsCounted(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, http.MethodPost, "/api/v1/appointments", map[string]any{
		"patientId":   "00000000-0000-0000-0000-000000000001",
		"providerId":  "00000000-0000-0000-0000-000000000002",
		"scheduledAt": "2024-07-01T09:00:00Z",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("create = %d, want 404: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "his_reference_rejections_total") {
		t.Error("reference rejection not exported")
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	e := newTestServer(t)
	if rec := do(e, http.MethodGet, "/api/v1/nothing-here", nil); rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestOpenBackend_UnknownDriver(t *testing.T) {
	_, err := openBackend(context.Background(), &config.Config{StoreDriver: "oracle"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	p, err := newProvider(ctx, &config.Config{Env: "development"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(auth.DevProvider); !ok {
		t.Errorf("development without a verifier: got %T", p)
	}

	cfg := &config.Config{Env: "production", AuthMode: config.AuthModeJWT, AuthJWTSecret: strings.Repeat("k", 32)}
	p, err = newProvider(ctx, cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*auth.JWTProvider); !ok {
		t.Errorf("jwt mode: got %T", p)
	}
}

func TestRoutesCommand(t *testing.T) {
	cmd := routesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"/api/v1/lab-tests/:id/reference-range",
		"/api/v1/auth/revoke",
		"/api/v1/dialysis-sessions/:id",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("routes output missing %s", want)
		}
	}
}

func TestSchemaCommand(t *testing.T) {
	cmd := schemaCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--dialect", "sqlite"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	ddl := out.String()
	users := strings.Index(ddl, "CREATE TABLE IF NOT EXISTS users")
	results := strings.Index(ddl, "CREATE TABLE IF NOT EXISTS lab_results")
	if users < 0 || results < 0 || results < users {
		t.Errorf("tables missing or out of order:\n%s", ddl)
	}

	cmd = schemaCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dialect", "oracle"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for unknown dialect")
	}
}
