package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
)

// staticProvider maps tokens to identities.
type staticProvider map[string]Identity

func (p staticProvider) ResolveIdentity(_ context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, apperr.Unauthenticated("missing credential")
	}
	id, ok := p[credential]
	if !ok {
		return Identity{}, apperr.Unauthenticated("invalid token")
	}
	return id, nil
}

var (
	nurse    = Identity{ID: "u-nurse", Role: RoleNurse, Active: true}
	doctor   = Identity{ID: "u-doctor", Role: RoleDoctor, Active: true}
	admin    = Identity{ID: "u-admin", Role: RoleAdmin, Active: true}
	inactive = Identity{ID: "u-old", Role: RoleDoctor, Active: false}
)

func testGate() *Gate {
	return NewGate(staticProvider{"nurse": nurse, "doctor": doctor, "admin": admin, "inactive": inactive})
}

var writeVisits = RoutePolicy{Method: http.MethodPost, Path: "/api/v1/nephrology-visits", Roles: []Role{RoleAdmin, RoleDoctor}}

func TestGate_NurseForbiddenOnAdminDoctorRoute(t *testing.T) {
	_, err := testGate().AuthenticateAndAuthorize(context.Background(), "nurse", writeVisits)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestGate_AllowedRolePasses(t *testing.T) {
	id, err := testGate().AuthenticateAndAuthorize(context.Background(), "doctor", writeVisits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != doctor {
		t.Errorf("identity = %+v, want %+v", id, doctor)
	}
}

func TestGate_AdminHasNoImplicitAccess(t *testing.T) {
	policy := RoutePolicy{Method: http.MethodPost, Path: "/api/v1/lab-results", Roles: []Role{RoleLabTechnician}}
	_, err := testGate().AuthenticateAndAuthorize(context.Background(), "admin", policy)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for admin, got %v", err)
	}
}

func TestGate_Unauthenticated(t *testing.T) {
	tests := []struct {
		name       string
		credential string
	}{
		{"absent", ""},
		{"unknown token", "nope"},
		{"inactive user", "inactive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testGate().AuthenticateAndAuthorize(context.Background(), tt.credential, writeVisits)
			if !errors.Is(err, apperr.ErrUnauthenticated) {
				t.Fatalf("expected unauthenticated, got %v", err)
			}
		})
	}
}

func TestGate_OpenReadAdmitsAnyActiveIdentity(t *testing.T) {
	read := RoutePolicy{Method: http.MethodGet, Path: "/api/v1/patients"}
	for _, cred := range []string{"nurse", "doctor", "admin"} {
		if _, err := testGate().AuthenticateAndAuthorize(context.Background(), cred, read); err != nil {
			t.Errorf("%s: unexpected error %v", cred, err)
		}
	}
	if _, err := testGate().AuthenticateAndAuthorize(context.Background(), "inactive", read); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("inactive: expected unauthenticated, got %v", err)
	}
}

func TestGate_MutatingRouteWithoutRolesFailsClosed(t *testing.T) {
	_, err := testGate().AuthenticateAndAuthorize(context.Background(), "admin", RoutePolicy{Method: http.MethodDelete, Path: "/x"})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"Bearer", "", true},
		{"Bearer ", "", true},
		{"Token abc", "", true},
		{"Basic dXNlcjpwYXNz", "", true},
	}
	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("BearerToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func serve(t *testing.T, g *Gate, policy RoutePolicy, header string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		status, body := apperr.ToBody(err)
		_ = c.JSON(status, body)
	}
	e.Use(g.Middleware())
	e.Add(policy.Method, policy.Path, func(c echo.Context) error {
		return c.String(http.StatusOK, UserIDFromContext(c.Request().Context()))
	}, Require(policy))
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "up") })

	req := httptest.NewRequest(policy.Method, policy.Path, nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"malformed", "Token doctor", http.StatusUnauthorized},
		{"nurse", "Bearer nurse", http.StatusForbidden},
		{"doctor", "Bearer doctor", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, testGate(), writeVisits, tt.header)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK && rec.Body.String() != doctor.ID {
				t.Errorf("body = %q, want identity id", rec.Body.String())
			}
		})
	}
}

func TestMiddleware_PublicPathSkipsAuth(t *testing.T) {
	rec := serve(t, testGate(), RoutePolicy{Method: http.MethodGet, Path: "/health"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDevProvider(t *testing.T) {
	p := DevProvider{Next: staticProvider{"nurse": nurse}}
	id, err := p.ResolveIdentity(context.Background(), "")
	if err != nil || id.Role != RoleAdmin || !id.Active {
		t.Fatalf("absent credential = %+v, %v", id, err)
	}
	id, err = p.ResolveIdentity(context.Background(), "nurse")
	if err != nil || id != nurse {
		t.Fatalf("delegated = %+v, %v", id, err)
	}
	if _, err := (DevProvider{}).ResolveIdentity(context.Background(), "x"); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}
