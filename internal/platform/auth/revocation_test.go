package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
)

func TestRevocationList_SweepDropsExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewRevocationList()
	l.now = func() time.Time { return now }

	l.Revoke(Revocation{JTI: "old", ExpiresAt: now.Add(-time.Second)})
	l.Revoke(Revocation{JTI: "live", ExpiresAt: now.Add(time.Hour)})
	l.Sweep()

	entries := l.Entries()
	if len(entries) != 1 || entries[0].JTI != "live" {
		t.Fatalf("entries = %+v", entries)
	}
	if !l.IsRevoked("live", "", time.Time{}) {
		t.Error("live entry must stay revoked")
	}
}

func TestRevocationList_UserCutoff(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewRevocationList()
	l.now = func() time.Time { return now }
	l.RevokeUser("u1")

	if !l.IsRevoked("", "u1", now.Add(-time.Minute)) {
		t.Error("token issued before cut-off must be revoked")
	}
	if l.IsRevoked("", "u1", now.Add(time.Minute)) {
		t.Error("token issued after cut-off must be accepted")
	}
	if l.IsRevoked("", "u2", now) {
		t.Error("other users are unaffected")
	}
}

func TestRevocationList_SweepDropsStaleCutoffs(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewRevocationList()
	l.now = func() time.Time { return now }
	l.RevokeUser("old")
	now = now.Add(MaxTokenLifetime)
	l.RevokeUser("recent")

	now = now.Add(time.Minute)
	l.Sweep()

	if len(l.cutoffs) != 1 {
		t.Fatalf("cutoffs = %v", l.cutoffs)
	}
	if !l.IsRevoked("", "recent", now.Add(-2*time.Minute)) {
		t.Error("recent cut-off must survive the sweep")
	}
	if l.IsRevoked("", "old", now.Add(-MaxTokenLifetime-2*time.Minute)) {
		t.Error("stale cut-off must be dropped")
	}
}

func TestRevocationRoutes_AdminOnly(t *testing.T) {
	list := NewRevocationList()
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		status, body := apperr.ToBody(err)
		_ = c.JSON(status, body)
	}
	g := e.Group("/api/v1", testGate().Middleware())
	RegisterRevocationRoutes(g, list)

	post := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/revoke", strings.NewReader(`{"jti":"abc"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("doctor"); code != http.StatusForbidden {
		t.Fatalf("doctor status = %d, want 403", code)
	}
	if code := post("admin"); code != http.StatusNoContent {
		t.Fatalf("admin status = %d, want 204", code)
	}
	if !list.IsRevoked("abc", "", time.Time{}) {
		t.Fatal("jti not revoked")
	}
	if err := RevocationPolicies.Validate(); err != nil {
		t.Fatal(err)
	}
}
