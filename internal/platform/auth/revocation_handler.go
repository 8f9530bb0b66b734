package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
)

type revokeTokenRequest struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type revokeUserRequest struct {
	UserID string `json:"userId"`
}

// RevocationPolicies are the routes registered by RegisterRevocationRoutes.
var RevocationPolicies = PolicyTable{
	{Method: http.MethodPost, Path: "/api/v1/auth/revoke", Roles: []Role{RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/v1/auth/revoke-user", Roles: []Role{RoleAdmin}},
	{Method: http.MethodGet, Path: "/api/v1/auth/revocations", Roles: []Role{RoleAdmin}},
}

// RegisterRevocationRoutes mounts the ADMIN-only revocation endpoints on a
// group that already runs Gate.Middleware.
func RegisterRevocationRoutes(g *echo.Group, list *RevocationList) {
	g.POST("/auth/revoke", revokeToken(list), Require(RevocationPolicies[0]))
	g.POST("/auth/revoke-user", revokeUser(list), Require(RevocationPolicies[1]))
	g.GET("/auth/revocations", listRevocations(list), Require(RevocationPolicies[2]))
}

func revokeToken(list *RevocationList) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeTokenRequest
		if err := c.Bind(&req); err != nil {
			return apperr.Validation(apperr.CodeInvalidPayload, "", "invalid request body")
		}
		if req.JTI == "" {
			return apperr.Validation(apperr.CodeInvalidPayload, "jti", "jti is required")
		}
		if req.ExpiresAt.IsZero() {
			req.ExpiresAt = time.Now().Add(time.Hour)
		}
		list.Revoke(Revocation(req))
		return c.NoContent(http.StatusNoContent)
	}
}

func revokeUser(list *RevocationList) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeUserRequest
		if err := c.Bind(&req); err != nil {
			return apperr.Validation(apperr.CodeInvalidPayload, "", "invalid request body")
		}
		if req.UserID == "" {
			return apperr.Validation(apperr.CodeInvalidPayload, "userId", "userId is required")
		}
		at := list.RevokeUser(req.UserID)
		return c.JSON(http.StatusOK, map[string]any{"userId": req.UserID, "revokedBefore": at})
	}
}

func listRevocations(list *RevocationList) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := list.Entries()
		return c.JSON(http.StatusOK, map[string]any{"items": entries, "total": len(entries)})
	}
}
