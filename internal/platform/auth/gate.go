// Package auth authenticates callers and enforces the per-route role
// allowlist.
package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
)

// Gate authenticates a credential and authorizes the resulting identity
// against a route policy. It keeps no state between requests.
type Gate struct {
	provider IdentityProvider
}

func NewGate(provider IdentityProvider) *Gate {
	return &Gate{provider: provider}
}

// Authenticate resolves credential to an active identity.
func (g *Gate) Authenticate(ctx context.Context, credential string) (Identity, error) {
	id, err := g.provider.ResolveIdentity(ctx, credential)
	if err != nil {
		return Identity{}, err
	}
	if id.ID == "" || !id.Role.Valid() {
		return Identity{}, apperr.Unauthenticated("credential does not resolve to a user")
	}
	if !id.Active {
		return Identity{}, apperr.Unauthenticated("user is inactive")
	}
	return id, nil
}

// Authorize fails with Forbidden unless id's role is allowed by policy.
func Authorize(id Identity, policy RoutePolicy) error {
	if !policy.Permits(id.Role) {
		return apperr.Forbidden("role " + string(id.Role) + " may not " + policy.Method + " " + policy.Path)
	}
	return nil
}

// AuthenticateAndAuthorize runs both checks, stopping at the first failure.
func (g *Gate) AuthenticateAndAuthorize(ctx context.Context, credential string, policy RoutePolicy) (Identity, error) {
	id, err := g.Authenticate(ctx, credential)
	if err != nil {
		return Identity{}, err
	}
	if err := Authorize(id, policy); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value. An
// empty header yields "" and no error.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", apperr.Unauthenticated("malformed authorization header")
	}
	return token, nil
}

// Middleware authenticates every request not matched by Skipper and stores
// the identity in the request context.
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if Skipper(c) {
				return next(c)
			}
			token, err := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			ctx := c.Request().Context()
			id, err := g.Authenticate(ctx, token)
			if err != nil {
				return err
			}
			ctx = WithIdentity(ctx, id)
			logger := zerolog.Ctx(ctx).With().Str("user_id", id.ID).Str("role", string(id.Role)).Logger()
			ctx = logger.WithContext(ctx)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// Require enforces policy on a route already behind Middleware.
func Require(policy RoutePolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return apperr.Unauthenticated("missing credential")
			}
			if err := Authorize(id, policy); err != nil {
				return err
			}
			return next(c)
		}
	}
}
