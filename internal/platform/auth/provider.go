package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
)

// IdentityProvider turns a bearer credential into a caller identity. An
// empty credential means none was presented. Expected failures are
// apperr Unauthenticated errors.
type IdentityProvider interface {
	ResolveIdentity(ctx context.Context, credential string) (Identity, error)
}

// ErrUnknownUser is returned by a UserLookup when no user has the id.
var ErrUnknownUser = errors.New("auth: unknown user")

// UserLookup loads the stored identity of a staff user.
type UserLookup interface {
	LookupUser(ctx context.Context, id string) (Identity, error)
}

// Claims are the token claims the server reads. Only the subject selects
// the user; role and active state always come from the user record.
type Claims struct {
	jwt.RegisteredClaims
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification with a shared secret.
	SigningKey []byte
}

// JWTProvider verifies HS256 or RS256 bearer tokens and resolves their
// subject through a UserLookup.
type JWTProvider struct {
	cfg     JWTConfig
	users   UserLookup
	jwks    *JWKSCache
	revoked *RevocationList
}

// NewJWTProvider builds a provider. Without a signing key the JWKS URL is
// used, discovered from the issuer when not configured.
func NewJWTProvider(ctx context.Context, cfg JWTConfig, users UserLookup, revoked *RevocationList) (*JWTProvider, error) {
	if users == nil {
		return nil, errors.New("auth: user lookup is required")
	}
	p := &JWTProvider{cfg: cfg, users: users, revoked: revoked}
	if len(cfg.SigningKey) > 0 {
		return p, nil
	}
	url := cfg.JWKSURL
	if url == "" {
		if cfg.Issuer == "" {
			return nil, errors.New("auth: one of signing key, JWKS URL or issuer is required")
		}
		var err error
		if url, err = DiscoverJWKSURL(ctx, cfg.Issuer); err != nil {
			return nil, err
		}
	}
	p.jwks = NewJWKSCache(url, DefaultJWKSCacheTTL)
	return p, nil
}

func (p *JWTProvider) ResolveIdentity(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, apperr.Unauthenticated("missing credential")
	}
	claims, err := p.verify(ctx, credential)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("token rejected")
		return Identity{}, apperr.Unauthenticated("invalid token")
	}
	if p.revoked != nil {
		var iat time.Time
		if claims.IssuedAt != nil {
			iat = claims.IssuedAt.Time
		}
		if p.revoked.IsRevoked(claims.ID, claims.Subject, iat) {
			return Identity{}, apperr.Unauthenticated("token revoked")
		}
	}

	id, err := p.users.LookupUser(ctx, claims.Subject)
	switch {
	case errors.Is(err, ErrUnknownUser):
		return Identity{}, apperr.Unauthenticated("unknown user")
	case err != nil:
		return Identity{}, apperr.Internal("resolve identity", err)
	}
	return id, nil
}

func (p *JWTProvider) verify(ctx context.Context, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithIssuedAt()}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}
	if p.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(p.cfg.Audience))
	}

	var keyFunc jwt.Keyfunc
	if len(p.cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		keyFunc = func(*jwt.Token) (any, error) { return p.cfg.SigningKey, nil }
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
		keyFunc = p.jwks.Keyfunc(ctx)
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, keyFunc, opts...); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("token has no issued-at")
	}
	if time.Since(claims.IssuedAt.Time) > MaxTokenLifetime {
		return nil, fmt.Errorf("token issued more than %s ago", MaxTokenLifetime)
	}
	return claims, nil
}

// DevIdentity is the identity used for unauthenticated requests in
// development mode.
var DevIdentity = Identity{ID: "dev-admin", Email: "dev@localhost", Role: RoleAdmin, Active: true}

// DevProvider resolves an absent credential to DevIdentity and delegates
// everything else to Next. With a nil Next any presented token is refused.
type DevProvider struct {
	Next IdentityProvider
}

func (p DevProvider) ResolveIdentity(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return DevIdentity, nil
	}
	if p.Next == nil {
		return Identity{}, apperr.Unauthenticated("token verification is not configured")
	}
	return p.Next.ResolveIdentity(ctx, credential)
}
