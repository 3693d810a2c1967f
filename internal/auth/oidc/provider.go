// Package oidc verifies bearer tokens issued by an external OpenID Connect provider.
// Discovery and signing keys come from the issuer's well-known document; the service
// never takes part in the login flow itself.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/auditcore/audit-service/internal/auth"
	"github.com/auditcore/audit-service/internal/config"
)

// Verifier checks ID tokens against the issuer's JWKS and maps their claims onto
// the service's own Claims type
type Verifier struct {
	verifier    *oidc.IDTokenVerifier
	nameClaim   string
	scopesClaim string
}

// NewVerifier runs OIDC discovery against cfg.IssuerURL. go-oidc keeps ctx for the
// lazy JWKS fetches that happen on verification, so it must outlive the Verifier.
func NewVerifier(ctx context.Context, cfg config.OIDCConfig) (*Verifier, error) {
	if !cfg.Enabled() {
		return nil, errors.New("OIDC issuer URL is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("OIDC audience is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	nameClaim := cfg.NameClaim
	if nameClaim == "" {
		nameClaim = "name"
	}
	scopesClaim := cfg.ScopesClaim
	if scopesClaim == "" {
		scopesClaim = "scope"
	}

	return &Verifier{
		verifier:    provider.Verifier(&oidc.Config{ClientID: cfg.Audience}),
		nameClaim:   nameClaim,
		scopesClaim: scopesClaim,
	}, nil
}

// Verify validates signature, issuer, audience and expiry of rawToken.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*auth.Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if idToken.Subject == "" {
		return nil, errors.New("ID token missing 'sub' claim")
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	name, _ := raw[v.nameClaim].(string)
	return &auth.Claims{
		UserID: idToken.Subject,
		Name:   name,
		Scopes: ExtractScopes(raw, v.scopesClaim),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   idToken.Subject,
			Issuer:    idToken.Issuer,
			Audience:  idToken.Audience,
			ExpiresAt: jwt.NewNumericDate(idToken.Expiry),
			IssuedAt:  jwt.NewNumericDate(idToken.IssuedAt),
		},
	}, nil
}

// ExtractScopes reads the named claim as either a JSON array or an OAuth2-style
// space-separated string, keeping only scopes this service knows. Identity provider
// scopes such as "openid" or "profile" are dropped.
func ExtractScopes(claims map[string]any, claimName string) []string {
	var candidates []string
	switch v := claims[claimName].(type) {
	case string:
		candidates = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case []string:
		candidates = v
	}

	valid := auth.ValidScopes()
	scopes := make([]string, 0, len(candidates))
	for _, s := range candidates {
		if valid[s] {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
