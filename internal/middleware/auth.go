// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers and self-auditing of the audit API.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → SecurityHeaders → RateLimit → Auth → RequireScope → SelfAudit → Handler
//
// Security headers run early so they appear on all responses including errors.
// Auth populates the actor identity and scopes; RequireScope reads from that context.
// SelfAudit runs last so only authorized reads of the audit trail are recorded.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/audit"
	"github.com/auditcore/audit-service/internal/auth"
)

// Context keys set by AuthMiddleware.
const (
	ActorIDKey    = "actor_id"
	ActorNameKey  = "actor_name"
	ScopesKey     = "scopes"
	AuthMethodKey = "auth_method"
)

// servicePrefix marks actors authenticated with a service API key.
const servicePrefix = "service:"

// TokenVerifier checks bearer tokens issued by an external identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*auth.Claims, error)
}

// AuthMiddleware validates a bearer JWT or a service API key. JWTs are tried first
// because validating one needs no bcrypt comparison. When verifier is non-nil it
// replaces the shared-secret HS256 check.
func AuthMiddleware(keys *auth.KeyRing, verifier TokenVerifier) gin.HandlerFunc {
	method := "jwt"
	verify := func(_ context.Context, raw string) (*auth.Claims, error) {
		return auth.ValidateJWT(raw)
	}
	if verifier != nil {
		method = "oidc"
		verify = verifier.Verify
	}

	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		if claims, err := verify(c.Request.Context(), token); err == nil {
			name := claims.Name
			if name == "" {
				name = claims.UserID
			}
			c.Set(ActorIDKey, claims.UserID)
			c.Set(ActorNameKey, name)
			c.Set(ScopesKey, claims.Scopes)
			c.Set(AuthMethodKey, method)
			c.Next()
			return
		}

		if keys != nil {
			if sk, ok := keys.Authenticate(token); ok {
				c.Set(ActorIDKey, servicePrefix+sk.Name)
				c.Set(ActorNameKey, sk.Name)
				c.Set(ScopesKey, sk.Scopes)
				c.Set(AuthMethodKey, "api_key")
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
	}
}

// ActorFromContext returns the authenticated actor. The zero Actor is returned for
// unauthenticated requests.
func ActorFromContext(c *gin.Context) audit.Actor {
	return audit.Actor{ID: c.GetString(ActorIDKey), Name: c.GetString(ActorNameKey)}
}

// SessionFromContext builds the session details attached to entries recorded on
// behalf of the request. The request id stands in for a session id.
func SessionFromContext(c *gin.Context) audit.Session {
	return audit.Session{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		SessionID: c.GetString(RequestIDKey),
	}
}

// ScopesFromContext returns the scopes granted to the caller.
func ScopesFromContext(c *gin.Context) []string {
	return c.GetStringSlice(ScopesKey)
}
