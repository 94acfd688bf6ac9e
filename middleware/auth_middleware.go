package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/agent-governance/internal/auth"
	"github.com/upb/agent-governance/internal/shared"
	"github.com/upb/agent-governance/services"
	"github.com/upb/agent-governance/utils"
)

// Authenticator turns a bearer credential into a Principal. JWTs and static
// API keys both arrive through it.
type Authenticator = auth.Authenticator

// authTokenCookieName lets browser clients send the token as a cookie. The
// Authorization header takes precedence.
const authTokenCookieName = "auth_token"

// AuthMiddleware binds the caller's Principal to the request context and
// guards routes by capability.
type AuthMiddleware struct {
	authenticator Authenticator
	caps          auth.CapabilityMap
	logger        *zap.Logger
}

// NewAuthMiddleware creates an AuthMiddleware checking capabilities against
// auth.DefaultCapabilities.
func NewAuthMiddleware(authenticator Authenticator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		caps:          auth.DefaultCapabilities,
		logger:        logger,
	}
}

// RequireAuth rejects requests without a valid credential.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := shared.RequestID(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token", zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		principal, err := m.authenticator.Authenticate(ctx, token)
		if err != nil {
			m.logger.Warn("authentication failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			msg := "Invalid or expired token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "Token expired"
			}
			_ = utils.WriteUnauthorized(w, msg)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("principal_id", principal.ID),
			zap.String("role", string(principal.Role)))

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(ctx, *principal)))
	})
}

// RequireCapability admits principals whose role satisfies capability.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := m.caps.AssertCan(r.Context(), capability); err != nil {
				m.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits principals at or above role.
func (m *AuthMiddleware) RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.AssertRole(r.Context(), role); err != nil {
				m.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) deny(w http.ResponseWriter, r *http.Request, err error) {
	if services.IsUnauthorizedError(err) {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	m.logger.Warn("insufficient permissions",
		zap.String("request_id", shared.RequestID(r.Context())),
		zap.Any("details", services.GetErrorDetails(err)))
	_ = utils.WriteForbidden(w, services.GetErrorMessage(err), services.GetErrorDetails(err))
}

// extractToken reads the bearer token from the Authorization header, falling
// back to the auth_token cookie.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
