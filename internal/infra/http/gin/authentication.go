package ginserver

import (
	"errors"
	"log/slog"
	"strings"

	gin "github.com/gin-gonic/gin"

	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
)

const principalContextKey = "talkcart.principal"

// AuthMiddleware resolves the bearer token into a principal. Requests without a valid token
// continue anonymously and are rejected by requireRole.
type AuthMiddleware struct {
	Verifier auth.TokenVerifier
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Verifier == nil {
		c.Next()
		return
	}
	p, err := m.Verifier.Verify(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrTokenExpired) && m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, p)
	c.Next()
}

func setPrincipal(c *gin.Context, p auth.Principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (auth.Principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return auth.Principal{}, false
	}
	p, ok := val.(auth.Principal)
	return p, ok
}

// requireRole aborts with 401 when no principal is present and 403 when role is set and differs.
func requireRole(c *gin.Context, role auth.Role) (auth.Principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		abortWithCode(c, codeAuthenticationFailure, "authentication required")
		return auth.Principal{}, false
	}
	if role != "" && p.Role != role {
		abortWithCode(c, codeForbidden, "insufficient permissions")
		return auth.Principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
