package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/request-engine/pkg/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	ActorRef  int64
	Role      Role
	ClientRef *int64
}

// AuthMiddleware validates bearer tokens and stores the principal.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}
	return m.authenticate(c, parts[1])
}

// HandleStream is Handle for event streams. Browsers cannot set headers on
// an EventSource, so the token may also arrive as the token query parameter.
func (m *AuthMiddleware) HandleStream(c *fiber.Ctx) error {
	if c.Get(fiber.HeaderAuthorization) == "" {
		if token := strings.TrimSpace(c.Query("token")); token != "" {
			return m.authenticate(c, token)
		}
	}
	return m.Handle(c)
}

func (m *AuthMiddleware) authenticate(c *fiber.Ctx, token string) error {
	claims, err := m.tokens.ParseToken(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(principalKey, &Principal{
		ActorRef:  claims.ActorRef,
		Role:      claims.Role,
		ClientRef: claims.ClientRef,
	})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
