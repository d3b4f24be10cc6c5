package handler

import (
	"fmt"
	"strings"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/auth"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// Authenticate resolves the Bearer token into an identity and rejects
// deactivated accounts. Runs before any rate-limit or access check.
func (h *Handler) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := h.identityFromRequest(c)
		if err != nil {
			fail(c, err)
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// RateLimit charges the request against the user's budget for the given
// event. Limiter failures count as a denial.
func (h *Handler) RateLimit(event string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := identity(c)
		if err := h.Limiter.Allow(ident.UserID, event); err != nil {
			fail(c, fmt.Errorf("%s: %w", err, apperr.ErrRateLimited))
			return
		}
		c.Next()
	}
}

// Authorize checks thread access for routes carrying a question id. Runs
// after authentication and rate limiting.
func (h *Handler) Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		questionID := c.Param("id")
		if questionID == "" {
			fail(c, fmt.Errorf("question id required: %w", apperr.ErrInvalidRequest))
			return
		}
		ident := identity(c)
		ok, err := h.Access.CanAccess(questionID, ident.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		if !ok {
			fail(c, fmt.Errorf("question %s: %w", questionID, apperr.ErrAccessDenied))
			return
		}
		c.Next()
	}
}

func (h *Handler) identityFromRequest(c *gin.Context) (auth.Identity, error) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return auth.Identity{}, fmt.Errorf("missing bearer token: %w", apperr.ErrAuthenticationRequired)
	}
	ident, err := h.Verifier.Verify(token)
	if err != nil {
		return auth.Identity{}, err
	}
	user, err := h.Storage.GetUserByID(ident.UserID)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("unknown user: %w", apperr.ErrAuthenticationRequired)
	}
	if !user.Active {
		return auth.Identity{}, fmt.Errorf("account deactivated: %w", apperr.ErrAuthenticationRequired)
	}
	return ident, nil
}

func identity(c *gin.Context) auth.Identity {
	ident, _ := c.Get(identityKey)
	return ident.(auth.Identity)
}
