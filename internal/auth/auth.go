// Package auth verifies the bearer credentials issued by the platform's
// auth service. Token issuance is not this repo's concern.
package auth

import (
	"fmt"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Identity is the decision extracted from a valid credential.
type Identity struct {
	UserID string
	Role   models.Role
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier for the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the token and extracts the subject and role.
// Every failure maps to apperr.ErrAuthenticationRequired.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token: %w", apperr.ErrAuthenticationRequired)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("malformed claims: %w", apperr.ErrAuthenticationRequired)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, fmt.Errorf("missing subject: %w", apperr.ErrAuthenticationRequired)
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = string(models.RoleCustomer)
	}
	return Identity{UserID: sub, Role: models.Role(role)}, nil
}
