package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
// The auth platform mints tokens in production; this service mints them only
// in tests and dev tooling.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	Role   enums.SystemRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID uuid.UUID        `json:"user_id"`
	Email  string           `json:"email,omitempty"`
	Role   enums.SystemRole `json:"role"`
	jwt.RegisteredClaims
}
