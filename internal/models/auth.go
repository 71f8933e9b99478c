package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload for access tokens. ProfileID is the
// teacher or student row id matching Role.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	ProfileID string   `json:"profile_id,omitempty"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name"`
	jwt.RegisteredClaims
}
