package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims identifies the acting user. Tokens are issued by the external
// authentication layer and only verified here.
type JWTClaims struct {
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
	jwt.RegisteredClaims
}
