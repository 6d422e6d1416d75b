package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carry the caller identity. Every token is scoped to one company;
// cross-company access is never granted through claims.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
