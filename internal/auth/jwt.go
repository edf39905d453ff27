package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenTTL = 15 * time.Minute

const (
	RoleUser    = "user"
	RolePartner = "partner"
	RoleAdmin   = "admin"
)

// AccessClaims carries the caller identity. Tokens are issued by the account service;
// SignAccessToken exists for tooling and tests.
type AccessClaims struct {
	UserID    string `json:"uid"`
	Role      string `json:"role,omitempty"`
	PartnerID string `json:"pid,omitempty"`
	jwt.RegisteredClaims
}

// IsOperator reports whether the caller may act on orders as a bus operator.
func (c *AccessClaims) IsOperator() bool {
	return c.Role == RolePartner || c.Role == RoleAdmin
}

// SignAccessToken signs access token.
func SignAccessToken(secret, userID, role, partnerID string) (string, error) {
	if strings.TrimSpace(role) == "" {
		role = RoleUser
	}
	now := time.Now()
	claims := AccessClaims{
		UserID:    userID,
		Role:      role,
		PartnerID: partnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken parses access token.
func ParseAccessToken(secret string, tokenString string) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, errors.New("token missing user id")
	}
	if claims.Role == "" {
		claims.Role = RoleUser
	}
	return claims, nil
}
