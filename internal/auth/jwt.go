package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gurssagar/finalicp-sub006/internal/models"
)

const issuer = "escrow-settlement"

type Claims struct {
	Principal models.Principal `json:"principal"`
	jwt.RegisteredClaims
}

// GenerateJWT issues a token that identifies principal as the caller.
// expiration <= 0 means 24h.
func GenerateJWT(secret string, principal models.Principal, expiration time.Duration) (string, error) {
	if principal.IsZero() {
		return "", fmt.Errorf("empty principal")
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	claims := Claims{
		Principal: principal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if _, err := models.ParsePrincipal(claims.Principal.String()); err != nil {
		return nil, fmt.Errorf("invalid principal claim: %w", err)
	}
	return claims, nil
}
