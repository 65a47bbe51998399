package adminapi

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("adminapi: invalid token")
	ErrExpiredToken = errors.New("adminapi: token has expired")
)

// Claims is the payload of an admin API access token. There is no user
// database behind this service: a token simply grants whoever holds it
// read access to the reports of this one pps-probe server (/metrics needs
// no token).
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 admin API tokens.
type TokenIssuer struct {
	secret []byte
	expire time.Duration
	issuer string
}

// NewTokenIssuer builds a TokenIssuer. expire of zero defaults to 1 hour.
func NewTokenIssuer(secret string, expire time.Duration, issuer string) *TokenIssuer {
	if expire <= 0 {
		expire = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), expire: expire, issuer: issuer}
}

// Issue mints a new signed token for the given subject (an operator name
// or API-key identifier, not a pps-probe domain concept).
func (i *TokenIssuer) Issue(subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expire)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify checks a token's signature and expiry and returns its claims.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
