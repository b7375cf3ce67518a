// Package auth verifies the bearer tokens presented on the websocket route.
// Tokens are issued elsewhere; Issue exists for operators and tests.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"chatrelay/backend/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator turns a token into a verified user identity.
type Authenticator interface {
	Authenticate(token string) (uint, error)
}

type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

// JWTAuthenticator accepts HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for userID valid for ttl.
func (a *JWTAuthenticator) Issue(userID uint, ttl time.Duration) (string, error) {
	if userID == 0 {
		return "", apperr.Validation("user id is required")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    a.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *JWTAuthenticator) Authenticate(tokenString string) (uint, error) {
	if tokenString == "" {
		return 0, apperr.Unauthorized("token missing")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, apperr.Unauthorized("token expired")
		}
		return 0, apperr.Unauthorized("invalid token: %v", err)
	}
	if !token.Valid || claims.UserID == 0 {
		return 0, apperr.Unauthorized("invalid token")
	}
	return claims.UserID, nil
}
