package server

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"reaper/internal/game"
)

// Authenticator resolves the user behind an envelope token. Tokens are
// HS256 JWTs whose subject is the user id. Without a secret the token is
// taken as the user id itself, which only local runs allow.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Authenticate(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", fmt.Errorf("%w: missing token", game.ErrUnauthorized)
	}
	if len(a.secret) == 0 {
		return tokenStr, nil
	}

	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected token signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", game.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", game.ErrUnauthorized)
	}
	return claims.Subject, nil
}
