package server

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reaper/internal/game"
)

func signToken(t *testing.T, method jwt.SigningMethod, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthenticate(t *testing.T) {
	secret := []byte("test-secret")
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		secret  string
		token   string
		want    string
		wantErr bool
	}{
		{
			name:   "valid token",
			secret: string(secret),
			token:  signToken(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future}),
			want:   "alice",
		},
		{
			name:    "wrong secret",
			secret:  string(secret),
			token:   signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future}),
			wantErr: true,
		},
		{
			name:    "expired",
			secret:  string(secret),
			token:   signToken(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: past}),
			wantErr: true,
		},
		{
			name:    "other hmac algorithm",
			secret:  string(secret),
			token:   signToken(t, jwt.SigningMethodHS512, secret, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future}),
			wantErr: true,
		},
		{
			name:    "missing subject",
			secret:  string(secret),
			token:   signToken(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{ExpiresAt: future}),
			wantErr: true,
		},
		{
			name:    "garbage",
			secret:  string(secret),
			token:   "not.a.jwt",
			wantErr: true,
		},
		{
			name:    "empty token",
			secret:  string(secret),
			wantErr: true,
		},
		{
			name:  "no secret uses token as user",
			token: "bob",
			want:  "bob",
		},
		{
			name:    "no secret still needs a token",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewAuthenticator(tt.secret).Authenticate(tt.token)
			if tt.wantErr {
				if !errors.Is(err, game.ErrUnauthorized) {
					t.Fatalf("Authenticate() error = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %q, want %q", got, tt.want)
			}
		})
	}
}
