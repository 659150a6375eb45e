package service

import (
	"context"
	"testing"
	"time"

	"stockbridge/internal/config"
	"stockbridge/internal/dto/req"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RejectsUnknownOperator(t *testing.T) {
	svc := NewAuthService(nil, config.AuthConfig{
		JWTSecret: "s",
		Operators: []config.OperatorAccount{{Username: "ana", Password: "pw"}},
	})

	_, err := svc.Login(context.Background(), req.LoginReq{Username: "ana", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), req.LoginReq{Username: "bob", Password: "pw"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	op, ok := svc.findOperator("ana", "pw")
	require.True(t, ok)
	assert.Equal(t, "operator", op.Role, "role defaults to operator")
}

func TestParseToken(t *testing.T) {
	secret := []byte("s3cret")
	sign := func(method jwt.SigningMethod, key any, issuer string) string {
		tok, err := jwt.NewWithClaims(method, UserClaims{
			UserID: "ana", Username: "ana", Role: "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}).SignedString(key)
		require.NoError(t, err)
		return tok
	}

	claims, err := ParseToken(secret, sign(jwt.SigningMethodHS256, secret, Issuer))
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)

	_, err = ParseToken(secret, sign(jwt.SigningMethodHS512, secret, Issuer))
	assert.ErrorIs(t, err, ErrTokenInvalid, "only HS256 is accepted")

	_, err = ParseToken(secret, sign(jwt.SigningMethodHS256, secret, "other"))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = ParseToken(secret, "not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
