package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestAuthService_TokenRoundTrip(t *testing.T) {
	s := NewAuthService(nil, nil, "test-secret")

	token, err := s.TokenFor("user-123")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	userID, err := s.GetUserFromToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestAuthService_WrongSecret(t *testing.T) {
	s := NewAuthService(nil, nil, "test-secret")
	other := NewAuthService(nil, nil, "different-secret")

	token, err := s.TokenFor("user-123")
	assert.NoError(t, err)

	_, err = other.GetUserFromToken(token)
	assert.Error(t, err)
}

func TestAuthService_ExpiredToken(t *testing.T) {
	s := NewAuthService(nil, nil, "test-secret")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-123",
		"exp":     int64(1000000000), // long past
	})
	tokenString, err := expired.SignedString(s.Secret)
	assert.NoError(t, err)

	_, err = s.GetUserFromToken(tokenString)
	assert.Error(t, err)
}

func TestAuthService_MissingClaim(t *testing.T) {
	s := NewAuthService(nil, nil, "test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{})
	tokenString, err := token.SignedString(s.Secret)
	assert.NoError(t, err)

	_, err = s.GetUserFromToken(tokenString)
	assert.Error(t, err)
}

func TestAuthService_GarbageToken(t *testing.T) {
	s := NewAuthService(nil, nil, "test-secret")

	_, err := s.GetUserFromToken("not.a.token")
	assert.Error(t, err)
}
