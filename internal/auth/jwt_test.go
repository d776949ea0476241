package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(Config{SigningKey: "test-secret", TokenTTL: time.Hour})
	require.NoError(t, err)
	return m
}

func TestGenerateAndValidate(t *testing.T) {
	m := newManager(t)
	token, err := m.Generate("user-42", "ada")
	require.NoError(t, err)

	uc, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", uc.UserID)
	assert.Equal(t, "ada", uc.Username)
	assert.WithinDuration(t, time.Now().Add(time.Hour), uc.Expires, 5*time.Second)
}

func TestValidateRejects(t *testing.T) {
	m := newManager(t)

	other, err := NewJWTManager(Config{SigningKey: "other-secret"})
	require.NoError(t, err)
	foreign, err := other.Generate("user-1", "")
	require.NoError(t, err)
	_, err = m.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	wrongIssuer, err := NewJWTManager(Config{SigningKey: "test-secret", Issuer: "someone-else"})
	require.NoError(t, err)
	tok, err := wrongIssuer.Generate("user-1", "")
	require.NoError(t, err)
	_, err = m.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	s, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = m.Validate(s)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	_, err = m.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRequest(t *testing.T) {
	m := newManager(t)
	token, err := m.Generate("user-7", "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	uc, err := m.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-7", uc.UserID)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	uc, err = m.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "user-7", uc.UserID)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err = m.Authenticate(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Basic abc")
	_, err = m.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTManagerRequiresKey(t *testing.T) {
	_, err := NewJWTManager(Config{})
	assert.Error(t, err)
}
