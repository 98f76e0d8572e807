package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSignVerifyRoundTrip(t *testing.T) {
	svc, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)

	signed, err := svc.Sign("sid-1")
	require.NoError(t, err)

	claims, err := svc.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "sid-1", claims.Sid)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc, err := NewService(Config{Secret: testSecret, Duration: -time.Minute})
	require.NoError(t, err)

	signed, err := svc.Sign("sid-1")
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)
	other, err := NewService(Config{Secret: "another-secret-another-secret-32"})
	require.NoError(t, err)

	signed, err := svc.Sign("sid-1")
	require.NoError(t, err)

	_, err = other.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		_, err := svc.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Config{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}
