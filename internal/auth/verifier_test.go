package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("super-secret-signing-key")

func signedToken(t *testing.T, secret []byte, mutate func(b *jwt.Builder)) string {
	t.Helper()

	builder := jwt.NewBuilder().
		Subject("user-42").
		IssuedAt(time.Now().Add(-time.Minute)).
		Expiration(time.Now().Add(time.Hour)).
		Claim("role", "customer")
	if mutate != nil {
		mutate(builder)
	}

	tok, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)
	return string(signed)
}

func TestVerifierExtractsClaims(t *testing.T) {
	v := Verifier{Secret: testSecret, Validator: TokenValidator{Algorithm: jwa.HS256}}

	claims, err := v.Verify(signedToken(t, testSecret, nil))
	require.NoError(t, err)
	require.Equal(t, "user-42", claims.UserID)
	require.Equal(t, "customer", claims.Role)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	v := Verifier{Secret: testSecret, Validator: TokenValidator{Algorithm: jwa.HS256}}

	_, err := v.Verify(signedToken(t, []byte("some-other-secret"), nil))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	v := Verifier{Secret: testSecret, Validator: TokenValidator{Algorithm: jwa.HS256}}

	raw := signedToken(t, testSecret, func(b *jwt.Builder) {
		b.Expiration(time.Now().Add(-time.Hour))
	})
	_, err := v.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsMissingSubject(t *testing.T) {
	v := Verifier{Secret: testSecret, Validator: TokenValidator{Algorithm: jwa.HS256}}

	raw := signedToken(t, testSecret, func(b *jwt.Builder) {
		b.Subject("")
	})
	_, err := v.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsEmptyToken(t *testing.T) {
	v := Verifier{Secret: testSecret, Validator: TokenValidator{Algorithm: jwa.HS256}}

	_, err := v.Verify("   ")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierTokenWithoutRole(t *testing.T) {
	v := Verifier{Secret: testSecret, Validator: TokenValidator{Algorithm: jwa.HS256}}

	raw := signedToken(t, testSecret, func(b *jwt.Builder) {
		b.Claim("role", nil)
	})
	claims, err := v.Verify(raw)
	require.NoError(t, err)
	require.Empty(t, claims.Role)
}
