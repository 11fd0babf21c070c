package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrInvalidToken covers every token rejection; callers do not learn which
// check failed.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the subset of token claims the service acts on. Identity
// management lives elsewhere; this service only verifies what the gateway
// minted.
type Claims struct {
	UserID string
	Role   string
}

// Verifier parses and validates HS256 bearer tokens.
type Verifier struct {
	Secret    []byte
	Validator TokenValidator
	Now       func() time.Time
}

// Verify parses the raw token, checks its signature and registered claims,
// and extracts the subject and role.
func (v Verifier) Verify(raw string) (Claims, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(v.Secret) == 0 {
		return Claims{}, ErrInvalidToken
	}
	tok, err := jwt.Parse([]byte(trimmed),
		jwt.WithKey(jwa.HS256, v.Secret),
		jwt.WithValidate(false),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := v.Validator.Validate(tok, jwa.HS256, v.now()); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims := Claims{UserID: tok.Subject()}
	if role, ok := tok.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}
	if claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
