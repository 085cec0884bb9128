// Package identity resolves the visitor behind each request to the stable
// key usage is tracked under: an authenticated account when a valid bearer
// token is present, or a durable anonymous token otherwise. Credentials
// themselves live in the external identity provider; this package only ever
// verifies.
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"arcana/internal/types"
)

// JWTVerifier validates bearer tokens issued by the identity provider.
// Tokens are HS256 JWTs signed with a shared secret; any other signing
// method is rejected outright to rule out algorithm-confusion forgeries.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the given shared secret.
func NewJWTVerifier(secret types.SecretString) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret.Unmask())}
}

// providerClaims is the subset of the identity provider's token claims the
// backend cares about.
type providerClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ResolveToken verifies the token signature and expiry and returns the
// account Actor. Error codes distinguish expired tokens from otherwise
// invalid ones so the middleware can report them separately.
func (v *JWTVerifier) ResolveToken(token string) (*types.Actor, error) {
	var claims providerClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "authentication token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid authentication token", err)
	}

	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}

	return &types.Actor{
		ID:    claims.Subject,
		Email: claims.Email,
	}, nil
}
