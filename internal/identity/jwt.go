package identity

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a bearer token issued by the identity provider and
// returns the actor id it was issued for.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

var ErrInvalidToken = errors.New("invalid token")

// JWTVerifier validates HS256 tokens carrying the actor id in the sub claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a JWTVerifier for the shared secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

var _ Verifier = (*JWTVerifier)(nil)

// Verify parses and validates the token and extracts the subject.
func (v *JWTVerifier) Verify(_ context.Context, tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
