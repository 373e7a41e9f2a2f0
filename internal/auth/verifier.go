package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// KeySource resolves a signing key by its kid header.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Verifier validates RS256 bearer tokens issued by the identity provider.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
	now      Clock
	leeway   time.Duration
}

// NewVerifier rejects an empty issuer or audience: both are always checked.
func NewVerifier(keys KeySource, issuer, audience string) (*Verifier, error) {
	switch {
	case keys == nil:
		return nil, errors.New("auth: key source is required")
	case issuer == "":
		return nil, errors.New("auth: issuer is required")
	case audience == "":
		return nil, errors.New("auth: audience is required")
	}
	return &Verifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
		leeway:   30 * time.Second,
	}, nil
}

// WithVerifierClock replaces the clock used for exp/nbf checks.
func (v *Verifier) WithVerifierClock(clock Clock) *Verifier {
	v.now = clock
	return v
}

// Verify checks signature, issuer, audience and expiry and returns the token subject.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	if v.issuer == "" || v.audience == "" {
		return "", fmt.Errorf("%w: verifier not configured", models.ErrUnauthorized)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return v.keys.Key(ctx, kid)
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", models.ErrUnauthorized)
	}
	return claims.Subject, nil
}
