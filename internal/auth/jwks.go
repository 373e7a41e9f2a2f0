package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Clock returns the current time; tests inject a fake one.
type Clock func() time.Time

// JWKSCache holds the identity provider's signing keys. Keys are refetched
// when the cached set is older than ttl, or when a token names an unknown
// kid (at most once per minRefresh while the set is still fresh).
type JWKSCache struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	now        Clock
	http       *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

type Option func(*JWKSCache)

func WithClock(clock Clock) Option {
	return func(c *JWKSCache) { c.now = clock }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *JWKSCache) { c.http = client }
}

func WithMinRefreshInterval(d time.Duration) Option {
	return func(c *JWKSCache) { c.minRefresh = d }
}

// NewJWKSCache creates an empty cache; the first lookup fetches the key set.
func NewJWKSCache(url string, ttl time.Duration, opts ...Option) *JWKSCache {
	c := &JWKSCache{
		url:        url,
		ttl:        ttl,
		minRefresh: 30 * time.Second,
		now:        time.Now,
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: util.GetLogger(),
		keys:   map[string]*rsa.PublicKey{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key, known := c.keys[kid]
	if known && c.freshLocked(now) {
		return key, nil
	}
	if !known && c.freshLocked(now) && now.Sub(c.lastAttempt) < c.minRefresh {
		return nil, fmt.Errorf("%w: unknown signing key %q", models.ErrUnauthorized, kid)
	}

	c.lastAttempt = now
	keys, err := c.fetch(ctx)
	if err != nil {
		if known {
			// provider down: keep serving the key we already trust
			c.logger.Warn("JWKS refresh failed, serving stale key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	c.keys = keys
	c.fetchedAt = now

	key, known = c.keys[kid]
	if !known {
		return nil, fmt.Errorf("%w: unknown signing key %q", models.ErrUnauthorized, kid)
	}
	return key, nil
}

// Invalidate drops the cached set so the next lookup refetches it.
func (c *JWKSCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
	c.lastAttempt = time.Time{}
}

func (c *JWKSCache) freshLocked(now time.Time) bool {
	return !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < c.ttl
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

func (c *JWKSCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			c.logger.Warn("Skipping malformed JWK", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}
	c.logger.Debug("JWKS refreshed", zap.Int("keys", len(keys)))
	return keys, nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
