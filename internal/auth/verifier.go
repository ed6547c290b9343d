package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

// Claims is the identity extracted from a verified bearer token.
type Claims struct {
	Subject string
	Email   string
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// KeyCache holds the identity provider's public keys. Keys are fetched once
// per process and reused; there is no invalidation beyond process lifetime.
// The fetch function is injected so tests can supply keys directly, and
// Reset lets tests start from a cold cache.
type KeyCache struct {
	mu     sync.Mutex
	keys   map[string]*rsa.PublicKey
	loaded bool
	fetch  FetchFunc
}

// FetchFunc retrieves the key set, keyed by kid.
type FetchFunc func(ctx context.Context) (map[string]*rsa.PublicKey, error)

func NewKeyCache(fetch FetchFunc) *KeyCache {
	return &KeyCache{fetch: fetch}
}

// Get returns the public key for kid, loading the key set on first use.
func (c *KeyCache) Get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching key set: %w", err)
		}
		c.keys = keys
		c.loaded = true
	}

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("public key %q not found in key set", kid)
	}
	return key, nil
}

// Reset discards cached keys so the next Get fetches again.
func (c *KeyCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
	c.loaded = false
}

// Verifier validates RS256 bearer tokens against the cached key set.
type Verifier struct {
	cache    *KeyCache
	audience string
	issuer   string
	now      func() time.Time
	devMode  bool
}

type VerifierOption func(*Verifier)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithDevMode short-circuits verification with a fixed test identity.
func WithDevMode() VerifierOption {
	return func(v *Verifier) { v.devMode = true }
}

func NewVerifier(cache *KeyCache, audience, issuer string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		cache:    cache,
		audience: audience,
		issuer:   issuer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the raw token and returns its claims. All failures map to
// domain.ErrUnauthorized; the underlying cause is wrapped for logging.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	if v.devMode {
		return &Claims{Subject: "test-user-id", Email: "test@example.com"}, nil
	}

	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty token", domain.ErrUnauthorized)
	}

	claims := &tokenClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header missing kid")
		}
		return v.cache.Get(ctx, kid)
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	return &Claims{Subject: claims.Subject, Email: claims.Email}, nil
}
