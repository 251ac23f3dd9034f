package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTConfig configures the JWT provider
type JWTConfig struct {
	// Secret is the HS256 signing key
	Secret []byte

	// Issuer, Audience and Subject populate the registered claims
	Issuer   string
	Audience string
	Subject  string

	// TTL is the lifetime of each minted token (default: 5 minutes)
	TTL time.Duration

	// RefreshThreshold re-mints a token when less than this remains (default: TTL/5)
	RefreshThreshold time.Duration

	// Now overrides the clock, for tests
	Now func() time.Time
}

// JWTProvider mints short-lived HS256 tokens and sends them as bearer
// credentials. A token is reused until it nears expiry.
type JWTProvider struct {
	cfg JWTConfig

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewJWTProvider creates a JWT provider
func NewJWTProvider(config *JWTConfig) *JWTProvider {
	cfg := *config
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.RefreshThreshold <= 0 || cfg.RefreshThreshold >= cfg.TTL {
		cfg.RefreshThreshold = cfg.TTL / 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JWTProvider{cfg: cfg}
}

// Token returns a valid signed token, minting a new one when needed.
func (p *JWTProvider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now()
	if p.token != "" && p.expiresAt.Sub(now) > p.cfg.RefreshThreshold {
		return p.token, nil
	}

	expiresAt := now.Add(p.cfg.TTL)
	claims := jwt.RegisteredClaims{
		Issuer:    p.cfg.Issuer,
		Subject:   p.cfg.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	if p.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{p.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	p.token = signed
	p.expiresAt = expiresAt
	return signed, nil
}

// Apply implements CredentialProvider
func (p *JWTProvider) Apply(_ context.Context, req *http.Request) error {
	token, err := p.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Headers implements CredentialProvider
func (p *JWTProvider) Headers(context.Context) (http.Header, error) {
	token, err := p.Token()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

// Type implements CredentialProvider
func (p *JWTProvider) Type() string {
	return "jwt"
}
