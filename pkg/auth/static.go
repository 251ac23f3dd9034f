package auth

import (
	"context"
	"net/http"
)

// DefaultAPIKeyHeader is the header an API key is sent in when none is configured
const DefaultAPIKeyHeader = "X-API-Key"

// BearerProvider sends a static bearer token.
type BearerProvider struct {
	token string
}

// NewBearerProvider creates a provider for a long-lived token
func NewBearerProvider(token string) *BearerProvider {
	return &BearerProvider{token: token}
}

// Apply implements CredentialProvider
func (p *BearerProvider) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+p.token)
	return nil
}

// Headers implements CredentialProvider
func (p *BearerProvider) Headers(context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.token)
	return h, nil
}

// Type implements CredentialProvider
func (p *BearerProvider) Type() string {
	return "bearer"
}

// APIKeyProvider sends an API key in a header.
type APIKeyProvider struct {
	key    string
	header string
}

// NewAPIKeyProvider creates an API key provider. An empty header selects
// DefaultAPIKeyHeader.
func NewAPIKeyProvider(key, header string) *APIKeyProvider {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyProvider{key: key, header: header}
}

// Apply implements CredentialProvider
func (p *APIKeyProvider) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set(p.header, p.key)
	return nil
}

// Headers implements CredentialProvider
func (p *APIKeyProvider) Headers(context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set(p.header, p.key)
	return h, nil
}

// Type implements CredentialProvider
func (p *APIKeyProvider) Type() string {
	return "apikey"
}
