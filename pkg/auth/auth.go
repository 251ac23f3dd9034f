// Package auth attaches outbound credentials to requests sent to tool
// servers. Providers are built from a server's configured credentials and
// applied to every HTTP call and WebSocket dial for that server.
package auth

import (
	"context"
	"net/http"

	"github.com/ajitpratap0/toolmesh/pkg/config"
)

// CredentialProvider adds credentials to an outbound request.
type CredentialProvider interface {
	// Apply sets authentication headers on req.
	Apply(ctx context.Context, req *http.Request) error

	// Headers returns the same credentials as a header set, for transports
	// that take headers up front such as a WebSocket dial.
	Headers(ctx context.Context) (http.Header, error)

	// Type returns the credential type identifier (e.g., "bearer", "apikey", "jwt").
	Type() string
}

// Chain applies several providers in order
type Chain []CredentialProvider

// Apply implements CredentialProvider
func (c Chain) Apply(ctx context.Context, req *http.Request) error {
	for _, p := range c {
		if err := p.Apply(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// Headers implements CredentialProvider
func (c Chain) Headers(ctx context.Context) (http.Header, error) {
	out := http.Header{}
	for _, p := range c {
		h, err := p.Headers(ctx)
		if err != nil {
			return nil, err
		}
		for k, vs := range h {
			for _, v := range vs {
				out.Add(k, v)
			}
		}
	}
	return out, nil
}

// Type implements CredentialProvider
func (c Chain) Type() string {
	return "chain"
}

// None is a provider that adds nothing
type None struct{}

// Apply implements CredentialProvider
func (None) Apply(context.Context, *http.Request) error { return nil }

// Headers implements CredentialProvider
func (None) Headers(context.Context) (http.Header, error) { return http.Header{}, nil }

// Type implements CredentialProvider
func (None) Type() string { return "none" }

// FromCredentials builds the provider for a server's configured credentials.
// A JWT secret takes precedence over a static token; an API key is sent
// alongside either.
func FromCredentials(serverID string, creds config.Credentials) CredentialProvider {
	var chain Chain
	switch {
	case creds.JWTSecret != "":
		chain = append(chain, NewJWTProvider(&JWTConfig{
			Secret:   []byte(creds.JWTSecret),
			Issuer:   creds.JWTIssuer,
			Audience: creds.JWTAudience,
			Subject:  serverID,
			TTL:      creds.JWTTTL,
		}))
	case creds.Token != "":
		chain = append(chain, NewBearerProvider(creds.Token))
	}
	if creds.APIKey != "" {
		chain = append(chain, NewAPIKeyProvider(creds.APIKey, creds.APIKeyHeader))
	}

	switch len(chain) {
	case 0:
		return None{}
	case 1:
		return chain[0]
	default:
		return chain
	}
}
