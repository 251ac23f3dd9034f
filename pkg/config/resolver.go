package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
)

// BuiltinScheme marks a locally satisfied server that never opens a socket
const BuiltinScheme = "builtin"

// Mode selects how tools on a server are invoked
type Mode string

const (
	// ModeHTTP calls POST {base}/execute per invocation
	ModeHTTP Mode = "http"
	// ModeRPC sends JSON-RPC tools/call over the persistent socket
	ModeRPC Mode = "rpc"
)

// Credentials are the outbound secrets configured for a server
type Credentials struct {
	Token        string
	APIKey       string
	APIKeyHeader string
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	JWTTTL       time.Duration
}

// Empty reports whether no credential is configured
func (c Credentials) Empty() bool {
	return c.Token == "" && c.APIKey == "" && c.JWTSecret == ""
}

// ServerDescriptor is the resolved, validated connection parameters of one
// server. The Endpoint is never empty.
type ServerDescriptor struct {
	ID          string
	Endpoint    string
	HTTPBaseURL string
	Timeout     time.Duration
	MaxRetries  int
	Mode        Mode
	Credentials Credentials
	// Fallback is set when the endpoint came from the relaxed-mode default.
	Fallback bool
}

// Builtin reports whether the server is satisfied in-process
func (d ServerDescriptor) Builtin() bool {
	return strings.HasPrefix(d.Endpoint, BuiltinScheme+"://")
}

// Push reports whether tools are invoked over the persistent socket
func (d ServerDescriptor) Push() bool {
	return d.Mode == ModeRPC
}

// Resolver reads per-server settings. Keys are servers.<id>.<field> in the
// config file or TOOLMESH_SERVERS_<ID>_<FIELD> in the environment.
type Resolver struct {
	v       *viper.Viper
	strict  bool
	environ func() []string
}

// NewResolver creates a resolver over v
func NewResolver(v *viper.Viper, strict bool) *Resolver {
	return &Resolver{v: v, strict: strict, environ: os.Environ}
}

// Strict reports whether the relaxed-mode fallback is disabled
func (r *Resolver) Strict() bool {
	return r.strict
}

func serverKey(id, field string) string {
	return "servers." + strings.ToLower(id) + "." + field
}

func (r *Resolver) str(id, field string) string {
	return strings.TrimSpace(r.v.GetString(serverKey(id, field)))
}

// Resolve returns the descriptor for id, or false when the server must not
// be contacted: it has no endpoint in strict mode or its endpoint is invalid.
func (r *Resolver) Resolve(id string) (ServerDescriptor, bool) {
	d, err := r.ResolveStrict(id)
	return d, err == nil
}

// ResolveStrict is Resolve with the reason for absence. The error is a
// server_unavailable ToolError.
func (r *Resolver) ResolveStrict(id string) (ServerDescriptor, error) {
	if strings.TrimSpace(id) == "" {
		return ServerDescriptor{}, mcperrors.InvalidConfig("server id", "must not be empty")
	}

	endpoint := r.str(id, "endpoint")
	httpURL := strings.TrimRight(r.str(id, "http_url"), "/")
	fallback := false

	if endpoint == "" && httpURL == "" {
		if r.strict {
			return ServerDescriptor{}, mcperrors.ServerNotConfigured(id)
		}
		port := r.v.GetInt(serverKey(id, "dev_port"))
		if port <= 0 {
			port = DefaultDevPort
		}
		endpoint = "ws://127.0.0.1:" + strconv.Itoa(port)
		fallback = true
	}

	// An http(s) endpoint is the execution base; the socket URL is derived.
	if scheme := schemeOf(endpoint); scheme == "http" || scheme == "https" {
		if httpURL == "" {
			httpURL = strings.TrimRight(endpoint, "/")
		}
		endpoint = ""
	}

	if endpoint == "" {
		derived, ok := substituteScheme(httpURL, map[string]string{"http": "ws", "https": "wss"})
		if !ok {
			return ServerDescriptor{}, mcperrors.InvalidConfig(serverKey(id, "http_url"),
				fmt.Sprintf("unsupported URL %q", redactURL(httpURL)))
		}
		endpoint = derived
	}

	switch schemeOf(endpoint) {
	case "ws", "wss":
		if httpURL == "" {
			httpURL, _ = substituteScheme(strings.TrimRight(endpoint, "/"), map[string]string{"ws": "http", "wss": "https"})
		}
	case BuiltinScheme:
	default:
		return ServerDescriptor{}, mcperrors.InvalidConfig(serverKey(id, "endpoint"),
			fmt.Sprintf("unsupported scheme in %q (want ws, wss, http, https or builtin)", redactURL(endpoint)))
	}

	if httpURL != "" {
		if s := schemeOf(httpURL); s != "http" && s != "https" {
			return ServerDescriptor{}, mcperrors.InvalidConfig(serverKey(id, "http_url"),
				fmt.Sprintf("unsupported scheme in %q", redactURL(httpURL)))
		}
	}

	timeout := r.v.GetDuration(serverKey(id, "timeout"))
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := r.v.GetInt(serverKey(id, "max_retries"))
	if retries < 0 {
		return ServerDescriptor{}, mcperrors.InvalidConfig(serverKey(id, "max_retries"), "must not be negative")
	}

	mode := Mode(strings.ToLower(r.str(id, "mode")))
	switch mode {
	case "":
		mode = ModeHTTP
	case ModeHTTP, ModeRPC:
	default:
		return ServerDescriptor{}, mcperrors.InvalidConfig(serverKey(id, "mode"),
			fmt.Sprintf("must be http or rpc, got %q", mode))
	}

	return ServerDescriptor{
		ID:          id,
		Endpoint:    endpoint,
		HTTPBaseURL: httpURL,
		Timeout:     timeout,
		MaxRetries:  retries,
		Mode:        mode,
		Credentials: Credentials{
			Token:        r.str(id, "token"),
			APIKey:       r.str(id, "api_key"),
			APIKeyHeader: r.str(id, "api_key_header"),
			JWTSecret:    r.str(id, "jwt_secret"),
			JWTIssuer:    r.str(id, "jwt_issuer"),
			JWTAudience:  r.str(id, "jwt_audience"),
			JWTTTL:       r.v.GetDuration(serverKey(id, "jwt_ttl")),
		},
		Fallback: fallback,
	}, nil
}

// envFields are the per-server environment suffixes that declare a server.
var envFields = []string{"_ENDPOINT", "_HTTP_URL"}

// ServerIDs returns every declared server id, sorted. A server is declared
// by a servers.<id> entry in the config file or by an endpoint variable in
// the environment. Declared servers may still be unconfigured.
func (r *Resolver) ServerIDs() []string {
	seen := make(map[string]struct{})
	for id := range r.v.GetStringMap("servers") {
		seen[strings.ToLower(id)] = struct{}{}
	}

	prefix := EnvPrefix + "_SERVERS_"
	for _, kv := range r.environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		for _, suffix := range envFields {
			if id, found := strings.CutSuffix(rest, suffix); found && id != "" {
				seen[strings.ToLower(id)] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func schemeOf(raw string) string {
	scheme, _, ok := strings.Cut(raw, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

func substituteScheme(raw string, mapping map[string]string) (string, bool) {
	scheme := schemeOf(raw)
	to, ok := mapping[scheme]
	if !ok {
		return "", false
	}
	return to + raw[len(scheme):], true
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
