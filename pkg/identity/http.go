package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yosida95/uritemplate/v3"
)

const (
	// defaultProviderTimeout bounds every round trip to the provider.
	defaultProviderTimeout = 5 * time.Second

	// metadataCacheTTL is how long discovered provider metadata is reused.
	metadataCacheTTL = 1 * time.Hour

	// defaultRemediationTemplate builds the login URL from the discovered
	// authorization endpoint and the configured client id.
	defaultRemediationTemplate = "{+endpoint}{?client_id}"
)

// HTTPConfig configures the HTTP identity provider client.
type HTTPConfig struct {
	// Issuer is the provider's issuer URL, used for metadata discovery.
	Issuer string

	// IntrospectionEndpoint overrides the discovered introspection endpoint.
	IntrospectionEndpoint string

	// AuthorizationEndpoint overrides the discovered authorization endpoint.
	AuthorizationEndpoint string

	// ClientID identifies this bridge to the provider and is embedded in
	// remediation URLs.
	ClientID string

	// ClientSecret authenticates introspection calls (HTTP basic auth).
	ClientSecret string

	// RemediationTemplate is a URI template expanded with "endpoint" and
	// "client_id" variables. Defaults to the authorization endpoint with a
	// client_id query parameter.
	RemediationTemplate string

	// Timeout bounds each provider round trip. Defaults to 5s.
	Timeout time.Duration
}

// HTTPProvider validates credentials via RFC 7662-style token introspection
// and derives remediation URLs from the provider's discovery metadata.
// Introspection holds no internal lock while the round trip is in flight.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client

	mu   sync.RWMutex
	meta *metadataCache
}

type metadataCache struct {
	introspection string
	authorization string
	expiresAt     time.Time
}

// providerMetadata is the subset of the discovery document the bridge uses.
type providerMetadata struct {
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
}

// NewHTTPProvider creates an HTTP identity provider client.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.Issuer == "" && (cfg.IntrospectionEndpoint == "" || cfg.AuthorizationEndpoint == "") {
		return nil, fmt.Errorf("identity provider issuer is required when endpoints are not configured")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultProviderTimeout
	}
	if cfg.RemediationTemplate == "" {
		cfg.RemediationTemplate = defaultRemediationTemplate
	}

	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Introspect validates a bearer credential against the provider.
func (p *HTTPProvider) Introspect(ctx context.Context, credential string) (*Introspection, error) {
	endpoint, err := p.introspectionEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{"token": {credential}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.cfg.ClientID != "" {
		req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: introspection: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: introspection returned %d", ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Active   bool   `json:"active"`
		Sub      string `json:"sub"`
		Username string `json:"username"`
		Scope    string `json:"scope"`
		Exp      int64  `json:"exp"`
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parsing introspection response: %w", err)
	}

	result := &Introspection{
		Active:   body.Active,
		Identity: body.Sub,
		ClientID: body.ClientID,
	}
	if result.Identity == "" {
		result.Identity = body.Username
	}
	if body.Scope != "" {
		result.Scopes = strings.Fields(body.Scope)
	}
	if body.Exp > 0 {
		result.ExpiresAt = time.Unix(body.Exp, 0)
	}
	return result, nil
}

// RemediationURL builds the login URL from provider metadata.
func (p *HTTPProvider) RemediationURL(ctx context.Context) (string, error) {
	endpoint := p.cfg.AuthorizationEndpoint
	if endpoint == "" {
		meta, err := p.metadata(ctx)
		if err != nil {
			return "", err
		}
		endpoint = meta.authorization
	}
	if endpoint == "" {
		return "", fmt.Errorf("%w: no authorization endpoint in provider metadata", ErrUnavailable)
	}

	tmpl, err := uritemplate.New(p.cfg.RemediationTemplate)
	if err != nil {
		return "", fmt.Errorf("invalid remediation template %q: %w", p.cfg.RemediationTemplate, err)
	}
	return tmpl.Expand(uritemplate.Values{
		"endpoint":  uritemplate.String(endpoint),
		"client_id": uritemplate.String(p.cfg.ClientID),
	})
}

// introspectionEndpoint resolves the introspection endpoint, discovering
// provider metadata when it is not configured.
func (p *HTTPProvider) introspectionEndpoint(ctx context.Context) (string, error) {
	if p.cfg.IntrospectionEndpoint != "" {
		return p.cfg.IntrospectionEndpoint, nil
	}
	meta, err := p.metadata(ctx)
	if err != nil {
		return "", err
	}
	if meta.introspection == "" {
		return "", fmt.Errorf("%w: no introspection endpoint in provider metadata", ErrUnavailable)
	}
	return meta.introspection, nil
}

// metadata returns cached discovery metadata, refreshing it when stale.
func (p *HTTPProvider) metadata(ctx context.Context) (*metadataCache, error) {
	p.mu.RLock()
	cached := p.meta
	p.mu.RUnlock()

	if cached != nil && time.Now().Before(cached.expiresAt) {
		return cached, nil
	}

	discoveryURL := strings.TrimSuffix(p.cfg.Issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating discovery request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: discovery returned %d", ErrUnavailable, resp.StatusCode)
	}

	var doc providerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing discovery document: %w", err)
	}

	fresh := &metadataCache{
		introspection: doc.IntrospectionEndpoint,
		authorization: doc.AuthorizationEndpoint,
		expiresAt:     time.Now().Add(metadataCacheTTL),
	}

	p.mu.Lock()
	p.meta = fresh
	p.mu.Unlock()

	return fresh, nil
}

// Verify interface compliance.
var _ Provider = (*HTTPProvider)(nil)
