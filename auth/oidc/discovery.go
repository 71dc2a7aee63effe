package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Discovery is the subset of the provider discovery document the flow needs.
type Discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// discover returns the provider discovery document, fetching and caching it
// on first use. The cache lives for the process lifetime; RefreshDiscovery
// forces a refetch.
func (h *Handler) discover(ctx context.Context) (*Discovery, error) {
	h.mu.Lock()
	cached := h.disco
	h.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	url := h.cfg.DiscoveryURL
	if url == "" {
		url = strings.TrimSuffix(h.cfg.Issuer, "/") + "/.well-known/openid-configuration"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch discovery document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch discovery document: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read discovery document: %w", err)
	}
	var doc Discovery
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing endpoints")
	}

	h.mu.Lock()
	h.disco = &doc
	h.mu.Unlock()
	h.logger.Info(ctx, "oidc discovery cached", "issuer", doc.Issuer)
	return &doc, nil
}

// RefreshDiscovery drops the cached discovery document so the next flow
// refetches it.
func (h *Handler) RefreshDiscovery() {
	h.mu.Lock()
	h.disco = nil
	h.mu.Unlock()
}
