package oidc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// StartLogin begins a login flow: it generates the PKCE material and state,
// records the pending flow, and returns the provider authorization URL.
func (h *Handler) StartLogin(ctx context.Context) (*Login, error) {
	disco, err := h.discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider discovery: %w", err)
	}

	state, err := randomToken(32) // 256 bits
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	verifier, err := randomToken(96)
	if err != nil {
		return nil, fmt.Errorf("generate code verifier: %w", err)
	}
	nonce, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	challenge := codeChallenge(verifier)

	now := h.now().UTC()
	h.mu.Lock()
	for s, p := range h.pending {
		if now.Sub(p.started) > pendingTTL {
			delete(h.pending, s)
		}
	}
	h.pending[state] = pendingFlow{verifier: verifier, nonce: nonce, started: now}
	h.mu.Unlock()

	url := h.oauthConfig(disco).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("nonce", nonce),
	)
	h.logger.Debug(ctx, "login flow started", "provider", h.cfg.Provider)
	return &Login{AuthorizationURL: url, State: state}, nil
}

// Callback completes a login flow: it consumes the pending state, exchanges
// the authorization code, validates the ID token, provisions identity, and
// creates a session. The returned value is the new session ID.
func (h *Handler) Callback(ctx context.Context, code, state string) (string, error) {
	if code == "" || state == "" {
		return "", flowErr(KindCallback, "missing code or state", nil)
	}

	// State is single-use: remove it before anything else so a replayed
	// callback cannot race a second exchange.
	h.mu.Lock()
	flow, ok := h.pending[state]
	delete(h.pending, state)
	h.mu.Unlock()
	if !ok {
		return "", flowErr(KindCallback, "unknown or already-used state", nil)
	}
	if h.now().UTC().Sub(flow.started) > pendingTTL {
		return "", flowErr(KindCallback, "login flow expired", nil)
	}

	disco, err := h.discover(ctx)
	if err != nil {
		return "", flowErr(KindTokenExchange, "provider discovery", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.client)
	token, err := h.oauthConfig(disco).Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", flow.verifier),
	)
	if err != nil {
		return "", flowErr(KindTokenExchange, "exchange authorization code", err)
	}
	rawID, _ := token.Extra("id_token").(string)
	if rawID == "" {
		return "", flowErr(KindTokenExchange, "token response missing id_token", nil)
	}

	claims, err := parseIDToken(rawID)
	if err != nil {
		return "", flowErr(KindTokenValidation, "parse id token", err)
	}
	if err := validateClaims(claims, h.cfg.Issuer, h.cfg.ClientID, h.now().UTC()); err != nil {
		return "", flowErr(KindTokenValidation, "validate id token", err)
	}
	if nonce := stringClaim(claims, "nonce"); nonce != "" && nonce != flow.nonce {
		return "", flowErr(KindTokenValidation, "nonce mismatch", nil)
	}

	// Userinfo enriches the ID-token claims; a failure here never aborts
	// the flow.
	if info := h.fetchUserinfo(ctx, disco, token.AccessToken); info != nil {
		for k, v := range info {
			claims[k] = v
		}
	}

	sub := stringClaim(claims, "sub")
	email := stringClaim(claims, h.cfg.ClaimsMapping.Email)
	if sub == "" || email == "" {
		return "", flowErr(KindIdentity, "missing required sub or email claim", nil)
	}
	name := stringClaim(claims, h.cfg.ClaimsMapping.Name)
	groups := stringSliceClaim(claims, h.cfg.ClaimsMapping.Groups)

	id, err := h.sessions.Create(ctx, sub, email, name, groups, nil, h.cfg.Provider)
	if err != nil {
		return "", flowErr(KindIdentity, "create session", err)
	}
	h.logger.Info(ctx, "login completed", "user_id", sub, "provider", h.cfg.Provider)
	return id, nil
}

func (h *Handler) oauthConfig(disco *Discovery) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.cfg.ClientID,
		ClientSecret: h.cfg.ClientSecret,
		RedirectURL:  h.cfg.RedirectURI,
		Scopes:       h.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  disco.AuthorizationEndpoint,
			TokenURL: disco.TokenEndpoint,
		},
	}
}

func (h *Handler) fetchUserinfo(ctx context.Context, disco *Discovery, accessToken string) map[string]any {
	if disco.UserinfoEndpoint == "" || accessToken == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, disco.UserinfoEndpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn(ctx, "userinfo fetch failed", "err", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.logger.Warn(ctx, "userinfo fetch failed", "status", resp.StatusCode)
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		h.logger.Warn(ctx, "userinfo decode failed", "err", err)
		return nil
	}
	return info
}

// randomToken returns n bytes of cryptographic randomness encoded as an
// unpadded base64url string.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// codeChallenge derives the S256 PKCE challenge from a verifier.
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
