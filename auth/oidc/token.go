package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// parseIDToken splits and decodes a compact JWT, returning its claims.
// The token is structurally validated only; claim checks live in
// validateClaims.
//
// TODO: verify the token signature against the provider JWKS (the jwks_uri
// is already cached in the discovery document).
func parseIDToken(raw string) (map[string]any, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token has %d segments, want 3", len(parts))
	}
	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if header.Alg == "" {
		return nil, fmt.Errorf("header missing alg")
	}
	payloadJSON, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return claims, nil
}

// decodeSegment decodes a base64url JWT segment, tolerating missing padding.
func decodeSegment(seg string) ([]byte, error) {
	if pad := len(seg) % 4; pad != 0 {
		seg += strings.Repeat("=", 4-pad)
	}
	return base64.URLEncoding.DecodeString(seg)
}

// validateClaims enforces the temporal and audience checks on an ID token:
// exp > now, nbf <= now when present, iss matches the configured issuer, and
// aud contains the configured client ID.
func validateClaims(claims map[string]any, issuer, clientID string, now time.Time) error {
	exp, ok := numericClaim(claims, "exp")
	if !ok {
		return fmt.Errorf("missing exp claim")
	}
	if !now.Before(time.Unix(exp, 0)) {
		return fmt.Errorf("token expired at %s", time.Unix(exp, 0).UTC().Format(time.RFC3339))
	}
	if nbf, ok := numericClaim(claims, "nbf"); ok && now.Before(time.Unix(nbf, 0)) {
		return fmt.Errorf("token not valid before %s", time.Unix(nbf, 0).UTC().Format(time.RFC3339))
	}
	if iss, _ := claims["iss"].(string); iss != issuer {
		return fmt.Errorf("issuer %q does not match %q", iss, issuer)
	}
	if !audienceContains(claims["aud"], clientID) {
		return fmt.Errorf("audience does not include client %q", clientID)
	}
	return nil
}

func numericClaim(claims map[string]any, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// audienceContains handles the two legal aud shapes: a single string or an
// array of strings.
func audienceContains(aud any, clientID string) bool {
	switch v := aud.(type) {
	case string:
		return v == clientID
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok && s == clientID {
				return true
			}
		}
	}
	return false
}

// stringClaim returns the named claim as a string, or "" when absent or not
// a string.
func stringClaim(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

// stringSliceClaim returns the named claim as a string slice, accepting
// either an array of strings or a single string.
func stringSliceClaim(claims map[string]any, name string) []string {
	switch v := claims[name].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
