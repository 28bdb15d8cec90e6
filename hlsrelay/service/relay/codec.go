package relay

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// EncodeTarget encodes an upstream URL for embedding in a proxy URL query.
// Unpadded base64url keeps the token URL-safe without further escaping.
func EncodeTarget(target string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(target))
}

// DecodeTarget reverses EncodeTarget. Returns false for tokens that are not
// valid base64url or that decode to anything other than an absolute http or
// https URL. Malformed tokens are treated as absent rather than as errors so
// every bad-token shape maps to the same client-error path.
func DecodeTarget(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	target := string(raw)
	if !ValidTarget(target) {
		return "", false
	}
	return target, true
}

// ValidTarget reports whether s is an absolute http or https URL.
// The scheme check is case-insensitive; the rest of the URL is not touched.
func ValidTarget(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	}
	return false
}
