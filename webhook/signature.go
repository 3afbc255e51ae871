package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// canonicalizeJSON re-marshals payload with object keys sorted and no
// insignificant whitespace, so the HMAC and the payload hash are stable
// across semantically-identical deliveries (spec §4.1).
func canonicalizeJSON(payload any) ([]byte, error) {
	sorted, err := sortKeys(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sorted)
}

// sortKeys recursively converts map[string]any keys into an order-stable
// representation by round-tripping through a sorted-key struct-less
// encoding: json.Marshal on Go maps already sorts keys lexicographically, so
// the only work left is a deep copy that drops non-deterministic types.
func sortKeys(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			normalized, err := sortKeys(val[k])
			if err != nil {
				return nil, err
			}
			out[k] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			normalized, err := sortKeys(e)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return val, nil
	}
}

// signPayload computes the hex-encoded HMAC-SHA256 of canonical over secret.
func signPayload(secret string, canonical []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature implements spec §4.1's signature check: strip a "v1="
// prefix from header, constant-time-compare against the HMAC of canonical
// using secret. An empty secret means verification is unconfigured and the
// request is accepted (caller logs a warning in that case).
func verifySignature(secret, header string, canonical []byte) bool {
	if secret == "" {
		return true
	}
	const prefix = "v1="
	sig := strings.TrimPrefix(header, prefix)
	expected := signPayload(secret, canonical)
	return hmac.Equal([]byte(sig), []byte(expected))
}

// payloadHash computes the SHA-256 hex digest of canonical, used for both
// in-process and distributed dedup (spec §4.1).
func payloadHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
