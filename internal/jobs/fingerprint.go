package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Fingerprint computes the deterministic dedup/cache key for a request:
// sha256 over the kind and the canonicalized parameters. Two submissions
// that describe the same logical request hash identically regardless of
// map ordering, string whitespace or integral-vs-float encoding.
func Fingerprint(kind Kind, params map[string]any) (string, error) {
	canonical, err := canonicalize(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{'\n'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize renders params as JSON with sorted keys and normalized
// scalars. encoding/json already sorts map keys, but values arriving from
// different transports need the same shape first.
func canonicalize(params map[string]any) ([]byte, error) {
	return json.Marshal(normalizeValue(params))
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			norm := normalizeValue(val)
			if norm == nil {
				// Absent and nil optional fields are the same request.
				continue
			}
			out[k] = norm
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	case string:
		return strings.TrimSpace(t)
	case float64:
		// JSON decoding produces float64 for every number; fold integral
		// values back so 1 and 1.0 fingerprint the same.
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return int64(t)
		}
		return t
	case int:
		return int64(t)
	case int64, bool, nil:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
