// Package cache implements the fail-open Redis-backed KV cache (spec.md
// §4.5), grounded on original_source/backend/cache/{redis_client,metrics,
// settings}.py and on internal/circuitbreaker/redis_wrapper.go's
// fail-open-on-trip idiom.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultVersion is the version tag baked into every key when the caller
// does not override it (spec.md §4.5: "Version tag baked into every key
// (v1 default)").
const DefaultVersion = "v1"

// DefaultMaxKeyLength is the cap past which a key's payload suffix is
// replaced by its SHA-256 hex digest (spec.md §4.5: "default 240 chars").
const DefaultMaxKeyLength = 240

// KeyPolicy deterministically derives cache keys from arbitrary JSON-able
// payloads so that "same inputs always yield the same key regardless of
// dict insertion order" (spec.md §4.5).
type KeyPolicy struct {
	Version      string
	MaxKeyLength int
}

// NewKeyPolicy returns the default key policy (version v1, 240-char cap).
func NewKeyPolicy() KeyPolicy {
	return KeyPolicy{Version: DefaultVersion, MaxKeyLength: DefaultMaxKeyLength}
}

// BuildKey derives a cache key from prefix and payload. payload is
// marshaled via canonicalJSON (sorted keys, ASCII-only, compact
// separators); a non-finite float anywhere in payload rejects the key
// attempt, matching encoding/json's own refusal to marshal NaN/Inf.
func (p KeyPolicy) BuildKey(prefix string, payload any) (string, error) {
	version := p.Version
	if version == "" {
		version = DefaultVersion
	}
	maxLen := p.MaxKeyLength
	if maxLen <= 0 {
		maxLen = DefaultMaxKeyLength
	}

	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("cache: non-finite or unencodable key payload: %w", err)
	}

	key := fmt.Sprintf("%s:%s:%s", prefix, version, canonical)
	if len(key) <= maxLen {
		return key, nil
	}

	sum := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%s:%s:h:%s", prefix, version, hex.EncodeToString(sum[:])), nil
}

// canonicalJSON marshals v with map keys in sorted order (encoding/json's
// default for map[string]any) and compact separators, then escapes every
// non-ASCII rune so the result is safe to embed directly in a cache key.
func canonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return asciiEscape(string(b)), nil
}

func asciiEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16SurrogatePair(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String()
}

func utf16SurrogatePair(r rune) (rune, rune) {
	r -= 0x10000
	hi := 0xD800 + (r >> 10)
	lo := 0xDC00 + (r & 0x3FF)
	return hi, lo
}
