package trustcore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"trustcore/internal/utils"
)

// CacheKey joins non-empty parts with ':' into a namespaced key, e.g. "business:42:reviews".
func CacheKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}

// QueryHash returns a short stable hash of params. Equivalent params
// (same values, different map order or numeric type) hash identically.
func QueryHash(params any) (string, error) {
	raw, err := json.Marshal(utils.NormalizeValue(params))
	if err != nil {
		return "", fmt.Errorf("failed to marshal query params for hash: %w", err)
	}
	// Round-trip through a generic value so struct fields end up in the same
	// canonical form as hand-built maps. UseNumber keeps integers exact.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("failed to canonicalize query params: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical query params: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(canonical), 16), nil
}

// QueryCacheKey builds "<entity>:<kind>:<hash>" for a list or count query.
func QueryCacheKey(entity, kind string, params any) (string, error) {
	hash, err := QueryHash(params)
	if err != nil {
		return "", err
	}
	return CacheKey(entity, kind, hash), nil
}

// keyNamespace strips the last segment of a key, so "businesses:list:ab12"
// becomes "businesses:list". Keys without a separator are returned as is.
func keyNamespace(key string) string {
	if i := strings.LastIndex(key, ":"); i > 0 {
		return key[:i]
	}
	return key
}
