package provider

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
)

// resolveCredential returns the explicit value, else the first non-empty
// environment variable.
func resolveCredential(explicit string, envVars ...string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	for _, name := range envVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// NewID returns a new lexically sortable identifier.
func NewID() string {
	return ulid.Make().String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func schemaOrEmpty(s json.RawMessage) json.RawMessage {
	if len(s) == 0 || !json.Valid(s) {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return s
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
