package telemetry

import (
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// denyKeys are substrings of attribute keys that may carry operator text,
// camera frames or credentials.
var denyKeys = []string{
	"instruction",
	"prompt",
	"image",
	"frame",
	"authorization",
	"api_key",
	"apikey",
	"password",
	"token",
	"secret",
}

const (
	maxStringAttr = 512
	maxSliceAttr  = 32
)

func denied(key string) bool {
	lk := strings.ToLower(key)
	for _, bad := range denyKeys {
		if strings.Contains(lk, bad) {
			return true
		}
	}
	return false
}

// SafeAttributes converts span attributes to OTEL key-values, ordered by key.
// Denied keys, oversized strings and unsupported types are dropped; slices
// are cut to their first 32 elements.
func SafeAttributes(values map[string]any) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if !denied(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		if kv, ok := toAttribute(k, values[k]); ok {
			attrs = append(attrs, kv)
		}
	}
	return attrs
}

func toAttribute(k string, v any) (attribute.KeyValue, bool) {
	switch val := v.(type) {
	case string:
		if len(val) > maxStringAttr {
			return attribute.KeyValue{}, false
		}
		return attribute.String(k, val), true
	case bool:
		return attribute.Bool(k, val), true
	case int:
		return attribute.Int(k, val), true
	case int64:
		return attribute.Int64(k, val), true
	case float64:
		return attribute.Float64(k, val), true
	case []float64:
		return attribute.Float64Slice(k, head(val)), true
	case []string:
		return attribute.StringSlice(k, head(val)), true
	}
	return attribute.KeyValue{}, false
}

func head[T any](s []T) []T {
	if len(s) > maxSliceAttr {
		return s[:maxSliceAttr]
	}
	return s
}
