package model

import (
	"encoding/json"
	"maps"
)

// DefaultPageIndexKey is the payload key the search endpoint reads the page
// number from.
const DefaultPageIndexKey = "2"

// SearchPayload is an opaque search request body. Only the page index and
// the geography filter are interpreted.
type SearchPayload map[string]any

// WithPage returns a shallow copy of p with the page index set under key.
// The receiver is never mutated.
func (p SearchPayload) WithPage(key string, page int) SearchPayload {
	out := make(SearchPayload, len(p)+1)
	maps.Copy(out, p)
	out[key] = page
	return out
}

// MarketIDs returns the geography filter ids at ["0"].Geography.Filter.Ids.
// A scalar id is returned as a single-element slice.
func (p SearchPayload) MarketIDs() []int64 {
	geo, ok := dig(map[string]any(p), "0", "Geography", "Filter")
	if !ok {
		return nil
	}
	filter, ok := geo.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := filter["Ids"]
	if !ok || raw == nil {
		return nil
	}

	var ids []int64
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if id, ok := ToInt64(item); ok {
				ids = append(ids, id)
			}
		}
	default:
		if id, ok := ToInt64(v); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func dig(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, key := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ToInt64 converts the numeric shapes produced by JSON and YAML decoding
// into an int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
		return 0, false
	case string:
		return ToInt64(json.Number(n))
	default:
		return 0, false
	}
}
