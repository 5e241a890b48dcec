package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/graphidx/graphidx/internal/store"
)

// params is the generic decoded form of one request's params object,
// used by every handler via the typed accessors below rather than
// per-method DTOs, since the canonical method list mixes dozens of
// loosely related parameter shapes.
type params map[string]interface{}

func parseParams(raw json.RawMessage) (params, error) {
	if len(raw) == 0 {
		return params{}, nil
	}
	var p params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p == nil {
		p = params{}
	}
	return p, nil
}

func (p params) stringOpt(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (p params) string(key, def string) string {
	if s, ok := p.stringOpt(key); ok {
		return s
	}
	return def
}

func (p params) intOpt(key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func (p params) int(key string, def int) int {
	if n, ok := p.intOpt(key); ok {
		return n
	}
	return def
}

func (p params) int64Opt(key string) (int64, bool) {
	n, ok := p.intOpt(key)
	if !ok {
		return 0, false
	}
	return int64(n), true
}

func (p params) floatOpt(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func (p params) boolOpt(key string) bool {
	v, ok := p[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (p params) stringSlice(key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		if s, ok := v.(string); ok {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p params) int64Slice(key string) []int64 {
	v, ok := p[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(arr))
	for _, e := range arr {
		if n, ok := e.(float64); ok {
			out = append(out, int64(n))
		}
	}
	return out
}

// graphVersion resolves the common graph_version/as_of/version alias
// trio, defaulting to the store's current version.
func (p params) graphVersion(ctx context.Context, st store.Store) (int64, error) {
	for _, key := range []string{"graph_version", "as_of", "version"} {
		if v, ok := p.int64Opt(key); ok {
			return v, nil
		}
	}
	return st.CurrentGraphVersion(ctx)
}

func (p params) limit(def int) int {
	n := p.int("limit", def)
	if n <= 0 {
		n = def
	}
	if n > MaxResponseLimit {
		n = MaxResponseLimit
	}
	return n
}

func lowercaseAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
