package transform

import (
	"fmt"
	"strings"
	"sync"

	"github.com/eleven-am/conduit/internal/xjson"
	"github.com/ohler55/ojg/jp"
)

// pathCache memoises compiled JSONPath expressions. Relative paths and
// paths rooted at @ are rewritten against $.
type pathCache struct {
	mu    sync.RWMutex
	exprs map[string]jp.Expr
}

func newPathCache() *pathCache {
	return &pathCache{exprs: make(map[string]jp.Expr)}
}

func (c *pathCache) compile(raw string) (jp.Expr, error) {
	src := strings.TrimSpace(raw)
	if src == "" {
		return nil, fmt.Errorf("path is empty")
	}

	c.mu.RLock()
	x, ok := c.exprs[src]
	c.mu.RUnlock()
	if ok {
		return x, nil
	}

	normalized := src
	switch {
	case strings.HasPrefix(normalized, "@"):
		normalized = "$" + normalized[1:]
	case !strings.HasPrefix(normalized, "$"):
		normalized = "$." + normalized
	}

	x, err := jp.ParseString(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", src, err)
	}

	c.mu.Lock()
	c.exprs[src] = x
	c.mu.Unlock()
	return x, nil
}

// selectsMany reports whether the path can match several values. The
// matches of such a path are the list; a definite path selects one value.
func selectsMany(x jp.Expr) bool {
	for _, frag := range x {
		switch frag.(type) {
		case jp.Wildcard, jp.Descent, *jp.Filter, jp.Union, jp.Slice:
			return true
		}
	}
	return false
}

// single collapses a match list: nothing is nil, one match is the value
// itself and several matches stay a list.
func single(matches []interface{}) interface{} {
	switch len(matches) {
	case 0:
		return nil
	case 1:
		return matches[0]
	}
	return matches
}

func flatten(matches []interface{}) []interface{} {
	out := make([]interface{}, 0, len(matches))
	for _, m := range matches {
		if list, ok := m.([]interface{}); ok {
			out = append(out, list...)
			continue
		}
		out = append(out, m)
	}
	return out
}

// unique drops repeated values, keeping first occurrences in order.
func unique(values []interface{}) []interface{} {
	seen := make(map[string]bool, len(values))
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		key, err := xjson.Marshal(v)
		if err != nil {
			out = append(out, v)
			continue
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, v)
	}
	return out
}
