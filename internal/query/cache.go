package query

import (
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resultCache memoizes query results keyed on a normalized structural
// representation of the query parameters, bounded by a fixed number of
// distinct shapes with LRU eviction. It is invalidated wholesale whenever
// the analytical database is rebuilt; a stale entry referencing old
// aggregate data is strictly worse than a miss.
type resultCache struct {
	lru *lru.Cache[string, any]
}

func newResultCache(maxEntries int) (*resultCache, error) {
	c, err := lru.New[string, any](maxEntries)
	if err != nil {
		return nil, err
	}
	return &resultCache{lru: c}, nil
}

func (c *resultCache) get(key string) (any, bool) {
	return c.lru.Get(key)
}

func (c *resultCache) add(key string, value any) {
	c.lru.Add(key, value)
}

func (c *resultCache) purge() {
	c.lru.Purge()
}

func (c *resultCache) len() int {
	return c.lru.Len()
}

// shapeKey builds a deterministic cache key from a query name and its
// normalized parameters. Callers must pass every input that affects the
// result; parameter order is fixed by the call site and set-valued
// parameters must be canonicalized first (see canonCoins).
func shapeKey(name string, parts ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for _, p := range parts {
		b.WriteByte('|')
		b.WriteString(p)
	}
	return b.String()
}

// canonCoins returns the coin filter in canonical form: trimmed, de-duplicated,
// sorted, comma-joined. {"ETH","BTC"} and {"BTC","ETH","BTC"} produce the
// same key.
func canonCoins(coins []string) string {
	if len(coins) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(coins))
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// canonThresholds canonicalizes bucket thresholds for key building.
func canonThresholds(thresholds []float64) string {
	parts := make([]string, len(thresholds))
	for i, t := range thresholds {
		parts[i] = strconv.FormatFloat(t, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
