package span

import "strings"

// PositionCache memoizes substring occurrences within a single source text.
// Occurrence lists are computed lazily, once per distinct substring, and
// each occurrence can back at most one span (claimed occurrences are not
// handed out again). A cache is owned by exactly one top-level call and is
// never shared, so no locking is needed.
type PositionCache struct {
	source string
	occ    map[string][]occurrence
}

type occurrence struct {
	start, end int
	claimed    bool
}

// NewPositionCache creates a cache scoped to one source text.
func NewPositionCache(source string) *PositionCache {
	return &PositionCache{
		source: source,
		occ:    make(map[string][]occurrence),
	}
}

// Occurrences returns every [start,end) occurrence of sub in the source,
// in ascending order, including already-claimed ones.
func (c *PositionCache) Occurrences(sub string) [][2]int {
	occs := c.lookup(sub)
	out := make([][2]int, len(occs))
	for i, o := range occs {
		out[i] = [2]int{o.start, o.end}
	}
	return out
}

// ClaimNearest claims the unclaimed occurrence of sub whose start is
// closest to hint, marking it used. A negative hint claims the first
// unclaimed occurrence. Returns ok=false when sub does not occur in the
// source or every occurrence is already claimed.
func (c *PositionCache) ClaimNearest(sub string, hint int) (start, end int, ok bool) {
	key := normalizeKey(sub)
	occs := c.lookup(key)

	best := -1
	bestDist := -1
	for i, o := range occs {
		if o.claimed {
			continue
		}
		if hint < 0 {
			best = i
			break
		}
		dist := o.start - hint
		if dist < 0 {
			dist = -dist
		}
		if best == -1 || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	if best == -1 {
		return 0, 0, false
	}

	c.occ[key][best].claimed = true
	o := occs[best]
	return o.start, o.end, true
}

// ResetClaims clears every claim flag while keeping the memoized
// occurrence lists. Called at the start of each validation pass, so the
// one-span-per-occurrence rule applies within a pass but a later lenient
// pass starts fresh.
func (c *PositionCache) ResetClaims() {
	for key, occs := range c.occ {
		for i := range occs {
			c.occ[key][i].claimed = false
		}
	}
}

// MarkUsed claims the occurrence of sub starting at start, if the cache
// knows about it. Used when a span's offsets were already correct, so a
// later offset-less span cannot be relocated onto the same occurrence.
func (c *PositionCache) MarkUsed(sub string, start int) {
	key := normalizeKey(sub)
	occs := c.lookup(key)
	for i, o := range occs {
		if o.start == start {
			c.occ[key][i].claimed = true
			return
		}
	}
}

// lookup returns the memoized occurrence list for key, scanning the source
// on first use.
func (c *PositionCache) lookup(sub string) []occurrence {
	key := normalizeKey(sub)
	if occs, ok := c.occ[key]; ok {
		return occs
	}

	var occs []occurrence
	if key != "" {
		from := 0
		for {
			i := strings.Index(c.source[from:], key)
			if i < 0 {
				break
			}
			start := from + i
			occs = append(occs, occurrence{start: start, end: start + len(key)})
			from = start + 1
		}
	}
	c.occ[key] = occs
	return occs
}

// normalizeKey strips surrounding whitespace so oracle output with stray
// padding still resolves to the underlying source occurrence.
func normalizeKey(sub string) string {
	return strings.TrimSpace(sub)
}
