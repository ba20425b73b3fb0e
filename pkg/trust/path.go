package trust

import "slices"

// Path is the result of a trust path search. When Found is false the other
// fields are zero.
type Path struct {
	Found  bool     `json:"found"`
	DIDs   []string `json:"dids,omitempty"`
	Length int      `json:"length"`
}

// NotFound is the empty search result.
var NotFound = Path{}

func found(dids []string) Path {
	return Path{Found: true, DIDs: dids, Length: len(dids) - 1}
}

type pathOptions struct {
	maxHops   int
	claimType string
}

// PathOption tunes a path search.
type PathOption func(*pathOptions)

// WithMaxHops bounds the path length. Negative values mean unbounded.
func WithMaxHops(n int) PathOption {
	return func(o *pathOptions) { o.maxHops = n }
}

// WithClaimType restricts the search to anchors and edges that admit the
// claim type.
func WithClaimType(t string) PathOption {
	return func(o *pathOptions) { o.claimType = t }
}

func buildPathOptions(opts []PathOption) pathOptions {
	o := pathOptions{maxHops: -1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FindPath returns the shortest trust path from -> to. If to is itself an
// anchor valid for the claim type the result is the length-0 path [to].
// Neighbours are visited in edge insertion order, so repeated searches over
// an unchanged registry return the same path.
func (r *Registry) FindPath(from, to string, opts ...PathOption) Path {
	if to == "" {
		return NotFound
	}
	o := buildPathOptions(opts)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.anchors[to]; ok && a.Allows(o.claimType) {
		return found([]string{to})
	}
	if from == "" {
		return NotFound
	}
	return r.bfsLocked([]string{from}, to, o)
}

// FindPathFromAnchors searches from every anchor valid for the claim type
// at once and returns the shortest path found, starting at an anchor.
func (r *Registry) FindPathFromAnchors(to string, opts ...PathOption) Path {
	if to == "" {
		return NotFound
	}
	o := buildPathOptions(opts)

	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := r.anchorsForLocked(o.claimType)
	if len(sources) == 0 {
		return NotFound
	}
	return r.bfsLocked(sources, to, o)
}

func (r *Registry) bfsLocked(sources []string, to string, o pathOptions) Path {
	parent := make(map[string]string, len(sources))
	depth := make(map[string]int, len(sources))
	queue := make([]string, 0, len(sources))
	for _, s := range sources {
		if _, ok := depth[s]; ok {
			continue
		}
		if s == to {
			return found([]string{s})
		}
		depth[s] = 0
		queue = append(queue, s)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := depth[cur]
		if o.maxHops >= 0 && d >= o.maxHops {
			continue
		}
		for _, e := range r.adj[cur] {
			if !e.Admits(o.claimType) {
				continue
			}
			if _, seen := depth[e.To]; seen {
				continue
			}
			depth[e.To] = d + 1
			parent[e.To] = cur
			if e.To == to {
				return found(walkBack(parent, depth, to))
			}
			queue = append(queue, e.To)
		}
	}
	return NotFound
}

func walkBack(parent map[string]string, depth map[string]int, to string) []string {
	dids := []string{to}
	for cur := to; depth[cur] > 0; {
		cur = parent[cur]
		dids = append(dids, cur)
	}
	slices.Reverse(dids)
	return dids
}

// Score returns the trust score of p using the registry's scorer, or 0 if
// no path was found.
func (r *Registry) Score(p Path) float64 {
	if !p.Found {
		return 0
	}
	return r.scorer.Score(p.Length)
}
