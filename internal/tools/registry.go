package tools

import (
	"sort"
	"strings"
	"sync"

	"github.com/derekparker/trie/v3"
)

// Registry is the searchable catalog of every ToolRef known to the
// process. Name lookup goes through a prefix trie (the same
// derekparker/trie structure the store uses for tag-path prefixes);
// description/tag matches fall back to substring scoring, since the
// catalog is small enough that a full semantic index is unwarranted.
type Registry struct {
	mu    sync.RWMutex
	refs  map[string]ToolRef
	names *trie.Trie
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{
		refs:  make(map[string]ToolRef),
		names: trie.New(),
	}
}

// Register adds or replaces a ToolRef by name.
func (r *Registry) Register(ref ToolRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[ref.Name] = ref
	r.rebuildNamesLocked()
}

// Unregister removes a ToolRef by name. It is a no-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refs, name)
	r.rebuildNamesLocked()
}

// rebuildNamesLocked recreates the name trie from scratch. The catalog is
// small (tens, not thousands, of tools per process) so a full rebuild on
// every mutation is cheaper than plumbing incremental deletion through
// the trie.
func (r *Registry) rebuildNamesLocked() {
	t := trie.New()
	for name := range r.refs {
		t.Add(name, name)
	}
	r.names = t
}

// Get looks up a single ToolRef by exact name.
func (r *Registry) Get(name string) (ToolRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refs[name]
	return ref, ok
}

// AlwaysAvailable returns every ToolRef flagged AlwaysAvailable, regardless
// of query — these are injected into every agent loop unconditionally.
func (r *Registry) AlwaysAvailable() []ToolRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ToolRef
	for _, ref := range r.refs {
		if ref.AlwaysAvailable {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every registered ToolRef, name-sorted.
func (r *Registry) All() []ToolRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolRef, 0, len(r.refs))
	for _, ref := range r.refs {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// scored pairs a ToolRef with its match weight for Search's ranking pass.
type scored struct {
	ref   ToolRef
	score int
}

// Search ranks the catalog against query across name, description, and
// tags: an exact or prefix name hit (via the trie) outranks a substring
// description hit, which outranks a tag hit. AlwaysAvailable tools are
// always included regardless of match, matching spec §4.12's "injected
// into every agent loop unconditionally" rule.
func (r *Registry) Search(query string, limit int) []ToolRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	seen := make(map[string]bool)
	var results []scored

	add := func(ref ToolRef, score int) {
		if seen[ref.Name] {
			return
		}
		seen[ref.Name] = true
		results = append(results, scored{ref: ref, score: score})
	}

	if q == "" {
		for _, ref := range r.refs {
			add(ref, 0)
		}
	} else {
		for _, name := range r.names.PrefixSearch(q) {
			if ref, ok := r.refs[name]; ok {
				add(ref, 100)
			}
		}
		for _, ref := range r.refs {
			if strings.Contains(strings.ToLower(ref.Name), q) {
				add(ref, 80)
				continue
			}
			if strings.Contains(strings.ToLower(ref.Description), q) {
				add(ref, 50)
				continue
			}
			for _, tag := range ref.Tags {
				if strings.Contains(strings.ToLower(tag), q) {
					add(ref, 30)
					break
				}
			}
		}
	}

	for _, ref := range r.refs {
		if ref.AlwaysAvailable {
			add(ref, 1000)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].ref.Name < results[j].ref.Name
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]ToolRef, len(results))
	for i, s := range results {
		out[i] = s.ref
	}
	return out
}
