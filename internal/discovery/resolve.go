package discovery

import "sync"

// EntityAlias binds an entity id to the surface forms that should
// resolve to it: its canonical display name plus any additional
// aliases (a note's title-case heading, a `[[target|alias]]` alias
// already seen once, etc).
type EntityAlias struct {
	ID      string
	Name    string
	Aliases []string
}

// Resolver maps surface-form text to entity ids by exact, case-folded
// match. It is the salvaged exact-name/alias-match tier of the
// teacher's pkg/scanner/resolver/resolver.go — its pronoun/gender
// coreference machinery has no note-taking analog (no narrative speaker
// context exists outside fiction) and is not carried over. The pipeline
// consults a Resolver as a fallback when a wikilink target does not
// match any file path directly, so `[[Gandalf]]` can resolve to a
// person entity discovered by Registry even though no file is named
// "Gandalf.md".
type Resolver struct {
	mu  sync.RWMutex
	byKey map[CanonicalToken]string
}

// NewResolver constructs an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{byKey: make(map[CanonicalToken]string)}
}

// Register indexes an entity's name and aliases for lookup. Later
// registrations for the same surface form overwrite earlier ones,
// matching the store's upsert semantics: the newest entity wins.
func (r *Resolver) Register(e EntityAlias) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key, _, ok := Canonicalize(e.Name); ok {
		r.byKey[key] = e.ID
	}
	for _, alias := range e.Aliases {
		if key, _, ok := Canonicalize(alias); ok {
			r.byKey[key] = e.ID
		}
	}
}

// Resolve looks up text's exact canonical form. ok is false when no
// entity has ever been registered under that surface form.
func (r *Resolver) Resolve(text string) (id string, ok bool) {
	key, _, valid := Canonicalize(text)
	if !valid {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok = r.byKey[key]
	return id, ok
}
