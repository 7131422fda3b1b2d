// Package discovery implements implicit-mention candidate tracking: a
// heuristic, unsupervised counter that watches capitalized tokens across
// ingested notes and promotes a token to a real `person` entity once it
// has been seen enough times to stop looking like noise. It is the
// supplement named in the domain-dependency table for
// github.com/orsinium-labs/stopwords and github.com/coregx/ahocorasick.
//
// Adapted from the teacher's pkg/scanner/discovery/registry.go
// (CandidateRegistry, PromotionThreshold, stopword seeding) generalized
// off fiction EntityKind inference — this module has exactly one
// promotion target, the person entity type, so there is nothing to
// infer. pkg/scanner/resolver/resolver.go's exact-name/alias-match tier
// is salvaged separately in resolve.go; its pronoun/gender machinery has
// no note-taking analog and is dropped.
package discovery

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CanonicalToken is the normalized form used as a map key so that
// "Gandalf", "gandalf", and "GANDALF" are tracked as the same candidate.
type CanonicalToken string

// isJoiner reports whether r commonly appears inside a personal name
// without splitting it: apostrophes, hyphens, periods (as in initials).
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘', '-', '–', '—', '.':
		return true
	default:
		return false
	}
}

// Canonicalize normalizes raw token text for candidate tracking. It
// returns valid=false for tokens that cannot possibly be a name: empty
// after trimming, too short, or containing no letters at all.
func Canonicalize(raw string) (key CanonicalToken, display string, valid bool) {
	trimmed := strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !isJoiner(r)
	})
	if len(trimmed) < 2 {
		return "", "", false
	}

	var hasLetter bool
	var out strings.Builder
	out.Grow(len(trimmed))
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		out.WriteRune(unicode.ToLower(r))
	}
	if !hasLetter {
		return "", "", false
	}
	return CanonicalToken(out.String()), trimmed, true
}

// IsCapitalized reports whether s begins with an uppercase letter, the
// cheap heuristic the registry uses to decide whether a token even looks
// like a proper name worth tracking.
func IsCapitalized(s string) bool {
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}
