// Package canon provides the text canonicalization used to compare tag
// paths, wikilink surface forms, and alias candidates across the parser,
// the store, and the discovery registry. The rule set (which punctuation
// is a name-internal "joiner" versus a separator) is the one piece of
// logic every one of those components must agree on, so it lives in one
// place.
package canon

import (
	"strings"
	"unicode"
)

// isJoiner reports whether r commonly appears inside a single name or tag
// segment and should not split a token: apostrophes, hyphens, the slash
// that joins tag path segments, and a handful of abbreviation characters.
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || isJoiner(r) {
		return false
	}
	return true
}

// ForMatch folds text to a normalized form: lowercase, curly
// quotes/dashes normalized, separators collapsed to single spaces,
// joiners preserved so multi-word names and slash-joined tag paths stay
// coherent as one token.
func ForMatch(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		switch c {
		case '’', '‘':
			c = '\''
		case '–', '—':
			c = '-'
		}
		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}
	result := out.String()
	return strings.TrimRight(result, " ")
}

// TagPath canonicalizes a slash-joined tag path: lowercased, each segment
// trimmed, empty segments dropped.
func TagPath(raw string) string {
	segs := strings.Split(raw, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		s = strings.TrimSpace(strings.ToLower(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "/")
}

// Tokenize splits text on separators (per ForMatch's rules) and returns
// lowercase tokens. No stop words are removed; every token is kept.
func Tokenize(s string) []string {
	normalized := ForMatch(s)
	return strings.Fields(normalized)
}
