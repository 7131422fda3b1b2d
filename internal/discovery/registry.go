package discovery

import (
	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"
)

// CandidateStatus tracks the lifecycle of a discovery candidate.
type CandidateStatus int

const (
	StatusWatching CandidateStatus = iota
	StatusPromoted
	StatusIgnored
)

// CandidateStats tracks everything known about one candidate token.
type CandidateStats struct {
	Count   int
	Status  CandidateStatus
	Display string // display form from the first occurrence seen
}

// Registry counts capitalized-token occurrences across ingested notes
// and promotes a token once it crosses PromotionThreshold, matching
// config.Config.PromotionThreshold (default 3).
type Registry struct {
	stats     map[CanonicalToken]*CandidateStats
	threshold int
	custom    []string
	customAC  *ahocorasick.Automaton
	acStale   bool
	checker   *stopwords.Stopwords
}

// NewRegistry constructs a Registry seeded with the English stopword set
// plus any custom words added via AddStopWord.
func NewRegistry(threshold int) *Registry {
	if threshold <= 0 {
		threshold = 3
	}
	return &Registry{
		stats:     make(map[CanonicalToken]*CandidateStats),
		threshold: threshold,
		checker:   stopwords.MustGet("en"),
	}
}

// AddStopWord registers a custom word that should never be tracked as a
// candidate (e.g. a document's own title, common heading words). Custom
// words are matched with an Aho-Corasick automaton rather than a map, so
// a note's full plain text can eventually be scanned for them in a
// single O(n) pass instead of per-token.
func (r *Registry) AddStopWord(word string) {
	key, _, valid := Canonicalize(word)
	if !valid {
		return
	}
	r.custom = append(r.custom, string(key))
	r.acStale = true
}

// isCustomStopword reports whether key exactly matches one of the
// registered custom stopwords, using the rebuilt automaton when dirty.
func (r *Registry) isCustomStopword(key string) bool {
	if len(r.custom) == 0 {
		return false
	}
	if r.acStale || r.customAC == nil {
		automaton, err := ahocorasick.NewBuilder().
			AddStrings(r.custom).
			SetMatchKind(ahocorasick.LeftmostLongest).
			SetPrefilter(true).
			Build()
		if err != nil {
			return false
		}
		r.customAC = automaton
		r.acStale = false
	}
	for _, m := range r.customAC.FindAllOverlapping([]byte(key)) {
		if m.Start == 0 && m.End == len(key) {
			return true
		}
	}
	return false
}

// AddToken processes one observed token. It returns true exactly once,
// on the call that crosses the promotion threshold.
func (r *Registry) AddToken(raw string) bool {
	key, display, valid := Canonicalize(raw)
	if !valid {
		return false
	}
	if r.isCustomStopword(string(key)) {
		return false
	}
	if r.checker != nil && r.checker.Contains(string(key)) {
		return false
	}

	stats, exists := r.stats[key]
	if !exists {
		stats = &CandidateStats{Status: StatusWatching, Display: display}
		r.stats[key] = stats
	}

	if stats.Status != StatusWatching {
		stats.Count++
		return false
	}

	stats.Count++
	if stats.Count >= r.threshold {
		stats.Status = StatusPromoted
		return true
	}
	return false
}

// Ignore marks a candidate as permanently ignored (e.g. after a user
// rejects a suggested person entity), so further mentions neither
// re-promote nor re-surface it.
func (r *Registry) Ignore(raw string) {
	key, display, valid := Canonicalize(raw)
	if !valid {
		return
	}
	stats, exists := r.stats[key]
	if !exists {
		r.stats[key] = &CandidateStats{Status: StatusIgnored, Display: display}
		return
	}
	stats.Status = StatusIgnored
}

// GetStatus returns a candidate's current lifecycle status.
func (r *Registry) GetStatus(raw string) CandidateStatus {
	key, _, valid := Canonicalize(raw)
	if !valid {
		return StatusIgnored
	}
	if s, ok := r.stats[key]; ok {
		return s.Status
	}
	return StatusWatching
}

// GetStats returns the raw stats for a candidate, or nil if never seen.
func (r *Registry) GetStats(raw string) *CandidateStats {
	key, _, valid := Canonicalize(raw)
	if !valid {
		return nil
	}
	return r.stats[key]
}

// Candidate is a serializable snapshot of one tracked token.
type Candidate struct {
	Token  string `json:"token"`
	Count  int    `json:"count"`
	Status int    `json:"status"`
}

// Candidates returns a snapshot of every tracked token, regardless of
// status.
func (r *Registry) Candidates() []Candidate {
	list := make([]Candidate, 0, len(r.stats))
	for _, s := range r.stats {
		list = append(list, Candidate{Token: s.Display, Count: s.Count, Status: int(s.Status)})
	}
	return list
}
