package pipeline

// NoteState enumerates the per-path lifecycle of spec §4.7:
// Candidate -> (Filtered|Parsing) -> (ParseFailed|Parsed) -> Diffed ->
// Enriched[n,m] -> (Stored|StoreFailed).
type NoteState string

const (
	StateCandidate   NoteState = "candidate"
	StateFiltered    NoteState = "filtered"
	StateParsing     NoteState = "parsing"
	StateParseFailed NoteState = "parse_failed"
	StateParsed      NoteState = "parsed"
	StateDiffed      NoteState = "diffed"
	StateEnriched    NoteState = "enriched"
	StateStored      NoteState = "stored"
	StateStoreFailed NoteState = "store_failed"
)
