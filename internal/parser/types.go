// Package parser implements C2: turning a note's raw Markdown text into a
// structured ParsedNote — frontmatter, a forest of blocks, wikilinks,
// tags, code blocks, LaTeX expressions, and callouts. Parsing is
// side-effect-free, deterministic, and best-effort: malformed constructs
// degrade to plain text rather than failing the file.
package parser

// BlockType enumerates the kinds of block the parser can produce.
type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockList      BlockType = "list"
	BlockListItem  BlockType = "list_item"
	BlockCode      BlockType = "code"
	BlockCallout   BlockType = "callout"
	BlockQuote     BlockType = "quote"
	BlockTable     BlockType = "table"
	BlockThematicBreak BlockType = "thematic_break"
	BlockLatex     BlockType = "latex"
)

// Block is one span of the parsed note's forest, prior to hashing and
// Merkle assembly (internal/merkle.Node wraps one of these with its
// computed content hash).
type Block struct {
	Index       int
	Type        BlockType
	Content     string
	StartOffset int
	EndOffset   int
	StartLine   int
	EndLine     int
	ParentIndex int // -1 if a root block
	Depth       int
	Metadata    map[string]string
	Children    []*Block
}

// Wikilink is an outbound `[[target]]` or `[[target|alias]]` reference.
type Wikilink struct {
	Surface     string // the raw surface form, e.g. "target|alias"
	Target      string
	Alias       string
	Position    int // byte offset within the owning block's content
	BlockIndex  int
}

// TagRef is a `#tag/path` occurrence.
type TagRef struct {
	Text       string // canonical path, e.g. "project/ai/agents"
	Position   int
	BlockIndex int
}

// CodeBlock records a fenced code block's language tag alongside its
// block index (the block's own Content holds the code text).
type CodeBlock struct {
	Language   string
	BlockIndex int
}

// LatexExpr is an inline or block LaTeX expression.
type LatexExpr struct {
	Content    string
	Display    bool // true for $$...$$ / block math, false for $...$
	BlockIndex int
}

// Callout is a `> [!type] optional title` block with quoted content.
type Callout struct {
	Type       string
	Title      string
	BlockIndex int
}

// ParsedNote is C2's output contract.
type ParsedNote struct {
	Frontmatter map[string]any
	Blocks      []*Block // root blocks; Children nest within
	PlainText   string   // flattened projection used for search/embedding
	Wikilinks   []Wikilink
	Tags        []TagRef
	CodeBlocks  []CodeBlock
	LatexExprs  []LatexExpr
	Callouts    []Callout
}
