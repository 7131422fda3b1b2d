package parser

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kittclouds/kiln/internal/canon"
	"github.com/kittclouds/kiln/internal/errs"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var (
	wikilinkRe = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)
	tagRe      = regexp.MustCompile(`(^|[\s(])#([\p{L}\p{N}_/-]+)`)
	calloutRe  = regexp.MustCompile(`^>\s*\[!([a-zA-Z]+)\]\s*(.*)$`)
	blockLatexRe = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	inlineLatexRe = regexp.MustCompile(`\$([^$\n]+)\$`)
	frontmatterRe = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)
)

// Parse turns raw UTF-8 Markdown text into a ParsedNote. It never fails on
// malformed Markdown constructs (those degrade to plain text blocks); it
// only returns errs.InputError{Kind: ParseFailed} on catastrophic input,
// i.e. text that is not valid UTF-8.
func Parse(src string) (*ParsedNote, error) {
	if !utf8.ValidString(src) {
		return nil, errs.Input(errs.KindParseFailed, "input is not valid UTF-8", nil)
	}

	note := &ParsedNote{}
	body := src

	fm, rest, err := extractFrontmatter(src)
	if err == nil && fm != nil {
		note.Frontmatter = fm
		body = rest
	} else {
		note.Frontmatter = map[string]any{}
	}

	blocks := splitBlocks(body)
	note.Blocks = blocks

	var plain strings.Builder
	flatIndex := 0
	var walk func(bs []*Block)
	walk = func(bs []*Block) {
		for _, b := range bs {
			b.Index = flatIndex
			flatIndex++
			plain.WriteString(b.Content)
			plain.WriteString("\n")

			extractWikilinks(note, b)
			extractTags(note, b)
			extractLatex(note, b)
			if b.Type == BlockCallout {
				extractCallout(note, b)
			}
			if b.Type == BlockCode {
				lang := ""
				if b.Metadata != nil {
					lang = b.Metadata["language"]
				}
				note.CodeBlocks = append(note.CodeBlocks, CodeBlock{Language: lang, BlockIndex: b.Index})
			}
			for _, c := range b.Children {
				c.ParentIndex = b.Index
			}
			walk(b.Children)
		}
	}
	walk(blocks)
	note.PlainText = plain.String()

	return note, nil
}

// extractFrontmatter pulls a leading `---\n...\n---` YAML block, if any.
func extractFrontmatter(src string) (map[string]any, string, error) {
	m := frontmatterRe.FindStringSubmatch(src)
	if m == nil {
		return nil, src, errs.Input(errs.KindParseFailed, "no frontmatter", nil)
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
		// Best-effort: malformed frontmatter degrades to "no frontmatter"
		// rather than failing the file.
		return nil, src, errs.Input(errs.KindParseFailed, "malformed frontmatter", err)
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return fm, src[len(m[0]):], nil
}

// splitBlocks uses goldmark's block parser to find top-level block
// boundaries, then classifies and nests them into Block trees. Offsets are
// byte offsets into body.
func splitBlocks(body string) []*Block {
	src := []byte(body)
	reader := text.NewReader(src)
	doc := md.Parser().Parse(reader)

	var out []*Block
	idx := 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		b := nodeToBlock(n, src, &idx, -1, 0)
		if b != nil {
			out = append(out, b)
		}
	}
	if len(out) == 0 && strings.TrimSpace(body) != "" {
		// Degrade: no recognisable block structure, emit the whole body as
		// one paragraph rather than dropping content.
		out = append(out, &Block{
			Type:      BlockParagraph,
			Content:   strings.TrimSpace(body),
			StartOffset: 0,
			EndOffset: len(body),
			Metadata:  map[string]string{},
		})
	}
	return out
}

func nodeToBlock(n ast.Node, src []byte, idx *int, parent int, depth int) *Block {
	typ, meta := classify(n, src)
	lines := n.Lines()
	var start, end int
	if lines.Len() > 0 {
		start = lines.At(0).Start
		end = lines.At(lines.Len() - 1).Stop
	}
	content := extractText(n, src)
	if content == "" && lines.Len() > 0 {
		content = string(src[start:end])
	}

	b := &Block{
		Type:        typ,
		Content:     content,
		StartOffset: start,
		EndOffset:   end,
		ParentIndex: parent,
		Depth:       depth,
		Metadata:    meta,
	}

	// calloutRe only matches blockquotes whose first line is "[!type]".
	if typ == BlockQuote {
		firstLine := content
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			firstLine = content[:i]
		}
		if calloutRe.MatchString("> " + strings.TrimPrefix(firstLine, ">")) || calloutRe.MatchString(firstLine) {
			b.Type = BlockCallout
		}
	}

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if isContainer(n) {
			child := nodeToBlock(c, src, idx, -1, depth+1)
			if child != nil {
				b.Children = append(b.Children, child)
			}
		}
	}
	return b
}

func isContainer(n ast.Node) bool {
	switch n.Kind() {
	case ast.KindList, ast.KindListItem, ast.KindBlockquote:
		return true
	}
	return false
}

func classify(n ast.Node, src []byte) (BlockType, map[string]string) {
	meta := map[string]string{}
	switch n.Kind() {
	case ast.KindHeading:
		h := n.(*ast.Heading)
		meta["level"] = strconv.Itoa(h.Level)
		return BlockHeading, meta
	case ast.KindParagraph, ast.KindTextBlock:
		return BlockParagraph, meta
	case ast.KindList:
		return BlockList, meta
	case ast.KindListItem:
		return BlockListItem, meta
	case ast.KindFencedCodeBlock:
		fc := n.(*ast.FencedCodeBlock)
		if fc.Info != nil {
			meta["language"] = strings.TrimSpace(string(fc.Info.Text(src)))
		}
		return BlockCode, meta
	case ast.KindCodeBlock:
		return BlockCode, meta
	case ast.KindBlockquote:
		return BlockQuote, meta
	case ast.KindThematicBreak:
		return BlockThematicBreak, meta
	default:
		return BlockParagraph, meta
	}
}

func extractText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	switch n.Kind() {
	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		return buf.String()
	}
	ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Kind() == ast.KindText {
			t := node.(*ast.Text)
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		}
		if node.Kind() == ast.KindCodeSpan {
			buf.WriteByte('`')
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func extractWikilinks(note *ParsedNote, b *Block) {
	for _, m := range wikilinkRe.FindAllStringSubmatchIndex(b.Content, -1) {
		surface := b.Content[m[2]:m[3]]
		target := surface
		alias := ""
		if i := strings.IndexByte(surface, '|'); i >= 0 {
			target = surface[:i]
			alias = surface[i+1:]
		}
		note.Wikilinks = append(note.Wikilinks, Wikilink{
			Surface:    surface,
			Target:     strings.TrimSpace(target),
			Alias:      strings.TrimSpace(alias),
			Position:   m[0],
			BlockIndex: b.Index,
		})
	}
}

func extractTags(note *ParsedNote, b *Block) {
	if b.Type == BlockCode {
		return
	}
	for _, m := range tagRe.FindAllStringSubmatchIndex(b.Content, -1) {
		raw := b.Content[m[4]:m[5]]
		path := canon.TagPath(raw)
		if path == "" {
			continue
		}
		note.Tags = append(note.Tags, TagRef{
			Text:       path,
			Position:   m[4],
			BlockIndex: b.Index,
		})
	}
}

func extractLatex(note *ParsedNote, b *Block) {
	if b.Type == BlockCode {
		return
	}
	for _, m := range blockLatexRe.FindAllStringSubmatch(b.Content, -1) {
		note.LatexExprs = append(note.LatexExprs, LatexExpr{Content: strings.TrimSpace(m[1]), Display: true, BlockIndex: b.Index})
	}
	stripped := blockLatexRe.ReplaceAllString(b.Content, "")
	for _, m := range inlineLatexRe.FindAllStringSubmatch(stripped, -1) {
		note.LatexExprs = append(note.LatexExprs, LatexExpr{Content: strings.TrimSpace(m[1]), Display: false, BlockIndex: b.Index})
	}
}

func extractCallout(note *ParsedNote, b *Block) {
	lines := strings.SplitN(b.Content, "\n", 2)
	first := strings.TrimSpace(lines[0])
	first = strings.TrimPrefix(first, ">")
	first = strings.TrimSpace(first)
	m := calloutRe.FindStringSubmatch("> " + first)
	if m == nil {
		m = calloutRe.FindStringSubmatch(first)
	}
	if m == nil {
		return
	}
	if b.Metadata == nil {
		b.Metadata = map[string]string{}
	}
	b.Metadata["callout_type"] = strings.ToLower(m[1])
	b.Metadata["callout_title"] = strings.TrimSpace(m[2])
	note.Callouts = append(note.Callouts, Callout{
		Type:       strings.ToLower(m[1]),
		Title:      strings.TrimSpace(m[2]),
		BlockIndex: b.Index,
	})
}
