package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHelloWorld(t *testing.T) {
	note, err := Parse("# Hi\n\nWorld")
	require.NoError(t, err)
	require.Len(t, note.Blocks, 2)
	assert.Equal(t, BlockHeading, note.Blocks[0].Type)
	assert.Equal(t, BlockParagraph, note.Blocks[1].Type)
}

func TestParseWikilinkWithAlias(t *testing.T) {
	note, err := Parse("See [[target-note|Target]] for more.")
	require.NoError(t, err)
	require.Len(t, note.Wikilinks, 1)
	assert.Equal(t, "target-note", note.Wikilinks[0].Target)
	assert.Equal(t, "Target", note.Wikilinks[0].Alias)
}

func TestParseHierarchicalTag(t *testing.T) {
	note, err := Parse("Working on #project/ai/agents today.")
	require.NoError(t, err)
	require.Len(t, note.Tags, 1)
	assert.Equal(t, "project/ai/agents", note.Tags[0].Text)
}

func TestParseCallout(t *testing.T) {
	note, err := Parse("> [!note] Heads up\n> This is important.")
	require.NoError(t, err)
	require.Len(t, note.Callouts, 1)
	assert.Equal(t, "note", note.Callouts[0].Type)
	assert.Equal(t, "Heads up", note.Callouts[0].Title)
}

func TestParseFrontmatter(t *testing.T) {
	src := "---\ntitle: Hello\ntags:\n  - a\n---\n\n# Body\n"
	note, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, "Hello", note.Frontmatter["title"])
}

func TestParseInvalidUTF8Fails(t *testing.T) {
	_, err := Parse(string([]byte{0xff, 0xfe, 0x00}))
	assert.Error(t, err)
}

func TestParseMalformedFrontmatterDegrades(t *testing.T) {
	src := "---\n: : not yaml : :\n---\n\nBody text\n"
	note, err := Parse(src)
	require.NoError(t, err)
	assert.NotEmpty(t, note.PlainText)
}

func TestParseIsDeterministic(t *testing.T) {
	src := "# Title\n\nSome *text* with #tags and [[links]].\n"
	a, err := Parse(src)
	require.NoError(t, err)
	b, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, a.PlainText, b.PlainText)
	assert.Equal(t, len(a.Blocks), len(b.Blocks))
}
