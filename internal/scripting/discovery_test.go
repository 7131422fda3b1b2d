package scripting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifestExtractsToolAndHookAnnotations(t *testing.T) {
	src := `// @tool name="note.search" description="find notes by text"
// @hook event="FileChanged" pattern="*.md" priority=20
function search(args) { return []; }
function on_FileChanged(evt) { return evt.path; }
`
	m, err := ParseManifest("search.script", src)
	require.NoError(t, err)

	require.Len(t, m.Tools, 1)
	assert.Equal(t, "note.search", m.Tools[0].Name)
	assert.Equal(t, "find notes by text", m.Tools[0].Description)

	require.Len(t, m.Hooks, 1)
	assert.Equal(t, "FileChanged", m.Hooks[0].EventType)
	assert.Equal(t, "*.md", m.Hooks[0].Pattern)
	assert.Equal(t, 20, m.Hooks[0].Priority)
}

func TestParseManifestIgnoresUnannotatedScripts(t *testing.T) {
	m, err := ParseManifest("plain.script", "function helper() { return 1; }\n")
	require.NoError(t, err)
	assert.Empty(t, m.Tools)
	assert.Empty(t, m.Hooks)
}
