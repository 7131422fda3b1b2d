package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrySearchRanksNameOverDescriptionOverTag(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolRef{Name: "note.search", Description: "full text lookup", Tags: []string{"misc"}})
	reg.Register(ToolRef{Name: "other", Description: "search notes by title", Tags: []string{"misc"}})
	reg.Register(ToolRef{Name: "third", Description: "unrelated", Tags: []string{"search"}})

	results := reg.Search("search", 0)
	assert.Len(t, results, 3)
	assert.Equal(t, "note.search", results[0].Name)
}

func TestRegistryAlwaysAvailableInjectedRegardlessOfQuery(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolRef{Name: "ask_user", AlwaysAvailable: true})
	reg.Register(ToolRef{Name: "note.find", Description: "lookup"})

	results := reg.Search("lookup", 0)
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "ask_user")
	assert.Contains(t, names, "note.find")
}

func TestRegistryUnregisterRemovesFromCatalog(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolRef{Name: "temp"})
	_, ok := reg.Get("temp")
	assert.True(t, ok)

	reg.Unregister("temp")
	_, ok = reg.Get("temp")
	assert.False(t, ok)
	assert.Empty(t, reg.Search("temp", 0))
}

func TestRegistrySearchLimitTruncates(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		reg.Register(ToolRef{Name: name, Description: "match"})
	}
	assert.Len(t, reg.Search("match", 2), 2)
}
