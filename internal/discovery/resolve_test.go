package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolverResolvesByExactName(t *testing.T) {
	r := NewResolver()
	r.Register(EntityAlias{ID: "p1", Name: "Gandalf the Grey"})

	id, ok := r.Resolve("gandalf the grey")
	assert.True(t, ok)
	assert.Equal(t, "p1", id)
}

func TestResolverResolvesByAlias(t *testing.T) {
	r := NewResolver()
	r.Register(EntityAlias{ID: "p1", Name: "Gandalf", Aliases: []string{"Mithrandir", "Greyhame"}})

	id, ok := r.Resolve("Mithrandir")
	assert.True(t, ok)
	assert.Equal(t, "p1", id)
}

func TestResolverUnknownSurfaceFormMisses(t *testing.T) {
	r := NewResolver()
	_, ok := r.Resolve("Nobody")
	assert.False(t, ok)
}

func TestResolverLaterRegistrationOverwritesEarlier(t *testing.T) {
	r := NewResolver()
	r.Register(EntityAlias{ID: "p1", Name: "Strider"})
	r.Register(EntityAlias{ID: "p2", Name: "Strider"})

	id, ok := r.Resolve("Strider")
	assert.True(t, ok)
	assert.Equal(t, "p2", id)
}
