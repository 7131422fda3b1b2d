package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTokenPromotesAtThreshold(t *testing.T) {
	r := NewRegistry(3)
	assert.False(t, r.AddToken("Gandalf"))
	assert.False(t, r.AddToken("Gandalf"))
	assert.True(t, r.AddToken("Gandalf"))
	assert.Equal(t, StatusPromoted, r.GetStatus("gandalf"))
}

func TestAddTokenIsCaseInsensitive(t *testing.T) {
	r := NewRegistry(2)
	r.AddToken("Frodo")
	promoted := r.AddToken("FRODO")
	assert.True(t, promoted)
	stats := r.GetStats("frodo")
	assert.NotNil(t, stats)
	assert.Equal(t, 2, stats.Count)
}

func TestAddTokenSkipsStopwords(t *testing.T) {
	r := NewRegistry(1)
	assert.False(t, r.AddToken("The"))
	assert.Equal(t, StatusWatching, r.GetStatus("the"))
}

func TestAddTokenSkipsCustomStopword(t *testing.T) {
	r := NewRegistry(1)
	r.AddStopWord("Daily")
	assert.False(t, r.AddToken("Daily"))
}

func TestIgnoreSuppressesFuturePromotion(t *testing.T) {
	r := NewRegistry(2)
	r.Ignore("Bilbo")
	assert.False(t, r.AddToken("Bilbo"))
	assert.False(t, r.AddToken("Bilbo"))
	assert.Equal(t, StatusIgnored, r.GetStatus("bilbo"))
}

func TestAddTokenRejectsInvalidCandidates(t *testing.T) {
	r := NewRegistry(1)
	assert.False(t, r.AddToken(""))
	assert.False(t, r.AddToken("123"))
	assert.False(t, r.AddToken("#"))
}

func TestCandidatesSnapshotsAllTrackedTokens(t *testing.T) {
	r := NewRegistry(5)
	r.AddToken("Sauron")
	r.AddToken("Sauron")
	list := r.Candidates()
	require.Len(t, list, 1)
	assert.Equal(t, "Sauron", list[0].Token)
	assert.Equal(t, 2, list[0].Count)
}
