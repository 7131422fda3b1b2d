package changeset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectFourWayPartition(t *testing.T) {
	c := New()
	c.Hydrate([]Fingerprint{
		{Path: "a.md", Hash: "h1"},
		{Path: "b.md", Hash: "h2"},
		{Path: "c.md", Hash: "h3"},
	})

	current := []Fingerprint{
		{Path: "a.md", Hash: "h1"},      // unchanged
		{Path: "b.md", Hash: "h2-new"},  // changed
		{Path: "d.md", Hash: "h4"},      // new
		// c.md absent -> deleted
	}

	part, metrics := c.Detect(current)
	assert.ElementsMatch(t, []string{"a.md"}, part.Unchanged)
	assert.ElementsMatch(t, []string{"b.md"}, part.Changed)
	assert.ElementsMatch(t, []string{"d.md"}, part.New)
	assert.ElementsMatch(t, []string{"c.md"}, part.Deleted)
	assert.GreaterOrEqual(t, metrics.CacheHitRate, 0.0)
}

func TestDetectOneClassifiesSingleFile(t *testing.T) {
	c := New()
	c.Set(Fingerprint{Path: "a.md", Hash: "h1", ModTime: time.Now()})

	assert.Equal(t, "unchanged", c.DetectOne(Fingerprint{Path: "a.md", Hash: "h1"}))
	assert.Equal(t, "changed", c.DetectOne(Fingerprint{Path: "a.md", Hash: "h2"}))
	assert.Equal(t, "new", c.DetectOne(Fingerprint{Path: "z.md", Hash: "h9"}))
}
