package watch

import (
	"context"
	"testing"
	"time"

	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	events chan BackendEvent
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan BackendEvent, 64)}
}

func (f *fakeBackend) Watch(root string) (<-chan BackendEvent, error) { return f.events, nil }
func (f *fakeBackend) Close() error                                  { close(f.events); return nil }

func TestDefaultFilterAcceptsMarkdownOnly(t *testing.T) {
	assert.True(t, DefaultFilter("notes/a.md"))
	assert.True(t, DefaultFilter("notes/a.markdown"))
	assert.False(t, DefaultFilter("notes/a.txt"))
	assert.False(t, DefaultFilter("notes/.obsidian/workspace.md"))
}

func TestDriverCoalescesBurstsToLatestKind(t *testing.T) {
	bus := eventbus.New(16)
	defer bus.Shutdown(time.Second)

	fb := newFakeBackend()
	driver := NewDriver(fb, bus, nil, 20*time.Millisecond)
	require.NoError(t, driver.Start("."))

	received := make(chan FileChangedPayload, 10)
	bus.Subscribe(eventbus.FileChanged, 1, func(ctx context.Context, evt eventbus.Event) eventbus.HandlerResult {
		received <- evt.Payload.(FileChangedPayload)
		return eventbus.HandlerResult{}
	})

	fb.events <- BackendEvent{Path: "a.md", Op: Modified}
	fb.events <- BackendEvent{Path: "a.md", Op: Modified}
	fb.events <- BackendEvent{Path: "a.md", Op: Deleted}

	select {
	case payload := <-received:
		assert.Equal(t, "a.md", payload.Path)
		assert.Equal(t, Deleted, payload.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced event")
	}

	select {
	case <-received:
		t.Fatal("expected only one coalesced event for the burst")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDriverFiltersNonMarkdownPaths(t *testing.T) {
	bus := eventbus.New(16)
	defer bus.Shutdown(time.Second)

	fb := newFakeBackend()
	driver := NewDriver(fb, bus, nil, 10*time.Millisecond)
	require.NoError(t, driver.Start("."))

	received := make(chan struct{}, 1)
	bus.Subscribe(eventbus.FileChanged, 1, func(ctx context.Context, evt eventbus.Event) eventbus.HandlerResult {
		received <- struct{}{}
		return eventbus.HandlerResult{}
	})

	fb.events <- BackendEvent{Path: "notes.txt", Op: Modified}

	select {
	case <-received:
		t.Fatal("non-markdown path should have been filtered")
	case <-time.After(50 * time.Millisecond):
	}
}
