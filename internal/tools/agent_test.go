package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/kittclouds/kiln/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns queued CompletionResults in order, one per
// Complete call, so a test can script a fixed number of tool-call rounds
// followed by a final answer.
type scriptedProvider struct {
	results []*CompletionResult
	calls   int
}

func (p *scriptedProvider) Complete(_ context.Context, _ []Message, _ []ToolDefinition, _ string) (*CompletionResult, error) {
	r := p.results[p.calls]
	p.calls++
	return r, nil
}

func strPtr(s string) *string { return &s }

func TestRunStopsWhenNoToolCallsReturned(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bus := eventbus.New(8)
	t.Cleanup(func() { bus.Shutdown(time.Second) })

	reg := NewRegistry()
	exec := NewExecutor(reg, st, bus, nil)

	provider := &scriptedProvider{results: []*CompletionResult{
		{Content: strPtr("done, no tools needed")},
	}}

	out, err := Run(context.Background(), provider, exec, reg, []Message{{Role: "user", Content: strPtr("hi")}}, LoopConfig{MaxIterations: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "done, no tools needed", *out[len(out)-1].Content)
}

func TestRunExecutesToolCallsThenStops(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bus := eventbus.New(8)
	t.Cleanup(func() { bus.Shutdown(time.Second) })

	reg := NewRegistry()
	exec := NewExecutor(reg, st, bus, nil)
	RegisterBuiltins(reg)

	id, err := st.UpsertEntity(&store.Entity{Type: store.EntityNote})
	require.NoError(t, err)

	argsJSON, _ := json.Marshal(map[string]any{"id": id})
	provider := &scriptedProvider{results: []*CompletionResult{
		{ToolCalls: []ToolCall{{ID: "call-1", Type: "function", Function: FunctionCall{Name: "note.find", Arguments: string(argsJSON)}}}},
		{Content: strPtr("found it")},
	}}

	out, err := Run(context.Background(), provider, exec, reg, []Message{{Role: "user", Content: strPtr("find my note")}}, LoopConfig{MaxIterations: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)

	var sawToolMessage bool
	for _, m := range out {
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			sawToolMessage = true
			assert.Contains(t, *m.Content, id)
		}
	}
	assert.True(t, sawToolMessage)
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bus := eventbus.New(8)
	t.Cleanup(func() { bus.Shutdown(time.Second) })

	reg := NewRegistry()
	exec := NewExecutor(reg, st, bus, nil)
	RegisterBuiltins(reg)

	call := ToolCall{ID: "loop", Type: "function", Function: FunctionCall{Name: "note.query", Arguments: "{}"}}
	loopResult := &CompletionResult{ToolCalls: []ToolCall{call}}
	provider := &scriptedProvider{results: []*CompletionResult{loopResult, loopResult, loopResult}}

	_, err = Run(context.Background(), provider, exec, reg, nil, LoopConfig{MaxIterations: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, provider.calls)
}
