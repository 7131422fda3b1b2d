package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kittclouds/kiln/internal/errs"
	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/kittclouds/kiln/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*Executor, *Registry, store.Storer, *eventbus.Bus) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New(16)
	t.Cleanup(func() { bus.Shutdown(time.Second) })

	reg := NewRegistry()
	exec := NewExecutor(reg, st, bus, nil)
	RegisterBuiltins(reg)
	return exec, reg, st, bus
}

func TestExecuteKnowledgeToolRoundTripsThroughStore(t *testing.T) {
	exec, _, st, _ := newTestExecutor(t)
	ctx := context.Background()

	id, err := st.UpsertEntity(&store.Entity{Type: store.EntityNote, Data: map[string]any{"path": "a.md"}})
	require.NoError(t, err)

	out, err := exec.Execute(ctx, "note.find", map[string]any{"id": id})
	require.NoError(t, err)

	var got store.Entity
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, id, got.ID)
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	_, err := exec.Execute(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestAskUserRoundTripsThroughInteractionRegistry(t *testing.T) {
	exec, _, _, bus := newTestExecutor(t)
	ctx := context.Background()

	bus.Subscribe(eventbus.InteractionRequested, 1, func(_ context.Context, evt eventbus.Event) eventbus.HandlerResult {
		payload := evt.Payload.(InteractionRequestPayload)
		go exec.ResolveInteraction(payload.ID, AskResponse{Selected: []int{1}})
		return eventbus.HandlerResult{}
	})

	out, err := exec.Execute(ctx, "ask_user", map[string]any{
		"question": "pick one",
		"choices":  []any{"a", "b", "c"},
	})
	require.NoError(t, err)

	var got AskResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []int{1}, got.Selected)
}

func TestAskUserTimesOutWhenNeverResolved(t *testing.T) {
	exec, _, _, _ := newTestExecutor(t)
	_, err := exec.AskUser(context.Background(), AskRequest{Question: "anyone?"}, 20*time.Millisecond)
	assert.Error(t, err)
	var ie *errs.InteractionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, errs.KindInteractTimeout, ie.Kind)
}

func TestAskUserCancelledSurfacesAsCancelledNotHang(t *testing.T) {
	exec, _, _, bus := newTestExecutor(t)

	bus.Subscribe(eventbus.InteractionRequested, 1, func(_ context.Context, evt eventbus.Event) eventbus.HandlerResult {
		payload := evt.Payload.(InteractionRequestPayload)
		go exec.CancelInteraction(payload.ID)
		return eventbus.HandlerResult{}
	})

	_, err := exec.AskUser(context.Background(), AskRequest{Question: "cancel me"}, 2*time.Second)
	assert.Error(t, err)
	var ie *errs.InteractionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, errs.KindCancelled, ie.Kind)
}
