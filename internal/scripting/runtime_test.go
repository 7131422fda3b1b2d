package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/kittclouds/kiln/internal/errs"
	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/kittclouds/kiln/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) (*Runtime, *eventbus.Bus) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New(16)
	t.Cleanup(func() { bus.Shutdown(time.Second) })

	rt := NewRuntime(bus, st, Paths{KilnRoot: "/kiln", SessionRoot: "/kiln/.app/sessions", WorkspaceRoot: "/kiln/.app/workspace"})
	rt.Start()
	t.Cleanup(rt.Shutdown)
	return rt, bus
}

func TestCompileAndInvokeTool(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	id, err := rt.Compile(ctx, "double.script", `function double(args) { return args.x * 2; }`)
	require.NoError(t, err)

	result, err := rt.Invoke(ctx, id, "double", map[string]any{"x": int64(21)})
	require.NoError(t, err)
	assert.EqualValues(t, 42, result)
}

func TestInvokeUnknownToolReturnsContractError(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	id, err := rt.Compile(ctx, "empty.script", `function other() { return 1; }`)
	require.NoError(t, err)

	_, err = rt.Invoke(ctx, id, "missing", nil)
	require.Error(t, err)
	var se *errs.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, errs.KindScriptContract, se.Kind)
}

func TestFireHookInvokesNamedHandler(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	id, err := rt.Compile(ctx, "hook.script", `function on_FileChanged(evt) { return evt.path; }`)
	require.NoError(t, err)

	result, err := rt.FireHook(ctx, id, "FileChanged", map[string]any{"path": "a.md"})
	require.NoError(t, err)
	assert.Equal(t, "a.md", result)
}

func TestCompileErrorSurfacesAsScriptError(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	_, err := rt.Compile(ctx, "broken.script", `function ( { `)
	require.Error(t, err)
	var se *errs.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, errs.KindScriptCompile, se.Kind)
}

func TestPopupAskRoundTripsThroughInteractionRegistry(t *testing.T) {
	rt, bus := newTestRuntime(t)
	ctx := context.Background()

	bus.Subscribe(eventbus.InteractionRequested, 1, func(_ context.Context, evt eventbus.Event) eventbus.HandlerResult {
		payload := evt.Payload.(InteractionRequestPayload)
		go rt.Resolve(payload.ID, "yes")
		return eventbus.HandlerResult{}
	})

	id, err := rt.Compile(ctx, "ask.script", `function confirmDelete(args) { return popup.confirm("sure?"); }`)
	require.NoError(t, err)

	result, err := rt.Invoke(ctx, id, "confirmDelete", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}
