package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kittclouds/kiln/internal/errs"
	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/kittclouds/kiln/internal/scripting"
	"github.com/kittclouds/kiln/internal/store"
)

// CoreHandler implements a built-in (source "core") tool.
type CoreHandler func(ctx context.Context, ec *ExecutionContext, args map[string]any) (any, error)

// ExecutionContext is threaded through a single tool call: the storage
// handle every knowledge-source tool reads/writes, the interaction
// channel an interactive tool can block on, and a per-call correlation
// id identifying this tool call (an ask_user interaction publishes its
// own separate id in InteractionRequestPayload.ID). Ask
// is bound to the Executor that built this context, so a core handler
// never needs to close over (and thereby pin itself to) one particular
// Executor instance.
type ExecutionContext struct {
	Storer        store.Storer
	Bus           *eventbus.Bus
	CorrelationID string
	Ask           func(ctx context.Context, req AskRequest, timeout time.Duration) (*AskResponse, error)
}

// Executor runs a ToolRef by name, dispatching to a CoreHandler, the
// scripting runtime, or an external server's HTTP endpoint depending on
// the ToolRef's Source. Interactive tools (ask_user and friends) go
// through a process-wide correlation-id-keyed oneshot registry — distinct
// from the scripting package's own script-local one, since scripts and
// agent tool calls are independent callers that must not block on each
// other's answers.
type Executor struct {
	reg          *Registry
	st           store.Storer
	bus          *eventbus.Bus
	runtime      *scripting.Runtime
	interactions *interactionRegistry
	httpClient   *http.Client
}

func NewExecutor(reg *Registry, st store.Storer, bus *eventbus.Bus, rt *scripting.Runtime) *Executor {
	return &Executor{
		reg:          reg,
		st:           st,
		bus:          bus,
		runtime:      rt,
		interactions: newInteractionRegistry(),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

var coreHandlers = map[string]CoreHandler{}

// RegisterCore installs a built-in handler for a core ToolRef name. Call
// during process setup, before any agent loop runs.
func RegisterCore(name string, h CoreHandler) {
	coreHandlers[name] = h
}

// Execute runs the named tool and returns its result serialized to a
// string, the shape every ChatProvider expects back in a "tool" message.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	ref, ok := e.reg.Get(name)
	if !ok {
		return "", errs.Input(errs.KindNotFound, "unknown tool: "+name, nil)
	}

	ec := &ExecutionContext{Storer: e.st, Bus: e.bus, CorrelationID: uuid.NewString(), Ask: e.AskUser}

	var (
		result any
		err    error
	)
	switch ref.Source {
	case SourceCore:
		result, err = e.runCore(ctx, ref, ec, args)
	case SourceKnowledge:
		result, err = e.runCore(ctx, ref, ec, args) // knowledge tools register through the same core handler table
	case SourceScript:
		result, err = e.runScript(ctx, ref, args)
	case SourceExternal:
		result, err = e.runExternal(ctx, ref, args)
	default:
		err = errs.Input(errs.KindNotFound, "tool has no runnable source: "+name, nil)
	}
	if err != nil {
		return "", err
	}

	encoded, mErr := json.Marshal(result)
	if mErr != nil {
		return "", errs.Input(errs.KindEncodingError, "marshal tool result", mErr)
	}
	return string(encoded), nil
}

func (e *Executor) runCore(ctx context.Context, ref ToolRef, ec *ExecutionContext, args map[string]any) (any, error) {
	h, ok := coreHandlers[ref.Name]
	if !ok {
		return nil, errs.Input(errs.KindNotFound, "no handler registered for core tool: "+ref.Name, nil)
	}
	return h(ctx, ec, args)
}

func (e *Executor) runScript(ctx context.Context, ref ToolRef, args map[string]any) (any, error) {
	if e.runtime == nil {
		return nil, errs.Input(errs.KindNotFound, "no scripting runtime attached for tool: "+ref.Name, nil)
	}
	return e.runtime.Invoke(ctx, ref.CompiledScriptID, ref.Name, args)
}

func (e *Executor) runExternal(ctx context.Context, ref ToolRef, args map[string]any) (any, error) {
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  ref.Name,
		"params":  args,
	})
	if err != nil {
		return nil, errs.Input(errs.KindEncodingError, "marshal external tool request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ref.ExternalServer, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errs.Network(errs.KindUpstream, "build external tool request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errs.Network(errs.KindUpstream, "call external tool server", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errs.Network(errs.KindUpstream, "read external tool response", err)
	}

	var decoded struct {
		Result any `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errs.Input(errs.KindEncodingError, "decode external tool response", err)
	}
	if decoded.Error != nil {
		return nil, errs.Network(errs.KindUpstream, fmt.Sprintf("external tool %q: %s", ref.Name, decoded.Error.Message), nil)
	}
	return decoded.Result, nil
}

// AskRequest is the shape an ask_user tool call carries: a question,
// optional fixed choices, and two modifiers mirroring the original
// workspace ask_user tool (multi-select, free-text "other").
type AskRequest struct {
	Question    string   `json:"question"`
	Choices     []string `json:"choices,omitempty"`
	MultiSelect bool     `json:"multi_select,omitempty"`
	AllowOther  bool     `json:"allow_other,omitempty"`
}

// AskResponse is what a resolved ask_user call returns: either a set of
// selected choice indices, or free text when AllowOther was set and the
// user typed something outside the offered choices.
type AskResponse struct {
	Selected []int   `json:"selected,omitempty"`
	Other    *string `json:"other,omitempty"`
}

// AskUser publishes an InteractionRequested event and blocks until
// ResolveInteraction delivers an AskResponse or timeout elapses. A request
// dropped with CancelInteraction, or whose ctx is done, surfaces as
// KindCancelled; one that is never answered surfaces as
// KindInteractTimeout. Neither hangs the agent loop forever.
func (e *Executor) AskUser(ctx context.Context, req AskRequest, timeout time.Duration) (*AskResponse, error) {
	return e.interactions.ask(ctx, e.bus, req, timeout)
}

// ResolveInteraction answers a pending AskUser call by correlation id.
func (e *Executor) ResolveInteraction(id string, resp AskResponse) {
	e.interactions.resolve(id, resp)
}

// CancelInteraction drops a pending AskUser call by correlation id; its
// waiting caller receives KindCancelled instead of an answer.
func (e *Executor) CancelInteraction(id string) {
	e.interactions.cancel(id)
}

// interactionRegistry duplicated here deliberately: see type doc on
// Executor. mu guards waiters, a map of outstanding asks keyed by
// correlation id.
type interactionRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan interactionOutcome
}

type interactionOutcome struct {
	resp      AskResponse
	cancelled bool
}

func newInteractionRegistry() *interactionRegistry {
	return &interactionRegistry{waiters: make(map[string]chan interactionOutcome)}
}

func (r *interactionRegistry) ask(ctx context.Context, bus *eventbus.Bus, req AskRequest, timeout time.Duration) (*AskResponse, error) {
	id := uuid.NewString()
	ch := make(chan interactionOutcome, 1)
	r.mu.Lock()
	r.waiters[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiters, id)
		r.mu.Unlock()
	}()

	bus.Publish(ctx, eventbus.Event{
		Kind: eventbus.InteractionRequested,
		Payload: InteractionRequestPayload{
			ID:          id,
			Question:    req.Question,
			Choices:     req.Choices,
			MultiSelect: req.MultiSelect,
			AllowOther:  req.AllowOther,
		},
	})

	select {
	case outcome := <-ch:
		if outcome.cancelled {
			return nil, errs.Interaction(errs.KindCancelled, "ask_user cancelled: "+req.Question)
		}
		return &outcome.resp, nil
	case <-ctx.Done():
		return nil, errs.Interaction(errs.KindCancelled, "ask_user context done: "+req.Question)
	case <-time.After(timeout):
		return nil, errs.Interaction(errs.KindInteractTimeout, "no response to: "+req.Question)
	}
}

func (r *interactionRegistry) resolve(id string, resp AskResponse) {
	r.deliver(id, interactionOutcome{resp: resp})
}

func (r *interactionRegistry) cancel(id string) {
	r.deliver(id, interactionOutcome{cancelled: true})
}

func (r *interactionRegistry) deliver(id string, outcome interactionOutcome) {
	r.mu.Lock()
	ch, ok := r.waiters[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- outcome:
	default:
	}
}

// InteractionRequestPayload is published for an agent-loop ask_user call.
// It is a different type from the scripting package's popup payload
// (which carries only ID and Prompt), so a listener on
// InteractionRequested tells the two apart by payload type.
type InteractionRequestPayload struct {
	ID          string
	Question    string
	Choices     []string
	MultiSelect bool
	AllowOther  bool
}
