package scripting

import (
	"context"
	"sync"

	"github.com/dop251/goja"
	"github.com/kittclouds/kiln/internal/errs"
	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/kittclouds/kiln/internal/store"
)

// Paths are the filesystem roots the host stdlib exposes to scripts
// (spec §4.11: "path accessors for kiln, session, workspace").
type Paths struct {
	KilnRoot      string
	SessionRoot   string
	WorkspaceRoot string
}

type compileCmd struct {
	id     string
	source string
	reply  chan error
}

type shutdownCmd struct{ done chan struct{} }

// Runtime is C11: a goja host running on one dedicated goroutine,
// reached only via a command channel. Programs are compiled once and
// interned by id; each invocation gets a fresh goja.Runtime bound to the
// same cached bytecode, isolating per-call global state while avoiding
// recompilation (spec §4.11/§5).
type Runtime struct {
	bus   *eventbus.Bus
	st    store.Storer
	paths Paths

	cmds chan any

	mu       sync.Mutex
	programs map[string]*goja.Program

	interactions *interactionRegistry
}

// NewRuntime constructs a Runtime. Start must be called before any
// Compile/Invoke call is issued.
func NewRuntime(bus *eventbus.Bus, st store.Storer, paths Paths) *Runtime {
	return &Runtime{
		bus:          bus,
		st:           st,
		paths:        paths,
		cmds:         make(chan any, 64),
		programs:     make(map[string]*goja.Program),
		interactions: newInteractionRegistry(),
	}
}

// Start spawns the dedicated goroutine. All goja.Runtime creation and
// execution happens inside this one goroutine for the Runtime's lifetime.
func (r *Runtime) Start() {
	go r.loop()
}

// Shutdown stops the dedicated goroutine, waiting for in-flight commands
// to drain.
func (r *Runtime) Shutdown() {
	done := make(chan struct{})
	r.cmds <- shutdownCmd{done: done}
	<-done
}

func (r *Runtime) loop() {
	for cmd := range r.cmds {
		switch c := cmd.(type) {
		case compileCmd:
			prog, err := goja.Compile(c.id, c.source, false)
			if err == nil {
				r.mu.Lock()
				r.programs[c.id] = prog
				r.mu.Unlock()
			}
			c.reply <- err
		case InvokeRequest:
			result, err := r.runInvoke(c)
			c.Reply <- InvokeReply{Result: result, Err: err}
		case HookFireRequest:
			result, err := r.runHook(c)
			c.Reply <- InvokeReply{Result: result, Err: err}
		case shutdownCmd:
			close(c.done)
			return
		}
	}
}

// Compile compiles source and interns it under id, which is name itself.
// Every call recompiles and replaces any program already cached under
// that name, even when the source is unchanged.
// Compile errors surface as errs.ScriptError{Kind: KindScriptCompile}.
func (r *Runtime) Compile(ctx context.Context, name, source string) (string, error) {
	id := name
	reply := make(chan error, 1)
	select {
	case r.cmds <- compileCmd{id: id, source: source, reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case err := <-reply:
		if err != nil {
			return "", errs.Script(errs.KindScriptCompile, "compile "+name, err)
		}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invoke runs the named tool exported by the program identified by
// compiledID, waiting for the dedicated goroutine's reply.
func (r *Runtime) Invoke(ctx context.Context, compiledID, toolName string, args map[string]any) (any, error) {
	reply := make(chan InvokeReply, 1)
	req := InvokeRequest{CompiledID: compiledID, ToolName: toolName, Args: args, Reply: reply}
	select {
	case r.cmds <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Result, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FireHook runs the named hook function for an event.
func (r *Runtime) FireHook(ctx context.Context, compiledID, eventType string, payload any) (any, error) {
	reply := make(chan InvokeReply, 1)
	req := HookFireRequest{CompiledID: compiledID, EventType: eventType, Payload: payload, Reply: reply}
	select {
	case r.cmds <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Result, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Runtime) runInvoke(req InvokeRequest) (any, error) {
	r.mu.Lock()
	prog, ok := r.programs[req.CompiledID]
	r.mu.Unlock()
	if !ok {
		return nil, errs.Script(errs.KindScriptContract, "no compiled program "+req.CompiledID, nil)
	}
	vm, err := r.freshVM()
	if err != nil {
		return nil, errs.Script(errs.KindScriptExecution, "bind stdlib", err)
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, errs.Script(errs.KindScriptExecution, "run "+req.CompiledID, err)
	}
	fn, ok := goja.AssertFunction(vm.Get(req.ToolName))
	if !ok {
		return nil, errs.Script(errs.KindScriptContract, "tool not exported: "+req.ToolName, nil)
	}
	result, err := fn(goja.Undefined(), vm.ToValue(req.Args))
	if err != nil {
		return nil, errs.Script(errs.KindScriptExecution, "invoke "+req.ToolName, err)
	}
	return result.Export(), nil
}

func (r *Runtime) runHook(req HookFireRequest) (any, error) {
	r.mu.Lock()
	prog, ok := r.programs[req.CompiledID]
	r.mu.Unlock()
	if !ok {
		return nil, errs.Script(errs.KindScriptContract, "no compiled program "+req.CompiledID, nil)
	}
	vm, err := r.freshVM()
	if err != nil {
		return nil, errs.Script(errs.KindScriptExecution, "bind stdlib", err)
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, errs.Script(errs.KindScriptExecution, "run "+req.CompiledID, err)
	}
	fnName := "on_" + req.EventType
	fn, ok := goja.AssertFunction(vm.Get(fnName))
	if !ok {
		return nil, nil // no handler exported for this event; not an error
	}
	result, err := fn(goja.Undefined(), vm.ToValue(req.Payload))
	if err != nil {
		return nil, errs.Script(errs.KindScriptExecution, "fire hook "+fnName, err)
	}
	return result.Export(), nil
}

// freshVM builds a new isolated goja.Runtime and binds the host stdlib
// (spec §4.11: "each invocation runs in a fresh context").
func (r *Runtime) freshVM() (*goja.Runtime, error) {
	vm := goja.New()
	if err := bindStdlib(vm, r); err != nil {
		return nil, err
	}
	return vm, nil
}
