// Package scripting implements C11: a goja-based runtime that loads
// user-authored scripts declaring tools and hooks, runs on one dedicated
// goroutine reached only via a command channel (the runtime is not safe
// for concurrent access, per spec §4.11/§5), and interns compiled
// programs by id to avoid recompilation. The service/registry/discovery
// split and "compile once, execute by id" idiom are grounded on the
// original's rune_service.rs + rune_registry.rs; the host stdlib surface
// (paths, regex, HTTP, popup) mirrors paths_module.rs/regex_module.rs.
package scripting

import "time"

// ToolDecl is a tool a script declares via attribute-like annotation
// comments at its top (discovery parses these without executing the
// script body, per spec §4.11).
type ToolDecl struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// HookDecl is a bus-event subscriber a script declares. Pattern is a
// shell-style glob matched against the event identifier.
type HookDecl struct {
	EventType string
	Pattern   string
	Priority  int
}

// Manifest is what discovery extracts from one script file without
// running it.
type Manifest struct {
	Path       string
	Source     string
	ModTime    time.Time
	Tools      []ToolDecl
	Hooks      []HookDecl
	CompiledID string // not filled by discovery or Compile; Compile returns the id to its caller instead
}

// InvokeRequest asks the runtime to run one tool by name with args.
type InvokeRequest struct {
	CompiledID string
	ToolName   string
	Args       map[string]any
	Reply      chan InvokeReply
}

// InvokeReply is the oneshot response to an InvokeRequest.
type InvokeReply struct {
	Result any
	Err    error
}

// HookFireRequest asks the runtime to run one hook.
type HookFireRequest struct {
	CompiledID string
	EventType  string
	Payload    any
	Reply      chan InvokeReply
}
