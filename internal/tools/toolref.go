// Package tools implements C12: a searchable catalog of everything an
// agent can call (ToolRef), an executor that runs a tool against an
// ExecutionContext carrying the interaction channel and a per-call
// correlation id, and the agent loop that drives a chat provider through
// repeated tool-call rounds. The loop shape (send -> tool_calls ->
// execute -> append -> iterate) is grounded on the teacher's
// pkg/agent.Service.ChatWithTools; the Message/ToolCall/ToolDefinition
// wire shapes are carried over from the same file, generalized away from
// its WASM/OpenRouter-only transport.
package tools

// Source enumerates where a ToolRef's implementation lives.
type Source string

const (
	SourceCore      Source = "core"
	SourceKnowledge Source = "knowledge"
	SourceScript    Source = "script"
	SourceExternal  Source = "external"
)

// ToolRef is any callable an agent can invoke.
type ToolRef struct {
	Name             string
	Source           Source
	ExternalServer   string // set only when Source == SourceExternal
	Description      string
	Tags             []string
	InputSchema      map[string]any
	AlwaysAvailable  bool
	CompiledScriptID string // set only when Source == SourceScript
}

// Definition projects a ToolRef into the wire schema a chat provider
// expects: {type: "function", function: {name, description, parameters}},
// with InputSchema as the parameters.
func (t ToolRef) Definition() ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		},
	}
}
