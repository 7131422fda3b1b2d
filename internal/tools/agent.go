package tools

import (
	"context"
	"encoding/json"
)

// Message, ToolCall, FunctionCall, and ToolDefinition mirror the wire
// shapes from the teacher's pkg/agent.Service, generalized away from its
// OpenRouter/Google-specific response parsing: any ChatProvider
// implementation (a hosted model API, a local model, a test double)
// speaks in these same terms.
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded
}

type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

type ToolFunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CompletionResult is one round's output from a ChatProvider: either
// final prose content, or a batch of tool calls to execute before the
// next round.
type CompletionResult struct {
	Content   *string
	ToolCalls []ToolCall
}

// ChatProvider is anything that can take a running message transcript
// plus the tool catalog on offer and produce the next assistant turn.
// Swapping providers (hosted API, local model, scripted test double)
// never touches the loop in Run.
type ChatProvider interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) (*CompletionResult, error)
}

// LoopConfig bounds one Run invocation.
type LoopConfig struct {
	SystemPrompt  string
	MaxIterations int
}

// Run drives a ChatProvider through repeated tool-call rounds: send,
// and if the provider answers with tool_calls, execute each concurrently
// via exec, append their results as "tool" messages, and iterate. The
// loop stops when a round returns no tool_calls or MaxIterations is
// reached, grounded on the teacher's pkg/agent.Service.ChatWithTools
// request/response cycle but generalized into an explicit multi-round
// driver (the teacher's version only ever ran one round per call).
func Run(ctx context.Context, provider ChatProvider, exec *Executor, reg *Registry, messages []Message, cfg LoopConfig) ([]Message, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	defs := defsFor(reg.All())

	for i := 0; i < cfg.MaxIterations; i++ {
		result, err := provider.Complete(ctx, messages, defs, cfg.SystemPrompt)
		if err != nil {
			return messages, err
		}
		if len(result.ToolCalls) == 0 {
			messages = append(messages, Message{Role: "assistant", Content: result.Content})
			return messages, nil
		}

		messages = append(messages, Message{Role: "assistant", Content: result.Content, ToolCalls: result.ToolCalls})

		results := execConcurrently(ctx, exec, result.ToolCalls)
		for _, tm := range results {
			messages = append(messages, tm)
		}
	}
	return messages, nil
}

func defsFor(refs []ToolRef) []ToolDefinition {
	out := make([]ToolDefinition, len(refs))
	for i, r := range refs {
		out[i] = r.Definition()
	}
	return out
}

// execConcurrently runs every call in calls against exec in its own
// goroutine and returns their "tool" role messages in the original
// call order, regardless of completion order.
func execConcurrently(ctx context.Context, exec *Executor, calls []ToolCall) []Message {
	out := make([]Message, len(calls))
	done := make(chan struct{}, len(calls))

	for i, call := range calls {
		i, call := i, call
		go func() {
			defer func() { done <- struct{}{} }()
			var args map[string]any
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)

			res, err := exec.Execute(ctx, call.Function.Name, args)
			content := res
			if err != nil {
				content = err.Error()
			}
			out[i] = Message{Role: "tool", Content: &content, ToolCallID: call.ID}
		}()
	}
	for range calls {
		<-done
	}
	return out
}
