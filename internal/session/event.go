package session

// EventType discriminates one logged session event's variant.
type EventType string

const (
	EventUser        EventType = "user"
	EventAssistant   EventType = "assistant"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventError       EventType = "error"
	EventInteraction EventType = "interaction"
)

// Event is one JSONL line. Fields are fixed per variant: only the ones
// relevant to Type are populated, matching the Rust LogEvent enum's
// tagged-union shape (one struct here, a sum type there — Go has no sum
// types, so unused fields are simply zero/omitted on marshal).
type Event struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`

	// user / assistant
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"` // assistant only, optional

	// tool_call
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`

	// tool_result
	Truncated    bool `json:"truncated,omitempty"`
	OriginalSize int  `json:"original_size,omitempty"`

	// error
	Message     string `json:"message,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`

	// interaction
	InteractionID     string `json:"interaction_id,omitempty"`
	InteractionPrompt string `json:"interaction_prompt,omitempty"`
	InteractionAnswer string `json:"interaction_answer,omitempty"`
}

// User builds a user-message event.
func User(content string) Event {
	return Event{Type: EventUser, Content: content}
}

// Assistant builds an assistant-message event, optionally naming the
// model that produced it.
func Assistant(content, model string) Event {
	return Event{Type: EventAssistant, Content: content, Model: model}
}

// ToolCall builds a tool-invocation event.
func ToolCall(id, name string, args map[string]any) Event {
	return Event{Type: EventToolCall, ToolCallID: id, ToolName: name, ToolArgs: args}
}

// ToolResult builds a tool-result event. Truncate should already have
// been applied by the caller via Truncate.
func ToolResult(id, content string, truncated bool, originalSize int) Event {
	return Event{Type: EventToolResult, ToolCallID: id, Content: content, Truncated: truncated, OriginalSize: originalSize}
}

// Error builds an error event.
func Error(message string, recoverable bool) Event {
	return Event{Type: EventError, Message: message, Recoverable: recoverable}
}

// Interaction builds an interaction-request-and-answer event.
func Interaction(id, prompt, answer string) Event {
	return Event{Type: EventInteraction, InteractionID: id, InteractionPrompt: prompt, InteractionAnswer: answer}
}

// TruncateResult is what Truncate returns: the (possibly shortened)
// content plus whether it was cut and the pre-truncation byte length.
type TruncateResult struct {
	Content      string
	Truncated    bool
	OriginalSize int
}

// Truncate caps content at maxBytes, matching the Rust truncate_for_log
// helper session_logger.rs calls before logging a tool result — long
// tool output would otherwise bloat the session log without adding
// replay value.
func Truncate(content string, maxBytes int) TruncateResult {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return TruncateResult{Content: content}
	}
	return TruncateResult{
		Content:      content[:maxBytes],
		Truncated:    true,
		OriginalSize: len(content),
	}
}
