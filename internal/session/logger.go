package session

import (
	"strings"
	"sync"
	"time"
)

// Logger lazily creates a session's Writer on first use and accumulates
// streaming assistant content before flushing it as one event, mirroring
// crucible-cli's SessionLogger: a chat UI can call LogUserMessage and
// AccumulateAssistantChunk freely without caring whether a session has
// been started yet.
type Logger struct {
	sessionsDir   string
	truncateBytes int
	now           func() time.Time
	rand          func() uint64

	mu             sync.Mutex
	writer         *Writer
	accumAssistant strings.Builder
}

// NewLogger returns a Logger rooted at sessionsDir. now and rand are
// injected so tests (and any caller outside this package) can supply
// deterministic clocks/randomness instead of calling time.Now/math/rand
// directly from library code.
func NewLogger(sessionsDir string, truncateBytes int, now func() time.Time, rand func() uint64) *Logger {
	return &Logger{sessionsDir: sessionsDir, truncateBytes: truncateBytes, now: now, rand: rand}
}

// Resume attaches this Logger to an existing session and returns its
// prior events for replay. Returns an error if the session doesn't exist.
func (l *Logger) Resume(id ID) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := LoadEvents(l.sessionsDir, id)
	if err != nil {
		return nil, err
	}
	w, err := Open(l.sessionsDir, id)
	if err != nil {
		return nil, err
	}
	l.writer = w
	return events, nil
}

// SessionID returns the current session's id, or the zero ID if no
// session has been started yet.
func (l *Logger) SessionID() ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return ID{}
	}
	return l.writer.ID()
}

func (l *Logger) ensureWriterLocked(typ Type) error {
	if l.writer != nil {
		return nil
	}
	w, err := Create(l.sessionsDir, typ, l.now(), l.rand)
	if err != nil {
		return err
	}
	l.writer = w
	return nil
}

// LogUserMessage appends a user event, creating a chat-type session on
// first call.
func (l *Logger) LogUserMessage(content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureWriterLocked(TypeChat); err != nil {
		return err
	}
	return l.writer.Append(User(content), l.now())
}

// AccumulateAssistantChunk buffers one streamed chunk of assistant
// output without writing anything yet.
func (l *Logger) AccumulateAssistantChunk(chunk string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accumAssistant.WriteString(chunk)
}

// FlushAssistantMessage writes the accumulated assistant content as one
// complete event and resets the accumulator. A no-op if nothing was
// accumulated.
func (l *Logger) FlushAssistantMessage(model string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	content := l.accumAssistant.String()
	l.accumAssistant.Reset()
	if content == "" {
		return nil
	}
	if err := l.ensureWriterLocked(TypeChat); err != nil {
		return err
	}
	return l.writer.Append(Assistant(content, model), l.now())
}

// LogToolCall appends a tool_call event.
func (l *Logger) LogToolCall(id, name string, args map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureWriterLocked(TypeChat); err != nil {
		return err
	}
	return l.writer.Append(ToolCall(id, name, args), l.now())
}

// LogToolResult appends a tool_result event, truncating result per the
// configured truncation threshold first.
func (l *Logger) LogToolResult(id, result string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureWriterLocked(TypeChat); err != nil {
		return err
	}
	t := Truncate(result, l.truncateBytes)
	return l.writer.Append(ToolResult(id, t.Content, t.Truncated, t.OriginalSize), l.now())
}

// LogError appends an error event.
func (l *Logger) LogError(message string, recoverable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureWriterLocked(TypeChat); err != nil {
		return err
	}
	return l.writer.Append(Error(message, recoverable), l.now())
}

// LogInteraction appends an interaction event once a prompt has been
// answered.
func (l *Logger) LogInteraction(id, prompt, answer string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureWriterLocked(TypeChat); err != nil {
		return err
	}
	return l.writer.Append(Interaction(id, prompt, answer), l.now())
}

// Finish flushes and releases the underlying writer, if one was ever
// created.
func (l *Logger) Finish() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}

// ListSessions returns every session under this logger's sessions
// directory, newest first.
func (l *Logger) ListSessions() ([]ID, error) {
	return List(l.sessionsDir)
}
