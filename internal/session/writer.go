package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kittclouds/kiln/internal/errs"
)

const logFileName = "events.jsonl"

// Writer appends Events to one session's JSONL log. It is safe for
// concurrent use by a single logical session (e.g. a streaming assistant
// turn and a concurrent tool call), serialized behind mu the same way the
// Rust SessionWriter serializes appends behind its own Mutex.
type Writer struct {
	mu   sync.Mutex
	id   ID
	dir  string
	file *os.File
	w    *bufio.Writer
}

// Create starts a brand-new session of typ under sessionsDir, creating
// its directory and log file.
func Create(sessionsDir string, typ Type, now time.Time, randSource func() uint64) (*Writer, error) {
	id, err := New(typ, now, randSource)
	if err != nil {
		return nil, err
	}
	return openForWrite(sessionsDir, id, true)
}

// Open resumes an existing session by id, appending to its current log.
func Open(sessionsDir string, id ID) (*Writer, error) {
	return openForWrite(sessionsDir, id, false)
}

func openForWrite(sessionsDir string, id ID, create bool) (*Writer, error) {
	dir := filepath.Join(sessionsDir, id.String())
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Storage(errs.KindInternal, "create session dir", err)
		}
	} else if _, err := os.Stat(dir); err != nil {
		return nil, errs.Storage(errs.KindNotFound, "session not found: "+id.String(), err)
	}

	path := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errs.Storage(errs.KindInternal, "open session log", err)
	}
	return &Writer{id: id, dir: dir, file: f, w: bufio.NewWriter(f)}, nil
}

// ID returns the session this writer appends to.
func (w *Writer) ID() ID { return w.id }

// Append writes evt as one JSONL line and flushes immediately — a
// session log that survives a crash mid-run is worth more than the
// batching a deferred flush would buy.
func (w *Writer) Append(evt Event, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	evt.Timestamp = now.UTC().Format(time.RFC3339Nano)
	encoded, err := json.Marshal(evt)
	if err != nil {
		return errs.Input(errs.KindEncodingError, "marshal session event", err)
	}
	if _, err := w.w.Write(encoded); err != nil {
		return errs.Storage(errs.KindInternal, "write session event", err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return errs.Storage(errs.KindInternal, "write session event newline", err)
	}
	return w.w.Flush()
}

// Flush forces any buffered bytes to disk without closing the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Close flushes and releases the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// LoadEvents replays every event in id's log, in append order, so a
// resumed session can reconstruct its prior state (spec §4.13: "events
// can be replayed to reconstruct session state").
func LoadEvents(sessionsDir string, id ID) ([]Event, error) {
	path := filepath.Join(sessionsDir, id.String(), logFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Storage(errs.KindNotFound, "session not found: "+id.String(), err)
		}
		return nil, errs.Storage(errs.KindInternal, "open session log", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, errs.Input(errs.KindEncodingError, "decode session event", err)
		}
		events = append(events, evt)
	}
	if err := sc.Err(); err != nil {
		return nil, errs.Storage(errs.KindInternal, "scan session log", err)
	}
	return events, nil
}

// List returns every session id found under sessionsDir, sorted newest
// first (by the id's own YYYYMMDD-HHMM component, which sorts
// lexicographically in time order).
func List(sessionsDir string) ([]ID, error) {
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Storage(errs.KindInternal, "list sessions dir", err)
	}

	var ids []ID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := Parse(e.Name())
		if err != nil {
			continue // skip anything that isn't a valid session directory
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i].String(), ids[j].String()
		return a[strings.IndexByte(a, '-')+1:] > b[strings.IndexByte(b, '-')+1:]
	})
	return ids, nil
}
