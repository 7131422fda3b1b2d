// Package session implements C13: an append-only JSONL event trace per
// session, rooted at <kiln>/.<app>/sessions/<session_id>/. Session id
// generation, parsing, and validation are grounded on
// original_source/crates/crucible-observe/src/id.rs's SessionId; the
// writer/event shapes generalize the teacher's pkg/chat.ChatService
// (thread/message persistence) away from SQL rows onto a flat per-session
// log file, per spec §4.13.
package session

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kittclouds/kiln/internal/errs"
	"lukechampine.com/blake3"
)

// Type discriminates what kind of session a SessionId names.
type Type string

const (
	TypeChat     Type = "chat"
	TypeWorkflow Type = "workflow"
	TypeMCP      Type = "mcp"
	TypeSubagent Type = "sub"
)

func (t Type) valid() bool {
	switch t {
	case TypeChat, TypeWorkflow, TypeMCP, TypeSubagent:
		return true
	default:
		return false
	}
}

// idPattern matches spec §8 property 9:
// ^(chat|workflow|mcp|sub)-[0-9]{8}-[0-9]{4}-[0-9a-f]{4}$
var idPattern = regexp.MustCompile(`^(chat|workflow|mcp|sub)-([0-9]{8})-([0-9]{4})-([0-9a-f]{4})$`)

// ID is a validated session identifier of shape
// <type>-YYYYMMDD-HHMM-<4-hex>.
type ID struct {
	raw string
	typ Type
}

// New mints a fresh ID for typ at the given instant. The 4-hex suffix is
// derived from a blake3 hash of the timestamp plus a random salt, the
// same construction id.rs uses to disambiguate two sessions started in
// the same minute.
func New(typ Type, at time.Time, randSource func() uint64) (ID, error) {
	if !typ.valid() {
		return ID{}, errs.Input(errs.KindInvalidPath, "unknown session type: "+string(typ), nil)
	}
	date := at.UTC().Format("20060102")
	clock := at.UTC().Format("1504")

	salt := randSource()
	input := fmt.Sprintf("%d%d", at.UnixNano(), salt)
	hash := blake3.Sum256([]byte(input))
	suffix := fmt.Sprintf("%x", hash[:2])

	raw := fmt.Sprintf("%s-%s-%s-%s", typ, date, clock, suffix)
	return ID{raw: raw, typ: typ}, nil
}

// Parse validates s against idPattern and the known session types,
// mirroring id.rs's Parse (and the Deserialize impl it backs) — every
// entry point onto a SessionId runs through the same check, preventing a
// path-traversal payload like "../../../etc/passwd" from masquerading as
// a session id.
func Parse(s string) (ID, error) {
	m := idPattern.FindStringSubmatch(s)
	if m == nil {
		return ID{}, errs.Input(errs.KindInvalidPath, "invalid session id: "+s, nil)
	}
	typ := Type(m[1])
	if !typ.valid() {
		return ID{}, errs.Input(errs.KindInvalidPath, "invalid session type in id: "+s, nil)
	}
	return ID{raw: s, typ: typ}, nil
}

// String returns the canonical <type>-YYYYMMDD-HHMM-<hex> form.
func (id ID) String() string { return id.raw }

// Type returns the session's type.
func (id ID) Type() Type { return id.typ }

// IsZero reports whether id is the unset value.
func (id ID) IsZero() bool { return id.raw == "" }
