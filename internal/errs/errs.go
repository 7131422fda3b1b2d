// Package errs defines the error-kind taxonomy shared by every component:
// Input, Storage, Network, Script, Interaction, and Fatal errors. Each kind
// wraps an underlying cause and carries a machine-checkable Kind string so
// callers can branch with errors.As without parsing messages.
package errs

import "fmt"

// Kind identifies the broad category a typed error belongs to.
type Kind string

const (
	KindInvalidPath      Kind = "invalid_path"
	KindFileTooLarge     Kind = "file_too_large"
	KindEncodingError    Kind = "encoding_error"
	KindParseFailed      Kind = "parse_failed"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindSchemaMigration  Kind = "schema_migration"
	KindDaemonUnavail    Kind = "daemon_unavailable"
	KindTimeout          Kind = "timeout"
	KindRateLimited      Kind = "rate_limited"
	KindAuthFailed       Kind = "auth_failed"
	KindUpstream         Kind = "upstream"
	KindScriptCompile    Kind = "script_compile"
	KindScriptExecution  Kind = "script_execution"
	KindScriptContract   Kind = "script_contract"
	KindCancelled        Kind = "cancelled"
	KindInteractTimeout  Kind = "interaction_timeout"
	KindInternal         Kind = "internal"
)

// InputError covers malformed or oversized input.
type InputError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input(%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("input(%s): %s", e.Kind, e.Msg)
}

func (e *InputError) Unwrap() error { return e.Err }

func Input(kind Kind, msg string, err error) *InputError {
	return &InputError{Kind: kind, Msg: msg, Err: err}
}

// StorageError covers failures from the graph+EAV store.
type StorageError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage(%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("storage(%s): %s", e.Kind, e.Msg)
}

func (e *StorageError) Unwrap() error { return e.Err }

func Storage(kind Kind, msg string, err error) *StorageError {
	return &StorageError{Kind: kind, Msg: msg, Err: err}
}

// NetworkError covers provider/transport failures.
type NetworkError struct {
	Kind       Kind
	Msg        string
	Code       int
	RetryAfter int // seconds, only meaningful for KindRateLimited
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network(%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("network(%s): %s", e.Kind, e.Msg)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func Network(kind Kind, msg string, err error) *NetworkError {
	return &NetworkError{Kind: kind, Msg: msg, Err: err}
}

// ScriptError covers the scripting runtime's compile/execution/contract
// failures.
type ScriptError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *ScriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("script(%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("script(%s): %s", e.Kind, e.Msg)
}

func (e *ScriptError) Unwrap() error { return e.Err }

func Script(kind Kind, msg string, err error) *ScriptError {
	return &ScriptError{Kind: kind, Msg: msg, Err: err}
}

// InteractionError covers interaction-channel cancellation/timeout.
type InteractionError struct {
	Kind Kind
	Msg  string
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("interaction(%s): %s", e.Kind, e.Msg)
}

func Interaction(kind Kind, msg string) *InteractionError {
	return &InteractionError{Kind: kind, Msg: msg}
}

// FatalError marks a programmer error that should fail the current
// operation outright; it is the only kind the pipeline driver treats as
// non-recoverable for a note.
type FatalError struct {
	Msg string
	Err error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("internal: %s", e.Msg)
}

func (e *FatalError) Unwrap() error { return e.Err }

func Fatal(msg string, err error) *FatalError {
	return &FatalError{Msg: msg, Err: err}
}

// IsFatal reports whether err is (or wraps) a FatalError — the only kind
// that propagates past a pipeline phase to the driver per the propagation
// rule in spec §7.
func IsFatal(err error) bool {
	var f *FatalError
	return asFatal(err, &f)
}

func asFatal(err error, target **FatalError) bool {
	for err != nil {
		if f, ok := err.(*FatalError); ok {
			*target = f
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
