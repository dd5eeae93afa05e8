package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch: agent loops turn most kinds into
// failed result messages, but StoreUnavailable and CorruptState abort the
// loop because they indicate data-integrity risk.
type Kind string

const (
	KindStoreUnavailable Kind = "store_unavailable"
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindLLMError         Kind = "llm_error"
	KindToolUnavailable  Kind = "tool_unavailable"
	KindBlocked          Kind = "blocked"
	KindTimeout          Kind = "timeout"
	KindCorruptState     Kind = "corrupt_state"
)

// Error carries a Kind and the failing operation alongside the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name. A nil err produces an Error
// whose message is just the kind, for conditions with no underlying cause.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or ""
// if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether err must abort the owning agent loop rather than
// become a failed result message.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindStoreUnavailable, KindCorruptState:
		return true
	}
	return false
}
