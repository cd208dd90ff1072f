package harmony

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies the failure modes that can surface from rendering,
// decoding, or stream-parsing a Harmony conversation.
type ErrorKind string

// Error kinds surfaced by this package. Every *Error carries one of these so
// callers can branch on failure class without string matching.
const (
	KindVocabularyGap     ErrorKind = "vocabulary_gap"
	KindDecodeRank        ErrorKind = "decode_rank"
	KindTruncatedUTF8     ErrorKind = "truncated_utf8"
	KindProtocolViolation ErrorKind = "protocol_violation"
	KindUnknownRole       ErrorKind = "unknown_role"
	KindUnknownEncoding   ErrorKind = "unknown_encoding"
	KindUnterminatedMsg   ErrorKind = "unterminated_message"
)

// Error is the concrete error type returned by this package. Position and
// State pin down where in a token stream or FSM walk the failure occurred;
// both are best-effort and may be -1/"" when not applicable.
type Error struct {
	Kind     ErrorKind
	Message  string
	Position int    // token index, -1 if not applicable
	State    string // parser state name at failure time, "" if not applicable
	cause    error
}

func (e *Error) Error() string {
	if e.Position >= 0 && e.State != "" {
		return fmt.Sprintf("%s: %s (token %d, state %s)", e.Kind, e.Message, e.Position, e.State)
	}
	if e.Position >= 0 {
		return fmt.Sprintf("%s: %s (token %d)", e.Kind, e.Message, e.Position)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, position int, state string, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Position: position, State: state}
}

func wrapError(kind ErrorKind, cause error, position int, state string, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Position: position, State: state, cause: errors.WithStack(cause)}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var he *Error
	if !errors.As(err, &he) {
		return false
	}
	return he.Kind == kind
}
