package review

import "errors"

// Sentinel errors matched with errors.Is.
var (
	ErrNotAuthorized  = errors.New("not authorized")
	ErrInvalidRequest = errors.New("invalid request")
	ErrTerminalState  = errors.New("application is in a terminal state")
)

// Error is a rejected action. Kind is one of the sentinel errors.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func notAuthorized(msg string) error  { return &Error{Kind: ErrNotAuthorized, Message: msg} }
func invalidRequest(msg string) error { return &Error{Kind: ErrInvalidRequest, Message: msg} }
func terminal(msg string) error       { return &Error{Kind: ErrTerminalState, Message: msg} }

// InvalidRequest builds an ErrInvalidRequest rejection for callers that
// enforce additional preconditions around the engine.
func InvalidRequest(msg string) error { return invalidRequest(msg) }
