package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"rosterline/internal/domain"
	rosterlinesdk "rosterline/sdk/go"
)

// Error kinds. Match them with errors.Is.
var (
	ErrActiveSessionConflict = errors.New("active session conflict")
	ErrNotFound              = errors.New("session not found")
	ErrNetworkOrTimeout      = errors.New("network or timeout")
	ErrMalformed             = errors.New("malformed session record")
	ErrUnauthenticated       = errors.New("not authenticated")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrRejected              = errors.New("request rejected")
)

// Error is returned by every Controller operation that fails.
type Error struct {
	Kind error
	Op   string
	// SessionID names the session the error is about. For a conflict it is
	// the session already in progress, when the server reported it.
	SessionID string
	// UnknownOutcome is set when the request may have been applied.
	UnknownOutcome bool
	Err            error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.SessionID != "" {
		msg += " (session " + e.SessionID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func classify(op string, err error) *Error {
	var apiErr *rosterlinesdk.APIError
	if errors.As(err, &apiErr) {
		e := &Error{Op: op, Err: err}
		switch {
		case apiErr.IsActiveSessionConflict():
			e.Kind = ErrActiveSessionConflict
			if id, ok := apiErr.Details["session_id"].(string); ok {
				e.SessionID = id
			}
		case apiErr.IsNotFound():
			e.Kind = ErrNotFound
		case apiErr.IsUnauthorized():
			e.Kind = ErrUnauthenticated
		case apiErr.StatusCode == http.StatusConflict:
			e.Kind = ErrInvalidTransition
		default:
			e.Kind = ErrRejected
		}
		return e
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Kind: ErrMalformed, Op: op, Err: err}
	}
	return &Error{Kind: ErrNetworkOrTimeout, Op: op, Err: err}
}

func malformed(op string, s domain.OnboardingSession, cause error) *Error {
	return &Error{Kind: ErrMalformed, Op: op, SessionID: s.ID, Err: cause}
}

func errorf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}
