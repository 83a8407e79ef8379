package apiclient

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failures the client reports.
type Kind int

const (
	KindNetworkUnavailable Kind = iota + 1
	KindSessionExpired
	KindForbidden
	KindApplicationError
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnavailable:
		return "network unavailable"
	case KindSessionExpired:
		return "session expired"
	case KindForbidden:
		return "forbidden"
	case KindApplicationError:
		return "application error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is matching against *Error.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrSessionExpired     = errors.New("session expired")
	ErrForbidden          = errors.New("forbidden")
	ErrApplication        = errors.New("application error")
)

// Error is returned by every failing client call.
type Error struct {
	Kind    Kind
	Status  int // 0 when no response was received
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindApplicationError && e.Status != 0:
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetworkUnavailable:
		return e.Kind == KindNetworkUnavailable
	case ErrSessionExpired:
		return e.Kind == KindSessionExpired
	case ErrForbidden:
		return e.Kind == KindForbidden
	case ErrApplication:
		return e.Kind == KindApplicationError
	}
	return false
}

// Retryable reports whether the failure is transient from the user's point of
// view: the session stays valid and the same action may be tried again.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetworkUnavailable || e.Kind == KindApplicationError
}

// AsError extracts the client error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
