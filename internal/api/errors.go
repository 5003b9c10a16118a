// Package api provides the client for the embedding service and the error
// taxonomy shared by every remote operation.
package api

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/embedlink/embedlink/internal/constants"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrConfiguration means the client is not configured to reach the
	// service (no base URL). The operation is never attempted.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation means local input was missing or rejected. The service
	// is never contacted.
	ErrValidation = errors.New("validation error")

	// ErrTransport means the request failed on the network or the service
	// answered with a non-OK status.
	ErrTransport = errors.New("transport error")

	// ErrProtocol means the service answered OK but the body lacked an
	// expected field or carried an unknown value.
	ErrProtocol = errors.New("protocol error")
)

// Error is a classified failure of a remote operation.
type Error struct {
	Kind       error  // one of the Err* kinds above
	Op         string // e.g. "start training"
	Message    string // human-readable cause
	Detail     string // raw transport detail, bounded (server body prefix)
	StatusCode int    // HTTP status for non-OK responses, else 0
	Err        error  // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ConfigurationError reports a missing or unusable client setting.
func ConfigurationError(op, message string) *Error {
	return &Error{Kind: ErrConfiguration, Op: op, Message: message}
}

// ValidationError reports bad local input.
func ValidationError(op, message string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: message}
}

// TransportError wraps a network failure. The message is the transport's
// own error text.
func TransportError(op string, err error) *Error {
	return &Error{Kind: ErrTransport, Op: op, Message: err.Error(), Err: err}
}

// StatusError reports a non-OK response. Only a bounded prefix of the body
// is kept.
func StatusError(op string, status int, body []byte) *Error {
	detail := Truncate(string(body), constants.ServerErrorPrefixLen)
	return &Error{
		Kind:       ErrTransport,
		Op:         op,
		Message:    fmt.Sprintf("server returned status %d", status),
		Detail:     detail,
		StatusCode: status,
	}
}

// ProtocolError reports a response that did not match the contract.
func ProtocolError(op, message string) *Error {
	return &Error{Kind: ErrProtocol, Op: op, Message: message}
}

// KindName returns a short label for err's kind ("configuration",
// "validation", "transport", "protocol" or "unknown").
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "unknown"
	}
}

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Truncate returns at most max bytes of s without splitting a UTF-8
// sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
