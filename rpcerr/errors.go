// Package rpcerr defines the four error kinds every pipeline call can return.
//
//	ConnectionError   the exchange with the endpoint failed (refused, reset, timeout, TLS)
//	InvalidStateError the caller broke a precondition, nothing was sent
//	ServerError       msfrpcd understood the request and answered with an error envelope
//	ProtocolError     the response matched neither the expected shape nor the error envelope
//
// Callers tell them apart with errors.As or the Is* helpers below.
package rpcerr

import (
	"fmt"
	"msfrpc/message"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a ConnectionError.
type Kind int

const (
	KindOther Kind = iota
	KindRefused
	KindReset
	KindTimeout
	KindTLS
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindRefused:
		return "refused"
	case KindReset:
		return "reset"
	case KindTimeout:
		return "timeout"
	case KindTLS:
		return "tls"
	case KindClosed:
		return "closed"
	default:
		return "other"
	}
}

// ConnectionError is a transport-level failure.
type ConnectionError struct {
	Kind     Kind
	Op       string // "dial", "write", "read", "http"
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("connection %s: %s %s", e.Kind, e.Op, e.Endpoint)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Timeout reports whether the exchange was aborted by a deadline or cancellation.
func (e *ConnectionError) Timeout() bool { return e.Kind == KindTimeout }

// InvalidStateError means the call was rejected before any network activity.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s: %s", e.Op, e.Reason)
}

// ServerError carries an error envelope returned by the server.
type ServerError struct {
	Method   string
	Envelope message.ErrorEnvelope
}

func (e *ServerError) Error() string {
	var b strings.Builder
	b.WriteString("server error")
	if e.Method != "" {
		b.WriteString(" from ")
		b.WriteString(e.Method)
	}
	if e.Envelope.ErrorClass != "" {
		b.WriteString(": ")
		b.WriteString(e.Envelope.ErrorClass)
	}
	switch {
	case e.Envelope.ErrorMessage != "":
		b.WriteString(": ")
		b.WriteString(e.Envelope.ErrorMessage)
	case e.Envelope.ErrorString != "":
		b.WriteString(": ")
		b.WriteString(e.Envelope.ErrorString)
	}
	return b.String()
}

// ProtocolError means the response bytes decoded as neither shape.
type ProtocolError struct {
	Method      string
	SuccessErr  error
	EnvelopeErr error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed response from %s: success decode: %v; error decode: %v",
		e.Method, e.SuccessErr, e.EnvelopeErr)
}

func (e *ProtocolError) Unwrap() error { return e.SuccessErr }

// NewInvalidState builds an InvalidStateError with a formatted reason.
func NewInvalidState(op, format string, args ...any) error {
	return &InvalidStateError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func IsInvalidState(err error) bool {
	var ie *InvalidStateError
	return errors.As(err, &ie)
}

func IsServer(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsTimeout reports whether err is a ConnectionError of kind timeout.
func IsTimeout(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Kind == KindTimeout
}

// Outcome names the kind of err for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsConnection(err):
		return "connection_error"
	case IsInvalidState(err):
		return "invalid_state"
	case IsServer(err):
		return "server_error"
	case IsProtocol(err):
		return "protocol_error"
	default:
		return "error"
	}
}
