// Package transport moves encoded request envelopes to msfrpcd and returns the
// complete response bytes.
//
// Two implementations are provided:
//
//	HTTPTransport    POST /api/ over HTTP or HTTPS, the way msfrpcd is normally deployed
//	StreamTransport  raw MessagePack over TCP/TLS, one pooled connection per in-flight call
//
// Neither multiplexes requests on a connection. Every failure, including a
// caller-initiated timeout, comes back as a *rpcerr.ConnectionError.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"msfrpc/rpcerr"
	"net"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Transport sends one request and returns the full response.
type Transport interface {
	Send(ctx context.Context, ep Endpoint, body []byte) ([]byte, error)
	Close() error
}

// ErrPoolClosed is returned when a call races Close.
var ErrPoolClosed = errors.New("connection pool closed")

// classify turns any failure of an exchange into a ConnectionError.
// A done context wins over the underlying error so that cancellation is
// always reported as a timeout.
func classify(ctx context.Context, op string, ep Endpoint, err error) error {
	var ce *rpcerr.ConnectionError
	if errors.As(err, &ce) {
		return ce
	}
	ce = &rpcerr.ConnectionError{Op: op, Endpoint: ep.Addr(), Err: err}
	if ctx.Err() != nil {
		ce.Kind = rpcerr.KindTimeout
		return ce
	}
	ce.Kind = kindOf(err)
	return ce
}

func kindOf(err error) rpcerr.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return rpcerr.KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return rpcerr.KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return rpcerr.KindRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return rpcerr.KindReset
	}
	if errors.Is(err, ErrPoolClosed) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return rpcerr.KindClosed
	}
	if isTLSError(err) {
		return rpcerr.KindTLS
	}
	return rpcerr.KindOther
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		verifyErr   *tls.CertificateVerificationError
		unknownErr  x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr), errors.As(err, &alertErr), errors.As(err, &verifyErr),
		errors.As(err, &unknownErr), errors.As(err, &hostnameErr), errors.As(err, &invalidErr):
		return true
	}
	return strings.Contains(err.Error(), "tls:")
}
