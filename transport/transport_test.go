package transport

import (
	"context"
	"msfrpc/rpcerr"
	"net"
	"net/url"
	"strconv"
	"testing"

	"github.com/pkg/errors"
)

// endpointFromURL turns an httptest server URL into an Endpoint.
func endpointFromURL(t *testing.T, raw string) Endpoint {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return Endpoint{Host: host, Port: port, TLS: u.Scheme == "https", Path: DefaultPath}
}

// closedEndpoint returns an endpoint nothing listens on.
func closedEndpoint(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

func requireKind(t *testing.T, err error, kind rpcerr.Kind) {
	t.Helper()
	var ce *rpcerr.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expect *rpcerr.ConnectionError, got %T: %v", err, err)
	}
	if ce.Kind != kind {
		t.Fatalf("expect kind %s, got %s (%v)", kind, ce.Kind, ce.Err)
	}
}

func TestEndpoint(t *testing.T) {
	ep := Endpoint{Host: "10.0.0.5", Port: DefaultPort, TLS: true}
	if got := ep.URL(); got != "https://10.0.0.5:55552/api/" {
		t.Fatalf("unexpected URL %s", got)
	}

	ep = Endpoint{Host: "::1", Port: 8080, Path: "rpc"}
	if got := ep.URL(); got != "http://[::1]:8080/rpc" {
		t.Fatalf("unexpected URL %s", got)
	}

	if err := (Endpoint{Port: 1}).Validate(); err == nil {
		t.Fatal("expect empty host to be invalid")
	}
	if err := (Endpoint{Host: "h", Port: 70000}).Validate(); err == nil {
		t.Fatal("expect out of range port to be invalid")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind rpcerr.Kind
	}{
		{context.DeadlineExceeded, rpcerr.KindTimeout},
		{errors.Wrap(context.Canceled, "read"), rpcerr.KindTimeout},
		{ErrPoolClosed, rpcerr.KindClosed},
		{net.ErrClosed, rpcerr.KindClosed},
		{errors.New("tls: handshake failure"), rpcerr.KindTLS},
		{errors.New("boom"), rpcerr.KindOther},
	}
	for _, tc := range cases {
		if got := kindOf(tc.err); got != tc.kind {
			t.Errorf("kindOf(%v) = %s, want %s", tc.err, got, tc.kind)
		}
	}
}

func TestClassifyPrefersContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := classify(ctx, "read", Endpoint{Host: "h", Port: 1}, errors.New("use of closed connection"))
	requireKind(t, err, rpcerr.KindTimeout)
}
