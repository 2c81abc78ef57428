package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultPoolSize is the number of connections kept per endpoint.
const DefaultPoolSize = 4

// StreamTransport exchanges raw MessagePack values over TCP or TLS.
//
// MessagePack values are self-delimiting, so no extra framing is needed: the
// request is written as-is and the response is exactly one value read back
// from the same connection. Each call borrows a connection from the
// endpoint's pool for the whole exchange.
type StreamTransport struct {
	mu          sync.Mutex
	pools       map[string]*ConnPool // Keyed by Endpoint.Addr()
	poolSize    int
	dialTimeout time.Duration
	tlsConfig   *tls.Config
}

type StreamOption func(*StreamTransport)

// WithPoolSize sets the maximum number of connections per endpoint.
func WithPoolSize(n int) StreamOption {
	return func(t *StreamTransport) { t.poolSize = n }
}

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(d time.Duration) StreamOption {
	return func(t *StreamTransport) { t.dialTimeout = d }
}

// WithStreamTLSConfig overrides the TLS configuration used for TLS endpoints.
func WithStreamTLSConfig(cfg *tls.Config) StreamOption {
	return func(t *StreamTransport) { t.tlsConfig = cfg }
}

func NewStreamTransport(opts ...StreamOption) *StreamTransport {
	t := &StreamTransport{
		pools:       make(map[string]*ConnPool),
		poolSize:    DefaultPoolSize,
		dialTimeout: 10 * time.Second,
		tlsConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send writes body on a pooled connection and reads one complete MessagePack value.
// The connection is discarded on any error, including cancellation.
func (t *StreamTransport) Send(ctx context.Context, ep Endpoint, body []byte) ([]byte, error) {
	pool, err := t.pool(ep)
	if err != nil {
		return nil, classify(ctx, "dial", ep, err)
	}

	conn, err := pool.Get(ctx)
	if err != nil {
		return nil, classify(ctx, "dial", ep, err)
	}

	resp, op, err := exchange(ctx, conn, body)
	if err != nil {
		conn.MarkUnusable()
		conn.Release()
		return nil, classify(ctx, op, ep, err)
	}
	conn.Release()
	return resp, nil
}

// Close closes every endpoint pool.
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result error
	for addr, pool := range t.pools {
		if err := pool.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "close pool %s", addr))
		}
		delete(t.pools, addr)
	}
	return result
}

func (t *StreamTransport) pool(ep Endpoint) (*ConnPool, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	addr := ep.Addr()
	if p, ok := t.pools[addr]; ok {
		return p, nil
	}
	p := NewConnPool(addr, t.poolSize, t.factory(ep))
	t.pools[addr] = p
	return p, nil
}

func (t *StreamTransport) factory(ep Endpoint) func(ctx context.Context) (net.Conn, error) {
	return func(ctx context.Context) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: t.dialTimeout, KeepAlive: 30 * time.Second}
		if !ep.TLS {
			return dialer.DialContext(ctx, "tcp", ep.Addr())
		}
		cfg := t.tlsConfig.Clone()
		cfg.ServerName = ep.Host
		cfg.InsecureSkipVerify = cfg.InsecureSkipVerify || ep.InsecureSkipVerify
		td := &tls.Dialer{NetDialer: dialer, Config: cfg}
		return td.DialContext(ctx, "tcp", ep.Addr())
	}
}

// exchange performs one write/read round trip and reports which step failed.
func exchange(ctx context.Context, conn *PoolConn, body []byte) ([]byte, string, error) {
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, "write", err
	}
	// Cancellation without a deadline still has to unblock the read.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	// A callback that already started may poison the deadline after we
	// return, so the connection must not go back to the idle list.
	defer func() {
		if !stop() {
			conn.MarkUnusable()
		}
	}()

	if _, err := conn.Write(body); err != nil {
		return nil, "write", err
	}

	raw, err := msgpack.NewDecoder(conn.Reader()).DecodeRaw()
	if err != nil {
		return nil, "read", err
	}
	return raw, "", nil
}
