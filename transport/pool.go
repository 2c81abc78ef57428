// Package transport also provides the bounded TCP connection pool (ConnPool)
// behind StreamTransport.
//
// Connections are used exclusively: a caller borrows one with Get, performs a
// single request/response exchange, and returns it with Put. A connection that
// saw any error is marked unusable and closed on Put, so a half-written
// request or half-read response never leaks into the next call.
//
// Pool design: idle connections sit in a buffered channel (a natural FIFO
// queue), and a second buffered channel of slots caps how many connections
// exist at once. Both are goroutine-safe and blocking on empty is built-in.
package transport

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ConnPool manages a pool of reusable connections to a single address.
type ConnPool struct {
	mu      sync.Mutex
	idle    chan *PoolConn                               // Idle connections, FIFO
	slots   chan struct{}                                // One token per live connection
	addr    string                                       // Target address
	closed  bool                                         // Set by Close; later Puts close their conn
	factory func(ctx context.Context) (net.Conn, error) // Connection factory function
}

// PoolConn wraps a net.Conn with pool metadata.
type PoolConn struct {
	net.Conn
	pool     *ConnPool
	reader   *bufio.Reader
	unusable bool // Marked true when the connection encounters an error
}

// MarkUnusable flags the connection for disposal on Put.
func (c *PoolConn) MarkUnusable() {
	c.unusable = true
}

// Release returns the connection to the pool it came from.
func (c *PoolConn) Release() {
	c.pool.Put(c)
}

// Reader returns the buffered reader bound to this connection.
func (c *PoolConn) Reader() *bufio.Reader {
	return c.reader
}

// NewConnPool creates a connection pool with the given max size.
// Connections are created lazily. The pool starts empty and grows on demand.
func NewConnPool(addr string, maxConns int, factory func(ctx context.Context) (net.Conn, error)) *ConnPool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &ConnPool{
		idle:    make(chan *PoolConn, maxConns),
		slots:   make(chan struct{}, maxConns),
		addr:    addr,
		factory: factory,
	}
}

// Get retrieves a connection from the pool.
// Strategy:
//  1. Take an idle connection if one is waiting (non-blocking select)
//  2. Otherwise wait for whichever comes first: an idle connection, a free
//     slot to dial a new one, or ctx being done
func (p *ConnPool) Get(ctx context.Context) (*PoolConn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	select {
	case conn := <-p.idle:
		return conn, nil
	default:
	}

	select {
	case conn := <-p.idle:
		return conn, nil
	case p.slots <- struct{}{}:
		return p.createNew(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a connection to the pool.
// If the connection is marked unusable, or the pool is closed, it is closed
// and its slot released.
func (p *ConnPool) Put(conn *PoolConn) {
	if conn.unusable {
		p.discard(conn)
		return
	}
	// Close drains idle after setting closed, so the check and the send
	// happen under the same lock.
	p.mu.Lock()
	if !p.closed {
		select {
		case p.idle <- conn:
			p.mu.Unlock()
			return
		default:
		}
	}
	p.mu.Unlock()
	p.discard(conn)
}

// Len reports the number of live connections, idle or borrowed.
func (p *ConnPool) Len() int {
	return len(p.slots)
}

// Close shuts down the pool and closes all idle connections.
// Borrowed connections are closed when they are returned.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var result error
	for {
		select {
		case conn := <-p.idle:
			if err := conn.Conn.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			<-p.slots
		default:
			return result
		}
	}
}

func (p *ConnPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ConnPool) discard(conn *PoolConn) {
	conn.Conn.Close()
	<-p.slots
}

// createNew dials a connection for a slot the caller already holds.
func (p *ConnPool) createNew(ctx context.Context) (*PoolConn, error) {
	netConn, err := p.factory(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}

	return &PoolConn{
		Conn:   netConn,
		pool:   p,
		reader: bufio.NewReader(netConn),
	}, nil
}
