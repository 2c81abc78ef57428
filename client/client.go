// Package client runs the request/response pipeline against one msfrpcd
// endpoint.
//
// Every call goes through the same steps:
//
//	catalog.Build (token from the session) → Middleware Chain →
//	codec.EncodeRequest → Transport.Send → resolver.Resolve
//
// and returns nil or exactly one of the rpcerr kinds.
package client

import (
	"context"
	"io"
	"msfrpc/catalog"
	"msfrpc/codec"
	"msfrpc/loadbalance"
	"msfrpc/message"
	"msfrpc/middleware"
	"msfrpc/registry"
	"msfrpc/resolver"
	"msfrpc/rpcerr"
	"msfrpc/session"
	"msfrpc/transport"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Client is safe for concurrent use. Its endpoint is fixed at construction.
type Client struct {
	session   *session.Session
	transport transport.Transport
	codec     codec.Codec
	catalog   *catalog.Catalog
	logger    *zap.Logger
	handler   middleware.HandlerFunc // middleware(middleware(...(invoke)))
	closers   []io.Closer
}

type Option func(*options)

type options struct {
	transport   transport.Transport
	codec       codec.Codec
	catalog     *catalog.Catalog
	logger      *zap.Logger
	middlewares []middleware.Middleware
	timeout     time.Duration
	closers     []io.Closer
}

// WithTransport replaces the default HTTP transport. The client closes it on Close.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithCatalog replaces the Metasploit call table.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware appends middlewares. They run in the order given, inside
// call logging and outside the per-call timeout.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithTimeout bounds every exchange. Zero leaves deadlines to the caller's ctx.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithCloser hands c to the client, which closes it after the transport.
// Used for resources the client was built from, such as a registry.
func WithCloser(c io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c) }
}

// New returns a client for ep. Without WithTransport it posts to ep over
// HTTP(S), honouring ep.InsecureSkipVerify.
func New(ep transport.Endpoint, opts ...Option) (*Client, error) {
	sess, err := session.New(ep)
	if err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.codec == nil {
		o.codec = codec.NewMsgpackCodec()
	}
	if !o.codec.Type().Wire() {
		return nil, rpcerr.NewInvalidState("client", "%s is not a wire codec", o.codec.Type())
	}
	if o.transport == nil {
		o.transport = transport.NewHTTPTransport(transport.WithInsecureSkipVerify(ep.InsecureSkipVerify))
	}
	if o.catalog == nil {
		o.catalog = catalog.Default()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Client{
		session:   sess,
		transport: o.transport,
		codec:     o.codec,
		catalog:   o.catalog,
		logger:    o.logger,
		closers:   o.closers,
	}

	chain := make([]middleware.Middleware, 0, len(o.middlewares)+2)
	chain = append(chain, middleware.LoggingMiddleware(o.logger))
	chain = append(chain, o.middlewares...)
	chain = append(chain, middleware.TimeOutMiddleware(o.timeout))
	c.handler = middleware.Chain(chain...)(c.invoke)
	return c, nil
}

// NewFromRegistry discovers the instances of service, lets bal pick one, and
// returns a client bound to it. The choice is made once.
func NewFromRegistry(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, errors.Wrapf(err, "discover %s", service)
	}
	inst, err := bal.Pick(instances)
	if err != nil {
		return nil, errors.Wrapf(err, "pick %s instance", service)
	}
	return New(inst.Endpoint, opts...)
}

// Call invokes method with args and decodes the reply into reply, which must
// be a pointer to the method's success shape.
func (c *Client) Call(ctx context.Context, method string, reply any, args ...any) error {
	call, err := c.catalog.Build(c.session, method, args...)
	if err != nil {
		return err
	}
	call.Reply = reply
	return c.handler(ctx, call)
}

// invoke is the innermost handler: encode, send, resolve.
func (c *Client) invoke(ctx context.Context, call *message.Call) error {
	body, err := codec.EncodeRequest(c.codec, call.Method, call.Params...)
	if err != nil {
		return rpcerr.NewInvalidState(call.Method, "encode request: %v", err)
	}

	ep := c.session.Endpoint()
	data, err := c.transport.Send(ctx, ep, body)
	if err != nil {
		return asConnectionError(ctx, ep, err)
	}

	return resolver.Resolve(c.codec, call.Method, data, call.Reply, call.CheckStatus)
}

// asConnectionError makes sure a transport failure reaches the caller as a
// ConnectionError, whatever the transport returned.
func asConnectionError(ctx context.Context, ep transport.Endpoint, err error) error {
	var ce *rpcerr.ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	kind := rpcerr.KindOther
	if ctx.Err() != nil {
		kind = rpcerr.KindTimeout
	}
	return &rpcerr.ConnectionError{Kind: kind, Op: "send", Endpoint: ep.String(), Err: err}
}

// Endpoint returns the endpoint every call is sent to.
func (c *Client) Endpoint() transport.Endpoint {
	return c.session.Endpoint()
}

// Token returns the current session token.
func (c *Client) Token() (string, bool) {
	return c.session.Token()
}

// SetToken installs a token obtained elsewhere, e.g. a permanent token.
func (c *Client) SetToken(token string) {
	c.session.SetToken(token)
}

// Catalog returns the call table used to build requests.
func (c *Client) Catalog() *catalog.Catalog {
	return c.catalog
}

// Close releases the transport's connections and anything passed with WithCloser.
func (c *Client) Close() error {
	var result error
	if err := c.transport.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "close transport"))
	}
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
