// Package server is an in-process stand-in for msfrpcd, used by tests and for
// local development without a Metasploit install.
//
// It speaks the same wire protocol as the real daemon:
//
//	HTTP:   POST /api/ with a MessagePack body  → ServeHTTP
//	stream: raw MessagePack values over TCP/TLS → Serve
//
// Request processing pipeline:
//
//	decode [method, token, args...] → check token → Middleware Chain → dispatch → encode reply or error envelope
//
// Every method except auth.login carries the session token as its first
// field. The token is checked when the server has credentials, then stripped
// before the handler sees the remaining Args.
package server

import (
	"bufio"
	"context"
	"io"
	"msfrpc/catalog"
	"msfrpc/codec"
	"msfrpc/message"
	"msfrpc/middleware"
	"msfrpc/registry"
	"msfrpc/rpcerr"
	"msfrpc/transport"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// HandlerFunc answers one method. The returned value is encoded as the reply.
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// maxRequestSize bounds an HTTP request body.
const maxRequestSize = 16 << 20

type announcement struct {
	registry registry.Registry
	service  string
	addr     string
}

// Server is a msfrpcd double.
type Server struct {
	codec  codec.Codec
	logger *zap.Logger
	auth   *authService // nil when tokens are not checked

	mu          sync.RWMutex
	methods     map[string]HandlerFunc
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))

	listeners     map[net.Listener]struct{}
	conns         map[net.Conn]struct{}
	announcements []announcement

	wg       sync.WaitGroup // In-flight requests
	shutdown atomic.Bool
}

type Option func(*Server)

// WithCodec selects the wire codec. Defaults to MessagePack.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCredentials enables the auth.* methods and rejects calls that do not
// carry a token issued by auth.login, auth.token_generate or auth.token_add.
func WithCredentials(username, password string) Option {
	return func(s *Server) {
		s.auth = newAuthService(username, password)
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		codec:     codec.NewMsgpackCodec(),
		logger:    zap.NewNop(),
		methods:   make(map[string]HandlerFunc),
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.dispatch
	if s.auth != nil {
		// the receiver shape is fixed, so this cannot fail
		_ = s.Register("auth", s.auth)
	}
	return s
}

// HandleFunc registers h for one dotted method name, replacing any previous handler.
func (s *Server) HandleFunc(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = h
}

// Register exposes rcvr's methods under prefix: with prefix "console", a
// method ReadAll becomes "console.read_all". An empty prefix uses the snake
// cased type name.
func (s *Server) Register(prefix string, rcvr any) error {
	svc, err := newService(prefix, rcvr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, mt := range svc.method {
		s.methods[svc.name+"."+name] = svc.handler(mt)
	}
	return nil
}

// Methods lists the registered method names, sorted.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use appends a middleware. Middlewares run in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
}

// ServeHTTP answers POST requests the way msfrpcd's /api/ handler does:
// 200 with the reply, or the envelope's error code (500 by default) with an
// error envelope.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "read request", http.StatusBadRequest)
		return
	}

	resp, status := s.process(r.Context(), body)
	w.Header().Set("Content-Type", transport.ContentType)
	w.WriteHeader(status)
	if _, err := w.Write(resp); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// Serve accepts stream connections on ln until Shutdown. Each connection
// carries one request at a time.
func (s *Server) Serve(ln net.Listener) error {
	if !s.codec.Type().Wire() {
		return errors.New("server: stream serving needs a MessagePack codec")
	}
	s.mu.Lock()
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener, which surfaces here.
			if s.shutdown.Load() {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	dec := msgpack.NewDecoder(bufio.NewReader(conn))
	for {
		raw, err := dec.DecodeRaw()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.shutdown.Load() {
				s.logger.Debug("read request", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
		resp, _ := s.process(context.Background(), raw)
		if _, err := conn.Write(resp); err != nil {
			s.logger.Debug("write response", zap.Error(err))
			return
		}
	}
}

// process runs one request through the chain and returns the encoded reply
// and the HTTP status to send it with.
func (s *Server) process(ctx context.Context, body []byte) ([]byte, int) {
	s.wg.Add(1)
	defer s.wg.Done()

	method, params, err := codec.DecodeRequest(s.codec, body)
	if err != nil {
		s.logger.Debug("malformed request", zap.Error(err))
		return s.encodeError(NewError(http.StatusBadRequest, "Invalid Message Format"))
	}

	call := &message.Call{Method: method, Params: params}
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	if err := handler(ctx, call); err != nil {
		return s.encodeError(err)
	}
	resp, err := s.codec.Encode(call.Reply)
	if err != nil {
		s.logger.Warn("encode reply", zap.String("method", method), zap.Error(err))
		return s.encodeError(errors.Wrap(err, "encode reply"))
	}
	return resp, http.StatusOK
}

// dispatch is the innermost handler: token check, method lookup, call.
func (s *Server) dispatch(ctx context.Context, call *message.Call) error {
	args := Args(call.Params)
	if call.Method != catalog.AuthLogin {
		token, err := args.String(0)
		if err != nil {
			return NewError(http.StatusUnauthorized, "Missing Authentication Token")
		}
		if s.auth != nil && !s.auth.valid(token) {
			return NewError(http.StatusUnauthorized, "Invalid Authentication Token")
		}
		args = args[1:]
	}

	s.mu.RLock()
	h, ok := s.methods[call.Method]
	s.mu.RUnlock()
	if !ok {
		return NewError(http.StatusInternalServerError, "Unknown API Call: '"+call.Method+"'")
	}

	reply, err := h(ctx, args)
	if err != nil {
		return err
	}
	call.Reply = reply
	return nil
}

// NewError builds the error msfrpcd reports for a failed call.
func NewError(code int, msg string) *rpcerr.ServerError {
	return &rpcerr.ServerError{Envelope: message.ErrorEnvelope{
		Error:          true,
		ErrorClass:     "Msf::RPC::Exception",
		ErrorString:    "Msf::RPC::Exception",
		ErrorMessage:   msg,
		ErrorBacktrace: []string{},
		ErrorCode:      code,
	}}
}

func (s *Server) encodeError(err error) ([]byte, int) {
	var se *rpcerr.ServerError
	if !errors.As(err, &se) {
		se = &rpcerr.ServerError{Envelope: message.ErrorEnvelope{
			Error:          true,
			ErrorClass:     "Msf::RPC::ServerException",
			ErrorString:    err.Error(),
			ErrorMessage:   err.Error(),
			ErrorBacktrace: []string{},
			ErrorCode:      http.StatusInternalServerError,
		}}
	}
	status := se.Envelope.ErrorCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	resp, encErr := s.codec.Encode(se.Envelope)
	if encErr != nil {
		s.logger.Error("encode error envelope", zap.Error(encErr))
		return nil, http.StatusInternalServerError
	}
	return resp, status
}

// Announce registers addr under service in reg. Shutdown deregisters it.
func (s *Server) Announce(ctx context.Context, reg registry.Registry, service string, instance registry.ServiceInstance, ttl int64) error {
	if err := reg.Register(ctx, service, instance, ttl); err != nil {
		return err
	}
	s.mu.Lock()
	s.announcements = append(s.announcements, announcement{registry: reg, service: service, addr: instance.Addr()})
	s.mu.Unlock()
	return nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister announcements so clients stop picking this server
//  2. Set the shutdown flag so Serve treats the Accept error as intentional
//  3. Close listeners and wait for in-flight requests (bounded by timeout)
//  4. Close idle stream connections
func (s *Server) Shutdown(timeout time.Duration) error {
	var result error

	s.mu.Lock()
	announcements := s.announcements
	s.announcements = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, a := range announcements {
		if err := a.registry.Deregister(ctx, a.service, a.addr); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "deregister %s", a.addr))
		}
	}

	s.shutdown.Store(true)
	s.mu.Lock()
	for ln := range s.listeners {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close listener"))
		}
		delete(s.listeners, ln)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, errors.New("timeout waiting for ongoing requests to finish"))
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return result
}
