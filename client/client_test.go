package client

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/codec"
	"msfrpc/message"
	"msfrpc/rpcerr"
	"msfrpc/transport"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTransport answers every request with reply (or err) and records what
// it was sent.
type stubTransport struct {
	reply []byte
	err   error
	sends atomic.Int32
	last  []byte
	wait  time.Duration
}

func (s *stubTransport) Send(ctx context.Context, ep transport.Endpoint, body []byte) ([]byte, error) {
	s.sends.Add(1)
	s.last = body
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.reply, s.err
}

func (s *stubTransport) Close() error { return nil }

var testEndpoint = transport.Endpoint{Host: "127.0.0.1", Port: transport.DefaultPort}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.NewMsgpackCodec().Encode(v)
	require.NoError(t, err)
	return data
}

func newStubClient(t *testing.T, st *stubTransport, opts ...Option) *Client {
	t.Helper()
	c, err := New(testEndpoint, append([]Option{WithTransport(st)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewValidatesEndpoint(t *testing.T) {
	_, err := New(transport.Endpoint{Port: 55552})
	assert.True(t, rpcerr.IsInvalidState(err))

	_, err = New(transport.Endpoint{Host: "msf", Port: 70000})
	assert.True(t, rpcerr.IsInvalidState(err))
}

func TestNewRejectsJSONCodec(t *testing.T) {
	ep := transport.Endpoint{Host: "msf", Port: 55552}
	_, err := New(ep, WithCodec(&codec.JSONCodec{}))
	assert.True(t, rpcerr.IsInvalidState(err))
	assert.ErrorContains(t, err, "not a wire codec")

	c, err := New(ep, WithCodec(codec.NewCompatCodec()))
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestInvalidStateSendsNothing(t *testing.T) {
	st := &stubTransport{}
	c := newStubClient(t, st)
	ctx := context.Background()

	var v map[string]any
	tests := []struct {
		name   string
		method string
		args   []any
	}{
		{"no token", catalog.CoreVersion, nil},
		{"unknown method", "core.fly", nil},
		{"login arity", catalog.AuthLogin, []any{"msf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Call(ctx, tt.method, &v, tt.args...)
			assert.True(t, rpcerr.IsInvalidState(err), "got %v", err)
		})
	}

	err := c.Logout(ctx)
	assert.True(t, rpcerr.IsInvalidState(err))
	assert.Equal(t, int32(0), st.sends.Load())
}

func TestRequestCarriesToken(t *testing.T) {
	st := &stubTransport{reply: encode(t, map[string]string{"version": "6.4.0", "ruby": "3.2", "api": "1.0"})}
	c := newStubClient(t, st)
	c.SetToken("TEMPabc")

	var v map[string]string
	require.NoError(t, c.Call(context.Background(), catalog.CoreVersion, &v))
	assert.Equal(t, "6.4.0", v["version"])

	method, params, err := codec.DecodeRequest(codec.NewMsgpackCodec(), st.last)
	require.NoError(t, err)
	assert.Equal(t, catalog.CoreVersion, method)
	assert.Equal(t, []any{"TEMPabc"}, params)
}

func TestTransportFailureIsConnectionError(t *testing.T) {
	st := &stubTransport{err: errors.New("boom")}
	c := newStubClient(t, st)
	c.SetToken("t")

	var v map[string]any
	err := c.Call(context.Background(), catalog.JobList, &v)
	require.True(t, rpcerr.IsConnection(err), "got %v", err)
	assert.Equal(t, "connection_error", rpcerr.Outcome(err))
}

func TestTimeoutIsConnectionError(t *testing.T) {
	st := &stubTransport{wait: time.Second}
	c := newStubClient(t, st, WithTimeout(20*time.Millisecond))
	c.SetToken("t")

	var v map[string]any
	err := c.Call(context.Background(), catalog.JobList, &v)
	assert.True(t, rpcerr.IsTimeout(err), "got %v", err)
}

func TestLoginStoresToken(t *testing.T) {
	st := &stubTransport{reply: encode(t, map[string]string{"result": "success", "token": "TEMP1234"})}
	c := newStubClient(t, st)

	require.NoError(t, c.Login(context.Background(), "msf", "pw"))
	token, ok := c.Token()
	assert.True(t, ok)
	assert.Equal(t, "TEMP1234", token)
}

func TestLoginFailure(t *testing.T) {
	st := &stubTransport{reply: encode(t, message.ErrorEnvelope{
		Error:          true,
		ErrorClass:     "Msf::RPC::Exception",
		ErrorString:    "Msf::RPC::Exception",
		ErrorMessage:   "Login Failed",
		ErrorBacktrace: []string{},
		ErrorCode:      401,
	})}
	c := newStubClient(t, st)

	err := c.Login(context.Background(), "msf", "bad")
	var se *rpcerr.ServerError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "Login Failed", se.Envelope.ErrorMessage)
	assert.Equal(t, 401, se.Envelope.ErrorCode)

	_, ok := c.Token()
	assert.False(t, ok)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("success clears token", func(t *testing.T) {
		st := &stubTransport{reply: encode(t, map[string]string{"result": "success"})}
		c := newStubClient(t, st)
		c.SetToken("TEMPx")
		require.NoError(t, c.Logout(ctx))
		_, ok := c.Token()
		assert.False(t, ok)
	})

	t.Run("result error keeps token", func(t *testing.T) {
		st := &stubTransport{reply: encode(t, map[string]string{"result": "error"})}
		c := newStubClient(t, st)
		c.SetToken("TEMPx")
		err := c.Logout(ctx)
		var se *rpcerr.ServerError
		require.True(t, errors.As(err, &se), "got %v", err)
		assert.Contains(t, se.Envelope.ErrorMessage, "error")
		_, ok := c.Token()
		assert.True(t, ok)
	})
}

func TestEmptyJobList(t *testing.T) {
	st := &stubTransport{reply: encode(t, map[string]string{})}
	c := newStubClient(t, st)
	c.SetToken("t")

	var jobs map[string]string
	require.NoError(t, c.Call(context.Background(), catalog.JobList, &jobs))
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
}

func TestMalformedReplyIsProtocolError(t *testing.T) {
	st := &stubTransport{reply: encode(t, []string{"not", "a", "map"})}
	c := newStubClient(t, st)
	c.SetToken("t")

	var v struct {
		Version string `msgpack:"version"`
	}
	err := c.Call(context.Background(), catalog.CoreVersion, &v)
	assert.True(t, rpcerr.IsProtocol(err), "got %v", err)
}

func TestGo(t *testing.T) {
	st := &stubTransport{reply: encode(t, map[string]string{"0": "Exploit: multi/handler"})}
	c := newStubClient(t, st)
	c.SetToken("t")

	var jobs map[string]string
	call := c.Go(context.Background(), catalog.JobList, &jobs)
	select {
	case done := <-call.Done:
		require.Same(t, call, done)
		require.NoError(t, done.Error)
	case <-time.After(time.Second):
		t.Fatal("call did not complete")
	}
	assert.Equal(t, "Exploit: multi/handler", jobs["0"])

	failed := c.Go(context.Background(), "core.fly", &jobs)
	assert.True(t, rpcerr.IsInvalidState(failed.Wait(context.Background())))
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseAggregatesErrors(t *testing.T) {
	closed := 0
	c, err := New(testEndpoint,
		WithTransport(&stubTransport{}),
		WithCloser(closerFunc(func() error { closed++; return nil })),
		WithCloser(closerFunc(func() error { closed++; return errors.New("registry gone") })),
	)
	require.NoError(t, err)

	err = c.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry gone")
	assert.Equal(t, 2, closed)
}
