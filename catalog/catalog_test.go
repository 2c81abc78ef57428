package catalog

import (
	"msfrpc/rpcerr"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() (string, bool) { return string(s), s != "" }

func TestBuildPrependsToken(t *testing.T) {
	c := Default()

	call, err := c.Build(staticToken("tok-123"), AuthLogout, "out-tok-456")
	require.NoError(t, err)
	require.Equal(t, []any{"auth.logout", "tok-123", "out-tok-456"}, call.Values())
	require.True(t, call.CheckStatus)
}

func TestBuildLoginWithoutToken(t *testing.T) {
	c := Default()

	call, err := c.Build(nil, AuthLogin, "msf", "secret")
	require.NoError(t, err)
	require.Equal(t, []any{"auth.login", "msf", "secret"}, call.Values())
}

func TestBuildMissingToken(t *testing.T) {
	c := Default()

	for _, ts := range []TokenSource{nil, staticToken("")} {
		_, err := c.Build(ts, JobList)
		require.Error(t, err)
		require.True(t, rpcerr.IsInvalidState(err), "got %v", err)
	}
}

func TestBuildRejects(t *testing.T) {
	c := Default()
	tok := staticToken("tok")

	tests := []struct {
		name   string
		method string
		args   []any
		reason string
	}{
		{"unknown method", "core.fly", nil, "not in catalog"},
		{"too few", JobInfo, nil, "expects 1 arguments, got 0"},
		{"too many", JobList, []any{"x"}, "expects 0 arguments, got 1"},
		{"optional range", SessionShellRead, []any{"1", 2, 3}, "expects 1 to 2 arguments"},
		{"wrong kind", ModuleTargetCompatiblePayloads, []any{"exploit/x", "0"}, `"target"`},
		{"map kind", ModuleExecute, []any{"exploit", "x", []string{"a"}}, `"options"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Build(tok, tt.method, tt.args...)
			require.Error(t, err)
			var ie *rpcerr.InvalidStateError
			require.ErrorAs(t, err, &ie)
			require.Contains(t, ie.Reason, tt.reason)
		})
	}
}

func TestBuildOptionalTrailing(t *testing.T) {
	c := Default()
	tok := staticToken("tok")

	call, err := c.Build(tok, SessionShellRead, "1")
	require.NoError(t, err)
	require.Equal(t, []any{"session.shell_read", "tok", "1"}, call.Values())

	call, err = c.Build(tok, SessionShellRead, "1", uint16(42))
	require.NoError(t, err)
	require.Equal(t, []any{"session.shell_read", "tok", "1", int64(42)}, call.Values())
}

func TestBuildCoercesKinds(t *testing.T) {
	c := New(Spec{
		Name: "test.kinds",
		Params: []Param{
			{Name: "s", Kind: String},
			{Name: "i", Kind: Int},
			{Name: "b", Kind: Bool},
			{Name: "l", Kind: StringList},
			{Name: "m", Kind: Map},
			{Name: "a", Kind: Any},
		},
	})

	call, err := c.Build(nil, "test.kinds", "x", int32(-7), true, []any{"a", "b"}, nil, 3.5)
	require.NoError(t, err)
	require.Equal(t, []any{"test.kinds", "x", int64(-7), true, []string{"a", "b"}, map[string]any{}, 3.5}, call.Values())

	_, err = c.Build(nil, "test.kinds", "x", uint64(1<<63), true, []string{}, nil, nil)
	require.True(t, rpcerr.IsInvalidState(err))

	_, err = c.Build(nil, "test.kinds", "x", 1, true, []any{"a", 2}, nil, nil)
	require.True(t, rpcerr.IsInvalidState(err))
}

func TestRegisterAndMethods(t *testing.T) {
	c := New()
	_, ok := c.Lookup("x.y")
	require.False(t, ok)

	c.Register(Spec{Name: "x.y", Auth: true})
	c.Register(Spec{Name: "a.b"})
	require.Equal(t, []string{"a.b", "x.y"}, c.Methods())

	s, ok := c.Lookup("x.y")
	require.True(t, ok)
	require.True(t, s.Auth)
}

// Only auth.login travels without a token, and optional params never precede
// required ones.
func TestDefaultTableShape(t *testing.T) {
	c := Default()
	for _, name := range c.Methods() {
		s, _ := c.Lookup(name)
		require.True(t, strings.Contains(name, "."), name)
		require.Equal(t, name != AuthLogin, s.Auth, name)

		seenOptional := false
		for _, p := range s.Params {
			if p.Optional {
				seenOptional = true
				continue
			}
			require.False(t, seenOptional, "%s: required %q after optional", name, p.Name)
		}
	}
}
