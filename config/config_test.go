package config

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/server"
	"msfrpc/transport"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msfrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://127.0.0.1:55552/api/", cfg.Endpoint.URL())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
endpoint:
  host: msf.lab
  port: 55553
  insecure_skip_verify: true
username: msf
password: s3cret
timeout: 5s
codec: compat
retry_max: 3
retry_base_delay: 250ms
discovery:
  service: msfrpcd
  balancer: consistent_hash
  endpoints:
    - host: 10.0.0.1
      port: 55552
    - host: 10.0.0.2
      port: 55552
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "msf.lab", cfg.Endpoint.Host)
	assert.Equal(t, 55553, cfg.Endpoint.Port)
	assert.True(t, cfg.Endpoint.TLS, "unset keys keep their defaults")
	assert.True(t, cfg.Endpoint.InsecureSkipVerify)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "compat", cfg.Codec)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	require.Len(t, cfg.Discovery.Endpoints, 2)
	assert.Equal(t, "10.0.0.2", cfg.Discovery.Endpoints[1].Host)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "endpoint:\n  host: from-file\nusername: file-user\n")
	t.Setenv("MSFRPC_HOST", "from-env")
	t.Setenv("MSFRPC_PORT", "4000")
	t.Setenv("MSFRPC_TLS", "false")
	t.Setenv("MSFRPC_TIMEOUT", "2s")
	t.Setenv("MSFRPC_ETCD_ENDPOINTS", "10.0.0.1:2379, 10.0.0.2:2379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Endpoint.Host)
	assert.Equal(t, 4000, cfg.Endpoint.Port)
	assert.False(t, cfg.Endpoint.TLS)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "file-user", cfg.Username)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Discovery.EtcdEndpoints)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("MSFRPC_USERNAME", "env-user")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-user", cfg.Username)
	assert.Equal(t, transport.DefaultPort, cfg.Endpoint.Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "endpoint: [1, 2\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "usernme: typo\n"))
	assert.ErrorContains(t, err, "usernme")
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Endpoint.Host = ""
	cfg.Codec = "xml"
	cfg.Transport = "carrier-pigeon"
	cfg.RateLimit = 5
	cfg.RateBurst = 0
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 5)
}

func TestValidateDiscovery(t *testing.T) {
	cfg := Default()
	cfg.Endpoint = transport.Endpoint{}
	cfg.Discovery.Service = "msfrpcd"
	cfg.Discovery.Balancer = "random"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd_endpoints or endpoints")
	assert.Contains(t, err.Error(), "random")

	cfg.Discovery.Balancer = "weighted_random"
	cfg.Discovery.EtcdEndpoints = []string{"127.0.0.1:2379"}
	assert.NoError(t, cfg.Validate())
}

func TestJSONIsNotAWireCodec(t *testing.T) {
	for _, tr := range []string{"http", "stream"} {
		cfg := Default()
		cfg.Transport = tr
		cfg.Codec = "json"
		assert.ErrorContains(t, cfg.Validate(), "not a wire codec", tr)
	}

	cfg := Default()
	cfg.Codec = "compat"
	assert.NoError(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))

	cfg.LogLevel = "debug"
	logger, err = cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func serve(t *testing.T) transport.Endpoint {
	t.Helper()
	svr := server.NewServer(server.WithCredentials("msf", "s3cret"))
	svr.HandleFunc(catalog.JobList, func(ctx context.Context, args server.Args) (any, error) {
		return map[string]string{"1": "Auxiliary: scanner/portscan/tcp"}, nil
	})
	ts := httptest.NewServer(svr)
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return transport.Endpoint{Host: u.Hostname(), Port: port}
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Endpoint = serve(t)
	cfg.RetryMax = 2
	cfg.RateLimit = 100
	cfg.RateBurst = 5
	cfg.Metrics = true

	c, err := cfg.Connect(ctx, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Login(ctx, "msf", "s3cret"))
	var jobs map[string]string
	require.NoError(t, c.Call(ctx, catalog.JobList, &jobs))
	assert.Len(t, jobs, 1)
}

func TestConnectStaticDiscovery(t *testing.T) {
	ctx := context.Background()
	ep := serve(t)
	cfg := Default()
	cfg.Endpoint = transport.Endpoint{}
	cfg.Username = "msf"
	cfg.Discovery = Discovery{
		Service:   "msfrpcd",
		Endpoints: []transport.Endpoint{ep},
		Balancer:  "consistent_hash",
	}

	c, err := cfg.Connect(ctx, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, ep.Addr(), c.Endpoint().Addr())
	require.NoError(t, c.Login(ctx, "msf", "s3cret"))
}

func TestConnectInvalid(t *testing.T) {
	cfg := Default()
	cfg.Codec = "xml"
	_, err := cfg.Connect(context.Background(), zap.NewNop())
	assert.Error(t, err)
}
