// Package config loads client settings from a YAML file and MSFRPC_*
// environment variables, and turns them into client options.
//
// Precedence, lowest first: Default(), the file, the environment.
package config

import (
	"fmt"
	"msfrpc/codec"
	"msfrpc/loadbalance"
	"msfrpc/transport"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Endpoint transport.Endpoint `mapstructure:"endpoint"`
	Username string             `mapstructure:"username"`
	Password string             `mapstructure:"password"`

	Timeout     time.Duration `mapstructure:"timeout"`
	Codec       string        `mapstructure:"codec"`     // msgpack or compat
	Transport   string        `mapstructure:"transport"` // http or stream
	MaxInFlight int64         `mapstructure:"max_in_flight"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	RateLimit      float64       `mapstructure:"rate_limit"` // calls per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst"`
	RetryMax       int           `mapstructure:"retry_max"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	Metrics        bool          `mapstructure:"metrics"`

	LogLevel  string    `mapstructure:"log_level"`
	Discovery Discovery `mapstructure:"discovery"`
}

// Discovery selects the endpoint from a registry instead of Endpoint.
// It is enabled by setting Service.
type Discovery struct {
	Service       string               `mapstructure:"service"`
	EtcdEndpoints []string             `mapstructure:"etcd_endpoints"`
	Endpoints     []transport.Endpoint `mapstructure:"endpoints"` // static list, used without etcd
	Balancer      string               `mapstructure:"balancer"`
	Key           string               `mapstructure:"key"` // consistent_hash key, defaults to Username
}

func (d Discovery) Enabled() bool {
	return d.Service != ""
}

func Default() *Config {
	return &Config{
		Endpoint: transport.Endpoint{
			Host: "127.0.0.1",
			Port: transport.DefaultPort,
			TLS:  true,
			Path: transport.DefaultPath,
		},
		Timeout:        30 * time.Second,
		Codec:          "msgpack",
		Transport:      "http",
		MaxInFlight:    64,
		PoolSize:       4,
		DialTimeout:    5 * time.Second,
		RateBurst:      1,
		RetryBaseDelay: 100 * time.Millisecond,
		LogLevel:       "info",
		Discovery: Discovery{
			Balancer: "round_robin",
		},
	}
}

// envVars maps environment variables to their key path in the config map.
var envVars = []struct {
	name string
	path []string
	list bool
}{
	{"MSFRPC_HOST", []string{"endpoint", "host"}, false},
	{"MSFRPC_PORT", []string{"endpoint", "port"}, false},
	{"MSFRPC_TLS", []string{"endpoint", "tls"}, false},
	{"MSFRPC_PATH", []string{"endpoint", "path"}, false},
	{"MSFRPC_INSECURE", []string{"endpoint", "insecure_skip_verify"}, false},
	{"MSFRPC_USERNAME", []string{"username"}, false},
	{"MSFRPC_PASSWORD", []string{"password"}, false},
	{"MSFRPC_TIMEOUT", []string{"timeout"}, false},
	{"MSFRPC_CODEC", []string{"codec"}, false},
	{"MSFRPC_TRANSPORT", []string{"transport"}, false},
	{"MSFRPC_RATE_LIMIT", []string{"rate_limit"}, false},
	{"MSFRPC_RETRY_MAX", []string{"retry_max"}, false},
	{"MSFRPC_LOG_LEVEL", []string{"log_level"}, false},
	{"MSFRPC_SERVICE", []string{"discovery", "service"}, false},
	{"MSFRPC_ETCD_ENDPOINTS", []string{"discovery", "etcd_endpoints"}, true},
	{"MSFRPC_BALANCER", []string{"discovery", "balancer"}, false},
}

// Load builds a config from Default, the YAML file at path (skipped when
// path is empty) and the environment. The result is not validated.
func Load(path string) (*Config, error) {
	raw := make(map[string]any)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		if raw == nil {
			raw = make(map[string]any)
		}
	}
	overlayEnv(raw, os.LookupEnv)

	cfg := Default()
	if err := decode(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

func overlayEnv(raw map[string]any, lookup func(string) (string, bool)) {
	for _, ev := range envVars {
		val, ok := lookup(ev.name)
		if !ok {
			continue
		}
		var v any = val
		if ev.list {
			parts := strings.Split(val, ",")
			list := make([]any, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					list = append(list, p)
				}
			}
			v = list
		}
		set(raw, ev.path, v)
	}
}

// set stores v at path, creating intermediate maps. A non-map value in the
// way is replaced.
func set(m map[string]any, path []string, v any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

func decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if !c.Discovery.Enabled() {
		if err := c.Endpoint.Validate(); err != nil {
			add("endpoint: %v", err)
		}
	}
	if ct, err := codec.ParseType(c.Codec); err != nil {
		add("codec: %v", err)
	} else if !ct.Wire() {
		add("codec: %s is not a wire codec, use msgpack or compat", ct)
	}
	switch c.Transport {
	case "http":
	case "stream":
		if c.PoolSize <= 0 {
			add("pool_size must be positive, got %d", c.PoolSize)
		}
	default:
		add("transport must be http or stream, got %q", c.Transport)
	}
	if c.Timeout < 0 {
		add("timeout must not be negative")
	}
	if c.MaxInFlight < 0 {
		add("max_in_flight must not be negative")
	}
	if c.RateLimit < 0 {
		add("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		add("rate_burst must be at least 1 when rate_limit is set")
	}
	if c.RetryMax < 0 {
		add("retry_max must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		add("log_level: %v", err)
	}

	if d := c.Discovery; d.Enabled() {
		if len(d.EtcdEndpoints) == 0 && len(d.Endpoints) == 0 {
			add("discovery: service %q needs etcd_endpoints or endpoints", d.Service)
		}
		for i, ep := range d.Endpoints {
			if err := ep.Validate(); err != nil {
				add("discovery.endpoints[%d]: %v", i, err)
			}
		}
		if _, err := loadbalance.New(d.Balancer, d.Key); err != nil {
			add("discovery: %v", err)
		}
	}
	return result
}
