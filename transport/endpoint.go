package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultPort = 55552
	DefaultPath = "/api/"
	// ContentType is the media type msfrpcd expects on POST /api/.
	ContentType = "binary/message-pack"
)

// Endpoint addresses one msfrpcd instance.
type Endpoint struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	TLS                bool   `json:"tls" mapstructure:"tls"`
	Path               string `json:"path,omitempty" mapstructure:"path"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty" mapstructure:"insecure_skip_verify"`
}

// Addr returns host:port for dialing.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the HTTP(S) URL of the RPC handler.
func (e Endpoint) URL() string {
	scheme := "http"
	if e.TLS {
		scheme = "https"
	}
	path := e.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + e.Addr() + path
}

func (e Endpoint) String() string {
	return e.URL()
}

// Validate checks that the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint host is empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", e.Port)
	}
	return nil
}
