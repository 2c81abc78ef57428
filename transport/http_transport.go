package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"msfrpc/rpcerr"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxInFlight bounds concurrent exchanges when no limit is configured.
const DefaultMaxInFlight = 16

// HTTPTransport posts MessagePack envelopes to msfrpcd's /api/ handler.
//
// The underlying http.Transport keeps a pool of idle connections, so every
// in-flight request owns its connection for the duration of the exchange.
// A weighted semaphore caps the number of exchanges running at once.
type HTTPTransport struct {
	client *http.Client
	sem    *semaphore.Weighted
}

type HTTPOption func(*httpOptions)

type httpOptions struct {
	maxInFlight int64
	tlsConfig   *tls.Config
	client      *http.Client
}

// WithMaxInFlight caps concurrent requests.
func WithMaxInFlight(n int64) HTTPOption {
	return func(o *httpOptions) { o.maxInFlight = n }
}

// WithInsecureSkipVerify accepts msfrpcd's self-signed certificate.
func WithInsecureSkipVerify(skip bool) HTTPOption {
	return func(o *httpOptions) { o.tlsConfig.InsecureSkipVerify = skip }
}

// WithHTTPClient replaces the pooled client, e.g. with an httptest server's client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *httpOptions) { o.client = c }
}

func NewHTTPTransport(opts ...HTTPOption) *HTTPTransport {
	o := &httpOptions{
		maxInFlight: DefaultMaxInFlight,
		tlsConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxInFlight <= 0 {
		o.maxInFlight = DefaultMaxInFlight
	}

	client := o.client
	if client == nil {
		tr := cleanhttp.DefaultPooledTransport()
		tr.TLSClientConfig = o.tlsConfig
		tr.MaxIdleConnsPerHost = int(o.maxInFlight)
		client = &http.Client{Transport: tr}
	}

	return &HTTPTransport{
		client: client,
		sem:    semaphore.NewWeighted(o.maxInFlight),
	}
}

// Send posts body and reads the whole response.
//
// msfrpcd answers failed calls with HTTP 500 and an error envelope, so a
// non-2xx status with a body is handed back for decoding. A non-2xx status
// with no body carries nothing to decode and is a connection error.
func (t *HTTPTransport) Send(ctx context.Context, ep Endpoint, body []byte) ([]byte, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, classify(ctx, "acquire", ep, err)
	}
	defer t.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, &rpcerr.ConnectionError{Kind: rpcerr.KindOther, Op: "http", Endpoint: ep.Addr(), Err: err}
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(ctx, "http", ep, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, "read", ep, err)
	}

	if resp.StatusCode/100 != 2 && len(data) == 0 {
		return nil, &rpcerr.ConnectionError{
			Kind:     rpcerr.KindOther,
			Op:       "http",
			Endpoint: ep.Addr(),
			Err:      errors.Errorf("unexpected status %s with empty body", resp.Status),
		}
	}
	return data, nil
}

// Close drops idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
