package transport

import (
	"context"
	"io"
	"msfrpc/rpcerr"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPTransportSend(t *testing.T) {
	var gotType, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", ContentType)
		w.Write([]byte{0x81, 0xa6, 'r', 'e', 's', 'u', 'l', 't', 0xa2, 'o', 'k'})
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	defer tr.Close()

	resp, err := tr.Send(context.Background(), endpointFromURL(t, srv.URL), []byte{0x91, 0xa1, 'x'})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 11 {
		t.Fatalf("expect full 11-byte body, got %d", len(resp))
	}
	if gotType != ContentType {
		t.Fatalf("expect content type %s, got %s", ContentType, gotType)
	}
	if gotPath != DefaultPath {
		t.Fatalf("expect path %s, got %s", DefaultPath, gotPath)
	}
	if string(gotBody) != string([]byte{0x91, 0xa1, 'x'}) {
		t.Fatalf("request body mismatch: %x", gotBody)
	}
}

func TestHTTPTransportErrorStatus(t *testing.T) {
	withBody := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte{0x80})
	}))
	defer withBody.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer empty.Close()

	tr := NewHTTPTransport()
	defer tr.Close()

	// An error envelope arrives with status 500 and must reach the resolver.
	resp, err := tr.Send(context.Background(), endpointFromURL(t, withBody.URL), []byte{0x90})
	if err != nil {
		t.Fatalf("expect body to be returned, got %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("unexpected body %x", resp)
	}

	_, err = tr.Send(context.Background(), endpointFromURL(t, empty.URL), []byte{0x90})
	requireKind(t, err, rpcerr.KindOther)
}

func TestHTTPTransportRefused(t *testing.T) {
	tr := NewHTTPTransport()
	defer tr.Close()

	_, err := tr.Send(context.Background(), closedEndpoint(t), []byte{0x90})
	requireKind(t, err, rpcerr.KindRefused)
}

func TestHTTPTransportTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, endpointFromURL(t, srv.URL), []byte{0x90})
	requireKind(t, err, rpcerr.KindTimeout)
}

func TestHTTPTransportTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xc3})
	}))
	defer srv.Close()
	ep := endpointFromURL(t, srv.URL)

	strict := NewHTTPTransport()
	defer strict.Close()
	_, err := strict.Send(context.Background(), ep, []byte{0x90})
	requireKind(t, err, rpcerr.KindTLS)

	insecure := NewHTTPTransport(WithInsecureSkipVerify(true))
	defer insecure.Close()
	resp, err := insecure.Send(context.Background(), ep, []byte{0x90})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 1 || resp[0] != 0xc3 {
		t.Fatalf("unexpected body %x", resp)
	}
}

func TestHTTPTransportMaxInFlight(t *testing.T) {
	var current, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		w.Write([]byte{0xc3})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(WithMaxInFlight(2))
	defer tr.Close()
	ep := endpointFromURL(t, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Send(context.Background(), ep, []byte{0x90}); err != nil {
				t.Errorf("send failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("expect at most 2 concurrent requests, saw %d", p)
	}
}
