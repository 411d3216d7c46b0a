package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
)

func fastClient(retries int) *Client {
	return New(Options{
		Timeout:   2 * time.Second,
		Retries:   retries,
		BaseDelay: 5 * time.Millisecond,
	})
}

func TestDo_RetriesOn503ThenSucceeds(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	raw, err := fastClient(1).Do(context.Background(), http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || !out.OK {
		t.Fatalf("unexpected body %s (err %v)", raw, err)
	}
	if n := atomic.LoadInt32(&attempts); n != 2 {
		t.Fatalf("attempts = %d want 2", n)
	}
}

func TestDo_NoRetryOn400(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := fastClient(5).Do(context.Background(), http.MethodPost, ts.URL, map[string]string{"a": "b"})
	if err == nil {
		t.Fatal("want error on 400")
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Fatalf("attempts = %d want 1 (4xx must not retry)", n)
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Status != http.StatusBadRequest {
		t.Fatalf("error does not carry upstream status: %v", err)
	}
}

func TestDo_ExhaustedRetriesClassifyServerError(t *testing.T) {
	var attempts int32
	var seenCorrelation atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		seenCorrelation.Store(r.Header.Get("X-Correlation-Id"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := fastClient(2).Do(context.Background(), http.MethodGet, ts.URL, nil)
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatalf("want *errs.Error, got %v", err)
	}
	if e.Kind != errs.KindServer {
		t.Fatalf("kind = %v want KindServer", e.Kind)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Fatalf("attempts = %d want 3 (1 + 2 retries)", n)
	}
	if e.CorrelationID == "" || e.CorrelationID != seenCorrelation.Load().(string) {
		t.Fatalf("error correlation %q does not match request header %q",
			e.CorrelationID, seenCorrelation.Load())
	}
	if !strings.Contains(err.Error(), e.CorrelationID) {
		t.Fatalf("message does not surface correlation id: %v", err)
	}
}

func TestDo_AuthStatusesClassifyAuthError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"code":"IDENTITY_AUTHZ","message":"nonce invalid or expired","correlationId":"x"}}`))
		}))
		_, err := fastClient(0).Do(context.Background(), http.MethodPost, ts.URL, nil)
		ts.Close()
		if !errs.IsKind(err, errs.KindAuth) {
			t.Fatalf("status %d: want auth error, got %v", status, err)
		}
		if !strings.Contains(err.Error(), "nonce invalid or expired") {
			t.Fatalf("upstream envelope message not surfaced: %v", err)
		}
	}
}

func TestDo_ConnectionFailureClassifyNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused from here on

	_, err := fastClient(1).Do(context.Background(), http.MethodGet, ts.URL, nil)
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatalf("want *errs.Error, got %v", err)
	}
	if e.Kind != errs.KindNetwork {
		t.Fatalf("kind = %v want KindNetwork", e.Kind)
	}
	if e.CorrelationID == "" {
		t.Fatal("network error missing correlation id")
	}
}

func TestDo_MalformedSuccessBodyIsParseFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer ts.Close()

	_, err := fastClient(0).Do(context.Background(), http.MethodGet, ts.URL, nil)
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("want validation (parse) error, got %v", err)
	}
	if !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("parse failure not distinct: %v", err)
	}
}

func TestDo_TimeoutIsRetriedLikeNetworkFailure(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := New(Options{Timeout: 50 * time.Millisecond, Retries: 1, BaseDelay: time.Millisecond})
	if _, err := c.Do(context.Background(), http.MethodGet, ts.URL, nil); err != nil {
		t.Fatalf("Do after timeout retry: %v", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 2 {
		t.Fatalf("attempts = %d want 2", n)
	}
}

func TestDo_CorrelationIDFormat(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Correlation-Id")
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	if _, err := fastClient(0).Do(context.Background(), http.MethodGet, ts.URL, nil); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if !strings.HasPrefix(got, "racli-") || len(got) != len("racli-")+8 {
		t.Fatalf("correlation id %q not in racli-<8 hex> form", got)
	}
}

func TestCheckRetry_PermanentTransportErrorsFailFast(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"connection refused", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("dial tcp: connection refused")}, true},
		{"redirect loop", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("stopped after 10 redirects")}, false},
		{"bad scheme", &url.Error{Op: "Get", URL: "ftp://x", Err: errors.New(`unsupported protocol scheme "ftp"`)}, false},
		{"unknown authority", &url.Error{Op: "Get", URL: "https://x", Err: x509.UnknownAuthorityError{}}, false},
		{"cert verification", &url.Error{Op: "Get", URL: "https://x", Err: &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}}, false},
	}
	for _, tc := range cases {
		got, err := checkRetry(context.Background(), nil, tc.err)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: retryable = %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestDo_UntrustedCertificateNotRetried(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	// The test server's certificate is self-signed; with a long base delay a
	// retried handshake failure would blow well past the deadline below.
	c := New(Options{Timeout: 2 * time.Second, Retries: 3, BaseDelay: 5 * time.Second})
	start := time.Now()
	_, err := c.Do(context.Background(), http.MethodGet, ts.URL, nil)
	if !errs.IsKind(err, errs.KindNetwork) {
		t.Fatalf("want network error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("took %v: certificate failure was retried", elapsed)
	}
}

func TestDo_WithTimeoutOverridesPerCall(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := New(Options{Timeout: 5 * time.Second, Retries: 0, BaseDelay: time.Millisecond})

	// The client default would wait out the slow handler; the per-call
	// override must cut the attempt short.
	_, err := c.Do(context.Background(), http.MethodGet, ts.URL, nil, WithTimeout(30*time.Millisecond))
	if !errs.IsKind(err, errs.KindNetwork) {
		t.Fatalf("want network error from per-call timeout, got %v", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Fatalf("attempts = %d want 1", n)
	}

	if _, err := c.Do(context.Background(), http.MethodGet, ts.URL, nil); err != nil {
		t.Fatalf("Do with default timeout: %v", err)
	}
}

func TestPutBytes(t *testing.T) {
	var received []byte
	var contentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s want PUT", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := fastClient(0).PutBytes(context.Background(), ts.URL, "image/png", payload); err != nil {
		t.Fatalf("PutBytes error: %v", err)
	}
	if string(received) != string(payload) {
		t.Fatalf("server received %x want %x", received, payload)
	}
	if contentType != "image/png" {
		t.Fatalf("content type = %q", contentType)
	}
}
