package httpkit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

// echoUA serves back the request's User-Agent header.
func echoUA(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Header.Get("User-Agent"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fetch(t *testing.T, c *http.Client, url string) string {
	t.Helper()
	resp, err := c.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestClientTimeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{"default", nil, 30 * time.Second},
		{"custom", []ClientOption{WithTimeout(5 * time.Second)}, 5 * time.Second},
		{"streaming zero", []ClientOption{WithTimeout(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c := NewClient(tt.opts...); c.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", c.Timeout, tt.want)
			}
		})
	}
}

func TestUserAgentDefault(t *testing.T) {
	srv := echoUA(t)
	got := fetch(t, NewClient(), srv.URL)
	if !strings.HasPrefix(got, "choombridge/") {
		t.Errorf("User-Agent = %q, want choombridge/ prefix", got)
	}
}

func TestUserAgentOverride(t *testing.T) {
	srv := echoUA(t)
	got := fetch(t, NewClient(WithUserAgent("TestBot/1.0")), srv.URL)
	if got != "TestBot/1.0" {
		t.Errorf("User-Agent = %q, want TestBot/1.0", got)
	}
}

func TestUserAgentNotOverwritten(t *testing.T) {
	srv := echoUA(t)
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("User-Agent", "CustomBot/2.0")
	resp, err := NewClient().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "CustomBot/2.0" {
		t.Errorf("User-Agent = %q, want CustomBot/2.0", body)
	}
}

func TestTransportDefaults(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v", tr.TLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if tr.IdleConnTimeout != DefaultIdleConnTimeout {
		t.Errorf("IdleConnTimeout = %v", tr.IdleConnTimeout)
	}
	if tr.MaxIdleConns != DefaultMaxIdleConns {
		t.Errorf("MaxIdleConns = %d", tr.MaxIdleConns)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d", tr.MaxIdleConnsPerHost)
	}
}

func TestTLSInsecureSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secure")
	}))
	defer srv.Close()

	if _, err := NewClient(WithTimeout(2 * time.Second)).Get(srv.URL); err == nil {
		t.Fatal("strict client should reject the self-signed certificate")
	}

	insecure := NewClient(WithTimeout(2*time.Second), WithTLSInsecureSkipVerify())
	if got := fetch(t, insecure, srv.URL); got != "secure" {
		t.Errorf("body = %q, want secure", got)
	}
}

func TestDrainAndClose(t *testing.T) {
	DrainAndClose(io.NopCloser(strings.NewReader("hello world")), 1024)
	DrainAndClose(io.NopCloser(strings.NewReader(strings.Repeat("x", 10000))), 100)
	DrainAndClose(nil, 1024)
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("error details here")), 512); got != "error details here" {
		t.Errorf("got %q", got)
	}
	long := io.NopCloser(strings.NewReader(strings.Repeat("x", 1000)))
	if got := ReadErrorBody(long, 10); len(got) != 10 {
		t.Errorf("truncated length = %d, want 10", len(got))
	}
	if got := ReadErrorBody(nil, 512); got != "" {
		t.Errorf("nil body gave %q", got)
	}
	if got := ReadErrorBody(io.NopCloser(&failReader{}), 512); !strings.Contains(got, "failed to read") {
		t.Errorf("read failure gave %q", got)
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) { return 0, fmt.Errorf("simulated read error") }

// connRefused is the shape net returns for a refused dial.
func connRefused() error {
	return &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: &net.OpError{Op: "connect", Err: syscall.ECONNREFUSED},
	}
}

// scriptedRT fails its first n calls, then returns 200s.
type scriptedRT struct {
	failures int
	calls    int
}

func (s *scriptedRT) RoundTrip(*http.Request) (*http.Response, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, connRefused()
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func newRetry(base http.RoundTripper, count int) *retryTransport {
	return &retryTransport{base: base, count: count, delay: 10 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	rt := &scriptedRT{failures: 1}
	req, _ := http.NewRequest("GET", "http://example.com", nil)

	resp, err := newRetry(rt, 2).RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if rt.calls != 2 {
		t.Errorf("calls = %d, want 2", rt.calls)
	}
}

func TestRetryNotUsedOnSuccess(t *testing.T) {
	rt := &scriptedRT{}
	req, _ := http.NewRequest("GET", "http://example.com", nil)

	if _, err := newRetry(rt, 2).RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if rt.calls != 1 {
		t.Errorf("calls = %d, want 1", rt.calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	rt := &scriptedRT{failures: 100}
	req, _ := http.NewRequest("GET", "http://example.com", nil)

	if _, err := newRetry(rt, 2).RoundTrip(req); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if rt.calls != 3 {
		t.Errorf("calls = %d, want 1 initial + 2 retries", rt.calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	rt := &scriptedRT{failures: 100}
	tr := &retryTransport{base: rt, count: 5, delay: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", "http://example.com", nil)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := tr.RoundTrip(req); err == nil {
		t.Fatal("expected cancellation error")
	}
	if rt.calls != 1 {
		t.Errorf("calls = %d, want 1 before the cancelled delay", rt.calls)
	}
}

type permanentErrRT struct{ calls int }

func (p *permanentErrRT) RoundTrip(*http.Request) (*http.Response, error) {
	p.calls++
	return nil, fmt.Errorf("some non-retryable error")
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	rt := &permanentErrRT{}
	req, _ := http.NewRequest("GET", "http://example.com", nil)

	if _, err := newRetry(rt, 2).RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if rt.calls != 1 {
		t.Errorf("calls = %d, want 1", rt.calls)
	}
}

func TestRetryRewindsBody(t *testing.T) {
	rt := &scriptedRT{failures: 1}
	req, _ := http.NewRequest("POST", "http://example.com", strings.NewReader(`{"key":"value"}`))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(`{"key":"value"}`)), nil
	}

	resp, err := newRetry(rt, 2).RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRetryRefusesUnrewindableBody(t *testing.T) {
	rt := &scriptedRT{failures: 1}
	req, _ := http.NewRequest("POST", "http://example.com", strings.NewReader(`{"key":"value"}`))
	// http.NewRequest sets GetBody for string readers; drop it to
	// simulate a one-shot body.
	req.GetBody = nil

	if _, err := newRetry(rt, 2).RoundTrip(req); err == nil {
		t.Fatal("expected error, body cannot be replayed")
	}
	if rt.calls != 1 {
		t.Errorf("calls = %d, want no retry", rt.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"generic", fmt.Errorf("oops"), false},
		{"EHOSTUNREACH", syscall.EHOSTUNREACH, true},
		{"ENETUNREACH", syscall.ENETUNREACH, true},
		{"ECONNREFUSED", syscall.ECONNREFUSED, true},
		{"ECONNRESET excluded", syscall.ECONNRESET, false},
		{"wrapped", fmt.Errorf("connect: %w", syscall.EHOSTUNREACH), true},
		{"nested OpError", connRefused(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
