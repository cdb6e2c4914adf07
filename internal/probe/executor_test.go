package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/proxychecker/internal/domain"
)

func hostPort(t *testing.T, raw string) (string, int) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	port, _ := strconv.Atoi(u.Port())
	return u.Hostname(), port
}

func TestSanitizeHostPort_Defaults(t *testing.T) {
	h, p := SanitizeHostPort("example.com", 0)
	if h != "example.com" || p != 80 {
		t.Fatalf("got %s:%d", h, p)
	}
}

func TestProbe_UnknownKind(t *testing.T) {
	out := NewExecutor("").Probe(context.Background(), Request{Kind: "unknown", Host: "localhost", Port: 1234})
	if out.OK() {
		t.Fatalf("want failure, got %+v", out)
	}
	f, ok := out.Outcome.(domain.Failure)
	if !ok || !strings.Contains(f.Error, "unknown target type") {
		t.Fatalf("unexpected outcome: %+v", out.Outcome)
	}
}

func TestProbe_HTTPSuccessWithHeaders(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Server", "nginx")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	}))
	defer s.Close()

	host, port := hostPort(t, s.URL)
	out := NewExecutor("").Probe(context.Background(), Request{
		Kind: "nginx", Host: host, Port: port, Scheme: "http", Path: "/health", Timeout: 2 * time.Second,
	})
	succ, ok := out.Outcome.(domain.Success)
	if !ok {
		t.Fatalf("want success, got %+v", out.Outcome)
	}
	if succ.StatusCode != 200 {
		t.Fatalf("want 200, got %d", succ.StatusCode)
	}
	if succ.LatencyMS < 0 {
		t.Fatalf("latency should be >= 0, got %f", succ.LatencyMS)
	}
	if succ.Headers["server"] != "nginx" {
		t.Fatalf("want server: nginx, got %v", succ.Headers)
	}
	if out.Kind != domain.KindHTTP || !strings.HasSuffix(out.URL, "/health") {
		t.Fatalf("unexpected kind/url: %s %s", out.Kind, out.URL)
	}
}

func TestProbe_HTTPServerErrorIsStillSuccess(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 500)
	}))
	defer s.Close()

	host, port := hostPort(t, s.URL)
	out := NewExecutor("").Probe(context.Background(), Request{Kind: "http", Host: host, Port: port, Timeout: 2 * time.Second})
	succ, ok := out.Outcome.(domain.Success)
	if !ok || succ.StatusCode != 500 {
		t.Fatalf("want transport success with 500, got %+v", out.Outcome)
	}
}

func TestProbe_TimeoutIsFailureWithLatency(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer s.Close()

	host, port := hostPort(t, s.URL)
	out := NewExecutor("").Probe(context.Background(), Request{Kind: "http", Host: host, Port: port, Timeout: 50 * time.Millisecond})
	f, ok := out.Outcome.(domain.Failure)
	if !ok {
		t.Fatalf("want failure due to timeout, got %+v", out.Outcome)
	}
	if f.Error == "" || f.LatencyMS == nil || *f.LatencyMS < 0 {
		t.Fatalf("want error and latency, got %+v", f)
	}
}

// fakeProxy answers absolute-form requests itself instead of forwarding them.
func fakeProxy(t *testing.T, seen chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case seen <- r.URL.String():
		default:
		}
		w.Header().Set("Via", "1.1 fake-squid")
		w.WriteHeader(http.StatusOK)
	}))
}

func TestProbe_ProxyRoutesThroughProxy(t *testing.T) {
	seen := make(chan string, 1)
	p := fakeProxy(t, seen)
	defer p.Close()

	host, port := hostPort(t, p.URL)
	out := NewExecutor("").Probe(context.Background(), Request{
		Kind: "squid", Host: host, Port: port, TestURL: "http://upstream.test/get", Timeout: 2 * time.Second,
	})
	succ, ok := out.Outcome.(domain.Success)
	if !ok || succ.StatusCode != 200 {
		t.Fatalf("want success via proxy, got %+v", out.Outcome)
	}
	if out.Proxy != "http://"+net.JoinHostPort(host, strconv.Itoa(port)) {
		t.Fatalf("unexpected proxy address %q", out.Proxy)
	}
	if out.TestURL != "http://upstream.test/get" {
		t.Fatalf("unexpected test url %q", out.TestURL)
	}
	if got := <-seen; got != "http://upstream.test/get" {
		t.Fatalf("proxy saw %q", got)
	}
	if succ.Headers["via"] != "1.1 fake-squid" {
		t.Fatalf("headers not captured: %v", succ.Headers)
	}
}

func TestProbe_ProxyUsesDefaultTestURL(t *testing.T) {
	seen := make(chan string, 1)
	p := fakeProxy(t, seen)
	defer p.Close()

	host, port := hostPort(t, p.URL)
	ex := NewExecutor("http://default.test/get")
	out := ex.Probe(context.Background(), Request{Kind: "proxy", Host: host, Port: port, Timeout: 2 * time.Second})
	if !out.OK() {
		t.Fatalf("want success, got %+v", out.Outcome)
	}
	if out.TestURL != "http://default.test/get" {
		t.Fatalf("want default test url, got %q", out.TestURL)
	}
}

func TestProbe_ProxyRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	out := NewExecutor("").Probe(context.Background(), Request{
		Kind: "proxy", Host: "127.0.0.1", Port: addr.Port, TestURL: "http://upstream.test/", Timeout: time.Second,
	})
	f, ok := out.Outcome.(domain.Failure)
	if !ok || f.Error == "" || f.LatencyMS == nil {
		t.Fatalf("want failure with latency, got %+v", out.Outcome)
	}
}
