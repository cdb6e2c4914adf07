package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/proxychecker/internal/domain"
)

// Executor performs http and proxy probes. It keeps no state between calls.
type Executor struct {
	DefaultTestURL string
	now            func() time.Time
}

var _ Prober = (*Executor)(nil)

func NewExecutor(defaultTestURL string) *Executor {
	if defaultTestURL == "" {
		defaultTestURL = DefaultTestURL
	}
	return &Executor{DefaultTestURL: defaultTestURL, now: time.Now}
}

// Probe runs exactly one check. Failures are returned as data, never as errors.
func (e *Executor) Probe(ctx context.Context, req Request) domain.ProbeResult {
	host, port := SanitizeHostPort(req.Host, req.Port)
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		return domain.ProbeResult{
			Kind:      domain.Kind(req.Kind),
			Timestamp: e.now(),
			Outcome:   domain.Failure{Error: "unknown target type: " + req.Kind},
		}
	}
	if req.Timeout <= 0 {
		req.Timeout = Timeout
	}

	switch kind {
	case domain.KindProxy:
		return e.probeProxy(ctx, host, port, req.TestURL, req.Timeout)
	default:
		return e.probeHTTP(ctx, host, port, req.Scheme, req.Path, req.Timeout)
	}
}

func (e *Executor) probeHTTP(ctx context.Context, host string, port int, scheme, path string, timeout time.Duration) domain.ProbeResult {
	if scheme == "" {
		scheme = "http"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)) + path

	tr := newTransport(nil)
	defer tr.CloseIdleConnections()

	res := domain.ProbeResult{Kind: domain.KindHTTP, URL: target}
	res.Outcome = fetch(ctx, tr, target, timeout)
	res.Timestamp = e.now()
	return res
}

func (e *Executor) probeProxy(ctx context.Context, host string, port int, testURL string, timeout time.Duration) domain.ProbeResult {
	if testURL == "" {
		testURL = e.DefaultTestURL
	}
	proxy := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	res := domain.ProbeResult{Kind: domain.KindProxy, Proxy: proxy, TestURL: testURL}

	proxyURL, err := url.Parse(proxy)
	if err != nil {
		lat := 0.0
		res.Outcome = domain.Failure{Error: err.Error(), LatencyMS: &lat}
		res.Timestamp = e.now()
		return res
	}
	// The same proxy serves both http:// and https:// test URLs; https goes
	// through CONNECT.
	tr := newTransport(http.ProxyURL(proxyURL))
	defer tr.CloseIdleConnections()

	res.Outcome = fetch(ctx, tr, testURL, timeout)
	res.Timestamp = e.now()
	return res
}

func newTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = proxy
	tr.DisableKeepAlives = true
	return tr
}

// fetch issues one GET and times it from dispatch until headers arrive or
// the call fails.
func fetch(ctx context.Context, tr http.RoundTripper, target string, timeout time.Duration) domain.Outcome {
	client := &http.Client{
		Transport: tr,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		lat := domain.RoundLatency(time.Since(start))
		return domain.Failure{Error: err.Error(), LatencyMS: &lat}
	}
	resp, err := client.Do(req)
	lat := domain.RoundLatency(time.Since(start))
	if err != nil {
		return domain.Failure{Error: err.Error(), LatencyMS: &lat}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return domain.Success{
		StatusCode: resp.StatusCode,
		LatencyMS:  lat,
		Headers:    flattenHeaders(resp.Header),
	}
}

// flattenHeaders lower-cases names and joins repeated values with ", ".
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

// Describe renders a one-line summary, used in logs.
func Describe(r domain.ProbeResult) string {
	switch o := r.Outcome.(type) {
	case domain.Success:
		return fmt.Sprintf("ok status=%d latency=%.1fms", o.StatusCode, o.LatencyMS)
	case domain.Failure:
		return "failed: " + o.Error
	}
	return "unknown"
}
