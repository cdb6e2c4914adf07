package probe

import (
	"context"
	"time"

	"github.com/hamed0406/proxychecker/internal/domain"
)

// Timeout is the fixed per-probe deadline used by the scheduler.
const Timeout = 8 * time.Second

// DefaultTestURL is fetched through proxy targets that set no test URL.
const DefaultTestURL = "https://httpbin.org/get"

// Request describes a single liveness check. Kind is the raw type string so
// callers outside the registry can still ask for unknown kinds.
type Request struct {
	Kind    string
	Host    string
	Port    int
	Scheme  string
	Path    string
	TestURL string
	Timeout time.Duration
}

// RequestFor builds the probe request for a registered target.
func RequestFor(t domain.Target, timeout time.Duration) Request {
	return Request{
		Kind:    string(t.Kind),
		Host:    t.Host,
		Port:    t.Port,
		Scheme:  t.Scheme,
		Path:    t.Path,
		TestURL: t.TestURL,
		Timeout: timeout,
	}
}

// Prober is implemented by anything that can run one probe.
type Prober interface {
	Probe(ctx context.Context, req Request) domain.ProbeResult
}

// SanitizeHostPort defaults a missing port to 80.
func SanitizeHostPort(host string, port int) (string, int) {
	if port <= 0 {
		port = domain.DefaultHTTPPort
	}
	return host, port
}
