package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type TargetID int64

// ErrInvalid wraps every target validation failure.
var ErrInvalid = errors.New("invalid target")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

const (
	DefaultInterval  = 60
	DefaultHTTPPort  = 80
	DefaultProxyPort = 3128
)

// Kind is the protocol a target is probed with. Legacy names are folded
// into these two values by ParseKind.
type Kind string

const (
	KindHTTP  Kind = "http"
	KindProxy Kind = "proxy"
)

// ParseKind normalizes "nginx" to http and "squid" to proxy.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http", "nginx":
		return KindHTTP, nil
	case "proxy", "squid":
		return KindProxy, nil
	}
	return "", invalid("unknown target type: %s", s)
}

func (k Kind) DefaultPort() int {
	if k == KindProxy {
		return DefaultProxyPort
	}
	return DefaultHTTPPort
}

type Target struct {
	ID        TargetID  `json:"id"`
	Name      string    `json:"name,omitempty"`
	Kind      Kind      `json:"type"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Scheme    string    `json:"scheme"`
	Path      string    `json:"path,omitempty"`
	TestURL   string    `json:"test_url,omitempty"`
	Interval  int       `json:"interval"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetInput is the create payload. Zero values mean "use the default".
type TargetInput struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Scheme   string `json:"scheme" yaml:"scheme"`
	Path     string `json:"path" yaml:"path"`
	TestURL  string `json:"test_url" yaml:"test_url"`
	Interval int    `json:"interval" yaml:"interval"`
}

// Target validates the input and fills in defaults: port by kind, scheme
// https iff port 443, path "/" for http targets, interval 60.
func (in TargetInput) Target() (Target, error) {
	kind, err := ParseKind(in.Type)
	if err != nil {
		return Target{}, err
	}
	t := Target{
		Name:     strings.TrimSpace(in.Name),
		Kind:     kind,
		Host:     strings.TrimSpace(in.Host),
		Port:     in.Port,
		Scheme:   strings.ToLower(strings.TrimSpace(in.Scheme)),
		Path:     in.Path,
		TestURL:  strings.TrimSpace(in.TestURL),
		Interval: in.Interval,
	}
	if err := t.normalize(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// TargetPatch is a partial update; nil fields are left unchanged.
type TargetPatch struct {
	Name     *string `json:"name"`
	Type     *string `json:"type"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	Scheme   *string `json:"scheme"`
	Path     *string `json:"path"`
	TestURL  *string `json:"test_url"`
	Interval *int    `json:"interval"`
}

// Apply returns a copy of t with the patch applied and re-validated.
func (p TargetPatch) Apply(t Target) (Target, error) {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.Type != nil {
		kind, err := ParseKind(*p.Type)
		if err != nil {
			return Target{}, err
		}
		t.Kind = kind
	}
	if p.Host != nil {
		t.Host = strings.TrimSpace(*p.Host)
	}
	if p.Port != nil {
		t.Port = *p.Port
		if p.Scheme == nil {
			t.Scheme = ""
		}
	}
	if p.Scheme != nil {
		t.Scheme = strings.ToLower(strings.TrimSpace(*p.Scheme))
	}
	if p.Path != nil {
		t.Path = *p.Path
	}
	if p.TestURL != nil {
		t.TestURL = strings.TrimSpace(*p.TestURL)
	}
	if p.Interval != nil {
		t.Interval = *p.Interval
	}
	if err := t.normalize(); err != nil {
		return Target{}, err
	}
	return t, nil
}

func (t *Target) normalize() error {
	if t.Host == "" {
		return invalid("host is required")
	}
	if t.Port == 0 {
		t.Port = t.Kind.DefaultPort()
	}
	if t.Port < 1 || t.Port > 65535 {
		return invalid("port out of range: %d", t.Port)
	}
	switch t.Scheme {
	case "":
		t.Scheme = "http"
		if t.Port == 443 {
			t.Scheme = "https"
		}
	case "http", "https":
	default:
		return invalid("scheme must be http or https, got %q", t.Scheme)
	}
	if t.Kind == KindHTTP {
		if t.Path == "" {
			t.Path = "/"
		}
		if !strings.HasPrefix(t.Path, "/") {
			t.Path = "/" + t.Path
		}
	}
	if t.Interval == 0 {
		t.Interval = DefaultInterval
	}
	if t.Interval < 1 {
		return invalid("interval must be >= 1, got %d", t.Interval)
	}
	return nil
}
