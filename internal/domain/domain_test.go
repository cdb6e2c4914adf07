package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseKind_Aliases(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"http", KindHTTP},
		{"nginx", KindHTTP},
		{"NGINX", KindHTTP},
		{"proxy", KindProxy},
		{"squid", KindProxy},
	}
	for _, c := range cases {
		got, err := ParseKind(c.in)
		if err != nil || got != c.want {
			t.Fatalf("ParseKind(%q)=%q,%v want %q", c.in, got, err, c.want)
		}
	}
	if _, err := ParseKind("ftp"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestTargetInput_Defaults(t *testing.T) {
	tg, err := TargetInput{Type: "squid", Host: "proxy.local"}.Target()
	if err != nil {
		t.Fatalf("Target: %v", err)
	}
	if tg.Kind != KindProxy || tg.Port != 3128 || tg.Scheme != "http" || tg.Interval != 60 {
		t.Fatalf("unexpected proxy defaults: %+v", tg)
	}

	tg, err = TargetInput{Type: "nginx", Host: "example.com", Port: 443}.Target()
	if err != nil {
		t.Fatalf("Target: %v", err)
	}
	if tg.Kind != KindHTTP || tg.Scheme != "https" || tg.Path != "/" {
		t.Fatalf("unexpected http defaults: %+v", tg)
	}

	if _, err := (TargetInput{Type: "http", Host: "x", Interval: -1}).Target(); err == nil {
		t.Fatalf("expected error for negative interval")
	}
	if _, err := (TargetInput{Type: "http"}).Target(); err == nil {
		t.Fatalf("expected error for missing host")
	}
}

func TestTargetPatch_PortChangeReinfersScheme(t *testing.T) {
	base, _ := TargetInput{Type: "http", Host: "example.com"}.Target()
	port := 443
	got, err := TargetPatch{Port: &port}.Apply(base)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Scheme != "https" {
		t.Fatalf("want https after moving to 443, got %q", got.Scheme)
	}

	interval := 5
	got, err = TargetPatch{Interval: &interval}.Apply(got)
	if err != nil || got.Interval != 5 || got.Scheme != "https" {
		t.Fatalf("unexpected patch result: %+v err=%v", got, err)
	}
}

func TestProbeResult_RecordRoundTrip(t *testing.T) {
	ts := time.Date(2025, 8, 18, 12, 0, 0, 500_000_000, time.UTC)
	want := ProbeResult{
		Kind:      KindHTTP,
		URL:       "http://example.com:80/",
		Timestamp: ts,
		Outcome:   Success{StatusCode: 200, LatencyMS: 12.3, Headers: map[string]string{"server": "nginx"}},
	}
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ProbeResult
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	s, ok := got.Outcome.(Success)
	if !ok || s.StatusCode != 200 || s.Headers["server"] != "nginx" {
		t.Fatalf("outcome mismatch: %+v", got.Outcome)
	}
	if !got.Timestamp.Equal(ts) {
		t.Fatalf("timestamp mismatch: %v vs %v", got.Timestamp, ts)
	}
}

func TestFailureRecord_OmitsStatus(t *testing.T) {
	r := ProbeResult{Kind: "weird", Timestamp: time.Now(), Outcome: Failure{Error: "unknown target type: weird"}}
	rec := r.Record()
	if rec.OK || rec.StatusCode != nil || rec.LatencyMS != nil || rec.Error == nil {
		t.Fatalf("unexpected failure record: %+v", rec)
	}
	if _, ok := r.Latency(); ok {
		t.Fatalf("unknown kind failure should carry no latency")
	}
}

func TestNewer_TieBreaksOnSeq(t *testing.T) {
	ts := time.Now()
	a := ProbeResult{Seq: 1, Timestamp: ts}
	b := ProbeResult{Seq: 2, Timestamp: ts}
	if !b.Newer(a) || a.Newer(b) {
		t.Fatalf("seq should break timestamp ties")
	}
}

func TestRoundLatency(t *testing.T) {
	if got := RoundLatency(12345678 * time.Nanosecond); got != 12.3 {
		t.Fatalf("RoundLatency=%v want 12.3", got)
	}
}

func TestValidationErrorsWrapErrInvalid(t *testing.T) {
	_, err := TargetInput{Type: "squid", Host: "p", Port: 70000}.Target()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
	if _, err := ParseKind("gopher"); !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "unknown target type") {
		t.Fatalf("unexpected ParseKind error: %v", err)
	}
}
