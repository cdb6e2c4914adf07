package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Outcome is either Success or Failure.
type Outcome interface {
	isOutcome()
}

// Success means the transport completed. Any HTTP status counts, 5xx included.
type Success struct {
	StatusCode int
	LatencyMS  float64
	Headers    map[string]string
}

// Failure carries the transport error. LatencyMS is nil when no network
// call was attempted (unknown kind).
type Failure struct {
	LatencyMS *float64
	Error     string
}

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// ProbeResult is one probe attempt. It is not modified after creation.
type ProbeResult struct {
	Seq       int64 // assigned by the history store; breaks timestamp ties
	Kind      Kind
	URL       string // http probes
	Proxy     string // proxy probes
	TestURL   string // proxy probes
	Timestamp time.Time
	Outcome   Outcome
}

func (r ProbeResult) OK() bool {
	_, ok := r.Outcome.(Success)
	return ok
}

// Latency reports the measured latency, if any.
func (r ProbeResult) Latency() (float64, bool) {
	switch o := r.Outcome.(type) {
	case Success:
		return o.LatencyMS, true
	case Failure:
		if o.LatencyMS != nil {
			return *o.LatencyMS, true
		}
	}
	return 0, false
}

// Newer orders results by timestamp, then by insertion sequence.
func (r ProbeResult) Newer(o ProbeResult) bool {
	if !r.Timestamp.Equal(o.Timestamp) {
		return r.Timestamp.After(o.Timestamp)
	}
	return r.Seq > o.Seq
}

// RoundLatency converts d to milliseconds rounded to one decimal place.
func RoundLatency(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*10) / 10
}

// Record is the flat wire and storage shape of a ProbeResult.
type Record struct {
	Seq        int64             `json:"id,omitempty"`
	OK         bool              `json:"ok"`
	Type       string            `json:"type,omitempty"`
	URL        string            `json:"url,omitempty"`
	Proxy      string            `json:"proxy,omitempty"`
	TestURL    string            `json:"test_url,omitempty"`
	TS         float64           `json:"ts"`
	StatusCode *int              `json:"status_code,omitempty"`
	LatencyMS  *float64          `json:"latency_ms,omitempty"`
	Error      *string           `json:"error,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (r ProbeResult) Record() Record {
	rec := Record{
		Seq:     r.Seq,
		Type:    string(r.Kind),
		URL:     r.URL,
		Proxy:   r.Proxy,
		TestURL: r.TestURL,
		TS:      float64(r.Timestamp.UnixNano()) / 1e9,
	}
	switch o := r.Outcome.(type) {
	case Success:
		rec.OK = true
		code, lat := o.StatusCode, o.LatencyMS
		rec.StatusCode = &code
		rec.LatencyMS = &lat
		rec.Headers = o.Headers
	case Failure:
		msg := o.Error
		rec.Error = &msg
		rec.LatencyMS = o.LatencyMS
	}
	return rec
}

// Result rebuilds the tagged variant from a flat record.
func (rec Record) Result() ProbeResult {
	sec, frac := math.Modf(rec.TS)
	r := ProbeResult{
		Seq:       rec.Seq,
		Kind:      Kind(rec.Type),
		URL:       rec.URL,
		Proxy:     rec.Proxy,
		TestURL:   rec.TestURL,
		Timestamp: time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(),
	}
	if rec.OK {
		s := Success{Headers: rec.Headers}
		if rec.StatusCode != nil {
			s.StatusCode = *rec.StatusCode
		}
		if rec.LatencyMS != nil {
			s.LatencyMS = *rec.LatencyMS
		}
		r.Outcome = s
		return r
	}
	f := Failure{LatencyMS: rec.LatencyMS}
	if rec.Error != nil {
		f.Error = *rec.Error
	}
	r.Outcome = f
	return r
}

func (r ProbeResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Record())
}

func (r *ProbeResult) UnmarshalJSON(b []byte) error {
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	*r = rec.Result()
	return nil
}
