package client

import (
	"math"
	"strconv"
	"time"
)

// Timestamp is a point in time sent as Unix epoch seconds, with a
// fractional part for sub-second precision.
type Timestamp struct {
	time.Time
}

// At wraps t as a Timestamp.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(t.UnixMicro())/1e6, 'f', -1, 64), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	whole, frac := math.Modf(f)
	t.Time = time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
	return nil
}

// Seconds is a duration sent as a number of seconds.
type Seconds time.Duration

// Duration converts s back to a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

func (s Seconds) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, time.Duration(s).Seconds(), 'f', -1, 64), nil
}

func (s *Seconds) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*s = Seconds(time.Duration(math.Round(f * float64(time.Second))))
	return nil
}

// Observer statuses.
const (
	StatusAccepted      = "ACCEPTED"
	StatusComplete      = "COMPLETE"
	StatusError         = "ERROR"
	StatusInternalError = "INTERNAL_ERROR"
)

// ObserverRequest is the payload for SubmitObserver. Either Type or
// Condition must be set.
type ObserverRequest struct {
	TargetName     string    `json:"target_name"`
	Nameserver     string    `json:"nameserver"`
	RecordType     string    `json:"record_type,omitempty"`
	Type           string    `json:"type,omitempty"`
	Condition      string    `json:"condition,omitempty"`
	ExpectedSerial *uint32   `json:"expected_serial,omitempty"`
	ExpectedData   *string   `json:"expected_data,omitempty"`
	StartTime      Timestamp `json:"start_time"`
	Timeout        Seconds   `json:"timeout"`
	Interval       Seconds   `json:"interval"`
}

// Observer is an observation request and its outcome.
type Observer struct {
	ID             string     `json:"id"`
	TargetName     string     `json:"target_name"`
	Nameserver     string     `json:"nameserver"`
	RecordType     string     `json:"record_type,omitempty"`
	Type           string     `json:"type,omitempty"`
	Condition      string     `json:"condition"`
	ExpectedSerial *uint32    `json:"expected_serial"`
	ExpectedData   *string    `json:"expected_data"`
	StartTime      Timestamp  `json:"start_time"`
	Timeout        Seconds    `json:"timeout"`
	Interval       Seconds    `json:"interval"`
	Status         string     `json:"status"`
	Duration       *Seconds   `json:"duration"`
	AcceptedAt     Timestamp  `json:"accepted_at"`
	FinishedAt     *Timestamp `json:"finished_at"`
	ErrorMessage   *string    `json:"error_message"`
}

// Done reports whether the observer reached a terminal status.
func (o *Observer) Done() bool {
	return o.Status != StatusAccepted
}

// Stats is an asynchronous statistics request.
type Stats struct {
	ID           string    `json:"id"`
	Start        Timestamp `json:"start"`
	End          Timestamp `json:"end"`
	Status       string    `json:"status"`
	AcceptedAt   Timestamp `json:"accepted_at"`
	ErrorMessage *string   `json:"error_message"`
}

// Summary is the distribution of successful durations, in seconds, for one
// key of one view.
type Summary struct {
	Average      *float64 `json:"average"`
	Median       *float64 `json:"median"`
	Min          *float64 `json:"min"`
	Max          *float64 `json:"max"`
	Per66        *float64 `json:"per66"`
	Per75        *float64 `json:"per75"`
	Per90        *float64 `json:"per90"`
	Per95        *float64 `json:"per95"`
	Per99        *float64 `json:"per99"`
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
}

// Summaries maps a view (queries, observers_by_type,
// observers_by_nameserver) to its per-key summaries.
type Summaries map[string]map[string]Summary

// Plot types accepted by GetPlot.
const (
	PlotPropagationByType       = "PROPAGATION_BY_TYPE"
	PlotPropagationByNameserver = "PROPAGATION_BY_NAMESERVER"
	PlotQuery                   = "QUERY"
)

// VersionInfo is returned by Version.
type VersionInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
}
