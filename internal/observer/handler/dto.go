package handler

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
)

// Times and durations cross the wire as seconds, with fractions allowed.

func fromEpoch(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromSeconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// observerRequest is the body of POST /observers. The short field names
// name, serial, rdata and rdatatype of the earliest clients are accepted as
// aliases; the canonical field wins when both are sent.
type observerRequest struct {
	TargetName     string  `json:"target_name"`
	Nameserver     string  `json:"nameserver"`
	RecordType     string  `json:"record_type"`
	Type           string  `json:"type"`
	Condition      string  `json:"condition"`
	ExpectedSerial *uint32 `json:"expected_serial"`
	ExpectedData   *string `json:"expected_data"`
	StartTime      float64 `json:"start_time"`
	Timeout        float64 `json:"timeout"`
	Interval       float64 `json:"interval"`

	Name      string  `json:"name"`
	Serial    *uint32 `json:"serial"`
	RData     *string `json:"rdata"`
	RDataType string  `json:"rdatatype"`
}

// toModel converts the request into an observer. Only the condition is
// checked here; everything else is left to the service.
func (r *observerRequest) toModel() (*model.Observer, error) {
	o := &model.Observer{
		TargetName:     firstNonEmpty(r.TargetName, r.Name),
		Nameserver:     r.Nameserver,
		RecordType:     firstNonEmpty(r.RecordType, r.RDataType),
		Type:           model.ObserverType(strings.ToUpper(strings.TrimSpace(r.Type))),
		ExpectedSerial: r.ExpectedSerial,
		ExpectedData:   r.ExpectedData,
		StartTime:      fromEpoch(r.StartTime),
		Timeout:        fromSeconds(r.Timeout),
		Interval:       fromSeconds(r.Interval),
	}
	if o.ExpectedSerial == nil {
		o.ExpectedSerial = r.Serial
	}
	if o.ExpectedData == nil {
		o.ExpectedData = r.RData
	}
	if strings.TrimSpace(r.Condition) != "" {
		kind, payload, err := model.ParseCondition(r.Condition)
		if err != nil {
			return nil, &model.ValidationError{Field: "condition", Reason: err.Error()}
		}
		o.Condition = kind
		if payload != nil && o.ExpectedData == nil {
			o.ExpectedData = payload
		}
	}
	return o, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type observerResponse struct {
	ID             uuid.UUID `json:"id"`
	TargetName     string    `json:"target_name"`
	Nameserver     string    `json:"nameserver"`
	RecordType     string    `json:"record_type,omitempty"`
	Type           string    `json:"type,omitempty"`
	Condition      string    `json:"condition"`
	ExpectedSerial *uint32   `json:"expected_serial"`
	ExpectedData   *string   `json:"expected_data"`
	StartTime      float64   `json:"start_time"`
	Timeout        float64   `json:"timeout"`
	Interval       float64   `json:"interval"`
	Status         string    `json:"status"`
	Duration       *float64  `json:"duration"`
	AcceptedAt     float64   `json:"accepted_at"`
	FinishedAt     *float64  `json:"finished_at"`
	ErrorMessage   *string   `json:"error_message"`
}

func newObserverResponse(o *model.Observer) observerResponse {
	resp := observerResponse{
		ID:             o.ID,
		TargetName:     o.TargetName,
		Nameserver:     o.Nameserver,
		RecordType:     o.RecordType,
		Type:           string(o.Type),
		Condition:      string(o.Condition),
		ExpectedSerial: o.ExpectedSerial,
		ExpectedData:   o.ExpectedData,
		StartTime:      toEpoch(o.StartTime),
		Timeout:        o.Timeout.Seconds(),
		Interval:       o.Interval.Seconds(),
		Status:         string(o.Status),
		AcceptedAt:     toEpoch(o.AcceptedAt),
		ErrorMessage:   o.ErrorMessage,
	}
	if o.Duration != nil {
		d := o.Duration.Seconds()
		resp.Duration = &d
	}
	if o.FinishedAt != nil {
		f := toEpoch(*o.FinishedAt)
		resp.FinishedAt = &f
	}
	return resp
}

type statsRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type statsResponse struct {
	ID           uuid.UUID `json:"id"`
	Start        float64   `json:"start"`
	End          float64   `json:"end"`
	Status       string    `json:"status"`
	AcceptedAt   float64   `json:"accepted_at"`
	ErrorMessage *string   `json:"error_message"`
}

func newStatsResponse(st *model.ObserverStats) statsResponse {
	return statsResponse{
		ID:           st.ID,
		Start:        toEpoch(st.Start),
		End:          toEpoch(st.End),
		Status:       string(st.Status),
		AcceptedAt:   toEpoch(st.AcceptedAt),
		ErrorMessage: st.ErrorMessage,
	}
}

type summaryResponse struct {
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

func newSummaryResponse(s model.Summary) summaryResponse {
	return summaryResponse{
		Average:      s.Average,
		Median:       s.Median,
		Min:          s.Min,
		Max:          s.Max,
		Per66:        s.Per66,
		Per75:        s.Per75,
		Per90:        s.Per90,
		Per95:        s.Per95,
		Per99:        s.Per99,
		SuccessCount: s.SuccessCount,
		ErrorCount:   s.ErrorCount,
	}
}
