package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObserverStats is an asynchronous request to summarize every observer
// started, and every DNS query sent, within [Start, End].
type ObserverStats struct {
	ID           uuid.UUID `json:"id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Status       Status    `json:"status"`
	AcceptedAt   time.Time `json:"accepted_at"`
	ErrorMessage *string   `json:"error_message"`
}

// Validate checks the requested time range.
func (s *ObserverStats) Validate() error {
	if s.Start.IsZero() {
		return invalid("start", "must be set")
	}
	if s.End.IsZero() {
		return invalid("end", "must be set")
	}
	if s.Start.After(s.End) {
		return invalid("start", "must not be after end")
	}
	return nil
}

// SummaryView is the dimension a summary is grouped by.
type SummaryView string

const (
	ViewQueries               SummaryView = "QUERIES"
	ViewObserversByType       SummaryView = "OBSERVERS_BY_TYPE"
	ViewObserversByNameserver SummaryView = "OBSERVERS_BY_NAMESERVER"
)

// SummaryViews lists every view in a stable order.
var SummaryViews = []SummaryView{ViewQueries, ViewObserversByType, ViewObserversByNameserver}

// Summary holds the distribution of successful durations, in seconds, for
// one key of one view. Numeric fields are nil when there were no successes.
type Summary struct {
	StatsID      uuid.UUID   `json:"stats_id"`
	View         SummaryView `json:"view"`
	Key          string      `json:"key"`
	Average      *float64    `json:"average"`
	Median       *float64    `json:"median"`
	Min          *float64    `json:"min"`
	Max          *float64    `json:"max"`
	Per66        *float64    `json:"per66"`
	Per75        *float64    `json:"per75"`
	Per90        *float64    `json:"per90"`
	Per95        *float64    `json:"per95"`
	Per99        *float64    `json:"per99"`
	SuccessCount int         `json:"success_count"`
	ErrorCount   int         `json:"error_count"`
}

// QueryStatus is the outcome of a single DNS query attempt.
type QueryStatus string

const (
	QuerySuccess QueryStatus = "SUCCESS"
	QueryTimeout QueryStatus = "TIMEOUT"
)

// DNSQuery is one logged query attempt against a nameserver.
type DNSQuery struct {
	ID         uuid.UUID     `json:"id"`
	Nameserver string        `json:"nameserver"`
	Status     QueryStatus   `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
}

// PlotType names a rendered chart.
type PlotType string

const (
	PlotPropagationByType       PlotType = "PROPAGATION_BY_TYPE"
	PlotPropagationByNameserver PlotType = "PROPAGATION_BY_NAMESERVER"
	PlotQuery                   PlotType = "QUERY"
)

// ParsePlotType accepts the canonical names and their lower-case forms.
func ParsePlotType(s string) (PlotType, bool) {
	switch PlotType(strings.ToUpper(strings.TrimSpace(s))) {
	case PlotPropagationByType:
		return PlotPropagationByType, true
	case PlotPropagationByNameserver:
		return PlotPropagationByNameserver, true
	case PlotQuery:
		return PlotQuery, true
	}
	return "", false
}

// Plot is a rendered image attached to a stats request.
type Plot struct {
	StatsID  uuid.UUID `json:"stats_id"`
	Type     PlotType  `json:"type"`
	MimeType string    `json:"mimetype"`
	Image    []byte    `json:"image"`
}
