// Package metrics publishes query and observation outcomes to monitoring
// backends. Every sink is best-effort: a failing backend never affects the
// observation that produced the event.
package metrics

import (
	"time"

	"github.com/jmerrifield20/digaas/internal/observer/model"
	"go.uber.org/zap"
)

// Sink receives query and observation outcomes. Implementations must be
// safe for concurrent use and must not block the caller.
type Sink interface {
	QuerySucceeded(nameserver string, rtt time.Duration)
	QueryTimedOut(nameserver string, waited time.Duration)
	ObservationFinished(o *model.Observer)
}

// Nop discards every event.
type Nop struct{}

func (Nop) QuerySucceeded(string, time.Duration) {}
func (Nop) QueryTimedOut(string, time.Duration)  {}
func (Nop) ObservationFinished(*model.Observer)  {}

// Multi fans events out to several sinks. A panic in one sink is logged and
// does not reach the others or the caller.
type Multi struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMulti combines sinks. Nil entries are skipped.
func NewMulti(logger *zap.Logger, sinks ...Sink) *Multi {
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) QuerySucceeded(nameserver string, rtt time.Duration) {
	for _, s := range m.sinks {
		m.guard("query_succeeded", func() { s.QuerySucceeded(nameserver, rtt) })
	}
}

func (m *Multi) QueryTimedOut(nameserver string, waited time.Duration) {
	for _, s := range m.sinks {
		m.guard("query_timed_out", func() { s.QueryTimedOut(nameserver, waited) })
	}
}

func (m *Multi) ObservationFinished(o *model.Observer) {
	for _, s := range m.sinks {
		m.guard("observation_finished", func() { s.ObservationFinished(o) })
	}
}

func (m *Multi) guard(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("metrics sink panicked",
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
