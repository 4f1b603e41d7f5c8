package metrics

import (
	"time"

	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus exports query and observation outcomes as Prometheus series.
type Prometheus struct {
	queryDuration       *prometheus.HistogramVec
	queriesTotal        *prometheus.CounterVec
	observationDuration *prometheus.HistogramVec
	observationsTotal   *prometheus.CounterVec
}

// NewPrometheus registers the digaas collectors with reg. Pass
// prometheus.DefaultRegisterer in production.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digaas_query_duration_seconds",
			Help:    "DNS query response time by nameserver and outcome.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"nameserver", "status"}),

		queriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "digaas_queries_total",
			Help: "Total DNS queries by nameserver and outcome.",
		}, []string{"nameserver", "status"}),

		observationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digaas_observation_duration_seconds",
			Help:    "Propagation time of completed observations by type.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"type"}),

		observationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "digaas_observations_total",
			Help: "Total finished observations by type and status.",
		}, []string{"type", "status"}),
	}
}

func (p *Prometheus) QuerySucceeded(nameserver string, rtt time.Duration) {
	p.queriesTotal.WithLabelValues(nameserver, string(model.QuerySuccess)).Inc()
	p.queryDuration.WithLabelValues(nameserver, string(model.QuerySuccess)).Observe(rtt.Seconds())
}

func (p *Prometheus) QueryTimedOut(nameserver string, waited time.Duration) {
	p.queriesTotal.WithLabelValues(nameserver, string(model.QueryTimeout)).Inc()
	p.queryDuration.WithLabelValues(nameserver, string(model.QueryTimeout)).Observe(waited.Seconds())
}

func (p *Prometheus) ObservationFinished(o *model.Observer) {
	p.observationsTotal.WithLabelValues(o.Label(), string(o.Status)).Inc()
	if o.Status == model.StatusComplete && o.Duration != nil {
		p.observationDuration.WithLabelValues(o.Label()).Observe(o.Duration.Seconds())
	}
}
