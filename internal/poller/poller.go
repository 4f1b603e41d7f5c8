// Package poller runs observations: it polls a nameserver until the
// observer's condition holds or its timeout elapses, then records the
// outcome.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/digaas/internal/dnsquery"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/observer/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ReasonShutdown is recorded on observations interrupted by process shutdown.
const ReasonShutdown = "interrupted by shutdown"

// Store persists the final state of an observer.
type Store interface {
	Update(ctx context.Context, o *model.Observer) error
}

// Reporter is told about every finished observation.
type Reporter interface {
	ObservationFinished(o *model.Observer)
}

// Config tunes the poll loop.
type Config struct {
	// QueryTimeout caps a single DNS query. The effective timeout is also
	// bounded by the observer's interval and its remaining time.
	QueryTimeout time.Duration
	// FinalizeRetries is how many extra attempts a failed final write gets.
	FinalizeRetries int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	// WriteTimeout bounds each final write.
	WriteTimeout time.Duration
}

// Poller executes observations against a Querier.
type Poller struct {
	querier  Querier
	store    Store
	reporter Reporter
	cfg      Config
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Poller. A nil reporter discards events.
func New(q Querier, store Store, reporter Reporter, cfg Config, logger *zap.Logger) *Poller {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = time.Second
	}
	if cfg.FinalizeRetries < 0 {
		cfg.FinalizeRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Poller{
		querier:  q,
		store:    store,
		reporter: reporter,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/jmerrifield20/digaas/internal/poller"),
		logger:   logger,
		now:      time.Now,
	}
}

type nopReporter struct{}

func (nopReporter) ObservationFinished(*model.Observer) {}

// Run polls until o's condition holds, its timeout elapses, a hard query
// error occurs or ctx is cancelled, then persists the terminal state with a
// single Update. o must already be persisted as ACCEPTED.
func (p *Poller) Run(ctx context.Context, o *model.Observer) {
	ctx, span := p.tracer.Start(ctx, "observe",
		trace.WithAttributes(
			attribute.String("observer.id", o.ID.String()),
			attribute.String("observer.condition", string(o.Condition)),
			attribute.String("dns.nameserver", o.Nameserver),
			attribute.String("dns.name", o.TargetName),
		),
	)
	defer span.End()

	log := p.logger.With(
		zap.String("id", o.ID.String()),
		zap.String("condition", string(o.Condition)),
		zap.String("name", o.TargetName),
		zap.String("nameserver", o.Nameserver),
	)

	persisted := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("observer panicked", zap.Any("panic", r))
			if persisted {
				return
			}
			o.Fail(model.StatusInternalError, fmt.Sprintf("internal panic: %v", r), p.now())
			p.persist(ctx, span, log, o)
			p.reporter.ObservationFinished(o)
		}
	}()

	log.Info("starting observer")
	p.poll(ctx, log, o)
	p.persist(ctx, span, log, o)
	persisted = true
	p.reporter.ObservationFinished(o)
}

func (p *Poller) poll(ctx context.Context, log *zap.Logger, o *model.Observer) {
	eval, err := EvaluatorFor(o.Condition)
	if err != nil {
		o.Fail(model.StatusInternalError, err.Error(), p.now())
		return
	}

	deadline := p.now().Add(o.Timeout)
	attempts := 0
	for {
		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			o.Fail(model.StatusError, fmt.Sprintf("condition not met within %s", o.Timeout), p.now())
			return
		}

		attempts++
		ok, err := eval(ctx, o, p.querier, minDuration(p.cfg.QueryTimeout, o.Interval, remaining))
		if ctx.Err() != nil {
			o.Fail(model.StatusInternalError, ReasonShutdown, p.now())
			return
		}
		switch {
		case err == nil && ok:
			end := p.now()
			if end.Before(o.StartTime) {
				log.Warn("start time is in the future; recording zero duration",
					zap.Time("start_time", o.StartTime), zap.Time("finished_at", end))
			}
			o.Complete(end)
			log.Info("condition met", zap.Int("attempts", attempts), zap.Duration("duration", *o.Duration))
			return
		case errors.Is(err, dnsquery.ErrQueryTimeout):
			log.Debug("dns query timed out", zap.Error(err))
		case err != nil:
			log.Warn("observer query failed", zap.Int("attempts", attempts), zap.Error(err))
			o.Fail(model.StatusError, err.Error(), p.now())
			return
		}

		t := time.NewTimer(o.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			o.Fail(model.StatusInternalError, ReasonShutdown, p.now())
			return
		case <-t.C:
		}
	}
}

func (p *Poller) persist(ctx context.Context, span trace.Span, log *zap.Logger, o *model.Observer) {
	span.SetAttributes(attribute.String("observer.status", string(o.Status)))
	if o.Status != model.StatusComplete {
		msg := ""
		if o.ErrorMessage != nil {
			msg = *o.ErrorMessage
		}
		span.SetStatus(codes.Error, msg)
	}

	if err := p.Finalize(ctx, o); err != nil {
		log.Error("final state lost", zap.String("status", string(o.Status)), zap.Error(err))
	} else {
		log.Info("observer is done", zap.String("status", string(o.Status)))
	}
}

// Finalize writes o with bounded retries. It ignores ctx cancellation so a
// shutdown still records the terminal state. A record that is already
// terminal is never retried.
func (p *Poller) Finalize(ctx context.Context, o *model.Observer) error {
	base := context.WithoutCancel(ctx)
	var err error
	for attempt := 0; attempt <= p.cfg.FinalizeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * p.cfg.RetryBackoff)
		}
		wctx, cancel := context.WithTimeout(base, p.cfg.WriteTimeout)
		err = p.store.Update(wctx, o)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrObserverFinal) {
			return fmt.Errorf("update observer %s: %w", o.ID, err)
		}
		p.logger.Warn("persist observer result",
			zap.String("id", o.ID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("update observer %s: %w", o.ID, err)
}

func minDuration(ds ...time.Duration) time.Duration {
	m := ds[0]
	for _, d := range ds[1:] {
		if d < m {
			m = d
		}
	}
	return m
}
