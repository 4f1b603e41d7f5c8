package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/observer/repository"
	"go.uber.org/zap"
)

// ReasonAbandoned is recorded on observers the sweeper finalizes.
const ReasonAbandoned = "abandoned: no result recorded before the deadline"

type acceptedLister interface {
	ListAccepted(ctx context.Context, acceptedBefore time.Time) ([]*model.Observer, error)
}

type finalizer interface {
	Finalize(ctx context.Context, o *model.Observer) error
}

type liveness interface {
	Running(id uuid.UUID) bool
}

// Sweeper finalizes observers left ACCEPTED after their deadline, such as
// those orphaned by a crash or a lost final write.
type Sweeper struct {
	store    acceptedLister
	final    finalizer
	live     liveness
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper that runs every interval and treats an
// observer as stale once accepted_at + timeout + grace has passed.
func NewSweeper(store acceptedLister, final finalizer, live liveness, interval, grace time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		final:    final,
		live:     live,
		interval: interval,
		grace:    grace,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, s.interval)
			if _, err := s.Sweep(sctx); err != nil {
				s.logger.Warn("observer sweep error", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep finalizes every stale observer not running in this process as
// INTERNAL_ERROR and returns how many it finalized.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ListAccepted(ctx, now.Add(-s.grace))
	if err != nil {
		return 0, fmt.Errorf("list accepted observers: %w", err)
	}

	swept := 0
	for _, o := range candidates {
		if s.live.Running(o.ID) || o.AcceptedAt.Add(o.Timeout).Add(s.grace).After(now) {
			continue
		}
		o.Fail(model.StatusInternalError, ReasonAbandoned, now)
		if err := s.final.Finalize(ctx, o); err != nil {
			if errors.Is(err, repository.ErrObserverFinal) {
				continue
			}
			s.logger.Warn("finalize stale observer", zap.String("id", o.ID.String()), zap.Error(err))
			continue
		}
		swept++
	}
	if swept > 0 {
		s.logger.Info("finalized stale observers", zap.Int("count", swept))
	}
	return swept, nil
}
