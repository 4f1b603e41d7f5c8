// Package service holds the business logic behind the HTTP API: accepting
// observation requests, running stats jobs and sweeping stale observers.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/observer/repository"
	"github.com/jmerrifield20/digaas/internal/poller"
	"go.uber.org/zap"
)

// ObserverStore is the persistence gateway for observers.
// Every type in the repository package satisfies it.
type ObserverStore interface {
	Create(ctx context.Context, o *model.Observer) error
	Update(ctx context.Context, o *model.Observer) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Observer, error)
	ListByStartTime(ctx context.Context, from, to time.Time) ([]*model.Observer, error)
	ListAccepted(ctx context.Context, acceptedBefore time.Time) ([]*model.Observer, error)
}

// runner executes one observation. *poller.Poller satisfies it.
type runner interface {
	Run(ctx context.Context, o *model.Observer)
	Finalize(ctx context.Context, o *model.Observer) error
}

// tasks starts tracked background work. *poller.Group satisfies it.
type tasks interface {
	Go(id uuid.UUID, fn func(ctx context.Context)) error
	Running(id uuid.UUID) bool
}

// ObserverService accepts observation requests and hands them to the poller.
type ObserverService struct {
	store  ObserverStore
	runner runner
	tasks  tasks
	logger *zap.Logger
	now    func() time.Time
}

// NewObserverService creates an ObserverService.
func NewObserverService(store ObserverStore, r runner, t tasks, logger *zap.Logger) *ObserverService {
	return &ObserverService{store: store, runner: r, tasks: t, logger: logger, now: time.Now}
}

// Submit validates o, persists it as ACCEPTED and starts polling in the
// background. An id is assigned when o has none. The returned copy reflects the persisted ACCEPTED state.
func (s *ObserverService) Submit(ctx context.Context, o *model.Observer) (*model.Observer, error) {
	o.Normalize()
	if err := o.Validate(); err != nil {
		return nil, err
	}

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.Status = model.StatusAccepted
	o.AcceptedAt = s.now().UTC()
	o.Duration = nil
	o.FinishedAt = nil
	o.ErrorMessage = nil

	if err := s.store.Create(ctx, o); err != nil {
		s.logger.Error("persist observer", zap.String("id", o.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrPersistence, err.Error())
	}

	accepted := o.Clone()
	task := o.Clone()
	if err := s.tasks.Go(task.ID, func(ctx context.Context) { s.runner.Run(ctx, task) }); err != nil {
		task.Fail(model.StatusInternalError, poller.ReasonShutdown, s.now())
		if ferr := s.runner.Finalize(ctx, task); ferr != nil {
			s.logger.Error("finalize rejected observer", zap.String("id", task.ID.String()), zap.Error(ferr))
		}
		return nil, ErrShuttingDown
	}

	s.logger.Info("observer accepted",
		zap.String("id", accepted.ID.String()),
		zap.String("condition", string(accepted.Condition)),
		zap.String("name", accepted.TargetName),
		zap.String("nameserver", accepted.Nameserver),
	)
	return accepted, nil
}

// Get returns the current state of an observer.
func (s *ObserverService) Get(ctx context.Context, id uuid.UUID) (*model.Observer, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrObserverNotFound) {
			return nil, ErrObserverNotFound
		}
		return nil, fmt.Errorf("get observer: %w", err)
	}
	return o, nil
}
