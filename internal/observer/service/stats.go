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
	"github.com/jmerrifield20/digaas/internal/stats"
	"go.uber.org/zap"
)

// StatsStore persists stats requests and their results.
type StatsStore interface {
	CreateStats(ctx context.Context, st *model.ObserverStats) error
	UpdateStats(ctx context.Context, st *model.ObserverStats) error
	GetStats(ctx context.Context, id uuid.UUID) (*model.ObserverStats, error)
	SaveSummaries(ctx context.Context, statsID uuid.UUID, summaries []model.Summary) error
	ListSummaries(ctx context.Context, statsID uuid.UUID) ([]model.Summary, error)
	SavePlot(ctx context.Context, p *model.Plot) error
	GetPlot(ctx context.Context, statsID uuid.UUID, typ model.PlotType) (*model.Plot, error)
}

// QueryLog lists logged DNS query attempts.
type QueryLog interface {
	ListQueries(ctx context.Context, from, to time.Time) ([]model.DNSQuery, error)
}

type observerLister interface {
	ListByStartTime(ctx context.Context, from, to time.Time) ([]*model.Observer, error)
}

// plotter renders charts. *stats.Renderer satisfies it.
type plotter interface {
	Enabled() bool
	Render(ctx context.Context, c stats.Chart) ([]byte, error)
}

type starter interface {
	Go(id uuid.UUID, fn func(ctx context.Context)) error
}

// Summaries groups summaries by view, then by key.
type Summaries map[model.SummaryView]map[string]model.Summary

// StatsService runs stats jobs in the background and serves their results.
type StatsService struct {
	store     StatsStore
	observers observerLister
	queries   QueryLog
	plots     plotter
	tasks     starter
	logger    *zap.Logger
	now       func() time.Time
}

// NewStatsService creates a StatsService.
func NewStatsService(store StatsStore, observers observerLister, queries QueryLog, plots plotter, tasks starter, logger *zap.Logger) *StatsService {
	return &StatsService{
		store:     store,
		observers: observers,
		queries:   queries,
		plots:     plots,
		tasks:     tasks,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateStats records an ACCEPTED stats request for [start, end] and starts
// computing it in the background.
func (s *StatsService) CreateStats(ctx context.Context, start, end time.Time) (*model.ObserverStats, error) {
	st := &model.ObserverStats{
		ID:         uuid.New(),
		Start:      start.UTC(),
		End:        end.UTC(),
		Status:     model.StatusAccepted,
		AcceptedAt: s.now().UTC(),
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateStats(ctx, st); err != nil {
		s.logger.Error("persist stats request", zap.String("id", st.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrPersistence, err.Error())
	}

	job := *st
	if err := s.tasks.Go(job.ID, func(ctx context.Context) { s.compute(ctx, &job) }); err != nil {
		s.finish(ctx, &job, errors.New(poller.ReasonShutdown))
		return nil, ErrShuttingDown
	}

	s.logger.Info("stats request accepted",
		zap.String("id", st.ID.String()),
		zap.Time("start", st.Start),
		zap.Time("end", st.End),
	)
	return st, nil
}

func (s *StatsService) compute(ctx context.Context, st *model.ObserverStats) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stats job panicked", zap.String("id", st.ID.String()), zap.Any("panic", r))
			s.finish(ctx, st, fmt.Errorf("internal panic: %v", r))
		}
	}()

	err := s.build(ctx, st)
	if err != nil && ctx.Err() != nil {
		err = errors.New(poller.ReasonShutdown)
	}
	s.finish(ctx, st, err)
}

// build loads the observers and queries in range, stores one summary per
// key of every view and renders the plots.
func (s *StatsService) build(ctx context.Context, st *model.ObserverStats) error {
	obs, err := s.observers.ListByStartTime(ctx, st.Start, st.End)
	if err != nil {
		return fmt.Errorf("load observers: %w", err)
	}
	queries, err := s.queries.ListQueries(ctx, st.Start, st.End)
	if err != nil {
		return fmt.Errorf("load dns queries: %w", err)
	}

	datasets := map[model.SummaryView]stats.Dataset{
		model.ViewQueries:               stats.Queries(queries),
		model.ViewObserversByType:       stats.PropagationByType(obs),
		model.ViewObserversByNameserver: stats.PropagationByNameserver(obs),
	}

	var summaries []model.Summary
	for _, view := range model.SummaryViews {
		summaries = append(summaries, stats.Summarize(st.ID, view, datasets[view])...)
	}
	if len(summaries) > 0 {
		if err := s.store.SaveSummaries(ctx, st.ID, summaries); err != nil {
			return fmt.Errorf("save summaries: %w", err)
		}
	}

	if s.plots == nil || !s.plots.Enabled() {
		return nil
	}
	charts := map[model.PlotType]stats.Dataset{
		model.PlotPropagationByType:       datasets[model.ViewObserversByType],
		model.PlotPropagationByNameserver: datasets[model.ViewObserversByNameserver],
		model.PlotQuery:                   datasets[model.ViewQueries],
	}
	for typ, ds := range charts {
		if len(ds) == 0 {
			continue
		}
		img, err := s.plots.Render(ctx, stats.ChartFor(typ, ds))
		if err != nil {
			return fmt.Errorf("render %s plot: %w", typ, err)
		}
		if err := s.store.SavePlot(ctx, &model.Plot{StatsID: st.ID, Type: typ, MimeType: "image/png", Image: img}); err != nil {
			return fmt.Errorf("save %s plot: %w", typ, err)
		}
	}
	return nil
}

// finish records COMPLETE when err is nil and INTERNAL_ERROR otherwise. The
// write ignores ctx cancellation.
func (s *StatsService) finish(ctx context.Context, st *model.ObserverStats, err error) {
	if err != nil {
		reason := err.Error()
		st.Status = model.StatusInternalError
		st.ErrorMessage = &reason
		s.logger.Warn("stats request failed", zap.String("id", st.ID.String()), zap.Error(err))
	} else {
		st.Status = model.StatusComplete
		st.ErrorMessage = nil
		s.logger.Info("stats request complete", zap.String("id", st.ID.String()))
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if uerr := s.store.UpdateStats(wctx, st); uerr != nil {
		s.logger.Error("persist stats result", zap.String("id", st.ID.String()), zap.Error(uerr))
	}
}

// GetStats returns a stats request.
func (s *StatsService) GetStats(ctx context.Context, id uuid.UUID) (*model.ObserverStats, error) {
	st, err := s.store.GetStats(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrStatsNotFound) {
			return nil, ErrStatsNotFound
		}
		return nil, fmt.Errorf("get stats request: %w", err)
	}
	return st, nil
}

// finished returns the stats request or ErrStatsNotReady while it is still
// being computed.
func (s *StatsService) finished(ctx context.Context, id uuid.UUID) (*model.ObserverStats, error) {
	st, err := s.GetStats(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status == model.StatusAccepted {
		return nil, ErrStatsNotReady
	}
	return st, nil
}

// GetSummaries returns the summaries of a finished stats request. Every view
// is present, possibly empty.
func (s *StatsService) GetSummaries(ctx context.Context, id uuid.UUID) (Summaries, error) {
	list, err := s.listSummaries(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(Summaries, len(model.SummaryViews))
	for _, view := range model.SummaryViews {
		out[view] = map[string]model.Summary{}
	}
	for _, sm := range list {
		if _, ok := out[sm.View]; ok {
			out[sm.View][sm.Key] = sm
		}
	}
	return out, nil
}

func (s *StatsService) listSummaries(ctx context.Context, id uuid.UUID) ([]model.Summary, error) {
	if _, err := s.finished(ctx, id); err != nil {
		return nil, err
	}
	list, err := s.store.ListSummaries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return list, nil
}

// GetPlot returns one rendered chart of a finished stats request.
func (s *StatsService) GetPlot(ctx context.Context, id uuid.UUID, typ model.PlotType) (*model.Plot, error) {
	if _, err := s.finished(ctx, id); err != nil {
		return nil, err
	}
	p, err := s.store.GetPlot(ctx, id, typ)
	if err != nil {
		if errors.Is(err, repository.ErrPlotNotFound) {
			return nil, ErrPlotNotFound
		}
		return nil, fmt.Errorf("get plot: %w", err)
	}
	return p, nil
}

// ExportXLSX returns the summaries of a finished stats request as a
// spreadsheet with one sheet per view.
func (s *StatsService) ExportXLSX(ctx context.Context, id uuid.UUID) ([]byte, error) {
	list, err := s.listSummaries(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := stats.ExportXLSX(list)
	if err != nil {
		return nil, fmt.Errorf("export summaries: %w", err)
	}
	return data, nil
}
