package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
)

// MemoryStore is an in-memory, thread-safe store. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	observers map[uuid.UUID]*model.Observer
	stats     map[uuid.UUID]model.ObserverStats
	summaries map[uuid.UUID][]model.Summary
	plots     map[uuid.UUID]map[model.PlotType]model.Plot
	queries   []model.DNSQuery
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		observers: make(map[uuid.UUID]*model.Observer),
		stats:     make(map[uuid.UUID]model.ObserverStats),
		summaries: make(map[uuid.UUID][]model.Summary),
		plots:     make(map[uuid.UUID]map[model.PlotType]model.Plot),
	}
}

// ── Observers ────────────────────────────────────────────────────────────

// Create stores o, assigning an id when it has none.
func (s *MemoryStore) Create(_ context.Context, o *model.Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	s.observers[o.ID] = o.Clone()
	return nil
}

// Update replaces the stored observer. A terminal observer cannot change.
func (s *MemoryStore) Update(_ context.Context, o *model.Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.observers[o.ID]
	if !ok {
		return ErrObserverNotFound
	}
	if cur.Status.Terminal() {
		return ErrObserverFinal
	}
	s.observers[o.ID] = o.Clone()
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*model.Observer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.observers[id]
	if !ok {
		return nil, ErrObserverNotFound
	}
	return o.Clone(), nil
}

// ListByStartTime returns observers whose start time lies in [from, to],
// oldest first.
func (s *MemoryStore) ListByStartTime(_ context.Context, from, to time.Time) ([]*model.Observer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Observer
	for _, o := range s.observers {
		if !o.StartTime.Before(from) && !o.StartTime.After(to) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// ListAccepted returns observers still ACCEPTED that were accepted before
// the given time.
func (s *MemoryStore) ListAccepted(_ context.Context, acceptedBefore time.Time) ([]*model.Observer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Observer
	for _, o := range s.observers {
		if o.Status == model.StatusAccepted && o.AcceptedAt.Before(acceptedBefore) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

// ── Stats requests ───────────────────────────────────────────────────────

func (s *MemoryStore) CreateStats(_ context.Context, st *model.ObserverStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	s.stats[st.ID] = *st
	return nil
}

func (s *MemoryStore) UpdateStats(_ context.Context, st *model.ObserverStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stats[st.ID]; !ok {
		return ErrStatsNotFound
	}
	s.stats[st.ID] = *st
	return nil
}

func (s *MemoryStore) GetStats(_ context.Context, id uuid.UUID) (*model.ObserverStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[id]
	if !ok {
		return nil, ErrStatsNotFound
	}
	return &st, nil
}

// SaveSummaries appends summaries to their stats request.
func (s *MemoryStore) SaveSummaries(_ context.Context, statsID uuid.UUID, summaries []model.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range summaries {
		sm.StatsID = statsID
		s.summaries[statsID] = append(s.summaries[statsID], sm)
	}
	return nil
}

func (s *MemoryStore) ListSummaries(_ context.Context, statsID uuid.UUID) ([]model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Summary, len(s.summaries[statsID]))
	copy(out, s.summaries[statsID])
	return out, nil
}

func (s *MemoryStore) SavePlot(_ context.Context, p *model.Plot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType, ok := s.plots[p.StatsID]
	if !ok {
		byType = make(map[model.PlotType]model.Plot)
		s.plots[p.StatsID] = byType
	}
	cp := *p
	cp.Image = append([]byte(nil), p.Image...)
	byType[p.Type] = cp
	return nil
}

func (s *MemoryStore) GetPlot(_ context.Context, statsID uuid.UUID, typ model.PlotType) (*model.Plot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plots[statsID][typ]
	if !ok {
		return nil, ErrPlotNotFound
	}
	p.Image = append([]byte(nil), p.Image...)
	return &p, nil
}

// ── Query log ────────────────────────────────────────────────────────────

func (s *MemoryStore) RecordQuery(_ context.Context, q *model.DNSQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	s.queries = append(s.queries, *q)
	return nil
}

// ListQueries returns query attempts with a timestamp in [from, to].
func (s *MemoryStore) ListQueries(_ context.Context, from, to time.Time) ([]model.DNSQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.DNSQuery
	for _, q := range s.queries {
		if !q.Timestamp.Before(from) && !q.Timestamp.After(to) {
			out = append(out, q)
		}
	}
	return out, nil
}
