package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/observer/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// store is the method set every backend implements.
type store interface {
	Create(ctx context.Context, o *model.Observer) error
	Update(ctx context.Context, o *model.Observer) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Observer, error)
	ListByStartTime(ctx context.Context, from, to time.Time) ([]*model.Observer, error)
	ListAccepted(ctx context.Context, acceptedBefore time.Time) ([]*model.Observer, error)

	CreateStats(ctx context.Context, st *model.ObserverStats) error
	UpdateStats(ctx context.Context, st *model.ObserverStats) error
	GetStats(ctx context.Context, id uuid.UUID) (*model.ObserverStats, error)
	SaveSummaries(ctx context.Context, statsID uuid.UUID, summaries []model.Summary) error
	ListSummaries(ctx context.Context, statsID uuid.UUID) ([]model.Summary, error)
	SavePlot(ctx context.Context, p *model.Plot) error
	GetPlot(ctx context.Context, statsID uuid.UUID, typ model.PlotType) (*model.Plot, error)

	RecordQuery(ctx context.Context, q *model.DNSQuery) error
	ListQueries(ctx context.Context, from, to time.Time) ([]model.DNSQuery, error)
}

var (
	_ store = (*repository.MemoryStore)(nil)
	_ store = (*repository.PostgresStore)(nil)
	_ store = (*repository.RedisStore)(nil)
	_ store = (*repository.BadgerStore)(nil)
)

// base is a fixed, microsecond-aligned instant so every backend round-trips
// timestamps exactly.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAccepted(start time.Time) *model.Observer {
	serial := uint32(2026030101)
	return &model.Observer{
		TargetName:     "example.com.",
		Nameserver:     "192.0.2.1:53",
		RecordType:     "SOA",
		Type:           model.TypeZoneUpdate,
		Condition:      model.ConditionSerialNotLower,
		ExpectedSerial: &serial,
		StartTime:      start,
		Timeout:        30 * time.Second,
		Interval:       time.Second,
		Status:         model.StatusAccepted,
		AcceptedAt:     start.Add(10 * time.Millisecond),
	}
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) store) {
	t.Run("CreateGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := newAccepted(base)
		require.NoError(t, s.Create(ctx, o))
		require.NotEqual(t, uuid.Nil, o.ID)

		got, err := s.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.TargetName, got.TargetName)
		assert.Equal(t, o.Condition, got.Condition)
		assert.Equal(t, model.StatusAccepted, got.Status)
		require.NotNil(t, got.ExpectedSerial)
		assert.Equal(t, *o.ExpectedSerial, *got.ExpectedSerial)
		assert.Equal(t, o.Timeout, got.Timeout)
		assert.True(t, o.StartTime.Equal(got.StartTime))
		assert.Nil(t, got.Duration)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, repository.ErrObserverNotFound)
	})

	t.Run("UpdateFinalizesOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		o := newAccepted(base)
		require.NoError(t, s.Create(ctx, o))

		o.Complete(base.Add(1500 * time.Millisecond))
		require.NoError(t, s.Update(ctx, o))

		got, err := s.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusComplete, got.Status)
		require.NotNil(t, got.Duration)
		assert.Equal(t, 1500*time.Millisecond, *got.Duration)

		o.Fail(model.StatusError, "late", base.Add(time.Minute))
		assert.ErrorIs(t, s.Update(ctx, o), repository.ErrObserverFinal)

		got, err = s.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusComplete, got.Status)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		o := newAccepted(base)
		o.ID = uuid.New()
		assert.ErrorIs(t, s.Update(context.Background(), o), repository.ErrObserverNotFound)
	})

	t.Run("ListByStartTime", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, offset := range []time.Duration{2 * time.Second, 0, time.Hour} {
			require.NoError(t, s.Create(ctx, newAccepted(base.Add(offset))))
		}
		got, err := s.ListByStartTime(ctx, base, base.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].StartTime.Equal(base))
		assert.True(t, got[1].StartTime.Equal(base.Add(2*time.Second)))
	})

	t.Run("ListAccepted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		open := newAccepted(base)
		done := newAccepted(base)
		fresh := newAccepted(base.Add(time.Hour))
		for _, o := range []*model.Observer{open, done, fresh} {
			require.NoError(t, s.Create(ctx, o))
		}
		done.Complete(base.Add(time.Second))
		require.NoError(t, s.Update(ctx, done))

		got, err := s.ListAccepted(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, open.ID, got[0].ID)
	})

	t.Run("Stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		st := &model.ObserverStats{Start: base, End: base.Add(time.Hour), Status: model.StatusAccepted, AcceptedAt: base}
		require.NoError(t, s.CreateStats(ctx, st))

		st.Status = model.StatusComplete
		require.NoError(t, s.UpdateStats(ctx, st))
		got, err := s.GetStats(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusComplete, got.Status)

		_, err = s.GetStats(ctx, uuid.New())
		assert.ErrorIs(t, err, repository.ErrStatsNotFound)
		assert.ErrorIs(t, s.UpdateStats(ctx, &model.ObserverStats{ID: uuid.New()}), repository.ErrStatsNotFound)

		avg := 1.5
		require.NoError(t, s.SaveSummaries(ctx, st.ID, []model.Summary{
			{View: model.ViewObserversByType, Key: "ZONE_CREATE", Average: &avg, SuccessCount: 2},
			{View: model.ViewQueries, Key: "192.0.2.1:53", ErrorCount: 1},
		}))
		sums, err := s.ListSummaries(ctx, st.ID)
		require.NoError(t, err)
		require.Len(t, sums, 2)
		for _, sm := range sums {
			assert.Equal(t, st.ID, sm.StatsID)
		}

		require.NoError(t, s.SavePlot(ctx, &model.Plot{StatsID: st.ID, Type: model.PlotQuery, MimeType: "image/png", Image: []byte{0x89, 'P', 'N', 'G'}}))
		p, err := s.GetPlot(ctx, st.ID, model.PlotQuery)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, p.Image)
		_, err = s.GetPlot(ctx, st.ID, model.PlotPropagationByType)
		assert.ErrorIs(t, err, repository.ErrPlotNotFound)
	})

	t.Run("QueryLog", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, status := range []model.QueryStatus{model.QuerySuccess, model.QueryTimeout, model.QuerySuccess} {
			require.NoError(t, s.RecordQuery(ctx, &model.DNSQuery{
				Nameserver: "192.0.2.1:53",
				Status:     status,
				Timestamp:  base.Add(time.Duration(i) * time.Minute),
				Duration:   20 * time.Millisecond,
			}))
		}
		got, err := s.ListQueries(ctx, base, base.Add(90*time.Second))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, model.QuerySuccess, got[0].Status)
		assert.Equal(t, model.QueryTimeout, got[1].Status)
		assert.Equal(t, 20*time.Millisecond, got[0].Duration)
	})
}
