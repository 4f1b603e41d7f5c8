package poller_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGroup_TracksRunningTasks(t *testing.T) {
	g := poller.NewGroup(zap.NewNop())
	id := uuid.New()
	release := make(chan struct{})

	require.NoError(t, g.Go(id, func(context.Context) { <-release }))
	assert.True(t, g.Running(id))
	assert.Equal(t, 1, g.Len())

	close(release)
	require.NoError(t, g.Drain(context.Background()))
	assert.False(t, g.Running(id))
	assert.Zero(t, g.Len())
}

func TestGroup_RejectsAfterDrain(t *testing.T) {
	g := poller.NewGroup(zap.NewNop())
	require.NoError(t, g.Drain(context.Background()))
	assert.ErrorIs(t, g.Go(uuid.New(), func(context.Context) {}), poller.ErrGroupClosed)
}

func TestGroup_ContainsPanics(t *testing.T) {
	g := poller.NewGroup(zap.NewNop())
	require.NoError(t, g.Go(uuid.New(), func(context.Context) { panic("boom") }))
	require.NoError(t, g.Drain(context.Background()))
}

func TestGroup_DrainTimeoutInterruptsObservers(t *testing.T) {
	g := poller.NewGroup(zap.NewNop())
	store := &stubStore{}
	p := newPoller(&scriptedQuerier{script: []result{{ok: false}}}, store, nil)

	o := newObserver(model.ConditionZoneExists, time.Minute, 10*time.Millisecond)
	require.NoError(t, g.Go(o.ID, func(ctx context.Context) { p.Run(ctx, o) }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := g.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := store.last(t)
	assert.Equal(t, model.StatusInternalError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, poller.ReasonShutdown, *got.ErrorMessage)
}
