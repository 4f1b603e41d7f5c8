package poller

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrGroupClosed is returned by Go once Drain has started.
var ErrGroupClosed = errors.New("poller: task group is shutting down")

// Group tracks one background task per observation so shutdown can wait
// for them and the sweeper can tell live observers from orphaned ones.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
	closed  bool
	wg      sync.WaitGroup

	logger *zap.Logger
}

// NewGroup creates an empty Group.
func NewGroup(logger *zap.Logger) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[uuid.UUID]struct{}),
		logger:  logger,
	}
}

// Go runs fn for observer id in a new goroutine. The context passed to fn
// is cancelled when Drain gives up waiting. A panic in fn is logged and
// contained.
func (g *Group) Go(id uuid.UUID, fn func(ctx context.Context)) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGroupClosed
	}
	g.running[id] = struct{}{}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("observer task panicked", zap.String("id", id.String()), zap.Any("panic", r))
			}
			g.mu.Lock()
			delete(g.running, id)
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn(g.ctx)
	}()
	return nil
}

// Running reports whether a task for id is in flight.
func (g *Group) Running(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[id]
	return ok
}

// Len returns the number of in-flight tasks.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.running)
}

// Drain stops accepting tasks and waits for in-flight ones. If ctx ends
// first, the remaining tasks are cancelled, Drain waits for them to record
// their interruption and returns ctx.Err().
func (g *Group) Drain(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.logger.Warn("cancelling in-flight observers", zap.Int("count", g.Len()))
		g.cancel()
		<-done
		return ctx.Err()
	}
}
