package poller_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/dnsquery"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/jmerrifield20/digaas/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// ── Stubs ────────────────────────────────────────────────────────────────

// scriptedQuerier answers every question with the next result from script.
// The last entry repeats once the script is exhausted.
type scriptedQuerier struct {
	mu       sync.Mutex
	script   []result
	calls    int
	timeouts []time.Duration
	panicOn  int
}

type result struct {
	ok  bool
	err error
}

func (q *scriptedQuerier) next(timeout time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.timeouts = append(q.timeouts, timeout)
	if q.panicOn > 0 && q.calls == q.panicOn {
		panic("querier exploded")
	}
	i := q.calls - 1
	if i >= len(q.script) {
		i = len(q.script) - 1
	}
	return q.script[i].ok, q.script[i].err
}

func (q *scriptedQuerier) QuerySerial(_ context.Context, _, _ string, timeout time.Duration) (uint32, bool, error) {
	ok, err := q.next(timeout)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 100, true, nil
	}
	return 1, true, nil
}

func (q *scriptedQuerier) ZoneExists(_ context.Context, _, _ string, timeout time.Duration) (bool, error) {
	return q.next(timeout)
}

func (q *scriptedQuerier) RecordExists(_ context.Context, _, _, _ string, timeout time.Duration) (bool, error) {
	return q.next(timeout)
}

func (q *scriptedQuerier) RecordData(_ context.Context, _, _, _ string, timeout time.Duration) (string, bool, error) {
	ok, err := q.next(timeout)
	if err != nil {
		return "", false, err
	}
	if ok {
		return "192.0.2.1", true, nil
	}
	return "192.0.2.99", true, nil
}

func (q *scriptedQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

type stubStore struct {
	mu       sync.Mutex
	updates  []*model.Observer
	failures int
	attempts int
}

func (s *stubStore) Update(_ context.Context, o *model.Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	s.updates = append(s.updates, o.Clone())
	return nil
}

func (s *stubStore) last(t *testing.T) *model.Observer {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.updates, "no update recorded")
	return s.updates[len(s.updates)-1]
}

func (s *stubStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

type stubReporter struct {
	mu       sync.Mutex
	finished []model.Status
}

func (r *stubReporter) ObservationFinished(o *model.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, o.Status)
}

// ── Helpers ──────────────────────────────────────────────────────────────

func newObserver(cond model.ConditionKind, timeout, interval time.Duration) *model.Observer {
	serial := uint32(50)
	data := "192.0.2.1"
	return &model.Observer{
		ID:             uuid.New(),
		TargetName:     "example.com.",
		Nameserver:     "192.0.2.53",
		RecordType:     "A",
		Condition:      cond,
		ExpectedSerial: &serial,
		ExpectedData:   &data,
		StartTime:      time.Now().Add(-2 * time.Second),
		Timeout:        timeout,
		Interval:       interval,
		Status:         model.StatusAccepted,
		AcceptedAt:     time.Now(),
	}
}

func newPoller(q poller.Querier, store poller.Store, rep poller.Reporter) *poller.Poller {
	return poller.New(q, store, rep, poller.Config{
		QueryTimeout:    time.Second,
		FinalizeRetries: 2,
		RetryBackoff:    time.Millisecond,
	}, zap.NewNop())
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestRun_ImmediateSuccess(t *testing.T) {
	q := &scriptedQuerier{script: []result{{ok: true}}}
	store := &stubStore{}
	rep := &stubReporter{}
	o := newObserver(model.ConditionSerialNotLower, time.Second, 50*time.Millisecond)

	newPoller(q, store, rep).Run(context.Background(), o)

	got := store.last(t)
	assert.Equal(t, model.StatusComplete, got.Status)
	require.NotNil(t, got.Duration)
	assert.GreaterOrEqual(t, *got.Duration, 2*time.Second, "duration is measured from the caller's start time")
	assert.Equal(t, 1, q.callCount())
	assert.Equal(t, 1, store.count(), "final state is written once")
	assert.Equal(t, []model.Status{model.StatusComplete}, rep.finished)
}

func TestRun_FutureStartTimeLogsZeroDuration(t *testing.T) {
	q := &scriptedQuerier{script: []result{{ok: true}}}
	store := &stubStore{}
	o := newObserver(model.ConditionZoneExists, time.Second, 10*time.Millisecond)
	o.StartTime = time.Now().Add(time.Hour)

	core, logs := observer.New(zap.WarnLevel)
	p := poller.New(q, store, nil, poller.Config{QueryTimeout: time.Second, RetryBackoff: time.Millisecond}, zap.New(core))
	p.Run(context.Background(), o)

	got := store.last(t)
	assert.Equal(t, model.StatusComplete, got.Status)
	require.NotNil(t, got.Duration)
	assert.Equal(t, time.Duration(0), *got.Duration)
	assert.Equal(t, 1, logs.FilterMessageSnippet("start time is in the future").Len())
}

func TestRun_TimesOutWithError(t *testing.T) {
	q := &scriptedQuerier{script: []result{{ok: false}}}
	store := &stubStore{}
	o := newObserver(model.ConditionZoneExists, 150*time.Millisecond, 40*time.Millisecond)

	start := time.Now()
	newPoller(q, store, nil).Run(context.Background(), o)
	elapsed := time.Since(start)

	got := store.last(t)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Nil(t, got.Duration)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 150*time.Millisecond+200*time.Millisecond, "loop must stop within one interval of the timeout")
	assert.GreaterOrEqual(t, q.callCount(), 3)
}

func TestRun_QueryTimeoutsAreTransient(t *testing.T) {
	timeoutErr := fmt.Errorf("%w: no answer", dnsquery.ErrQueryTimeout)
	q := &scriptedQuerier{script: []result{{err: timeoutErr}, {err: timeoutErr}, {ok: true}}}
	store := &stubStore{}
	o := newObserver(model.ConditionDataEquals, time.Second, 10*time.Millisecond)

	newPoller(q, store, nil).Run(context.Background(), o)

	assert.Equal(t, model.StatusComplete, store.last(t).Status)
	assert.Equal(t, 3, q.callCount())
}

func TestRun_AllQueriesTimeOut(t *testing.T) {
	timeoutErr := fmt.Errorf("%w: no answer", dnsquery.ErrQueryTimeout)
	q := &scriptedQuerier{script: []result{{err: timeoutErr}}}
	store := &stubStore{}
	o := newObserver(model.ConditionZoneExists, 200*time.Millisecond, 40*time.Millisecond)

	start := time.Now()
	newPoller(q, store, nil).Run(context.Background(), o)
	elapsed := time.Since(start)

	got := store.last(t)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Nil(t, got.Duration)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond, "timeouts must not end the observation early")
	assert.Greater(t, q.callCount(), 1)
}

func TestRun_HardErrorEndsImmediately(t *testing.T) {
	q := &scriptedQuerier{script: []result{{err: fmt.Errorf("%w: REFUSED", dnsquery.ErrQuery)}}}
	store := &stubStore{}
	o := newObserver(model.ConditionRecordRemoved, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	newPoller(q, store, nil).Run(context.Background(), o)

	got := store.last(t)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Nil(t, got.Duration)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "REFUSED")
	assert.Equal(t, 1, q.callCount())
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_PerQueryTimeoutIsBounded(t *testing.T) {
	q := &scriptedQuerier{script: []result{{ok: false}}}
	o := newObserver(model.ConditionZoneExists, 120*time.Millisecond, 30*time.Millisecond)

	newPoller(q, &stubStore{}, nil).Run(context.Background(), o)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.timeouts)
	for _, qt := range q.timeouts {
		assert.LessOrEqual(t, qt, 30*time.Millisecond, "query timeout must not exceed the interval")
		assert.Greater(t, qt, time.Duration(0))
	}
}

func TestRun_FinalizeRetries(t *testing.T) {
	q := &scriptedQuerier{script: []result{{ok: true}}}
	store := &stubStore{failures: 2}
	o := newObserver(model.ConditionZoneExists, time.Second, 10*time.Millisecond)

	newPoller(q, store, nil).Run(context.Background(), o)

	assert.Equal(t, 3, store.attempts)
	assert.Equal(t, model.StatusComplete, store.last(t).Status)
}

func TestRun_FinalizeGivesUp(t *testing.T) {
	q := &scriptedQuerier{script: []result{{ok: true}}}
	store := &stubStore{failures: 10}
	rep := &stubReporter{}
	o := newObserver(model.ConditionZoneExists, time.Second, 10*time.Millisecond)

	newPoller(q, store, rep).Run(context.Background(), o)

	assert.Equal(t, 3, store.attempts, "one attempt plus two retries")
	assert.Zero(t, store.count())
	assert.Len(t, rep.finished, 1, "the outcome is still reported")
}

func TestRun_PanicBecomesInternalError(t *testing.T) {
	q := &scriptedQuerier{script: []result{{ok: false}}, panicOn: 2}
	store := &stubStore{}
	o := newObserver(model.ConditionZoneExists, time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() {
		newPoller(q, store, nil).Run(context.Background(), o)
	})

	got := store.last(t)
	assert.Equal(t, model.StatusInternalError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "querier exploded")
}

func TestRun_CancelledContextRecordsShutdown(t *testing.T) {
	q := &scriptedQuerier{script: []result{{ok: false}}}
	store := &stubStore{}
	o := newObserver(model.ConditionZoneExists, 10*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(60*time.Millisecond, cancel)
	newPoller(q, store, nil).Run(ctx, o)

	got := store.last(t)
	assert.Equal(t, model.StatusInternalError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, poller.ReasonShutdown, *got.ErrorMessage)
}

func TestRun_ConcurrentObserversAreIndependent(t *testing.T) {
	store := &stubStore{}
	p := newPoller(&scriptedQuerier{script: []result{{ok: true}}}, store, nil)
	slow := newPoller(&scriptedQuerier{script: []result{{ok: false}}}, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Run(context.Background(), newObserver(model.ConditionZoneExists, time.Second, 10*time.Millisecond))
		}()
		go func() {
			defer wg.Done()
			slow.Run(context.Background(), newObserver(model.ConditionZoneExists, 50*time.Millisecond, 10*time.Millisecond))
		}()
	}
	wg.Wait()

	complete, failed := 0, 0
	store.mu.Lock()
	for _, u := range store.updates {
		switch u.Status {
		case model.StatusComplete:
			complete++
		case model.StatusError:
			failed++
		}
	}
	store.mu.Unlock()
	assert.Equal(t, 20, complete)
	assert.Equal(t, 20, failed)
}
