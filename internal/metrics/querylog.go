package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
	"go.uber.org/zap"
)

// QueryRecorder persists DNS query attempts for later statistics.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, q *model.DNSQuery) error
}

// QueryLog stores every query attempt through a QueryRecorder. Writes happen
// on a background worker; when its queue is full the attempt is dropped.
type QueryLog struct {
	store  QueryRecorder
	queue  chan model.DNSQuery
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
	logger *zap.Logger
}

// NewQueryLog starts the writer.
func NewQueryLog(store QueryRecorder, queueSize int, logger *zap.Logger) *QueryLog {
	if queueSize <= 0 {
		queueSize = 4096
	}
	l := &QueryLog{
		store:  store,
		queue:  make(chan model.DNSQuery, queueSize),
		done:   make(chan struct{}),
		now:    time.Now,
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Close flushes queued rows and stops the writer.
func (l *QueryLog) Close() {
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

func (l *QueryLog) QuerySucceeded(nameserver string, rtt time.Duration) {
	l.enqueue(nameserver, model.QuerySuccess, rtt)
}

func (l *QueryLog) QueryTimedOut(nameserver string, waited time.Duration) {
	l.enqueue(nameserver, model.QueryTimeout, waited)
}

func (l *QueryLog) ObservationFinished(*model.Observer) {}

func (l *QueryLog) enqueue(nameserver string, status model.QueryStatus, d time.Duration) {
	q := model.DNSQuery{
		ID:         uuid.New(),
		Nameserver: nameserver,
		Status:     status,
		Timestamp:  l.now().UTC(),
		Duration:   d,
	}
	select {
	case l.queue <- q:
	default:
		l.logger.Debug("query log full, dropping row", zap.String("nameserver", nameserver))
	}
}

func (l *QueryLog) run() {
	defer l.wg.Done()
	write := func(q model.DNSQuery) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.store.RecordQuery(ctx, &q); err != nil {
			l.logger.Warn("record dns query", zap.String("nameserver", q.Nameserver), zap.Error(err))
		}
	}
	for {
		select {
		case q := <-l.queue:
			write(q)
		case <-l.done:
			for {
				select {
				case q := <-l.queue:
					write(q)
				default:
					return
				}
			}
		}
	}
}
