package metrics

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/digaas/internal/observer/model"
	"go.uber.org/zap"
)

// Graphite writes events to a carbon plaintext listener. Lines are queued
// and sent by a single worker so callers never wait on the network; when the
// queue is full the event is dropped.
type Graphite struct {
	addr   string
	queue  chan string
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
	logger *zap.Logger
}

// GraphiteConfig configures a Graphite sink.
type GraphiteConfig struct {
	Addr        string
	QueueSize   int
	DialTimeout time.Duration
}

// NewGraphite starts the sender worker for addr (host:port).
func NewGraphite(cfg GraphiteConfig, logger *zap.Logger) *Graphite {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	g := &Graphite{
		addr:   cfg.Addr,
		queue:  make(chan string, cfg.QueueSize),
		done:   make(chan struct{}),
		now:    time.Now,
		logger: logger,
	}
	g.wg.Add(1)
	go g.run(cfg.DialTimeout)
	return g
}

// Close stops the worker after flushing queued lines.
func (g *Graphite) Close() {
	g.once.Do(func() {
		close(g.done)
		g.wg.Wait()
	})
}

func (g *Graphite) QuerySucceeded(nameserver string, rtt time.Duration) {
	metric := queryMetricName(nameserver)
	ts := g.now().Unix()
	g.publish(
		line(metric+".response_time", seconds(rtt), ts) +
			line(metric+".success_count", "1", ts),
	)
}

func (g *Graphite) QueryTimedOut(nameserver string, waited time.Duration) {
	metric := queryMetricName(nameserver)
	ts := g.now().Unix()
	g.publish(
		line(metric+".timeout", seconds(waited), ts) +
			line(metric+".timeout_count", "1", ts),
	)
}

func (g *Graphite) ObservationFinished(o *model.Observer) {
	metric := "digaas.observers." + o.Label()
	ts := g.now().Unix()
	if o.Status == model.StatusComplete && o.Duration != nil {
		g.publish(
			line(metric+".duration", seconds(*o.Duration), ts) +
				line(metric+".success_count", "1", ts),
		)
		return
	}
	g.publish(line(metric+".error_count", "1", ts))
}

func (g *Graphite) publish(msg string) {
	select {
	case g.queue <- msg:
	default:
		g.logger.Debug("graphite queue full, dropping metric")
	}
}

func (g *Graphite) run(dialTimeout time.Duration) {
	defer g.wg.Done()

	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	send := func(msg string) {
		if conn == nil {
			c, err := net.DialTimeout("tcp", g.addr, dialTimeout)
			if err != nil {
				g.logger.Warn("graphite connect failed", zap.String("addr", g.addr), zap.Error(err))
				return
			}
			g.logger.Info("connected to graphite", zap.String("addr", g.addr))
			conn = c
		}
		_ = conn.SetWriteDeadline(time.Now().Add(dialTimeout))
		if _, err := conn.Write([]byte(msg)); err != nil {
			g.logger.Warn("graphite write failed", zap.Error(err))
			conn.Close()
			conn = nil
		}
	}

	for {
		select {
		case msg := <-g.queue:
			send(msg)
		case <-g.done:
			for {
				select {
				case msg := <-g.queue:
					send(msg)
				default:
					return
				}
			}
		}
	}
}

// queryMetricName turns a nameserver into a single graphite path segment.
func queryMetricName(nameserver string) string {
	r := strings.NewReplacer(".", "-", ":", "-", "[", "", "]", "")
	return "digaas.queries." + r.Replace(nameserver)
}

func line(metric, value string, ts int64) string {
	return fmt.Sprintf("%s %s %d\n", metric, value, ts)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
