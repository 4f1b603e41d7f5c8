package metrics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmerrifield20/digaas/internal/observer/model"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ObservationEvent is the payload published for every finished observation.
type ObservationEvent struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Nameserver string   `json:"nameserver"`
	TargetName string   `json:"target_name"`
	Status     string   `json:"status"`
	Duration   *float64 `json:"duration"`
	StartTime  float64  `json:"start_time"`
}

// NATS publishes finished observations to a subject so other services can
// react to propagation results. Query-level events are not published.
type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATS connects to url. The connection reconnects forever in the
// background.
func NewNATS(url, subject string, logger *zap.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("digaas"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{nc: nc, subject: subject, logger: logger}, nil
}

// Close drains pending publishes and closes the connection.
func (n *NATS) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
		n.nc.Close()
	}
}

func (n *NATS) QuerySucceeded(string, time.Duration) {}
func (n *NATS) QueryTimedOut(string, time.Duration)  {}

func (n *NATS) ObservationFinished(o *model.Observer) {
	if n.nc == nil || n.nc.IsClosed() {
		return
	}
	payload, err := json.Marshal(NewObservationEvent(o))
	if err != nil {
		n.logger.Warn("encode observation event", zap.Error(err))
		return
	}
	if err := n.nc.Publish(n.subject, payload); err != nil {
		n.logger.Warn("publish observation event", zap.String("subject", n.subject), zap.Error(err))
	}
}

// NewObservationEvent builds the wire event for o.
func NewObservationEvent(o *model.Observer) ObservationEvent {
	ev := ObservationEvent{
		ID:         o.ID.String(),
		Type:       o.Label(),
		Nameserver: o.Nameserver,
		TargetName: o.TargetName,
		Status:     string(o.Status),
		StartTime:  float64(o.StartTime.UnixNano()) / 1e9,
	}
	if o.Duration != nil {
		d := o.Duration.Seconds()
		ev.Duration = &d
	}
	return ev
}
