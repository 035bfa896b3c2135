package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// PositionMessage is the payload broadcast for every accepted location
// update, keyed by subject <prefix>.<route>.<bus>.
type PositionMessage struct {
	BusNumber string    `json:"busNumber"`
	RouteID   string    `json:"routeId"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// NATSPublisher fans accepted position updates out to subscribers.
type NATSPublisher struct {
	nc            *nats.Conn
	subjectPrefix string
	metrics       PublisherMetrics
	logger        *slog.Logger
}

func NewNATSPublisher(url, subjectPrefix string, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bustracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, subjectPrefix: subjectPrefix, metrics: m, logger: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PublishPosition sends the message on <prefix>.<route>.<bus>. Publish
// failures are counted and logged, never propagated to the caller.
func (p *NATSPublisher) PublishPosition(msg PositionMessage) {
	subject := fmt.Sprintf("%s.%s.%s", p.subjectPrefix, subjectToken(msg.RouteID), subjectToken(msg.BusNumber))
	b, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("encode position message", "error", err)
		return
	}
	if err := p.nc.Publish(subject, b); err != nil {
		if p.metrics != nil {
			p.metrics.NATSPublishErrInc()
		}
		p.logger.Warn("nats publish failed", "subject", subject, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.NATSPublishedInc()
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
