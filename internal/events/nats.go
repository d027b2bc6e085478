package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chaos-organizer/internal/models"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON-encoded events to "<prefix>.<kind>" subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("chaos-organizer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("[NATS] Disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("[NATS] Reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	slog.Info("[NATS] Connected", "url", nc.ConnectedUrl(), "subject", prefix+".>")
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

// Subject returns the subject an event of kind k is published on.
func (p *NATSPublisher) Subject(k models.Kind) string {
	return p.prefix + "." + string(k)
}

func (p *NATSPublisher) Publish(ctx context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event %d: %w", ev.ID, err)
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publishing event %d: %w", ev.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
	}
	return err
}
