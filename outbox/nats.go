package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher publishes outbox messages on core NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// ConnectNATS dials url and keeps reconnecting forever.
func ConnectNATS(url string, logger zerolog.Logger) (*NATSPublisher, error) {
	log := logger.With().Str("component", "nats").Logger()
	conn, err := nats.Connect(url,
		nats.Name("courseflow-outbox"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("outbox: connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends data and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("outbox: publish %s: %w", subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("outbox: flush %s: %w", subject, err)
	}
	return nil
}

// Ping reports whether the connection is currently up.
func (p *NATSPublisher) Ping(ctx context.Context) error {
	if !p.conn.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// LogPublisher stands in when no broker is configured; it only logs.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger.With().Str("component", "outbox").Logger()}
}

func (p *LogPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	p.log.Info().Str("subject", subject).RawJSON("payload", data).Msg("outbox message (no broker configured)")
	return nil
}
