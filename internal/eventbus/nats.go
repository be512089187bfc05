package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bus holds the NATS connection and its JetStream context
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials NATS and creates a JetStream context
func Connect(natsURL string, logger *zap.Logger) (*Bus, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("arcana-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	logger.Info("NATS and JetStream initialized", zap.String("url", natsURL))
	return &Bus{conn: nc, js: js, logger: logger}, nil
}

// Healthy reports whether the connection is up
func (b *Bus) Healthy() bool {
	return b != nil && b.conn != nil && b.conn.IsConnected()
}

// Ping round-trips to the server
func (b *Bus) Ping(ctx context.Context) error {
	if !b.Healthy() {
		return nats.ErrConnectionClosed
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains and closes the connection
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
