package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Notifier announces session lifecycle changes after they are committed.
type Notifier interface {
	SessionOpened(ctx context.Context, msg *SessionMessage) error
	SessionClosed(ctx context.Context, msg *SessionMessage) error
	SessionAutoClosed(ctx context.Context, msg *SessionMessage) error
	SessionOrphaned(ctx context.Context, msg *SessionMessage) error
	HardwareReported(ctx context.Context, msg *SessionMessage) error
	Close() error
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Token         string
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "winlog-collector",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect dials NATS with reconnect handlers that log through logger.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Publisher publishes lifecycle messages as JSON.
type Publisher struct {
	conn Conn
}

func NewPublisher(conn Conn) *Publisher {
	return &Publisher{conn: conn}
}

func (p *Publisher) SessionOpened(ctx context.Context, msg *SessionMessage) error {
	return p.publish(ctx, SubjectSessionOpened, msg)
}

func (p *Publisher) SessionClosed(ctx context.Context, msg *SessionMessage) error {
	return p.publish(ctx, SubjectSessionClosed, msg)
}

func (p *Publisher) SessionAutoClosed(ctx context.Context, msg *SessionMessage) error {
	return p.publish(ctx, SubjectSessionAutoClosed, msg)
}

func (p *Publisher) SessionOrphaned(ctx context.Context, msg *SessionMessage) error {
	return p.publish(ctx, SubjectSessionOrphaned, msg)
}

func (p *Publisher) HardwareReported(ctx context.Context, msg *SessionMessage) error {
	return p.publish(ctx, SubjectHardwareReported, msg)
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// publish marshals data to JSON and publishes to the specified subject.
func (p *Publisher) publish(ctx context.Context, subject string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := p.conn.Publish(subject, bytes); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// NoopNotifier drops every message.
type NoopNotifier struct{}

func (NoopNotifier) SessionOpened(context.Context, *SessionMessage) error     { return nil }
func (NoopNotifier) SessionClosed(context.Context, *SessionMessage) error     { return nil }
func (NoopNotifier) SessionAutoClosed(context.Context, *SessionMessage) error { return nil }
func (NoopNotifier) SessionOrphaned(context.Context, *SessionMessage) error   { return nil }
func (NoopNotifier) HardwareReported(context.Context, *SessionMessage) error  { return nil }
func (NoopNotifier) Close() error                                             { return nil }
