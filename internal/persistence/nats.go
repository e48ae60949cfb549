package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/events"
)

// NATS wraps a JetStream-enabled connection.
type NATS struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// NewNATS connects to NATS and prepares the lifecycle stream. An empty URL
// disables cross-process forwarding and yields an empty handle.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if cfg.URL == "" {
		logger.Warn("NATS_URL not provided; lifecycle events stay in-process")
		return &NATS{}, nil
	}

	deadline := time.Now().Add(cfg.ConnectTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := connectJetStream(cfg)
		if err == nil {
			logger.Info("connected to nats", zap.String("url", cfg.URL))
			return client, nil
		}
		lastErr = err
		logger.Warn("nats not ready, retrying", zap.Error(err))
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", cfg.ConnectTimeout, lastErr)
}

func connectJetStream(cfg config.NATSConfig) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("request-engine"))
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := events.EnsureLifecycleStream(js, cfg.DedupWindow); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &NATS{Conn: conn, JS: js}, nil
}

// Enabled reports whether a connection exists.
func (n *NATS) Enabled() bool {
	return n != nil && n.Conn != nil
}

// Ping verifies the connection is usable.
func (n *NATS) Ping() error {
	if !n.Enabled() {
		return errors.New("nats not configured")
	}
	if !n.Conn.IsConnected() {
		return fmt.Errorf("nats status %s", n.Conn.Status())
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATS) Close() {
	if !n.Enabled() {
		return
	}
	_ = n.Conn.Drain()
	n.Conn.Close()
}
