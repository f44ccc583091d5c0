package ws

import (
	"context"
	"log/slog"

	"github.com/assistant-relay/backend/internal/engine"
	"github.com/assistant-relay/backend/internal/metrics"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Engine     engine.Engine
	Auth       Authenticator
	Catalog    Catalog
	QueueSize  int
	SendBuffer int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Service wires the registry, relay and handler that make up the
// WebSocket side of the relay.
type Service struct {
	registry *ThreadRegistry
	handler  *Handler

	cancel context.CancelFunc
}

// NewService creates a new WebSocket service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewThreadRegistry(logger, cfg.Metrics)
	relay := NewStreamRelay(registry, logger, cfg.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	handler := NewHandler(ctx, SessionDeps{
		Registry:  registry,
		Relay:     relay,
		Engine:    cfg.Engine,
		Auth:      cfg.Auth,
		Catalog:   cfg.Catalog,
		QueueSize: cfg.QueueSize,
		Logger:    logger,
		Metrics:   cfg.Metrics,
	}, cfg.SendBuffer)

	return &Service{
		registry: registry,
		handler:  handler,
		cancel:   cancel,
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Registry returns the thread registry.
func (s *Service) Registry() *ThreadRegistry {
	return s.registry
}

// ThreadSubscriberCount returns the number of connections watching a thread.
func (s *Service) ThreadSubscriberCount(threadID string) int {
	return len(s.registry.Subscribers(threadID))
}

// Close closes every live session and waits for them to finish.
func (s *Service) Close() {
	s.cancel()
	s.handler.Wait()
}
