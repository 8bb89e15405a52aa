// Package messaging carries domain events inside the process and consumes
// ticket lifecycle events from RabbitMQ.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus is an in-process implementation of shared.EventBus.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	middlewares []Middleware
	asyncMode   bool
	workerPool  chan struct{}
	logger      *slog.Logger
	metrics     *EventBusMetrics
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on the worker pool instead of the publisher's goroutine.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent async handlers.
	WorkerPoolSize int

	Logger        *slog.Logger
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		EnableMetrics:  true,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus. Panics in handlers
// are always recovered.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	bus := &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger.With("component", "event_bus"),
		closeCh:    make(chan struct{}),
	}
	bus.middlewares = []Middleware{RecoveryMiddleware(bus.logger)}

	if config.EnableMetrics {
		bus.metrics = NewEventBusMetrics()
	}

	return bus
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// Use appends middleware. Middleware applies to handlers at publish time.
func (b *InMemoryEventBus) Use(mw ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw...)
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)

	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish sends an event to all subscribed handlers. Handler errors are
// logged, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}

	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	middlewares := b.middlewares
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	for _, handler := range handlers {
		wrapped := chain(handler, middlewares)
		if b.asyncMode {
			b.executeAsync(event, wrapped)
			continue
		}
		if err := b.execute(event, wrapped); err != nil {
			b.logger.Error("handler error", "event_type", event.EventType(), "error", err)
		}
	}

	return nil
}

// executeAsync runs a handler on the worker pool.
func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		select {
		case b.workerPool <- struct{}{}:
			defer func() { <-b.workerPool }()
		case <-b.closeCh:
			return
		}

		if err := b.execute(event, handler); err != nil {
			b.logger.Error("async handler error",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
		}
	}()
}

func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) error {
	start := time.Now()
	err := handler(event)
	if b.metrics != nil {
		b.metrics.RecordHandlerExecution(event.EventType(), time.Since(start), err == nil)
	}
	return err
}

// Close waits for in-flight handlers and rejects further publishes.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	close(b.closeCh)

	b.logger.Info("event bus closed")
	return nil
}

// Metrics returns the bus metrics, nil when disabled.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// chain applies middlewares so that the first one is outermost.
func chain(h shared.EventHandler, middlewares []Middleware) shared.EventHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RecoveryMiddleware turns handler panics into errors.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)

			if err != nil {
				logger.Error("handler failed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", time.Since(start),
					"error", err,
				)
				return err
			}
			logger.Debug("handler completed",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"duration", time.Since(start),
			)
			return nil
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics tracks event bus counters.
type EventBusMetrics struct {
	mu sync.RWMutex

	PublishedTotal       map[shared.EventType]int64
	HandlerExecutions    int64
	HandlerSuccesses     int64
	HandlerFailures      int64
	HandlerTotalDuration time.Duration
}

// NewEventBusMetrics creates new metrics tracker.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		PublishedTotal: make(map[shared.EventType]int64),
	}
}

// RecordPublish records a publish.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedTotal[eventType]++
}

// RecordHandlerExecution records a handler execution.
func (m *EventBusMetrics) RecordHandlerExecution(_ shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HandlerExecutions++
	m.HandlerTotalDuration += duration
	if success {
		m.HandlerSuccesses++
	} else {
		m.HandlerFailures++
	}
}

// EventBusMetricsSnapshot is a point-in-time copy of the metrics.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64         `json:"total_published"`
	TotalHandlerExecs      int64         `json:"total_handler_execs"`
	HandlerFailures        int64         `json:"handler_failures"`
	HandlerSuccessRate     float64       `json:"handler_success_rate"`
	AverageHandlerDuration time.Duration `json:"average_handler_duration"`
}

// Snapshot returns a copy of current metrics.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, v := range m.PublishedTotal {
		total += v
	}

	snap := EventBusMetricsSnapshot{
		TotalPublished:     total,
		TotalHandlerExecs:  m.HandlerExecutions,
		HandlerFailures:    m.HandlerFailures,
		HandlerSuccessRate: 1.0,
	}
	if m.HandlerExecutions > 0 {
		snap.HandlerSuccessRate = float64(m.HandlerSuccesses) / float64(m.HandlerExecutions)
		snap.AverageHandlerDuration = m.HandlerTotalDuration / time.Duration(m.HandlerExecutions)
	}
	return snap
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")
)
