package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/mqtt"
)

// Subscriber is the part of the MQTT client a source needs.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by sources.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTT is a push-style source fed by broker subscriptions.
//
// The latest payload per topic is buffered between reads; Read returns the
// buffer and clears it, so a topic with no message since the previous cycle
// is absent from the snapshot. Variable names are the subscribed topics.
// Wildcard filters are subscribed too, but only exact topics are declared
// variables; the engine reports values on other topics as unmapped.
type MQTT struct {
	client Subscriber
	topics []string
	qos    byte
	logger Logger
	now    func() time.Time

	mu     sync.Mutex
	buffer map[string]any

	handlersMu sync.RWMutex
	handlers   []func(engine.Event)
}

// NewMQTT creates an MQTT source. Call Start to subscribe.
func NewMQTT(client Subscriber, topics []string, qos byte, logger Logger) (*MQTT, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: mqtt client is nil", ErrInvalidOptions)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: at least one topic is required", ErrInvalidOptions)
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &MQTT{
		client: client,
		topics: append([]string(nil), topics...),
		qos:    qos,
		logger: logger,
		now:    time.Now,
		buffer: make(map[string]any),
	}, nil
}

// Start subscribes to every configured topic. Topics subscribed before a
// failure are unsubscribed again.
func (s *MQTT) Start() error {
	for i, topic := range s.topics {
		if err := s.client.Subscribe(topic, s.qos, s.handle); err != nil {
			for _, done := range s.topics[:i] {
				_ = s.client.Unsubscribe(done) //nolint:errcheck // best effort rollback
			}
			return fmt.Errorf("subscribing to %q: %w", topic, err)
		}
	}
	return nil
}

// Close unsubscribes from every topic, continuing past failures. The
// returned error joins one error per failed topic.
func (s *MQTT) Close() error {
	var errs []error
	for _, topic := range s.topics {
		if err := s.client.Unsubscribe(topic); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing from %q: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// Variables returns the exact (non-wildcard) topics in configured order.
func (s *MQTT) Variables() []string {
	vars := make([]string, 0, len(s.topics))
	for _, t := range s.topics {
		if !mqtt.IsWildcard(t) {
			vars = append(vars, t)
		}
	}
	return vars
}

// Read drains the buffer.
func (s *MQTT) Read(ctx context.Context) (engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(engine.Snapshot, len(s.buffer))
	for k, v := range s.buffer {
		snap[k] = v
	}
	clear(s.buffer)
	return snap, nil
}

// OnEvent registers a handler called after every buffered message.
func (s *MQTT) OnEvent(handler func(engine.Event)) {
	s.handlersMu.Lock()
	s.handlers = append(s.handlers, handler)
	s.handlersMu.Unlock()
}

// handle is the subscription callback.
func (s *MQTT) handle(topic string, payload []byte) error {
	value := ParsePayload(payload)

	s.mu.Lock()
	s.buffer[topic] = value
	s.mu.Unlock()

	s.logger.Debug("mqtt source received", "topic", topic, "value", value)

	s.handlersMu.RLock()
	handlers := s.handlers
	s.handlersMu.RUnlock()

	ev := engine.Event{Source: topic, ReceivedAt: s.now()}
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// ParsePayload decodes an MQTT payload: numbers become float64, true/false
// become bool, an empty payload is nil and anything else stays a string.
func ParsePayload(payload []byte) any {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	switch strings.ToLower(text) {
	case "true":
		return true
	case "false":
		return false
	}
	return text
}
