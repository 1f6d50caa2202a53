package output

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
)

// DefaultWebSocketChannel is the broadcast channel when none is configured.
const DefaultWebSocketChannel = "records"

// Broadcaster fans a payload out to subscribed clients. It fails only
// when the payload cannot be encoded; slow clients are not an error.
// The API hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any) error
}

// RecordMessage is the payload broadcast for each record.
type RecordMessage struct {
	Output string         `json:"output"`
	Record map[string]any `json:"record"`
}

// WebSocket broadcasts every record to API clients subscribed to its channel.
type WebSocket struct {
	b       Broadcaster
	name    string
	channel string
}

// NewWebSocket creates a WebSocket output.
func NewWebSocket(b Broadcaster, name, channel string) (*WebSocket, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: broadcaster is nil", ErrInvalidOptions)
	}
	if channel == "" {
		channel = DefaultWebSocketChannel
	}
	return &WebSocket{b: b, name: name, channel: channel}, nil
}

// Channel returns the broadcast channel.
func (w *WebSocket) Channel() string { return w.channel }

// RequiresTimestamp reports true so clients can plot records.
func (w *WebSocket) RequiresTimestamp() bool { return true }

// Write broadcasts the record. Delivery to each client is best effort.
func (w *WebSocket) Write(_ context.Context, rec engine.Record) error {
	err := w.b.Broadcast(w.channel, RecordMessage{
		Output: w.name,
		Record: jsonRecord(rec),
	})
	if err != nil {
		return fmt.Errorf("broadcasting record: %w", err)
	}
	return nil
}
