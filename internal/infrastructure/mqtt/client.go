package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/config"
)

// Client is the broker connection shared by every mqtt source and mqtt
// output of a run. Paho reconnects on its own; Client re-subscribes the
// topics sources asked for and announces itself on the status topic.
//
// All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	connected atomic.Bool
	received  atomic.Uint64
	published atomic.Uint64

	mu           sync.RWMutex
	subs         map[string]subscription
	logger       Logger
	onConnect    func()
	onDisconnect func(error)
}

// Logger receives connection events and handler failures.
// *logging.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler receives one message. Paho calls handlers on their own
// goroutines. A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Stats counts traffic since Connect.
type Stats struct {
	Received  uint64 `json:"received"`
	Published uint64 `json:"published"`
}

func newClient(cfg config.MQTTConfig) *Client {
	c := &Client{cfg: cfg, subs: make(map[string]subscription)}

	opts := clientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("MQTT reconnecting", "broker", brokerURL(cfg))
	})

	c.paho = pahomqtt.NewClient(opts)
	return c
}

// Connect dials the broker and waits for the first connection.
//
// Parameters:
//   - cfg: The mqtt section of config.yaml
//
// Returns:
//   - *Client: Connected client
//   - error: Wrapping ErrConnectionFailed on timeout or refusal
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	if err := await(c.paho.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The connect handler runs asynchronously; callers may publish now.
	c.connected.Store(true)
	return c, nil
}

// await waits for a paho token, turning a timeout into an error.
func await(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("no response after %v", timeout)
	}
	return token.Error()
}

func (c *Client) connectionUp() {
	c.connected.Store(true)
	c.resubscribe()
	c.announce(StatusOnline, "")

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)

	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// resubscribe restores every tracked subscription after a reconnect.
func (c *Client) resubscribe() {
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.RUnlock()

	for topic, sub := range subs {
		if err := await(c.paho.Subscribe(topic, sub.qos, c.route(sub.handler)), opTimeout); err != nil {
			c.log().Warn("MQTT resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) announce(status, reason string) {
	payload := statusPayload(status, c.cfg.Broker.ClientID, reason)
	c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload).WaitTimeout(opTimeout)
}

// Close announces a graceful shutdown and disconnects. It is safe on a
// nil or never-connected client.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(StatusOffline, reasonGraceful)
	}
	c.paho.Disconnect(disconnectQuiesceMS)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.paho.IsConnected()
}

// Stats returns message counters.
func (c *Client) Stats() Stats {
	return Stats{Received: c.received.Load(), Published: c.published.Load()}
}

// SetOnConnect registers fn for the initial connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn for lost connections.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger. Without one, events are discarded.
func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return discard{}
	}
	return c.logger
}

type discard struct{}

func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
