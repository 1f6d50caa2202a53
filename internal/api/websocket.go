package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameAck         = "ack"
	FrameRecord      = "record"
	FrameError       = "error"
)

// AllChannels subscribes a client to every channel.
const AllChannels = "*"

const (
	wsQueueSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// Frame is one JSON message on the WebSocket, in either direction.
//
// Clients send subscribe and unsubscribe frames carrying Channels, and
// ping frames. The server answers with ack, pong or error frames echoing
// the client's ID, and pushes record frames carrying Channel and Data.
type Frame struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Time     string   `json:"time,omitempty"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// wsClient is one connection. Outbound frames go through out, drained by
// writeLoop; closed guards out against sends after shutdown.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	mu       sync.Mutex
	channels map[string]bool
	closed   bool
}

func newClient(hub *Hub, conn *websocket.Conn, channels []string) *wsClient {
	c := &wsClient{
		hub:      hub,
		conn:     conn,
		out:      make(chan []byte, wsQueueSize),
		channels: make(map[string]bool),
	}
	for _, ch := range channels {
		c.channels[ch] = true
	}
	return c
}

func (c *wsClient) wants(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[channel] || c.channels[AllChannels]
}

// enqueue reports false when the frame was not queued because the client
// is closed or its queue is full.
func (c *wsClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *wsClient) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// handleWebSocket upgrades the connection. Channels may be subscribed up
// front with ?channel=a&channel=b or ?channel=a,b.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	var channels []string
	for _, v := range r.URL.Query()["channel"] {
		for _, ch := range strings.Split(v, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				channels = append(channels, ch)
			}
		}
	}

	c := newClient(s.hub, conn, channels)
	s.hub.add(c)

	ping, pong := wsTimings(s.wsCfg.PingInterval, s.wsCfg.PongTimeout)
	go c.writeLoop(ping, pong)
	go c.readLoop(int64(s.wsCfg.MaxMessageSize), ping+pong)
}

func wsTimings(pingSeconds, pongSeconds int) (ping, pong time.Duration) {
	ping, pong = defaultPingInterval, defaultPongTimeout
	if pingSeconds > 0 {
		ping = time.Duration(pingSeconds) * time.Second
	}
	if pongSeconds > 0 {
		pong = time.Duration(pongSeconds) * time.Second
	}
	return ping, pong
}

// readLoop handles client frames until the connection fails or the peer
// stays silent (no frame or pong) for longer than idle.
func (c *wsClient) readLoop(limit int64, idle time.Duration) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	}
	extend("") //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // see above
		c.handle(data)
	}
}

// writeLoop drains the queue and pings the client every ping interval.
// It exits when the queue is closed or a write fails.
func (c *wsClient) writeLoop(ping, writeWait time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.out:
			if !ok {
				write(websocket.CloseMessage, //nolint:errcheck // closing anyway
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply(Frame{Type: FrameError, Error: "frame is not valid JSON"})
		return
	}

	switch in.Type {
	case FrameSubscribe, FrameUnsubscribe:
		c.mu.Lock()
		for _, ch := range in.Channels {
			if in.Type == FrameSubscribe {
				c.channels[ch] = true
			} else {
				delete(c.channels, ch)
			}
		}
		c.mu.Unlock()
		c.reply(Frame{Type: FrameAck, ID: in.ID, Channels: c.subscribed()})
	case FramePing:
		c.reply(Frame{Type: FramePong, ID: in.ID})
	default:
		c.reply(Frame{Type: FrameError, ID: in.ID, Error: "unknown frame type " + strings.TrimSpace(in.Type)})
	}
}

func (c *wsClient) reply(f Frame) {
	f.Time = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(data)
}
