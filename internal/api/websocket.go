package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/playsem-core/internal/effect"
	"github.com/nerrad567/playsem-core/internal/infrastructure/config"
	"github.com/nerrad567/playsem-core/internal/ingress"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEffect      = "effect"
	WSTypeControl     = "control"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ProtocolWebSocket is the SourceMeta protocol for effects sent over WebSocket.
const ProtocolWebSocket = "websocket"

const wsQueueSize = 256

// WSMessage is every frame the server writes.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a client frame; Payload is decoded per Type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSClient is one live connection.
type WSClient struct {
	id      string
	subject string
	hub     *Hub
	conn    *websocket.Conn

	out      chan []byte
	outMu    sync.Mutex
	outShut  bool
	chanMu   sync.RWMutex
	channels map[string]struct{}
}

// Origins are enforced by the CORS policy; the upgrader accepts any.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection. With JWT enabled the caller
// must present a single-use ticket from POST /api/v1/auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.secCfg.JWT.Enabled {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.consume(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		id:       uuid.NewString(),
		subject:  subject,
		hub:      s.hub,
		conn:     conn,
		out:      make(chan []byte, wsQueueSize),
		channels: make(map[string]struct{}),
	}
	s.hub.Register(c)

	ka := newKeepalive(s.wsCfg)
	go c.writeLoop(ka)
	go c.readLoop(ka, int64(s.wsCfg.MaxMessageSize))
}

// keepalive is the ping cadence and how long a silent peer is tolerated.
type keepalive struct {
	every time.Duration
	grace time.Duration
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	return keepalive{
		every: time.Duration(cfg.PingInterval) * time.Second,
		grace: time.Duration(cfg.PongTimeout) * time.Second,
	}
}

func (k keepalive) readDeadline() time.Time  { return time.Now().Add(k.every + k.grace) }
func (k keepalive) writeDeadline() time.Time { return time.Now().Add(k.grace) }

func (c *WSClient) readLoop(ka keepalive, limit int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(ka.readDeadline()) //nolint:errcheck // a failed deadline surfaces on read
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(ka.readDeadline()) })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame counts as alive.
		c.conn.SetReadDeadline(ka.readDeadline()) //nolint:errcheck // a failed deadline surfaces on read
		c.handle(data)
	}
}

func (c *WSClient) writeLoop(ka keepalive) {
	ping := time.NewTicker(ka.every)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case msg, ok := <-c.out:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // peer may be gone
				return
			}
			data = msg
		case <-ping.C:
			kind = websocket.PingMessage
		}
		c.conn.SetWriteDeadline(ka.writeDeadline()) //nolint:errcheck // a failed deadline surfaces on write
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// wsReply is what a handler sends back to the requesting client.
type wsReply struct {
	kind    string
	payload any
}

func replyError(message string) wsReply {
	return wsReply{kind: WSTypeError, payload: map[string]string{"message": message}}
}

func (c *WSClient) handle(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", replyError("invalid JSON message"))
		return
	}

	var r wsReply
	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		r = c.subscribe(msg)
	case WSTypePing:
		r = wsReply{kind: WSTypePong}
	case WSTypeEffect:
		r = c.ingest(msg.Payload)
	case WSTypeControl:
		r = c.control(msg.Payload)
	default:
		r = replyError("unknown message type: " + msg.Type)
	}
	c.reply(msg.ID, r)
}

func (c *WSClient) subscribe(msg wsInbound) wsReply {
	var p WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return replyError("invalid " + msg.Type + " payload")
	}
	on := msg.Type == WSTypeSubscribe

	c.chanMu.Lock()
	for _, ch := range p.Channels {
		if on {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.chanMu.Unlock()

	if on {
		c.hub.logger.Debug("websocket client subscribed", "client_id", c.id, "channels", p.Channels)
		return wsReply{kind: WSTypeResponse, payload: map[string]any{"subscribed": p.Channels}}
	}
	return wsReply{kind: WSTypeResponse, payload: map[string]any{"unsubscribed": p.Channels}}
}

// ingest normalises payload as a canonical effect. The reply carries the
// assigned id, or the rejection with its reason code.
func (c *WSClient) ingest(payload json.RawMessage) wsReply {
	if c.hub.ingester == nil {
		return replyError("effect ingress is not available")
	}
	meta := effect.SourceMeta{Protocol: ProtocolWebSocket, Origin: c.id}
	id, err := c.hub.ingester.IngestJSON(payload, meta)
	if c.hub.onIngest != nil {
		c.hub.onIngest(ProtocolWebSocket, err)
	}
	if err != nil {
		rej := ingress.NewRejection(err, meta, payload)
		rej.Source = c.id
		return wsReply{kind: WSTypeError, payload: rej}
	}
	return wsReply{kind: WSTypeResponse, payload: map[string]string{"effectId": id}}
}

func (c *WSClient) control(payload json.RawMessage) wsReply {
	if c.hub.controller == nil {
		return replyError("timeline control is not available")
	}
	cmd, err := ingress.ParseCommand(payload)
	if err == nil {
		err = ingress.Apply(c.hub.controller, cmd)
	}
	if err != nil {
		return replyError(err.Error())
	}
	c.hub.logger.Info("control command applied", "client_id", c.id, "subject", c.subject, "action", cmd.Action)
	return wsReply{kind: WSTypeResponse, payload: map[string]string{"action": cmd.Action}}
}

func (c *WSClient) reply(id string, r wsReply) {
	data, err := json.Marshal(WSMessage{
		Type:      r.kind,
		ID:        id,
		Timestamp: wsTimestamp(time.Now()),
		Payload:   r.payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// enqueue queues data without blocking. A full queue or a closed client
// drops it.
func (c *WSClient) enqueue(data []byte) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.outShut {
		return
	}
	select {
	case c.out <- data:
	default:
	}
}

// shutdown closes the outbound queue once, which ends writeLoop.
func (c *WSClient) shutdown() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if !c.outShut {
		c.outShut = true
		close(c.out)
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.chanMu.RLock()
	defer c.chanMu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}
