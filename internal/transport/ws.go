package transport

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// MaxPayloadSize bounds a single inbound frame. The session coordinator
// additionally enforces MAX_PAYLOAD_SIZE on signal params specifically
// (spec §4.4); this is the transport-level frame cap beneath that.
const MaxPayloadSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSConnection adapts a gorilla/websocket connection to the Connection
// contract: a buffered write pump serializes outbound frames (gorilla
// forbids concurrent writes on one *websocket.Conn), and a ping/pong
// keepalive matches the read/write deadlines below.
type WSConnection struct {
	id       string
	remoteIP string
	conn     *websocket.Conn
	log      logging.LeveledLogger

	send chan []byte

	mu       sync.Mutex
	live     bool
	channels map[string]bool
	onDisc   []func()
}

// wireFrame is the JSON envelope for a fire-and-forget server event.
type wireFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Upgrade accepts the HTTP request as a websocket connection and
// constructs its Connection adapter, but does not yet start the
// read/write pumps. Callers must register every disconnect/idle hook
// (session.Coordinator.Attach) before calling Serve — otherwise a
// message or disconnect racing in before the hook is registered would
// be silently missed (see Serve).
func Upgrade(w http.ResponseWriter, r *http.Request, log logging.LeveledLogger) (*WSConnection, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &WSConnection{
		id:       uuid.NewString(),
		remoteIP: resolveRemoteIP(r),
		conn:     conn,
		log:      log,
		send:     make(chan []byte, 32),
		live:     true,
		channels: make(map[string]bool),
	}

	return c, nil
}

// Serve starts the read/write pumps. onMessage is invoked once per
// inbound text frame (raw bytes — the caller, internal/rpc, owns
// envelope parsing). Call only after every OnDisconnect hook the
// caller needs is already registered on c.
func (c *WSConnection) Serve(onMessage func(*WSConnection, []byte)) {
	go c.writePump()
	go c.readPump(onMessage)
}

func (c *WSConnection) ID() string       { return c.id }
func (c *WSConnection) RemoteIP() string { return c.remoteIP }

func (c *WSConnection) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Send marshals payload into the wire envelope and queues it on the
// write pump; frames for one Connection are delivered in send order.
func (c *WSConnection) Send(event string, payload any) {
	body, err := json.Marshal(wireFrame{Event: event, Payload: payload})
	if err != nil {
		c.log.Errorf("conn %s: failed to marshal event %s: %v", c.id, event, err)
		return
	}

	c.mu.Lock()
	live := c.live
	c.mu.Unlock()
	if !live {
		return
	}

	select {
	case c.send <- body:
	default:
		c.log.Warnf("conn %s: send buffer full, dropping event %s", c.id, event)
	}
}

func (c *WSConnection) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = true
}

func (c *WSConnection) Leave(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

func (c *WSConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisc = append(c.onDisc, cb)
}

// Close forcibly tears down the underlying socket; readPump observes the
// resulting error and runs the normal disconnect path.
func (c *WSConnection) Close() {
	c.conn.Close()
}

func (c *WSConnection) readPump(onMessage func(*WSConnection, []byte)) {
	defer c.close()

	c.conn.SetReadLimit(MaxPayloadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		onMessage(c, message)
	}
}

func (c *WSConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case body, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSConnection) close() {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return
	}
	c.live = false
	cbs := append([]func(){}, c.onDisc...)
	c.mu.Unlock()

	close(c.send)
	for _, cb := range cbs {
		cb()
	}
}

// resolveRemoteIP honors X-Forwarded-For's first segment, else the
// request's RemoteAddr host, else "unknown".
func resolveRemoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
