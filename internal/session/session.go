// Package session implements the Session Coordinator: the per-connection
// driver that arms the idle timer, gates every mutating RPC behind the
// rate limiter, enforces the per-IP and per-room caps, and installs the
// disconnect hook that unwinds into the Room Registry.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/logging"

	"rendezvous-broker/internal/code"
	"rendezvous-broker/internal/ratelimit"
	"rendezvous-broker/internal/registry"
	"rendezvous-broker/internal/rpc"
	"rendezvous-broker/internal/transport"
)

// Config holds the tunables spec §6 lists as environment configuration,
// already parsed.
type Config struct {
	IdleTimeout      time.Duration
	MaxPendingPerRoom int
	MaxRoomsPerIP     int
	MaxPayloadSize    int
	ICEServers        []ICEServer
}

// ICEServer is one entry of the STUN hint passthrough (spec §6.5).
type ICEServer struct {
	URLs string `json:"urls"`
}

// DefaultICEServers is the spec's documented default.
var DefaultICEServers = []ICEServer{
	{URLs: "stun:stun.l.google.com:19302"},
	{URLs: "stun:stun1.l.google.com:19302"},
}

// DefaultConfig matches spec §6's documented environment defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:       300 * time.Second,
		MaxPendingPerRoom: 10,
		MaxRoomsPerIP:     5,
		MaxPayloadSize:    16384,
		ICEServers:        DefaultICEServers,
	}
}

// Coordinator is the per-connection driver. One Coordinator is shared by
// every connection; per-connection state lives in its internal idle
// timer table.
type Coordinator struct {
	reg *registry.Registry
	cfg Config
	log logging.LeveledLogger

	connLimiter   *ratelimit.Limiter // connection-per-IP: 60s/20
	roomLimiter   *ratelimit.Limiter // room-creation-per-IP: 60s/5
	joinLimiter   *ratelimit.Limiter // join-per-IP: 60s/30
	signalLimiter *ratelimit.Limiter // signal-per-connection: 1s/50

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewCoordinator wires the pre-configured rate limiters spec §4.2 names
// and returns a Coordinator over reg.
func NewCoordinator(reg *registry.Registry, cfg Config, log logging.LeveledLogger) *Coordinator {
	return &Coordinator{
		reg:           reg,
		cfg:           cfg,
		log:           log,
		connLimiter:   ratelimit.New(60*time.Second, 20, log),
		roomLimiter:   ratelimit.New(60*time.Second, 5, log),
		joinLimiter:   ratelimit.New(60*time.Second, 30, log),
		signalLimiter: ratelimit.New(time.Second, 50, log),
		timers:        make(map[string]*time.Timer),
	}
}

// Scavenge launches the periodic rate-limit bucket cleanup (spec §4.2,
// every 60s) for all four limiters, until ctx is canceled.
func (c *Coordinator) Scavenge(ctx context.Context) {
	go c.connLimiter.Scavenge(ctx, 60*time.Second)
	go c.roomLimiter.Scavenge(ctx, 60*time.Second)
	go c.joinLimiter.Scavenge(ctx, 60*time.Second)
	go c.signalLimiter.Scavenge(ctx, 60*time.Second)
}

// AdmitConnection applies the connection-per-IP limiter before the
// transport handshake completes. A denial refuses the handshake itself
// (spec §7): the caller should not proceed to Upgrade.
func (c *Coordinator) AdmitConnection(remoteIP string) bool {
	return c.connLimiter.Allow(remoteIP)
}

// Attach arms the idle timer for conn and installs the disconnect hook
// that unwinds Registry state. Call once, right after the transport
// accepts the connection.
func (c *Coordinator) Attach(conn transport.Connection) {
	c.armIdle(conn)
	conn.OnDisconnect(func() {
		c.detach(conn)
	})
}

func (c *Coordinator) armIdle(conn transport.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers[conn.ID()] = time.AfterFunc(c.cfg.IdleTimeout, func() {
		c.log.Infof("conn %s idle for %s, disconnecting", conn.ID(), c.cfg.IdleTimeout)
		conn.Close()
	})
}

// touch resets conn's idle timer. Every inbound RPC calls this.
func (c *Coordinator) touch(conn transport.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[conn.ID()]; ok {
		t.Reset(c.cfg.IdleTimeout)
	}
}

func (c *Coordinator) detach(conn transport.Connection) {
	c.mu.Lock()
	if t, ok := c.timers[conn.ID()]; ok {
		t.Stop()
		delete(c.timers, conn.ID())
	}
	c.mu.Unlock()

	c.reg.HandleDisconnect(conn)
}

// RegisterMethods installs every RPC wrapper from spec §4.4 onto d.
func (c *Coordinator) RegisterMethods(d *rpc.Dispatcher) {
	d.Handle("createRoom", c.createRoom)
	d.Handle("joinRoom", c.joinRoom)
	d.Handle("approvePeer", c.approvePeer)
	d.Handle("signal", c.signal)
	d.Handle("rejoinRoom", c.rejoinRoom)
	d.Handle("getIceServers", c.getIceServers)
}

type createRoomResult struct {
	Code       string      `json:"code"`
	ICEServers []ICEServer `json:"iceServers"`
}

func (c *Coordinator) createRoom(ctx context.Context, conn transport.Connection, params json.RawMessage) (any, error) {
	c.touch(conn)

	if !c.roomLimiter.Allow(conn.RemoteIP()) {
		return nil, registry.ErrRateLimitedRoom()
	}
	if c.reg.IPRoomCount(conn.RemoteIP()) >= c.cfg.MaxRoomsPerIP {
		return nil, registry.IPRoomCapError(c.cfg.MaxRoomsPerIP)
	}

	roomCode, err := c.reg.CreateRoom(conn)
	if err != nil {
		return nil, err
	}
	return createRoomResult{Code: roomCode, ICEServers: c.cfg.ICEServers}, nil
}

type joinRoomParams struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type joinRoomResult struct {
	Success       bool        `json:"success"`
	PeerID        string      `json:"peer_id"`
	HostConnected bool        `json:"host_connected"`
	ICEServers    []ICEServer `json:"iceServers"`
}

func (c *Coordinator) joinRoom(ctx context.Context, conn transport.Connection, raw json.RawMessage) (any, error) {
	c.touch(conn)

	if !c.joinLimiter.Allow(conn.RemoteIP()) {
		return nil, registry.ErrRateLimitedJoin()
	}

	var params joinRoomParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, registry.ErrInvalidCode()
	}
	if !code.Validate(params.Code) {
		return nil, registry.ErrInvalidCode()
	}
	normalized := code.Normalize(params.Code)

	name := params.Name
	if name == "" {
		name = "Anonymous"
	}

	if c.reg.PendingCount(normalized) >= c.cfg.MaxPendingPerRoom {
		return nil, registry.ErrPendingFull()
	}

	res, err := c.reg.JoinRoom(conn, normalized, name)
	if err != nil {
		return nil, err
	}
	return joinRoomResult{
		Success:       true,
		PeerID:        res.PeerID,
		HostConnected: res.HostConnected,
		ICEServers:    c.cfg.ICEServers,
	}, nil
}

type approvePeerParams struct {
	PeerID   string `json:"peer_id"`
	Approved bool   `json:"approved"`
}

type approvePeerResult struct {
	Success bool `json:"success"`
	Denied  bool `json:"denied,omitempty"`
}

func (c *Coordinator) approvePeer(ctx context.Context, conn transport.Connection, raw json.RawMessage) (any, error) {
	c.touch(conn)

	var params approvePeerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, registry.ErrInvalidCode()
	}

	res, err := c.reg.ApprovePeer(conn, params.PeerID, params.Approved)
	if err != nil {
		return nil, err
	}

	c.log.Infof("conn %s approvePeer(%s, %v) ok", conn.ID(), params.PeerID, params.Approved)
	return approvePeerResult{Success: true, Denied: res.Denied}, nil
}

type signalParams struct {
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

type signalResult struct {
	Success bool `json:"success"`
}

func (c *Coordinator) signal(ctx context.Context, conn transport.Connection, raw json.RawMessage) (any, error) {
	c.touch(conn)

	if !c.signalLimiter.Allow(conn.ID()) {
		return nil, registry.ErrRateLimitedSignal()
	}

	var params signalParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, registry.ErrPayloadTooLarge()
	}
	if len(params.Payload) > c.cfg.MaxPayloadSize {
		return nil, registry.ErrPayloadTooLarge()
	}

	if err := c.reg.Signal(conn, params.To, params.Payload); err != nil {
		return nil, err
	}
	return signalResult{Success: true}, nil
}

type rejoinRoomParams struct {
	Code   string `json:"code"`
	IsHost bool   `json:"is_host"`
	Name   string `json:"name"`
}

type rejoinRoomHostResult struct {
	Success bool                `json:"success"`
	Code    string              `json:"code"`
	Peers   []registry.PeerInfo `json:"peers"`
}

func (c *Coordinator) rejoinRoom(ctx context.Context, conn transport.Connection, raw json.RawMessage) (any, error) {
	c.touch(conn)

	var params rejoinRoomParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, registry.ErrInvalidCode()
	}
	if !code.Validate(params.Code) {
		return nil, registry.ErrInvalidCode()
	}
	normalized := code.Normalize(params.Code)

	if !params.IsHost {
		// Per spec §4.3: a non-host rejoin delegates to join_room; the
		// peer must be re-approved, and no pending state carries over.
		name := params.Name
		if name == "" {
			name = "Anonymous"
		}
		res, err := c.reg.JoinRoom(conn, normalized, name)
		if err != nil {
			return nil, err
		}
		return joinRoomResult{
			Success:       true,
			PeerID:        res.PeerID,
			HostConnected: res.HostConnected,
			ICEServers:    c.cfg.ICEServers,
		}, nil
	}

	res, err := c.reg.RejoinRoom(conn, normalized)
	if err != nil {
		return nil, err
	}
	return rejoinRoomHostResult{Success: true, Code: res.Code, Peers: res.Peers}, nil
}

type iceServersResult struct {
	ICEServers []ICEServer `json:"iceServers"`
}

func (c *Coordinator) getIceServers(ctx context.Context, conn transport.Connection, raw json.RawMessage) (any, error) {
	c.touch(conn)
	return iceServersResult{ICEServers: c.cfg.ICEServers}, nil
}
