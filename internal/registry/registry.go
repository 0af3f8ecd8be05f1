// Package registry implements the Room Registry: the core in-memory
// control plane binding connection identities to rooms, the admission
// state machine (pending -> approved), the signal-routing authorization
// check, and the disconnect/reconnect semantics: a host that rejoins on a
// new connection while its room still exists keeps the approved peers,
// and a host disconnect destroys the room.
//
// All six operations (CreateRoom, JoinRoom, ApprovePeer, Signal,
// RejoinRoom, HandleDisconnect) are atomic transactions under a single
// mutex guarding rooms, the connection index, and the IP ownership
// counter together (spec §5).
package registry

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"rendezvous-broker/internal/code"
	"rendezvous-broker/internal/transport"
)

// Role is a connection's relationship to the room named in its
// connIndex entry.
type Role int

const (
	RoleHost Role = iota
	RolePeer
)

type peerEntry struct {
	conn transport.Connection
	name string
}

type room struct {
	code      string
	hostConn  transport.Connection
	hostID    string
	pending   map[string]*peerEntry
	approved  map[string]*peerEntry
	createdAt time.Time
}

type indexEntry struct {
	code     string
	role     Role
	peerName string
}

// RoomSummary is the Admin View's read-only projection of one room.
type RoomSummary struct {
	Code          string
	HostLive      bool
	PendingCount  int
	ApprovedCount int
	CreatedAt     time.Time
}

// RejoinResult is CreateRoom/RejoinRoom-style output for the host
// rejoin path: the peers already approved in the room, so the new host
// connection can rebuild its UI without waiting for fresh join events.
type RejoinResult struct {
	Code  string
	Peers []PeerInfo
}

// PeerInfo is the {id, name} pair returned to a rejoining host.
type PeerInfo struct {
	ID   string
	Name string
}

// Registry is the control plane. Callers must construct it with New and
// never reach for a package-level singleton (spec §9's design note).
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*room
	connIndex   map[string]indexEntry
	ipRoomCount map[string]int

	log logging.LeveledLogger
}

// New creates an empty Registry.
func New(log logging.LeveledLogger) *Registry {
	return &Registry{
		rooms:       make(map[string]*room),
		connIndex:   make(map[string]indexEntry),
		ipRoomCount: make(map[string]int),
		log:         log,
	}
}

// CreateRoom mints a fresh, unique code, registers conn as its host, and
// returns the code.
func (r *Registry) CreateRoom(conn transport.Connection) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connIndex[conn.ID()]; exists {
		return "", newErr(KindAlreadyInRoom)
	}

	c := r.generateUniqueCodeLocked()

	rm := &room{
		code:      c,
		hostConn:  conn,
		hostID:    conn.ID(),
		pending:   make(map[string]*peerEntry),
		approved:  make(map[string]*peerEntry),
		createdAt: time.Now(),
	}
	r.rooms[c] = rm
	r.connIndex[conn.ID()] = indexEntry{code: c, role: RoleHost}
	r.ipRoomCount[conn.RemoteIP()]++
	conn.Subscribe(c)

	r.log.Infof("room %s created by host %s", c, conn.ID())
	return c, nil
}

func (r *Registry) generateUniqueCodeLocked() string {
	for {
		c := code.Generate()
		if _, exists := r.rooms[c]; !exists {
			return c
		}
	}
}

// JoinResult is JoinRoom's success output.
type JoinResult struct {
	PeerID        string
	HostConnected bool
}

// JoinRoom places conn into roomCode's pending queue under name and
// notifies the host with a peer:request event.
func (r *Registry) JoinRoom(conn transport.Connection, roomCode, name string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomCode]
	if !ok {
		return JoinResult{}, newErr(KindRoomNotFound)
	}
	if _, exists := r.connIndex[conn.ID()]; exists {
		return JoinResult{}, newErr(KindAlreadyInRoom)
	}

	rm.pending[conn.ID()] = &peerEntry{conn: conn, name: name}
	r.connIndex[conn.ID()] = indexEntry{code: roomCode, role: RolePeer, peerName: name}
	conn.Subscribe(roomCode)

	rm.hostConn.Send("peer:request", map[string]any{
		"peer_id": conn.ID(),
		"name":    name,
	})

	r.log.Infof("peer %s joined room %s pending", conn.ID(), roomCode)
	return JoinResult{PeerID: conn.ID(), HostConnected: rm.hostConn.IsLive()}, nil
}

// ApproveResult is ApprovePeer's success output.
type ApproveResult struct {
	Denied bool
}

// ApprovePeer resolves hostConn's room, requires it hold the host role,
// and moves peerID from pending into approved (or removes it on denial).
func (r *Registry) ApprovePeer(hostConn transport.Connection, peerID string, approved bool) (ApproveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connIndex[hostConn.ID()]
	if !ok || entry.role != RoleHost {
		return ApproveResult{}, newErr(KindNotAHost)
	}
	rm := r.rooms[entry.code]

	pe, ok := rm.pending[peerID]
	if !ok {
		return ApproveResult{}, newErr(KindPeerNotPending)
	}
	delete(rm.pending, peerID)

	if approved {
		rm.approved[peerID] = pe
		pe.conn.Send("peer:approved", map[string]any{"host_id": rm.hostID})
		r.log.Infof("peer %s approved in room %s", peerID, rm.code)
		return ApproveResult{}, nil
	}

	pe.conn.Send("peer:denied", map[string]any{})
	delete(r.connIndex, peerID)
	pe.conn.Leave(rm.code)
	r.log.Infof("peer %s denied in room %s", peerID, rm.code)
	return ApproveResult{Denied: true}, nil
}

// Signal authorizes fromConn (host or an approved peer of its room),
// resolves toID to a live target, and forwards payload as an opaque
// blob. Pending peers are never valid targets.
func (r *Registry) Signal(fromConn transport.Connection, toID string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connIndex[fromConn.ID()]
	if !ok {
		return newErr(KindNotInRoom)
	}
	rm := r.rooms[entry.code]

	isHost := fromConn.ID() == rm.hostID
	_, isApproved := rm.approved[fromConn.ID()]
	if !isHost && !isApproved {
		return newErr(KindNotAuthorized)
	}

	var target transport.Connection
	if toID == rm.hostID {
		target = rm.hostConn
	} else if pe, ok := rm.approved[toID]; ok {
		target = pe.conn
	}
	if target == nil {
		return newErr(KindTargetNotFound)
	}

	target.Send("signal", map[string]any{
		"from":    fromConn.ID(),
		"payload": payload,
	})
	return nil
}

// RejoinRoom re-enters roomCode as the host on a new connection: it
// replaces the room's host connection, notifies every approved peer
// with host:reconnected, and returns the approved peer roster. Callers
// rejoining as a non-host peer should call JoinRoom directly instead —
// per spec, that path delegates to join_room and the peer must be
// re-approved; pending state for the original connection is not
// inherited.
func (r *Registry) RejoinRoom(conn transport.Connection, roomCode string) (RejoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomCode]
	if !ok {
		return RejoinResult{}, newErr(KindRoomNotFound)
	}

	oldHostID := rm.hostID
	if oldHostID != conn.ID() {
		delete(r.connIndex, oldHostID)
	}

	rm.hostConn = conn
	rm.hostID = conn.ID()
	r.connIndex[conn.ID()] = indexEntry{code: roomCode, role: RoleHost}
	conn.Subscribe(roomCode)

	peers := make([]PeerInfo, 0, len(rm.approved))
	for id, pe := range rm.approved {
		peers = append(peers, PeerInfo{ID: id, Name: pe.name})
		pe.conn.Send("host:reconnected", map[string]any{"host_id": conn.ID()})
	}

	r.log.Infof("host reconnected to room %s as %s", roomCode, conn.ID())
	return RejoinResult{Code: roomCode, Peers: peers}, nil
}

// HandleDisconnect unwinds conn's membership. A host disconnect destroys
// the room synchronously (every pending/approved peer receives
// host:disconnected exactly once, their transports stay open) and
// decrements the host's IP room count. A peer disconnect removes it from
// whichever set held it and notifies the host.
func (r *Registry) HandleDisconnect(conn transport.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connIndex[conn.ID()]
	if !ok {
		return
	}
	rm, ok := r.rooms[entry.code]
	if !ok {
		delete(r.connIndex, conn.ID())
		return
	}

	if entry.role == RoleHost {
		for id, pe := range rm.pending {
			pe.conn.Send("host:disconnected", map[string]any{})
			delete(r.connIndex, id)
		}
		for id, pe := range rm.approved {
			pe.conn.Send("host:disconnected", map[string]any{})
			delete(r.connIndex, id)
		}
		delete(r.rooms, entry.code)

		ip := conn.RemoteIP()
		r.ipRoomCount[ip]--
		if r.ipRoomCount[ip] <= 0 {
			delete(r.ipRoomCount, ip)
		}
		r.log.Infof("room %s destroyed on host disconnect", entry.code)
	} else {
		if _, ok := rm.pending[conn.ID()]; ok {
			delete(rm.pending, conn.ID())
		} else {
			delete(rm.approved, conn.ID())
		}
		rm.hostConn.Send("peer:disconnected", map[string]any{"peer_id": conn.ID()})
	}

	delete(r.connIndex, conn.ID())
}

// IPRoomCount returns the number of rooms ip currently hosts. Used by
// the session coordinator to enforce MAX_ROOMS_PER_IP before calling
// CreateRoom.
func (r *Registry) IPRoomCount(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ipRoomCount[ip]
}

// PendingCount returns the size of roomCode's pending queue, or 0 if the
// room doesn't exist. Used by the session coordinator to enforce
// MAX_PENDING_PER_ROOM before calling JoinRoom.
func (r *Registry) PendingCount(roomCode string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomCode]
	if !ok {
		return 0
	}
	return len(rm.pending)
}

// Snapshot returns a consistent, read-locked projection of every room
// for the Admin View.
func (r *Registry) Snapshot() []RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomSummary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, RoomSummary{
			Code:          rm.code,
			HostLive:      rm.hostConn.IsLive(),
			PendingCount:  len(rm.pending),
			ApprovedCount: len(rm.approved),
			CreatedAt:     rm.createdAt,
		})
	}
	return out
}
