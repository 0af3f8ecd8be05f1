package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/logging"

	"rendezvous-broker/internal/registry"
)

func testLogger() logging.LeveledLogger {
	return logging.NewDefaultLoggerFactory().NewLogger("test")
}

func testCoordinator(cfg Config) *Coordinator {
	reg := registry.New(testLogger())
	return NewCoordinator(reg, cfg, testLogger())
}

func TestCreateRoomEnforcesIPCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRoomsPerIP = 2
	c := testCoordinator(cfg)

	for i := 0; i < 2; i++ {
		conn := newFakeConn("h"+string(rune('0'+i)), "9.9.9.9")
		if _, err := c.createRoom(context.Background(), conn, nil); err != nil {
			t.Fatalf("room %d should be allowed: %v", i, err)
		}
	}

	conn := newFakeConn("h2", "9.9.9.9")
	_, err := c.createRoom(context.Background(), conn, nil)
	if err == nil {
		t.Fatal("3rd room from same IP should be rejected")
	}
	if err.(*registry.Error).Kind != registry.KindIPRoomCap {
		t.Fatalf("expected IP_ROOM_CAP, got %v", err)
	}
}

func TestCreateRoomEnforcesRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRoomsPerIP = 1000
	c := testCoordinator(cfg)

	for i := 0; i < 5; i++ {
		conn := newFakeConn("h"+string(rune('a'+i)), "1.1.1.1")
		if _, err := c.createRoom(context.Background(), conn, nil); err != nil {
			t.Fatalf("room %d should be allowed: %v", i, err)
		}
	}
	conn := newFakeConn("overflow", "1.1.1.1")
	_, err := c.createRoom(context.Background(), conn, nil)
	if err == nil || err.(*registry.Error).Kind != registry.KindRateLimitedRoom {
		t.Fatalf("expected RATE_LIMITED_ROOM after 5 creates/min, got %v", err)
	}
}

func TestJoinRoomRejectsInvalidCode(t *testing.T) {
	c := testCoordinator(DefaultConfig())
	conn := newFakeConn("p1", "2.2.2.2")

	params, _ := json.Marshal(joinRoomParams{Code: "not a code", Name: "Alice"})
	_, err := c.joinRoom(context.Background(), conn, params)
	if err == nil || err.(*registry.Error).Kind != registry.KindInvalidCode {
		t.Fatalf("expected INVALID_CODE, got %v", err)
	}
}

func TestJoinRoomDefaultsAnonymousName(t *testing.T) {
	c := testCoordinator(DefaultConfig())
	host := newFakeConn("h1", "1.1.1.1")
	roomResult, err := c.createRoom(context.Background(), host, nil)
	if err != nil {
		t.Fatalf("create_room: %v", err)
	}
	roomCode := roomResult.(createRoomResult).Code

	peer := newFakeConn("p1", "2.2.2.2")
	params, _ := json.Marshal(joinRoomParams{Code: roomCode, Name: ""})
	res, err := c.joinRoom(context.Background(), peer, params)
	if err != nil {
		t.Fatalf("join_room: %v", err)
	}
	if !res.(joinRoomResult).Success {
		t.Fatal("expected success")
	}

	// The stored name is visible in the roster a rejoining host receives.
	if _, err := c.approvePeer(context.Background(), host, mustJSON(approvePeerParams{PeerID: "p1", Approved: true})); err != nil {
		t.Fatalf("approve_peer: %v", err)
	}
	rejoinParams, _ := json.Marshal(rejoinRoomParams{Code: roomCode, IsHost: true})
	rejoinRes, err := c.rejoinRoom(context.Background(), newFakeConn("h2", "1.1.1.1"), rejoinParams)
	if err != nil {
		t.Fatalf("rejoin as host: %v", err)
	}
	peers := rejoinRes.(rejoinRoomHostResult).Peers
	if len(peers) != 1 || peers[0].Name != "Anonymous" {
		t.Fatalf("expected roster [Anonymous], got %+v", peers)
	}
}

// S3 Pending flood cap.
func TestJoinRoomEnforcesPendingCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPendingPerRoom = 10
	c := testCoordinator(cfg)

	host := newFakeConn("h1", "1.1.1.1")
	roomResult, _ := c.createRoom(context.Background(), host, nil)
	roomCode := roomResult.(createRoomResult).Code

	for i := 0; i < 10; i++ {
		peer := newFakeConn(string(rune('a'+i)), "3.3.3.3")
		params, _ := json.Marshal(joinRoomParams{Code: roomCode, Name: "x"})
		if _, err := c.joinRoom(context.Background(), peer, params); err != nil {
			t.Fatalf("join %d should succeed: %v", i, err)
		}
	}

	overflow := newFakeConn("overflow", "3.3.3.3")
	params, _ := json.Marshal(joinRoomParams{Code: roomCode, Name: "x"})
	_, err := c.joinRoom(context.Background(), overflow, params)
	if err == nil || err.(*registry.Error).Kind != registry.KindPendingFull {
		t.Fatalf("expected PENDING_FULL at the 11th join, got %v", err)
	}
}

func TestSignalRejectsOversizedPayload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPayloadSize = 16
	c := testCoordinator(cfg)

	host := newFakeConn("h1", "1.1.1.1")
	roomResult, _ := c.createRoom(context.Background(), host, nil)
	roomCode := roomResult.(createRoomResult).Code

	peer := newFakeConn("p1", "2.2.2.2")
	joinParams, _ := json.Marshal(joinRoomParams{Code: roomCode, Name: "Alice"})
	c.joinRoom(context.Background(), peer, joinParams)
	c.approvePeer(context.Background(), host, mustJSON(approvePeerParams{PeerID: "p1", Approved: true}))

	bigPayload, _ := json.Marshal(map[string]string{"sdp": "this payload is definitely longer than sixteen bytes"})
	sigParams, _ := json.Marshal(signalParams{To: "h1", Payload: bigPayload})

	_, err := c.signal(context.Background(), peer, sigParams)
	if err == nil || err.(*registry.Error).Kind != registry.KindPayloadTooLarge {
		t.Fatalf("expected PAYLOAD_TOO_LARGE, got %v", err)
	}
}

func TestRejoinRoomHostBranch(t *testing.T) {
	c := testCoordinator(DefaultConfig())
	host := newFakeConn("h1", "1.1.1.1")
	roomResult, _ := c.createRoom(context.Background(), host, nil)
	roomCode := roomResult.(createRoomResult).Code

	newHost := newFakeConn("h2", "1.1.1.1")
	params, _ := json.Marshal(rejoinRoomParams{Code: roomCode, IsHost: true})
	res, err := c.rejoinRoom(context.Background(), newHost, params)
	if err != nil {
		t.Fatalf("rejoin as host: %v", err)
	}
	if !res.(rejoinRoomHostResult).Success {
		t.Fatal("expected success")
	}
}

func TestRejoinRoomPeerBranchDelegatesToJoin(t *testing.T) {
	c := testCoordinator(DefaultConfig())
	host := newFakeConn("h1", "1.1.1.1")
	roomResult, _ := c.createRoom(context.Background(), host, nil)
	roomCode := roomResult.(createRoomResult).Code

	peer := newFakeConn("p1", "2.2.2.2")
	params, _ := json.Marshal(rejoinRoomParams{Code: roomCode, IsHost: false, Name: "Alice"})
	res, err := c.rejoinRoom(context.Background(), peer, params)
	if err != nil {
		t.Fatalf("rejoin as peer: %v", err)
	}
	if !res.(joinRoomResult).Success {
		t.Fatal("expected join-shaped success result")
	}
}

func TestIdleTimerDisconnects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	c := testCoordinator(cfg)

	conn := newFakeConn("c1", "1.1.1.1")
	c.Attach(conn)

	time.Sleep(60 * time.Millisecond)

	if conn.IsLive() {
		t.Fatal("connection should have been closed by the idle timer")
	}
}

func TestTouchResetsIdleTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	c := testCoordinator(cfg)

	conn := newFakeConn("c1", "1.1.1.1")
	c.Attach(conn)

	// Keep touching faster than the timeout; connection should survive
	// well past the original deadline.
	for i := 0; i < 5; i++ {
		time.Sleep(15 * time.Millisecond)
		c.touch(conn)
	}
	if !conn.IsLive() {
		t.Fatal("connection should still be live: idle timer was repeatedly reset")
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
