package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pion/logging"

	"rendezvous-broker/internal/registry"
)

type fakeConn struct {
	id string
	ip string
}

func (f *fakeConn) ID() string          { return f.id }
func (f *fakeConn) RemoteIP() string    { return f.ip }
func (f *fakeConn) IsLive() bool        { return true }
func (f *fakeConn) Send(string, any)    {}
func (f *fakeConn) Subscribe(string)    {}
func (f *fakeConn) Leave(string)        {}
func (f *fakeConn) OnDisconnect(func()) {}
func (f *fakeConn) Close()              {}

func testLogger() logging.LeveledLogger {
	return logging.NewDefaultLoggerFactory().NewLogger("test")
}

func TestDisabledWithoutPassword(t *testing.T) {
	reg := registry.New(testLogger())
	v := New(reg, "", testLogger())

	mux := http.NewServeMux()
	v.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected no route registered (404), got %d", rec.Code)
	}
}

func TestStatsRequiresAuth(t *testing.T) {
	reg := registry.New(testLogger())
	v := New(reg, "secret", testLogger())

	mux := http.NewServeMux()
	v.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestStatsReflectsRegistry(t *testing.T) {
	reg := registry.New(testLogger())
	host := &fakeConn{id: "h1", ip: "1.1.1.1"}
	roomCode, err := reg.CreateRoom(host)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	peer := &fakeConn{id: "p1", ip: "2.2.2.2"}
	if _, err := reg.JoinRoom(peer, roomCode, "Alice"); err != nil {
		t.Fatalf("join room: %v", err)
	}

	v := New(reg, "secret", testLogger())
	mux := http.NewServeMux()
	v.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.TotalRooms != 1 {
		t.Fatalf("TotalRooms = %d, want 1", stats.TotalRooms)
	}
	if stats.TotalPending != 1 {
		t.Fatalf("TotalPending = %d, want 1 (peer not yet approved)", stats.TotalPending)
	}
	if stats.Rooms[0].Code != roomCode {
		t.Fatalf("room code = %q, want %q", stats.Rooms[0].Code, roomCode)
	}
	if !stats.Rooms[0].HostLive {
		t.Fatal("expected host_live = true")
	}
}

func TestHTMLPageRenders(t *testing.T) {
	reg := registry.New(testLogger())
	v := New(reg, "secret", testLogger())

	mux := http.NewServeMux()
	v.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty HTML body")
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	reg := registry.New(testLogger())
	v := New(reg, "secret", testLogger())

	mux := http.NewServeMux()
	v.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
}
