// Command server wires the Code Mint, Rate Limiter, Room Registry,
// Session Coordinator, and Admin View into a runnable rendezvous
// broker: one /ws endpoint carrying the RPC envelope, plus the static
// client bundle and the optional admin view.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"

	"rendezvous-broker/internal/admin"
	applog "rendezvous-broker/internal/logging"
	"rendezvous-broker/internal/registry"
	"rendezvous-broker/internal/rpc"
	"rendezvous-broker/internal/session"
	"rendezvous-broker/internal/transport"
)

func main() {
	level := logging.LogLevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = logging.LogLevelDebug
	}
	loggerFactory := applog.NewFactory(level)
	log := loggerFactory.NewLogger("server")

	cfg := loadConfig()

	reg := registry.New(loggerFactory.NewLogger("registry"))
	coord := session.NewCoordinator(reg, cfg, loggerFactory.NewLogger("session"))
	dispatcher := rpc.NewDispatcher(rpc.DefaultTimeout, loggerFactory.NewLogger("rpc"))
	coord.RegisterMethods(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Scavenge(ctx)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, coord, dispatcher, loggerFactory.NewLogger("transport"))
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	adminPassword := os.Getenv("ADMIN_PASSWORD")
	adminView := admin.New(reg, adminPassword, loggerFactory.NewLogger("admin"))
	adminView.RegisterRoutes(mux)
	if !adminView.Enabled() {
		log.Info("ADMIN_PASSWORD unset: admin view disabled")
	}

	staticDir := os.Getenv("STATIC_DIR")
	if staticDir == "" {
		staticDir = "web"
	}
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	httpServer := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Infof("rendezvous broker listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
	log.Info("stopped")
}

// handleWebSocket admits the connection against the per-IP connection
// limiter before the handshake, constructs the transport adapter, and
// arms the coordinator's idle timer and disconnect hook (coord.Attach)
// before the adapter's read/write pumps start — otherwise a message or
// disconnect racing in during that window would run with no hook
// registered yet, leaking the registry entry it should have cleaned up.
func handleWebSocket(w http.ResponseWriter, r *http.Request, coord *session.Coordinator, dispatcher *rpc.Dispatcher, log logging.LeveledLogger) {
	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil && host != "" {
		remoteIP = host
	}
	if fwd := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0]); fwd != "" {
		remoteIP = fwd
	}
	if !coord.AdmitConnection(remoteIP) {
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := transport.Upgrade(w, r, log)
	if err != nil {
		log.Errorf("websocket upgrade failed: %v", err)
		return
	}

	coord.Attach(conn)
	conn.Serve(func(c *transport.WSConnection, msg []byte) {
		reply := dispatcher.Dispatch(c, msg)
		c.Send("rpc_response", rawJSON(reply))
	})
}

// rawJSON lets an already-encoded RPC response ride inside the
// wireFrame's payload field without a decode/re-encode round trip.
type rawJSON []byte

func (b rawJSON) MarshalJSON() ([]byte, error) { return b, nil }

func loadConfig() session.Config {
	cfg := session.DefaultConfig()

	if v := os.Getenv("IDLE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.IdleTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_PENDING_PER_ROOM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPendingPerRoom = n
		}
	}
	if v := os.Getenv("MAX_ROOMS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRoomsPerIP = n
		}
	}
	if v := os.Getenv("MAX_PAYLOAD_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPayloadSize = n
		}
	}

	return cfg
}
