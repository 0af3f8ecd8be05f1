// Package admin implements the read-only Admin View: a consistent
// snapshot of the Room Registry rendered as HTML or JSON, gated by the
// ADMIN_PASSWORD configuration value (spec §4.5, §6.4).
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/pion/logging"

	"rendezvous-broker/internal/registry"
)

// RoomStat is one room's row in the /admin/api/stats payload.
type RoomStat struct {
	Code          string `json:"code"`
	HostLive      bool   `json:"host_live"`
	PendingCount  int    `json:"pending_count"`
	ApprovedCount int    `json:"approved_count"`
	CreatedAt     int64  `json:"created_at"`
	AgeSeconds    int64  `json:"age_seconds"`
}

// Stats is the full /admin/api/stats response body.
type Stats struct {
	TotalRooms    int        `json:"totalRooms"`
	TotalPending  int        `json:"totalPending"`
	TotalApproved int        `json:"totalApproved"`
	Rooms         []RoomStat `json:"rooms"`
}

// View produces Stats from a Registry snapshot and serves the two admin
// HTTP endpoints. A View constructed with an empty password accepts no
// requests, matching spec §6's "unset disables admin view": RegisterRoutes
// registers nothing, so the mux answers 404, and the handlers themselves
// answer every request with 401.
type View struct {
	reg      *registry.Registry
	password string
	log      logging.LeveledLogger
}

// New creates a View. password == "" disables both endpoints entirely.
func New(reg *registry.Registry, password string, log logging.LeveledLogger) *View {
	return &View{reg: reg, password: password, log: log}
}

// Enabled reports whether the admin view accepts requests.
func (v *View) Enabled() bool { return v.password != "" }

// Snapshot builds Stats from the current registry state.
func (v *View) Snapshot() Stats {
	rooms := v.reg.Snapshot()
	now := time.Now()

	out := Stats{Rooms: make([]RoomStat, 0, len(rooms))}
	for _, rm := range rooms {
		out.TotalPending += rm.PendingCount
		out.TotalApproved += rm.ApprovedCount
		out.Rooms = append(out.Rooms, RoomStat{
			Code:          rm.Code,
			HostLive:      rm.HostLive,
			PendingCount:  rm.PendingCount,
			ApprovedCount: rm.ApprovedCount,
			CreatedAt:     rm.CreatedAt.Unix(),
			AgeSeconds:    int64(now.Sub(rm.CreatedAt).Seconds()),
		})
	}
	out.TotalRooms = len(out.Rooms)
	return out
}

func (v *View) authorized(r *http.Request) bool {
	if !v.Enabled() {
		return false
	}
	_, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(v.password)) == 1
}

// RegisterRoutes adds /admin and /admin/api/stats to mux, but only when
// the view is enabled — an unset ADMIN_PASSWORD means the routes are
// never registered at all.
func (v *View) RegisterRoutes(mux *http.ServeMux) {
	if !v.Enabled() {
		return
	}
	mux.HandleFunc("GET /admin", v.handleHTML)
	mux.HandleFunc("GET /admin/api/stats", v.handleAPI)
}

func (v *View) handleAPI(w http.ResponseWriter, r *http.Request) {
	if !v.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v.Snapshot()); err != nil {
		v.log.Errorf("admin: failed to encode stats: %v", err)
	}
}

func (v *View) handleHTML(w http.ResponseWriter, r *http.Request) {
	if !v.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := adminTemplate.Execute(w, v.Snapshot()); err != nil {
		v.log.Errorf("admin: failed to render template: %v", err)
	}
}

var adminTemplate = template.Must(template.New("admin").Parse(`<!DOCTYPE html>
<html>
<head><title>Rendezvous broker — admin</title></head>
<body>
<h1>Rendezvous broker</h1>
<p>{{.TotalRooms}} rooms, {{.TotalPending}} pending, {{.TotalApproved}} approved</p>
<table border="1" cellpadding="4">
<tr><th>Code</th><th>Host live</th><th>Pending</th><th>Approved</th><th>Age (s)</th></tr>
{{range .Rooms}}<tr><td>{{.Code}}</td><td>{{.HostLive}}</td><td>{{.PendingCount}}</td><td>{{.ApprovedCount}}</td><td>{{.AgeSeconds}}</td></tr>
{{end}}</table>
</body>
</html>
`))
