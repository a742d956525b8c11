package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"nmea-bridge/internal/autopilot"
	"nmea-bridge/internal/server"
)

type ClientLister interface {
	Clients() []server.ClientInfo
	Stats() server.Stats
}

type ProfileLister interface {
	AvailableProfiles() ([]string, error)
}

type AutopilotSource interface {
	Snapshot() autopilot.State
}

// Deps are the sources behind the API. Profiles and Autopilot may be nil;
// their routes then answer 404.
type Deps struct {
	Status    *Status
	Clients   ClientLister
	Profiles  ProfileLister
	Autopilot AutopilotSource
}

// Mount adds the /api routes to r.
func Mount(r *mux.Router, d Deps) {
	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/about", AboutHandler()).Methods(http.MethodGet)

	api.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := d.Status.Snapshot(time.Now().UTC())
		if d.Clients != nil {
			st := d.Clients.Stats()
			snap.Server = ServerStats{ActiveClients: st.Active, Broadcasts: st.Broadcasts, Dropped: st.Dropped}
		}
		writeJSON(w, snap)
	}).Methods(http.MethodGet)

	api.HandleFunc("/clients", func(w http.ResponseWriter, _ *http.Request) {
		clients := []server.ClientInfo{}
		if d.Clients != nil {
			clients = d.Clients.Clients()
		}
		writeJSON(w, map[string]any{"clients": clients})
	}).Methods(http.MethodGet)

	api.HandleFunc("/profiles", func(w http.ResponseWriter, _ *http.Request) {
		if d.Profiles == nil {
			http.Error(w, "profiles unavailable", http.StatusNotFound)
			return
		}
		names, err := d.Profiles.AvailableProfiles()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"profiles": names})
	}).Methods(http.MethodGet)

	api.HandleFunc("/autopilot", func(w http.ResponseWriter, _ *http.Request) {
		if d.Autopilot == nil {
			http.Error(w, "autopilot unavailable", http.StatusNotFound)
			return
		}
		writeJSON(w, d.Autopilot.Snapshot())
	}).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
