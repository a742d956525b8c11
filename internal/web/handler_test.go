package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nmea-bridge/internal/autopilot"
	"nmea-bridge/internal/server"
)

type fakeClients struct{}

func (fakeClients) Clients() []server.ClientInfo {
	return []server.ClientInfo{{ID: "tcp:127.0.0.1:5000", Transport: server.TCP, RemoteAddr: "127.0.0.1:5000", Sent: 7}}
}

func (fakeClients) Stats() server.Stats { return server.Stats{Active: 1, Broadcasts: 42, Dropped: 2} }

type fakeProfiles struct{ err error }

func (f fakeProfiles) AvailableProfiles() ([]string, error) {
	return []string{"powerboat-28", "sailboat-35"}, f.err
}

func newTestRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	Mount(r, d)
	return r
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestAPIStatus(t *testing.T) {
	st := NewStatus("run-1")
	st.SetStatic("scenario", map[string]any{"scenario": "demo"})
	st.MarkTick(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 3)
	st.MarkTick(time.Time{}, 2)
	r := newTestRouter(Deps{Status: st, Clients: fakeClients{}})

	var snap StatusSnapshot
	rec := get(t, r, "/api/status", &snap)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nmea-bridge", snap.Service)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, "scenario", snap.Mode)
	assert.EqualValues(t, 5, snap.SentencesSent)
	assert.NotEmpty(t, snap.LastTickUTC)
	assert.Equal(t, map[string]any{"scenario": "demo"}, snap.Source)
	assert.Equal(t, ServerStats{ActiveClients: 1, Broadcasts: 42, Dropped: 2}, snap.Server)
}

func TestSetStaticKeepsPreviousValues(t *testing.T) {
	st := NewStatus("run-1")
	st.SetStatic("physics", map[string]any{"profile": "sailboat-35"})
	st.SetStatic("", nil)
	snap := st.Snapshot(time.Time{})
	assert.Equal(t, "physics", snap.Mode)
	assert.Equal(t, "sailboat-35", snap.Source["profile"])
	assert.Empty(t, snap.LastTickUTC)
}

func TestAPIClients(t *testing.T) {
	r := newTestRouter(Deps{Status: NewStatus("x"), Clients: fakeClients{}})
	var body struct {
		Clients []server.ClientInfo `json:"clients"`
	}
	rec := get(t, r, "/api/clients", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body.Clients, 1)
	assert.Equal(t, server.TCP, body.Clients[0].Transport)
	assert.EqualValues(t, 7, body.Clients[0].Sent)
}

func TestAPIProfiles(t *testing.T) {
	r := newTestRouter(Deps{Status: NewStatus("x"), Profiles: fakeProfiles{}})
	var body struct {
		Profiles []string `json:"profiles"`
	}
	rec := get(t, r, "/api/profiles", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"powerboat-28", "sailboat-35"}, body.Profiles)

	r = newTestRouter(Deps{Status: NewStatus("x"), Profiles: fakeProfiles{err: errors.New("read profiles: boom")}})
	rec = get(t, r, "/api/profiles", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPIAutopilot(t *testing.T) {
	shared := autopilot.NewShared(90)
	r := newTestRouter(Deps{Status: NewStatus("x"), Autopilot: shared})

	var st map[string]any
	rec := get(t, r, "/api/autopilot", &st)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "standby", st["mode"])
	assert.Equal(t, 90.0, st["target_heading"])
}

func TestOptionalRoutesAnswerNotFound(t *testing.T) {
	r := newTestRouter(Deps{Status: NewStatus("x")})
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/profiles", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/autopilot", nil).Code)

	var body map[string][]server.ClientInfo
	rec := get(t, r, "/api/clients", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["clients"])
}

func TestAPIRejectsOtherMethods(t *testing.T) {
	r := newTestRouter(Deps{Status: NewStatus("x")})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAbout(t *testing.T) {
	var about AboutResponse
	rec := get(t, newTestRouter(Deps{Status: NewStatus("x")}), "/api/about", &about)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nmea-bridge", about.Service)
	assert.NotEmpty(t, about.GoVersion)
}
