package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cubic-control/cubicd/internal/probe"
	"github.com/cubic-control/cubicd/internal/profile"
	"github.com/cubic-control/cubicd/internal/supervisor"
)

type fakeLifecycle struct {
	started  int
	stopped  int
	queryErr error
	commands []string
}

func (f *fakeLifecycle) Status(*profile.Profile) supervisor.Outcome {
	return supervisor.Outcome{Message: "Server fully loaded!", Code: supervisor.CodeRunning}
}

func (f *fakeLifecycle) Start(*profile.Profile) supervisor.Outcome {
	f.started++
	return supervisor.Outcome{Message: "Server is starting...", Code: supervisor.CodeStarting}
}

func (f *fakeLifecycle) Stop(*profile.Profile) supervisor.Outcome {
	f.stopped++
	return supervisor.Outcome{Message: "Server is stopping...", Code: supervisor.CodeStopping}
}

func (f *fakeLifecycle) ForceStop(*profile.Profile) supervisor.Outcome {
	return supervisor.Outcome{Message: "Server killed", Code: supervisor.CodeOff}
}

func (f *fakeLifecycle) Restart(*profile.Profile) supervisor.Outcome {
	return supervisor.Outcome{Message: "Server is restarting...", Code: supervisor.CodeRestarting}
}

func (f *fakeLifecycle) Players(*profile.Profile) (*probe.QueryResult, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &probe.QueryResult{Players: 2, MaxPlayers: 20, PlayerNames: []string{"alice", "bob"}}, nil
}

func (f *fakeLifecycle) Command(_ *profile.Profile, cmd string) (string, error) {
	f.commands = append(f.commands, cmd)
	return "done", nil
}

func (f *fakeLifecycle) Output(*profile.Profile, int) []string {
	return []string{"[Server] Done (3.2s)!"}
}

func testRegistry(t *testing.T, withActive bool) *profile.Registry {
	t.Helper()
	dir := t.TempDir()
	reg, err := profile.OpenRegistry(filepath.Join(dir, "profiles.json"))
	if err != nil {
		t.Fatal(err)
	}
	if withActive {
		p := &profile.Profile{Name: "survival", Root: dir}
		if err := reg.Upsert(p); err != nil {
			t.Fatal(err)
		}
		if err := reg.SetActive("survival"); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func newTestRouter(t *testing.T, fake *fakeLifecycle, withActive bool) http.Handler {
	t.Helper()
	return NewRouter(Deps{
		Registry:   testRegistry(t, withActive),
		Supervisor: fake,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusUsesLegacyCode(t *testing.T) {
	h := newTestRouter(t, &fakeLifecycle{}, true)
	w := do(t, h, http.MethodGet, "/status", "")
	if w.Code != supervisor.CodeRunning {
		t.Fatalf("status code %d, want %d", w.Code, supervisor.CodeRunning)
	}
	var out supervisor.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Message != "Server fully loaded!" {
		t.Fatalf("message: %q", out.Message)
	}
}

func TestLifecycleRoutes(t *testing.T) {
	fake := &fakeLifecycle{}
	h := newTestRouter(t, fake, true)

	if w := do(t, h, http.MethodPost, "/start", ""); w.Code != supervisor.CodeStarting {
		t.Fatalf("/start: %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/stop", ""); w.Code != supervisor.CodeStopping {
		t.Fatalf("/stop: %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/restart", ""); w.Code != supervisor.CodeRestarting {
		t.Fatalf("/restart: %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/forcestop", ""); w.Code != supervisor.CodeOff {
		t.Fatalf("/forcestop: %d", w.Code)
	}
	if fake.started != 1 || fake.stopped != 1 {
		t.Fatalf("dispatch counts: started=%d stopped=%d", fake.started, fake.stopped)
	}
}

func TestNoActiveProfile(t *testing.T) {
	h := newTestRouter(t, &fakeLifecycle{}, false)
	if w := do(t, h, http.MethodGet, "/status", ""); w.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", w.Code)
	}
}

func TestPlayersEndpoint(t *testing.T) {
	h := newTestRouter(t, &fakeLifecycle{}, true)
	w := do(t, h, http.MethodGet, "/players", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	var body struct {
		Players int      `json:"players"`
		Names   []string `json:"names"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Players != 2 || len(body.Names) != 2 {
		t.Fatalf("body: %+v", body)
	}
}

func TestPlayersUnreachable(t *testing.T) {
	h := newTestRouter(t, &fakeLifecycle{queryErr: errors.New("down")}, true)
	if w := do(t, h, http.MethodGet, "/players", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", w.Code)
	}
}

func TestCommandEndpoint(t *testing.T) {
	fake := &fakeLifecycle{}
	h := newTestRouter(t, fake, true)

	w := do(t, h, http.MethodPost, "/command", `{"command":"say hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	if len(fake.commands) != 1 || fake.commands[0] != "say hello" {
		t.Fatalf("commands: %v", fake.commands)
	}

	if w := do(t, h, http.MethodPost, "/command", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty command: got %d, want 400", w.Code)
	}
}

func TestLogsEndpoint(t *testing.T) {
	h := newTestRouter(t, &fakeLifecycle{}, true)
	w := do(t, h, http.MethodGet, "/logs?lines=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	var body struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Lines) != 1 {
		t.Fatalf("lines: %v", body.Lines)
	}
}

func TestSidecarsEndpointEmpty(t *testing.T) {
	h := newTestRouter(t, &fakeLifecycle{}, true)
	w := do(t, h, http.MethodGet, "/api/sidecars", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("body: %s", w.Body.String())
	}
}
