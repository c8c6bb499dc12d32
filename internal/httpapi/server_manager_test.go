package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"loopd/internal/genloop"
	"loopd/internal/manager"
	"loopd/internal/sim"
	"loopd/pkg/types"
)

func newManagerServer(t *testing.T, cfg manager.ManagerConfig, model sim.Config) (*manager.Manager, http.Handler) {
	t.Helper()
	cfg.Factory = manager.SimFactory{Config: model}
	cfg.Defaults = genloop.DefaultParams()
	m := manager.NewWithConfig(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m, NewMux(m)
}

func startSession(t *testing.T, h http.Handler, body string) types.SessionInfo {
	t.Helper()
	w := do(t, h, http.MethodPost, "/sessions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status=%d body=%s", w.Code, w.Body.String())
	}
	var info types.SessionInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("json: %v", err)
	}
	return info
}

func pollOutput(t *testing.T, h http.Handler, id, query string) types.OutputResponse {
	t.Helper()
	w := do(t, h, http.MethodGet, "/sessions/"+id+"/output?"+query, "")
	if w.Code != http.StatusOK {
		t.Fatalf("output status=%d body=%s", w.Code, w.Body.String())
	}
	var out types.OutputResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	return out
}

func TestManager_BatchSessionStream(t *testing.T) {
	_, h := newManagerServer(t, manager.ManagerConfig{}, sim.Config{NCtx: 64, Script: "hello</s>"})
	info := startSession(t, h, `{"prompt":"Hi"}`)

	w := do(t, h, http.MethodGet, "/sessions/"+info.ID+"/stream", "")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	var end streamEnd
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &end); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !end.Done || end.Session.Reason != string(genloop.ReasonEOG) {
		t.Fatalf("unexpected end: %+v", end)
	}
	var out strings.Builder
	for _, l := range lines[:len(lines)-1] {
		var c types.OutputChunk
		if err := json.Unmarshal([]byte(l), &c); err != nil {
			t.Fatalf("chunk %q: %v", l, err)
		}
		if c.Kind == string(genloop.KindOutput) {
			out.WriteString(c.Text)
		}
	}
	if out.String() != "hello" {
		t.Fatalf("output=%q", out.String())
	}

	if w := do(t, h, http.MethodDelete, "/sessions/"+info.ID, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/sessions/"+info.ID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("after delete status=%d", w.Code)
	}
}

func TestManager_InteractiveRoundTrip(t *testing.T) {
	_, h := newManagerServer(t, manager.ManagerConfig{}, sim.Config{NCtx: 128, Script: "ok?</s>"})
	info := startSession(t, h, `{"prompt":"Q","interactive":true,"antiprompts":["?"]}`)

	out := pollOutput(t, h, info.ID, "wait=2s")
	deadline := time.Now().Add(2 * time.Second)
	for out.Session.State != "await_input" && time.Now().Before(deadline) {
		out = pollOutput(t, h, info.ID, "wait=100ms")
	}
	if out.Session.State != "await_input" {
		t.Fatalf("session not waiting: %+v", out.Session)
	}

	if w := do(t, h, http.MethodPost, "/sessions/"+info.ID+"/input", `{"text":"more\n"}`); w.Code != http.StatusNoContent {
		t.Fatalf("input status=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodPost, "/sessions/"+info.ID+"/stop", ""); w.Code != http.StatusAccepted {
		t.Fatalf("stop status=%d", w.Code)
	}
	deadline = time.Now().Add(2 * time.Second)
	for !out.Done && time.Now().Before(deadline) {
		out = pollOutput(t, h, info.ID, "wait=100ms")
	}
	if !out.Done {
		t.Fatalf("session did not end: %+v", out.Session)
	}
	w := do(t, h, http.MethodPost, "/sessions/"+info.ID+"/input", `{"text":"late\n"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("late input status=%d", w.Code)
	}
}

func TestManager_TooBusy(t *testing.T) {
	_, h := newManagerServer(t, manager.ManagerConfig{MaxSessions: 1, MaxWait: 20 * time.Millisecond},
		sim.Config{NCtx: 64, Script: "x", Repeat: true})
	startSession(t, h, `{"prompt":"go"}`)
	w := do(t, h, http.MethodPost, "/sessions", `{"prompt":"go"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestManager_InvalidParams(t *testing.T) {
	_, h := newManagerServer(t, manager.ManagerConfig{}, sim.Config{NCtx: 64})
	w := do(t, h, http.MethodPost, "/sessions", `{"prompt":"x","grp_attn_n":2,"grp_attn_w":5}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestManager_CacheInUse(t *testing.T) {
	dir := t.TempDir()
	_, h := newManagerServer(t, manager.ManagerConfig{CacheDir: dir}, sim.Config{NCtx: 64, Script: "x", Repeat: true})
	startSession(t, h, `{"prompt":"go","cache":"shared"}`)
	w := do(t, h, http.MethodPost, "/sessions", `{"prompt":"go","cache":"shared"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodPost, "/sessions", `{"prompt":"go","cache":"../escape"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad cache id status=%d body=%s", w.Code, w.Body.String())
	}
}
