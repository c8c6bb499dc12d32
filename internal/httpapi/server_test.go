package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loopd/internal/manager"
	"loopd/pkg/types"
)

type mockService struct {
	info     types.SessionInfo
	status   types.StatusResponse
	caches   []types.CacheInfo
	ready    bool
	err      error
	chunks   []types.OutputChunk
	hard     bool
	lastReq  types.StartRequest
	lastText string
	lastWait time.Duration
	lastOff  int
}

func (m *mockService) Start(_ context.Context, req types.StartRequest) (types.SessionInfo, error) {
	m.lastReq = req
	return m.info, m.err
}
func (m *mockService) Info(string) (types.SessionInfo, error) { return m.info, m.err }
func (m *mockService) SupplyInput(_ string, text string) error {
	m.lastText = text
	return m.err
}
func (m *mockService) Poll(_ context.Context, _ string, offset int, wait time.Duration) (types.OutputResponse, error) {
	m.lastOff, m.lastWait = offset, wait
	return types.OutputResponse{Session: m.info, Chunks: m.chunks, Next: offset + len(m.chunks)}, m.err
}
func (m *mockService) Stream(_ context.Context, _ string, offset int, fn func(types.OutputChunk) error) (types.OutputResponse, error) {
	for _, c := range m.chunks {
		if err := fn(c); err != nil {
			return types.OutputResponse{}, err
		}
	}
	return types.OutputResponse{Session: m.info, Next: offset + len(m.chunks), Done: true}, m.err
}
func (m *mockService) Stop(string) error                      { return m.err }
func (m *mockService) Interrupt(string) (bool, error)         { return m.hard, m.err }
func (m *mockService) Remove(string) error                    { return m.err }
func (m *mockService) Status() types.StatusResponse           { return m.status }
func (m *mockService) ListCaches() ([]types.CacheInfo, error) { return m.caches, m.err }
func (m *mockService) Ready() bool                            { return m.ready }

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

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

func TestStartHandler(t *testing.T) {
	svc := &mockService{info: types.SessionInfo{ID: "s1", State: "running"}}
	w := do(t, NewMux(svc), http.MethodPost, "/sessions", `{"prompt":"hi","n_predict":5,"interactive":true,"cache":"c"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var info types.SessionInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("json: %v", err)
	}
	if info.ID != "s1" {
		t.Fatalf("unexpected body: %+v", info)
	}
	if svc.lastReq.Prompt != "hi" || svc.lastReq.NPredict == nil || *svc.lastReq.NPredict != 5 || !svc.lastReq.Interactive || svc.lastReq.Cache != "c" {
		t.Fatalf("request not decoded: %+v", svc.lastReq)
	}
}

func TestStartHandler_BadRequests(t *testing.T) {
	h := NewMux(&mockService{})

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("missing content type: status=%d", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/sessions", `{"prompt":`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status=%d", w.Code)
	}
}

func TestStartHandler_BodyTooLarge(t *testing.T) {
	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	w := do(t, NewMux(&mockService{}), http.MethodPost, "/sessions", `{"prompt":"`+strings.Repeat("a", 64)+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", manager.ErrSessionNotFound("x"), http.StatusNotFound},
		{"dependency", manager.ErrDependencyUnavailable("no runtime"), http.StatusServiceUnavailable},
		{"http error", mockHTTPError{msg: "teapot", code: http.StatusTeapot}, http.StatusTeapot},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := NewMux(&mockService{err: c.err})
			w := do(t, h, http.MethodGet, "/sessions/x", "")
			if w.Code != c.want {
				t.Fatalf("status=%d want %d", w.Code, c.want)
			}
			var body types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("json: %v", err)
			}
			if body.Code != c.want || body.Error != c.err.Error() {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestOutputHandler_Params(t *testing.T) {
	svc := &mockService{chunks: []types.OutputChunk{{Kind: "output", Text: "a"}}}
	h := NewMux(svc)

	w := do(t, h, http.MethodGet, "/sessions/s1/output?offset=3&wait=250ms", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.lastOff != 3 || svc.lastWait != 250*time.Millisecond {
		t.Fatalf("offset=%d wait=%v", svc.lastOff, svc.lastWait)
	}
	var out types.OutputResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Next != 4 || len(out.Chunks) != 1 {
		t.Fatalf("unexpected output: %+v", out)
	}

	do(t, h, http.MethodGet, "/sessions/s1/output?wait=2", "")
	if svc.lastWait != 2*time.Second {
		t.Fatalf("seconds wait=%v", svc.lastWait)
	}

	do(t, h, http.MethodGet, "/sessions/s1/output?wait=1h", "")
	if svc.lastWait != maxPollWait {
		t.Fatalf("wait not capped: %v", svc.lastWait)
	}

	for _, q := range []string{"offset=-1", "offset=x", "wait=soon", "wait=-1s"} {
		if w := do(t, h, http.MethodGet, "/sessions/s1/output?"+q, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", q, w.Code)
		}
	}
}

func TestSetMaxPollSeconds(t *testing.T) {
	SetMaxPollSeconds(5)
	if maxPollWait != 5*time.Second {
		t.Fatalf("maxPollWait=%v", maxPollWait)
	}
	SetMaxPollSeconds(0)
	if maxPollWait != 30*time.Second {
		t.Fatalf("default not restored: %v", maxPollWait)
	}
}

func TestStreamHandler(t *testing.T) {
	svc := &mockService{
		info:   types.SessionInfo{ID: "s1", State: "terminated", Reason: "eog"},
		chunks: []types.OutputChunk{{Kind: "prompt", Text: "Hi"}, {Kind: "output", Text: "yo"}},
	}
	w := do(t, NewMux(svc), http.MethodGet, "/sessions/s1/stream", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type=%s", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", lines)
	}
	var c types.OutputChunk
	if err := json.Unmarshal([]byte(lines[1]), &c); err != nil || c.Text != "yo" {
		t.Fatalf("chunk line %q: %v", lines[1], err)
	}
	var end streamEnd
	if err := json.Unmarshal([]byte(lines[2]), &end); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !end.Done || end.Session.Reason != "eog" {
		t.Fatalf("unexpected end line: %+v", end)
	}
}

func TestStreamHandler_NotFound(t *testing.T) {
	w := do(t, NewMux(&mockService{err: manager.ErrSessionNotFound("nope")}), http.MethodGet, "/sessions/nope/stream", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInputHandler(t *testing.T) {
	svc := &mockService{}
	w := do(t, NewMux(svc), http.MethodPost, "/sessions/s1/input", `{"text":"hello\n"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.lastText != "hello\n" {
		t.Fatalf("text=%q", svc.lastText)
	}
}

func TestControlHandlers(t *testing.T) {
	svc := &mockService{hard: true}
	h := NewMux(svc)
	if w := do(t, h, http.MethodPost, "/sessions/s1/stop", ""); w.Code != http.StatusAccepted {
		t.Fatalf("stop status=%d", w.Code)
	}
	w := do(t, h, http.MethodPost, "/sessions/s1/interrupt", "")
	if w.Code != http.StatusOK {
		t.Fatalf("interrupt status=%d", w.Code)
	}
	var ir types.InterruptResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ir); err != nil || !ir.Hard {
		t.Fatalf("interrupt body=%s err=%v", w.Body.String(), err)
	}
	if w := do(t, h, http.MethodDelete, "/sessions/s1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
}

func TestStatusAndCaches(t *testing.T) {
	svc := &mockService{
		status: types.StatusResponse{State: "ready", MaxSessions: 3},
		caches: []types.CacheInfo{{ID: "a", SizeBytes: 10}},
	}
	h := NewMux(svc)
	w := do(t, h, http.MethodGet, "/status", "")
	var st types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || st.MaxSessions != 3 {
		t.Fatalf("status body=%s err=%v", w.Body.String(), err)
	}
	w = do(t, h, http.MethodGet, "/caches", "")
	var cr types.CachesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &cr); err != nil || len(cr.Caches) != 1 || cr.Caches[0].ID != "a" {
		t.Fatalf("caches body=%s err=%v", w.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	h := NewMux(&mockService{ready: false})
	if w := do(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz=%d %q", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d", w.Code)
	}
	if w := do(t, NewMux(&mockService{ready: true}), http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("readyz ready=%d", w.Code)
	}
}

func TestSecurityHeader(t *testing.T) {
	w := do(t, NewMux(&mockService{}), http.MethodGet, "/healthz", "")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff")
	}
}

func TestCORS(t *testing.T) {
	SetCORSOptions(true, []string{"https://example.com"}, []string{"GET", "POST"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)
	h := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(&mockService{})
	do(t, h, http.MethodGet, "/healthz", "")
	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("loopd_http_requests_total")) {
		t.Fatalf("metrics output missing request counter")
	}
}
