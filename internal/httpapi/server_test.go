package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"autodelta/internal/config"
	"autodelta/internal/engine"
	"autodelta/internal/logbus"
	"autodelta/internal/model"
	"autodelta/internal/notify"
	"autodelta/internal/store/sqlite"
)

type testServer struct {
	srv   *httptest.Server
	store *sqlite.Store

	mu   sync.Mutex
	sent [][]notify.Event
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ts := &testServer{store: st}
	cfg := config.Config{Server: config.ServerConfig{Cors: config.CorsConfig{AllowOrigins: []string{"http://localhost:5173"}}}}
	s := New(Options{
		Cfg:    cfg,
		Bus:    logbus.New(10),
		Store:  st,
		Engine: engine.New(engine.Options{}),
		SendMail: func(_ context.Context, _ model.EmailSettings, _ config.NotifyConfig, events []notify.Event) error {
			ts.mu.Lock()
			ts.sent = append(ts.sent, events)
			ts.mu.Unlock()
			return nil
		},
	})
	ts.srv = httptest.NewServer(s.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, ts.srv.URL+path, &buf)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["ok"] != true || body["running"] != false {
		t.Fatalf("health: %d %v", code, body)
	}
}

func TestEngineStartWithoutScript(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodPost, "/api/v1/engine/start", nil)
	if code != http.StatusBadRequest || body["error"] == nil {
		t.Fatalf("start: %d %v", code, body)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/v1/engine/start", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET start: %d", code)
	}
	code, body = ts.do(t, http.MethodGet, "/api/v1/engine/state", nil)
	data, _ := body["data"].(map[string]any)
	if code != http.StatusOK || data["running"] != false {
		t.Fatalf("state: %d %v", code, body)
	}
}

func TestEmailSettingsMasksAuthCode(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodPost, "/api/v1/settings/email", map[string]any{
		"enabled": true, "email": " bot@qq.com ", "authCode": "secret",
	})
	data, _ := body["data"].(map[string]any)
	if code != http.StatusOK || data["authCode"] != maskedAuthCode || data["email"] != "bot@qq.com" {
		t.Fatalf("post: %d %v", code, body)
	}

	// Echoing the mask back must not overwrite the stored code.
	ts.do(t, http.MethodPost, "/api/v1/settings/email", map[string]any{"authCode": maskedAuthCode})
	got, _, err := ts.store.GetEmailSettings(context.Background())
	if err != nil || got.AuthCode != "secret" {
		t.Fatalf("stored settings %+v err=%v", got, err)
	}

	code, _ = ts.do(t, http.MethodPost, "/api/v1/settings/email", map[string]any{"unknown": 1})
	if code != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", code)
	}
}

func TestEmailTestSendsOneEvent(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodPost, "/api/v1/settings/email/test", map[string]any{"email": "me@163.com", "authCode": "x"})
	if code != http.StatusOK {
		t.Fatalf("test mail: %d %v", code, body)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.sent) != 1 || len(ts.sent[0]) != 1 || ts.sent[0][0].Kind != notify.EventAcquisitionDone {
		t.Fatalf("unexpected mail %+v", ts.sent)
	}
}

func TestListsReturnArrays(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/v1/rounds", "/api/v1/trades", "/api/v1/recoveries"} {
		code, body := ts.do(t, http.MethodGet, path, nil)
		if _, ok := body["data"].([]any); code != http.StatusOK || !ok {
			t.Errorf("%s: %d %v", path, code, body)
		}
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/v1/trades?limit=x", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit: %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/v1/trades/summary", nil); code != http.StatusBadRequest {
		t.Errorf("summary without session: %d", code)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	for origin, want := range map[string]int{
		"http://localhost:5173": http.StatusNoContent,
		"http://evil.example":   http.StatusForbidden,
	} {
		req, _ := http.NewRequest(http.MethodOptions, ts.srv.URL+"/api/v1/engine/state", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("origin %s: status %d want %d", origin, resp.StatusCode, want)
		}
	}
}
