package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/quicksettings/internal/tray"
)

func dialStream(t *testing.T, srv *httptest.Server, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSettingStream_InitialThenChanges(t *testing.T) {
	env := setupEnv(t, testToken, map[string]any{"ums.enabled": false})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dialStream(t, srv, "/settings/ums.enabled/stream", testToken)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first SettingValue
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading initial frame: %v", err)
	}
	if first.Key != "ums.enabled" || first.Value != false {
		t.Errorf("initial frame = %+v", first)
	}

	rr := do(env.handler, authReq(http.MethodPut, "/settings/ums.enabled", `true`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", rr.Code)
	}

	var next SettingValue
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("reading change frame: %v", err)
	}
	if next.Value != true {
		t.Errorf("change frame = %+v", next)
	}
}

func TestSettingStream_UnsetKeySendsNull(t *testing.T) {
	env := setupEnv(t, "", nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dialStream(t, srv, "/settings/never.set/stream", "")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first SettingValue
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading initial frame: %v", err)
	}
	if first.Value != nil {
		t.Errorf("initial value = %v, want null", first.Value)
	}
}

func TestSettingStream_DisconnectUnsubscribes(t *testing.T) {
	env := setupEnv(t, "", nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	before := env.svc.ListenerCount("geolocation.enabled")
	conn := dialStream(t, srv, "/settings/geolocation.enabled/stream", "")
	waitFor(t, func() bool { return env.svc.ListenerCount("geolocation.enabled") == before+1 })

	conn.Close()
	waitFor(t, func() bool { return env.svc.ListenerCount("geolocation.enabled") == before })
}

func TestSettingStream_RequiresAuth(t *testing.T) {
	env := setupEnv(t, testToken, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/settings/ums.enabled/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestTrayStream_SnapshotThenChanges(t *testing.T) {
	env := setupEnv(t, "", nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dialStream(t, srv, "/tray/stream", "")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap tray.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("reading initial frame: %v", err)
	}
	if len(snap.Buttons) == 0 || snap.Expanded {
		t.Errorf("initial snapshot = %+v", snap)
	}

	env.tray.Toggle()
	for !snap.Expanded {
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("waiting for expanded frame: %v", err)
		}
	}
}

func TestSettingStream_QueryToken(t *testing.T) {
	env := setupEnv(t, testToken, map[string]any{"ums.enabled": true})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	conn := dialStream(t, srv, "/settings/ums.enabled/stream?token="+testToken, "")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first SettingValue
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading initial frame: %v", err)
	}
	if first.Value != true {
		t.Errorf("initial frame = %+v", first)
	}
}

func TestQueryToken_IgnoredOutsideStreams(t *testing.T) {
	env := setupEnv(t, testToken, nil)
	rr := do(env.handler, authReq(http.MethodGet, "/settings?token="+testToken, "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}
