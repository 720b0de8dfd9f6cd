package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/quicksettings/internal/eventloop"
	"github.com/kalambet/quicksettings/internal/host"
	"github.com/kalambet/quicksettings/internal/observer"
	"github.com/kalambet/quicksettings/internal/settings"
	"github.com/kalambet/quicksettings/internal/storage"
	"github.com/kalambet/quicksettings/internal/tray"
)

const testToken = "test-token-12345"

type testEnv struct {
	svc      *settings.Service
	store    *storage.Store
	observer *observer.Observer
	tray     *tray.Tray
	handler  http.Handler
}

// setupEnv wires a SQLite-backed service, a running loop and a rendered tray.
func setupEnv(t *testing.T, token string, initial map[string]any) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := settings.NewService(settings.NewSQLiteBackend(store), settings.WithReadOnly("nfc.status"))
	t.Cleanup(func() { svc.Close() })
	if _, err := svc.Seed(context.Background(), initial, true); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	loop := eventloop.New()
	go loop.Run(ctx)

	obs := observer.New(svc, loop)
	tr := tray.New(tray.Deps{
		Observer:  obs,
		Scheduler: loop,
		Launcher:  host.LogLauncher{},
	}, tray.Options{})
	if err := tr.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}
	waitFor(t, func() bool { return len(tr.Snapshot().Buttons) > 0 })

	return &testEnv{
		svc:      svc,
		store:    store,
		observer: obs,
		tray:     tr,
		handler: NewHandler(Deps{
			Settings: svc,
			Observer: obs,
			Tray:     tr,
			History:  store,
			Token:    token,
		}),
	}
}

func (e *testEnv) stored(t *testing.T, key string) any {
	t.Helper()
	all, err := e.svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return all[key]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
