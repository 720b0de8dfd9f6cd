package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func makeLED(t *testing.T, dir, name, max string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "brightness"), []byte("0"), 0o644); err != nil {
		t.Fatal(err)
	}
	if max != "" {
		if err := os.WriteFile(filepath.Join(p, "max_brightness"), []byte(max+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func readBrightness(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(p, "brightness"))
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(data))
}

func TestLEDCameras_ListFiltersFlashDevices(t *testing.T) {
	dir := t.TempDir()
	makeLED(t, dir, "white:torch", "255")
	makeLED(t, dir, "led:flash", "")
	makeLED(t, dir, "lcd-backlight", "255")

	ids, err := LEDCameras{Dir: dir}.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 || ids[0] != "led:flash" || ids[1] != "white:torch" {
		t.Errorf("ids = %v", ids)
	}
}

func TestLEDCameras_ListMissingDir(t *testing.T) {
	ids, err := LEDCameras{Dir: filepath.Join(t.TempDir(), "none")}.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}
}

func TestLEDCamera_TorchAndRelease(t *testing.T) {
	dir := t.TempDir()
	p := makeLED(t, dir, "white:torch", "255")

	cams := LEDCameras{Dir: dir}
	cam, err := cams.Get(context.Background(), "white:torch", CameraOptions{Mode: "video"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := cam.SetFlashMode(FlashTorch); err != nil {
		t.Fatalf("SetFlashMode: %v", err)
	}
	if got := readBrightness(t, p); got != "255" {
		t.Errorf("brightness = %s, want 255", got)
	}

	if err := cam.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := readBrightness(t, p); got != "0" {
		t.Errorf("brightness after release = %s, want 0", got)
	}
	if err := cam.SetFlashMode(FlashTorch); err == nil {
		t.Error("SetFlashMode after Release should fail")
	}
	if err := cam.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestLEDCameras_GetErrors(t *testing.T) {
	cams := LEDCameras{Dir: t.TempDir()}
	if _, err := cams.Get(context.Background(), "", CameraOptions{}); err != ErrNoCamera {
		t.Errorf("empty id: got %v, want ErrNoCamera", err)
	}
	if _, err := cams.Get(context.Background(), "missing", CameraOptions{}); err == nil {
		t.Error("missing device: expected error")
	}
}

func TestWebhookLauncher(t *testing.T) {
	var got Activity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	l := NewWebhookLauncher(srv.URL)
	err := l.Launch(context.Background(), Activity{
		Name: "configure",
		Data: map[string]any{"target": "device", "section": "developer"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if got.Name != "configure" || got.Data["section"] != "developer" {
		t.Errorf("received %+v", got)
	}
}

func TestWebhookLauncher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewWebhookLauncher(srv.URL).Launch(context.Background(), Activity{Name: "configure"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestLogLauncher(t *testing.T) {
	if err := (LogLauncher{}).Launch(context.Background(), Activity{Name: "configure"}); err != nil {
		t.Errorf("LogLauncher: %v", err)
	}
}
