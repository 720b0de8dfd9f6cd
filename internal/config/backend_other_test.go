//go:build !darwin

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qsettings", "config.json")

	b := newFileBackend(path)
	if err := setKey(b, "server.port", "4300"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "tray.items", "nfc,volume"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "settings.seed_overwrite", "true"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("config file is not JSON: %v", err)
	}
	if onDisk["server.port"] != float64(4300) || onDisk["settings.seed_overwrite"] != true {
		t.Errorf("config file = %s", raw)
	}
	if items, ok := onDisk["tray.items"].([]any); !ok || len(items) != 2 {
		t.Errorf("tray.items stored as %T, want a JSON array", onDisk["tray.items"])
	}

	reloaded := newFileBackend(path)
	cfg := defaults()
	if err := applyBackend(&cfg, reloaded); err != nil {
		t.Fatalf("applyBackend: %v", err)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("Server.Port = %d, want 4300", cfg.Server.Port)
	}
	if len(cfg.Tray.Items) != 2 || cfg.Tray.Items[1] != "volume" {
		t.Errorf("Tray.Items = %v", cfg.Tray.Items)
	}
	if !cfg.Settings.SeedOverwrite {
		t.Error("Settings.SeedOverwrite = false, want true")
	}

	if err := reloaded.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newFileBackend(path).Get("server.port", kInt); ok {
		t.Error("server.port should be deleted")
	}
}

func TestFileBackend_InvalidInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server.port": 12.5}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := defaults()
	if err := applyBackend(&cfg, newFileBackend(path)); err == nil {
		t.Error("expected error for non-integer port")
	}
}

func TestFileSecretStore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "qsettings"), 0o700); err != nil {
		t.Fatal(err)
	}
	secrets := `{"qsettings": {"api_token": "  file-token\n"}}`
	if err := os.WriteFile(filepath.Join(dir, "qsettings", "secrets.json"), []byte(secrets), 0o600); err != nil {
		t.Fatal(err)
	}

	ss := newSecretStore()
	got, err := ss.Get("qsettings", "api_token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "file-token" {
		t.Errorf("token = %q", got)
	}
	if _, err := ss.Get("qsettings", "missing"); err == nil {
		t.Error("expected error for missing account")
	}
}

func TestFileSecretStore_SetCreatesFile(t *testing.T) {
	t.Setenv("QSETTINGS_API_TOKEN", "")
	path := filepath.Join(t.TempDir(), "qsettings", "secrets.json")
	ss := fileSecretStore{path: path}

	if _, err := ss.Get("qsettings", "api_token"); err == nil {
		t.Fatal("expected error before the file exists")
	}
	if err := setToken(ss, "abc123"); err != nil {
		t.Fatalf("setToken: %v", err)
	}
	if err := ss.Set("other", "key", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}

	cfg, err := loadWith(newMapBackend(), ss)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Token != "abc123" {
		t.Errorf("Server.Token = %q, want abc123", cfg.Server.Token)
	}
	if v, _ := ss.Get("other", "key"); v != "v" {
		t.Errorf("other/key = %q", v)
	}
}
