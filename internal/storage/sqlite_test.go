package storage

import (
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not ascending: %v", versions)
		}
	}
}

func TestGetSetting_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSetting("nfc.enabled")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetSettings_Upsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetSettings(map[string]string{"nfc.enabled": "true", "audio.volume.notification": "7"}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	if err := s.SetSettings(map[string]string{"nfc.enabled": "false"}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}

	got, err := s.GetSetting("nfc.enabled")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got.Value != "false" {
		t.Errorf("Value = %q, want %q", got.Value, "false")
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	all, err := s.ListSettings()
	if err != nil {
		t.Fatalf("ListSettings: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 settings, got %d", len(all))
	}
	if all[0].Key != "audio.volume.notification" || all[1].Key != "nfc.enabled" {
		t.Errorf("unexpected order: %s, %s", all[0].Key, all[1].Key)
	}
}

func TestSetSettings_EmptyIsNoop(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetSettings(nil); err != nil {
		t.Fatalf("SetSettings(nil): %v", err)
	}
	all, err := s.ListSettings()
	if err != nil {
		t.Fatalf("ListSettings: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no settings, got %d", len(all))
	}
}

func TestDeleteSetting(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetSettings(map[string]string{"ums.enabled": "true"}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	if err := s.DeleteSetting("ums.enabled"); err != nil {
		t.Fatalf("DeleteSetting: %v", err)
	}
	if _, err := s.GetSetting("ums.enabled"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteSetting("ums.enabled"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	for _, v := range []string{"1", "5", "15"} {
		if err := s.SetSettings(map[string]string{"audio.volume.notification": v}); err != nil {
			t.Fatalf("SetSettings: %v", err)
		}
	}

	hist, err := s.History("audio.volume.notification", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[0].Value != "15" || hist[1].Value != "5" {
		t.Errorf("unexpected history order: %q, %q", hist[0].Value, hist[1].Value)
	}
}

func TestPruneHistory_KeepsNewestPerKey(t *testing.T) {
	s := openTestStore(t)

	for _, v := range []string{"1", "2", "3", "4"} {
		if err := s.SetSettings(map[string]string{"screen.brightness": v, "ums.enabled": "true"}); err != nil {
			t.Fatalf("SetSettings: %v", err)
		}
	}

	n, err := s.PruneHistory(2)
	if err != nil {
		t.Fatalf("PruneHistory: %v", err)
	}
	if n != 4 {
		t.Errorf("pruned %d rows, want 4", n)
	}

	hist, err := s.History("screen.brightness", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Value != "4" || hist[1].Value != "3" {
		t.Errorf("unexpected history after prune: %+v", hist)
	}

	if n, err := s.PruneHistory(0); err != nil || n != 0 {
		t.Errorf("PruneHistory(0) = %d, %v; want no-op", n, err)
	}
}
