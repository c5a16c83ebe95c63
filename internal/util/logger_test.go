package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Now().Add(-10 * time.Hour)
	names := []string{"serpent_2026-01-01.log", "serpent_2026-01-02.log", "serpent_2026-01-03.log", "serpent_2026-01-04.log"}
	for i, name := range names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
			t.Fatal(err)
		}
		mod := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "other.log"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	if removed := CleanOldLogs(dir, 2); removed != 2 {
		t.Fatalf("CleanOldLogs() removed %d, want 2", removed)
	}

	for i, name := range names {
		_, err := os.Stat(filepath.Join(dir, name))
		kept := err == nil
		if want := i >= 2; kept != want {
			t.Errorf("%s kept = %v, want %v", name, kept, want)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "other.log")); err != nil {
		t.Error("unrelated log file was removed")
	}
}

func TestCleanOldLogsNoop(t *testing.T) {
	t.Parallel()

	if n := CleanOldLogs(filepath.Join(t.TempDir(), "missing"), 3); n != 0 {
		t.Errorf("CleanOldLogs() on a missing dir = %d", n)
	}
	if n := CleanOldLogs(t.TempDir(), 0); n != 0 {
		t.Errorf("CleanOldLogs() with no limit = %d", n)
	}
}

func TestGetSystemInfo(t *testing.T) {
	t.Parallel()

	info := GetSystemInfo()
	if info.CPUCores < 1 || info.Architecture == "" || info.GoVersion == "" {
		t.Errorf("system info = %+v", info)
	}
	if usage := GetResourceUsage(); usage.Goroutines < 1 {
		t.Errorf("resource usage = %+v", usage)
	}
}
