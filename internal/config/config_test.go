package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := m.Snapshot()
	if snap.CaptureIntervalMs != 2000 {
		t.Fatalf("expected default capture_interval_ms 2000, got %d", snap.CaptureIntervalMs)
	}
	if snap.CaptureMode != PrimaryMonitor {
		t.Fatalf("expected default capture_mode %q, got %q", PrimaryMonitor, snap.CaptureMode)
	}
	if snap.Session.SimilarityThreshold != 0.72 {
		t.Fatalf("expected default session similarity threshold 0.72, got %v", snap.Session.SimilarityThreshold)
	}
}

func TestLoadReadsOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := "capture_interval_ms = 9999\ncapture_mode = \"active_window\"\n\n[session]\nsimilarity_threshold = 0.5\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture config: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := m.Snapshot()
	if snap.CaptureIntervalMs != 9999 {
		t.Fatalf("expected overridden capture_interval_ms 9999, got %d", snap.CaptureIntervalMs)
	}
	if snap.CaptureMode != ActiveWindow {
		t.Fatalf("expected overridden capture_mode %q, got %q", ActiveWindow, snap.CaptureMode)
	}
	if snap.Session.SimilarityThreshold != 0.5 {
		t.Fatalf("expected overridden session similarity threshold 0.5, got %v", snap.Session.SimilarityThreshold)
	}
}

func TestReloadPicksUpChangedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("summary_interval_min = 5\n"), 0o644); err != nil {
		t.Fatalf("write fixture config: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Snapshot().SummaryIntervalMin; got != 5 {
		t.Fatalf("expected initial summary_interval_min 5, got %d", got)
	}

	if err := os.WriteFile(path, []byte("summary_interval_min = 30\n"), 0o644); err != nil {
		t.Fatalf("rewrite fixture config: %v", err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := m.Snapshot().SummaryIntervalMin; got != 30 {
		t.Fatalf("expected reloaded summary_interval_min 30, got %d", got)
	}
}

func TestReloadMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload on a still-missing file should not error, got: %v", err)
	}
}
