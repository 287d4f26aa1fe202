package capture

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/TokenRollAI/engram/internal/config"
	"github.com/TokenRollAI/engram/internal/idle"
	"github.com/TokenRollAI/engram/internal/types"
)

type fakeStore struct {
	inserted []types.NewTrace
}

func (f *fakeStore) InsertTrace(t types.NewTrace, gapThresholdMs int64) (int64, int64, bool, error) {
	f.inserted = append(f.inserted, t)
	return int64(len(f.inserted)), 0, false, nil
}

func testManager(t *testing.T) *config.Manager {
	t.Helper()
	m, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return m
}

func TestCaptureNowInsertsTrace(t *testing.T) {
	fs := &fakeStore{}
	l := New(testManager(t), nil, nil, idle.New(30_000, idle.DefaultProbe), fs, t.TempDir())

	if err := l.CaptureNow(); err != nil {
		t.Fatalf("CaptureNow: %v", err)
	}
	if len(fs.inserted) != 1 {
		t.Fatalf("expected 1 trace inserted, got %d", len(fs.inserted))
	}

	status := l.Status()
	if status.TotalCapturesToday != 1 {
		t.Fatalf("expected TotalCapturesToday=1, got %d", status.TotalCapturesToday)
	}
}

func TestCaptureNowSkipsWhenIdle(t *testing.T) {
	fs := &fakeStore{}
	det := idle.New(0, func() time.Duration { return time.Second })
	l := New(testManager(t), nil, nil, det, fs, t.TempDir())

	if err := l.CaptureNow(); err != nil {
		t.Fatalf("CaptureNow: %v", err)
	}
	if len(fs.inserted) != 0 {
		t.Fatalf("expected capture to be skipped while idle, got %d inserts", len(fs.inserted))
	}
	if !l.Status().IsIdle {
		t.Fatalf("expected Status().IsIdle = true")
	}
}

func TestSetPausedSkipsCapture(t *testing.T) {
	fs := &fakeStore{}
	l := New(testManager(t), nil, nil, idle.New(30_000, idle.DefaultProbe), fs, t.TempDir())
	l.SetPaused(true)

	if err := l.CaptureNow(); err != nil {
		t.Fatalf("CaptureNow: %v", err)
	}
	if len(fs.inserted) != 0 {
		t.Fatalf("expected no capture while paused, got %d", len(fs.inserted))
	}
}
