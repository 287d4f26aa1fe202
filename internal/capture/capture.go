// Package capture drives the periodic screen-sampling loop: tick, check
// pause/idle state, grab a frame, dedup by perceptual hash, enrich with
// focus context, persist to disk, and hand the trace to the store.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TokenRollAI/engram/internal/config"
	"github.com/TokenRollAI/engram/internal/focusprobe"
	"github.com/TokenRollAI/engram/internal/idle"
	"github.com/TokenRollAI/engram/internal/logging"
	"github.com/TokenRollAI/engram/internal/phash"
	"github.com/TokenRollAI/engram/internal/screencapture"
	"github.com/TokenRollAI/engram/internal/store"
	"github.com/TokenRollAI/engram/internal/types"
)

// Store is the subset of *store.Store the loop writes to. Declared as an
// interface so tests can swap in a fake without a real SQLite file.
type Store interface {
	InsertTrace(t types.NewTrace, gapThresholdMs int64) (traceID int64, sessionID int64, hasSession bool, err error)
}

var _ Store = (*store.Store)(nil)

// Status is a snapshot of the loop's atomic state.
type Status struct {
	IsRunning          bool
	IsPaused           bool
	IsIdle             bool
	IdleTimeMs         int64
	LastCaptureTime    int64
	TotalCapturesToday int
}

// modeFromConfig maps internal/config's CaptureMode (the recognized-option
// vocabulary, snake_case) onto internal/screencapture's PascalCase enum.
func modeFromConfig(m config.CaptureMode) screencapture.CaptureMode {
	switch m {
	case config.FocusedMonitor:
		return screencapture.ModeFocusedMonitor
	case config.ActiveWindow:
		return screencapture.ModeActiveWindow
	default:
		return screencapture.ModePrimaryMonitor
	}
}

// Loop owns the periodic screen-sampling ticker and everything a tick
// touches: focus probing, idle detection, dedup, and trace persistence.
type Loop struct {
	cfg      *config.Manager
	grabber  screencapture.Grabber
	focus    focusprobe.Probe
	idle     *idle.Detector
	store    Store
	dataDir  string

	mu                 sync.Mutex
	running            bool
	paused             bool
	isIdle             bool
	idleTimeMs         int64
	lastCaptureTime    int64
	lastHash           [8]byte
	hasLastHash        bool
	totalCapturesToday int
	capturesDate       string

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a Loop. dataDir is the root under which screenshots/YYYY/MM/DD
// files are written.
func New(cfg *config.Manager, grabber screencapture.Grabber, focus focusprobe.Probe, idleDetector *idle.Detector, st Store, dataDir string) *Loop {
	if grabber == nil {
		grabber = screencapture.NullGrabber{}
	}
	if focus == nil {
		focus = focusprobe.NullProbe
	}
	return &Loop{cfg: cfg, grabber: grabber, focus: focus, idle: idleDetector, store: st, dataDir: dataDir}
}

// Start begins the ticking loop in a background goroutine. Calling Start
// twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopChan = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run()
	logging.Info("capture", "loop started")
}

// Stop halts the loop and waits for the in-flight tick (if any) to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopChan)
	l.mu.Unlock()

	l.wg.Wait()
	logging.Info("capture", "loop stopped")
}

// SetPaused toggles the pause flag; a paused loop keeps ticking but skips
// every step after the pause check.
func (l *Loop) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

// Status returns a snapshot of the loop's state.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		IsRunning:          l.running,
		IsPaused:           l.paused,
		IsIdle:             l.isIdle,
		IdleTimeMs:         l.idleTimeMs,
		LastCaptureTime:    l.lastCaptureTime,
		TotalCapturesToday: l.totalCapturesToday,
	}
}

// CaptureNow runs one tick immediately, bypassing the ticker, and returns
// any error it produced (the background loop instead logs and continues).
func (l *Loop) CaptureNow() error {
	return l.tick()
}

// UpdateConfig is a no-op placeholder: the loop already reads a fresh
// config.Manager snapshot at the top of every tick, so a config edit takes
// effect on the next tick with no explicit push needed.
func (l *Loop) UpdateConfig() {}

func (l *Loop) run() {
	defer l.wg.Done()

	cfg := l.cfg.Snapshot()
	ticker := time.NewTicker(time.Duration(cfg.CaptureIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			cur := l.cfg.Snapshot()
			if cur.CaptureIntervalMs != cfg.CaptureIntervalMs {
				cfg = cur
				ticker.Reset(time.Duration(cfg.CaptureIntervalMs) * time.Millisecond)
			}
			if err := l.tick(); err != nil {
				logging.Error("capture", "tick failed: %v", err)
			}
		}
	}
}

func (l *Loop) tick() error {
	l.mu.Lock()
	paused := l.paused
	l.mu.Unlock()
	if paused {
		return nil
	}

	cfg := l.cfg.Snapshot()

	idleMs := int64(0)
	isIdle := false
	if l.idle != nil {
		idleMs = l.idle.IdleMillis()
		isIdle = l.idle.IsIdle()
	}
	l.mu.Lock()
	l.idleTimeMs = idleMs
	l.isIdle = isIdle
	l.mu.Unlock()
	if isIdle {
		return nil
	}

	focus := l.focus.Focus()

	frame, err := screencapture.Capture(l.grabber, modeFromConfig(cfg.CaptureMode), focus)
	if err != nil {
		return fmt.Errorf("capture frame: %w", err)
	}

	hash := phash.Hash(frame.Pixels, frame.Width, frame.Height)
	l.mu.Lock()
	hasLast := l.hasLastHash
	last := l.lastHash
	l.mu.Unlock()
	if hasLast && phash.HammingDistance(last, hash) < cfg.SimilarityThreshold {
		return nil
	}

	jpegBytes, err := screencapture.EncodeJPEG(frame)
	if err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}

	now := time.Now()
	ts := frame.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}
	imagePath, err := l.persist(now, ts, jpegBytes)
	if err != nil {
		return fmt.Errorf("persist screenshot: %w", err)
	}

	nt := types.NewTrace{
		Timestamp:    ts,
		ImagePath:    imagePath,
		AppName:      focus.AppName,
		WindowTitle:  focus.WindowTitle,
		IsFullscreen: focus.IsFullscreen,
		HasBounds:    focus.HasBounds,
		BoundsX:      focus.BoundsX,
		BoundsY:      focus.BoundsY,
		BoundsW:      focus.BoundsW,
		BoundsH:      focus.BoundsH,
		IsIdle:       isIdle,
		Phash:        hash,
	}
	if _, _, _, err := l.store.InsertTrace(nt, cfg.SessionGapThresholdMs); err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	dateStr := now.Format("2006-01-02")
	l.mu.Lock()
	l.lastHash = hash
	l.hasLastHash = true
	l.lastCaptureTime = ts
	if l.capturesDate != dateStr {
		l.capturesDate = dateStr
		l.totalCapturesToday = 0
	}
	l.totalCapturesToday++
	l.mu.Unlock()

	return nil
}

func (l *Loop) persist(now time.Time, ts int64, jpegBytes []byte) (string, error) {
	dir := filepath.Join(l.dataDir, "screenshots", now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.jpg", ts))
	if err := os.WriteFile(path, jpegBytes, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
