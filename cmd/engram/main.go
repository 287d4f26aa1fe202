// Command engram is the capture daemon: it ticks the screen-sampling loop,
// the VLM enrichment pool, and the periodic summarizer against a shared
// SQLite store. cmd/engram-mcp opens its own connection to the same
// database to serve reads, so this process owns writes only.
package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/TokenRollAI/engram/internal/capture"
	"github.com/TokenRollAI/engram/internal/config"
	"github.com/TokenRollAI/engram/internal/focusprobe"
	"github.com/TokenRollAI/engram/internal/idle"
	"github.com/TokenRollAI/engram/internal/llm"
	"github.com/TokenRollAI/engram/internal/logging"
	"github.com/TokenRollAI/engram/internal/screencapture"
	"github.com/TokenRollAI/engram/internal/store"
	"github.com/TokenRollAI/engram/internal/summarizer"
	"github.com/TokenRollAI/engram/internal/vlmpool"
)

// checkPidFile kills a stale engram process named in the pid file, if one
// is still running, then writes our own pid. Returns the cleanup func to remove it.
func checkPidFile(dataDir string) func() {
	pidFile := filepath.Join(dataDir, "engram.pid")

	if data, err := os.ReadFile(pidFile); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, err := strconv.Atoi(pidStr); err == nil {
			if proc, err := process.NewProcess(int32(pid)); err == nil {
				if running, _ := proc.IsRunning(); running {
					name, _ := proc.Name()
					if strings.Contains(name, "engram") {
						log.Printf("[main] killing stale engram process (pid=%d)", pid)
						proc.Kill()
						time.Sleep(500 * time.Millisecond)
					}
				}
			}
		}
		os.Remove(pidFile)
	}

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Printf("[main] warning: failed to write pid file: %v", err)
	}
	return func() { os.Remove(pidFile) }
}

func main() {
	log.Println("engram - local-first screen memory daemon")

	if err := godotenv.Load(); err != nil {
		log.Println("[config] no .env file found, using environment variables")
	}

	dataDir := os.Getenv("ENGRAM_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".engram")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	cleanupPid := checkPidFile(dataDir)
	defer cleanupPid()

	if info, err := host.Info(); err == nil {
		log.Printf("[main] host=%s os=%s platform=%s", info.Hostname, info.OS, info.Platform)
	}

	cfg, err := config.Load(filepath.Join(dataDir, "config.toml"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, err := store.Open(filepath.Join(dataDir, "engram.db"))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	snap := cfg.Snapshot()

	embedder := llm.NewEmbeddingClient(snap.EmbeddingEndpoint, snap.EmbeddingAPIKey, snap.EmbeddingModel)
	vlmClient := llm.NewVlmClient(snap.VlmEndpoint, snap.VlmAPIKey, snap.VlmModel, snap.VlmMaxTokens, snap.VlmTemperature)

	focus := focusprobe.WithTimeout(focusprobe.NewPidEnrichedProbe(focusprobe.NullProbe), 50*time.Millisecond)
	idleDetector := idle.New(snap.IdleThresholdMs, idle.DefaultProbe)

	captureLoop := capture.New(cfg, screencapture.NullGrabber{}, focus, idleDetector, st, dataDir)
	vlmPool := vlmpool.New(cfg, st, vlmClient, embedder)
	summaryTask := summarizer.New(cfg, st, vlmClient)

	captureLoop.Start()
	vlmPool.Start()
	summaryTask.Start()

	log.Printf("[main] all subsystems started (data dir: %s). Press Ctrl+C to stop.", dataDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] shutting down...")
	summaryTask.Stop()
	vlmPool.Stop()
	captureLoop.Stop()
	logging.Info("main", "goodbye")
}
