// Package vlmpool runs the asynchronous VLM enrichment pipeline: pull
// traces awaiting analysis, build a prompt context, call the VLM, derive an
// embedding, and route the trace into an activity session.
package vlmpool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TokenRollAI/engram/internal/config"
	"github.com/TokenRollAI/engram/internal/llm"
	"github.com/TokenRollAI/engram/internal/logging"
	"github.com/TokenRollAI/engram/internal/store"
	"github.com/TokenRollAI/engram/internal/types"
)

const (
	maxContextChars    = 262_144
	recentTraceSnippet = 220
	recentTraceCount   = 2
	keyActionsInPrompt = 3
)

// Store is the subset of *store.Store the pool depends on.
type Store interface {
	PendingOcrTraces(limit int) ([]types.Trace, error)
	GetActiveSessionsForRouting(now, windowMs int64, max int) ([]store.ActiveSessionInfo, error)
	GetActiveSessionLastEmbeddings(now, windowMs int64, max int) ([]store.SessionLastEmbedding, error)
	RecentTraces(n int) ([]types.Trace, error)
	CreateSession(appName string, ts int64) (int64, error)
	UpdateTraceOcrText(traceID int64, text string) error
	UpdateTraceEmbedding(traceID int64, embedding []float32) error
	UpdateTraceVlmAnalysis(traceID int64, summary, action string, activityType types.ActivityType, confidence float64, entitiesJSON, rawJSON string, isKeyAction bool) error
	UpdateActivitySessionFromVlm(sessionID, traceID, ts int64, summary, action string, activityType types.ActivityType, entities []string, isKeyAction bool, embedding []float32, newTitle, newDescription string) error
}

var _ Store = (*store.Store)(nil)

// VlmAnalyzer is the image+text half of the pipeline.
type VlmAnalyzer interface {
	Analyze(ctx context.Context, jpegBytes []byte, hash [8]byte, promptText string) (llm.VlmResult, error)
}

// Embedder is the text-embedding half of the pipeline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pool is the asynchronous VLM worker pool: it batches pending traces and
// fans them out across a bounded number of concurrent analyze calls.
type Pool struct {
	cfg      *config.Manager
	store    Store
	vlm      VlmAnalyzer
	embedder Embedder

	failedCount int64

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// New builds a Pool.
func New(cfg *config.Manager, st Store, vlm VlmAnalyzer, embedder Embedder) *Pool {
	return &Pool{cfg: cfg, store: st, vlm: vlm, embedder: embedder}
}

// Start begins the periodic puller in a background goroutine.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()
	logging.Info("vlm", "worker pool started")
}

// Stop halts the puller and waits for in-flight work to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info("vlm", "worker pool stopped")
}

// FailedCount returns the cumulative number of traces that errored out of
// the pipeline (still eligible for retry next tick).
func (p *Pool) FailedCount() int64 { return atomic.LoadInt64(&p.failedCount) }

func (p *Pool) run() {
	defer p.wg.Done()

	cfg := p.cfg.Snapshot()
	ticker := time.NewTicker(time.Duration(cfg.VlmTaskIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			cur := p.cfg.Snapshot()
			if cur.VlmTaskIntervalMs != cfg.VlmTaskIntervalMs {
				cfg = cur
				ticker.Reset(time.Duration(cfg.VlmTaskIntervalMs) * time.Millisecond)
			}
			p.RunOnce(cur)
		}
	}
}

// RunOnce fetches and processes one batch immediately. Exported so callers
// such as tests can drive a tick without waiting on the ticker.
func (p *Pool) RunOnce(cfg config.Config) {
	if !cfg.VlmEnabled {
		return
	}

	traces, err := p.store.PendingOcrTraces(cfg.VlmBatchSize)
	if err != nil {
		logging.Error("vlm", "fetch pending traces: %v", err)
		return
	}
	if len(traces) == 0 {
		return
	}

	sem := make(chan struct{}, maxInt(cfg.VlmConcurrency, 1))
	var wg sync.WaitGroup
	for _, t := range traces {
		t := t
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.processTrace(context.Background(), cfg, t); err != nil {
				atomic.AddInt64(&p.failedCount, 1)
				logging.Error("vlm", "trace %d: %v", t.ID, err)
			}
		}()
	}
	wg.Wait()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (p *Pool) processTrace(ctx context.Context, cfg config.Config, trace types.Trace) error {
	jpegBytes, err := os.ReadFile(trace.ImagePath)
	if err != nil {
		return fmt.Errorf("read screenshot: %w", err)
	}

	activeSessions, err := p.store.GetActiveSessionsForRouting(trace.Timestamp, cfg.Session.ActiveWindowMs, cfg.Session.MaxActiveSessions)
	if err != nil {
		return fmt.Errorf("get active sessions: %w", err)
	}
	recent, err := p.store.RecentTraces(recentTraceCount)
	if err != nil {
		return fmt.Errorf("get recent traces: %w", err)
	}

	prompt := buildPrompt(trace, activeSessions, recent)

	result, err := p.vlm.Analyze(ctx, jpegBytes, trace.Phash, prompt)
	if err != nil {
		return fmt.Errorf("vlm analyze: %w", err)
	}

	ocrText := result.TextContent
	if ocrText == "" {
		ocrText = result.Summary
	}
	embedInput := strings.Join([]string{result.Summary, result.TextContent, result.DetectedApp, strings.Join(result.Entities, " ")}, " | ")

	embedding, err := p.embedder.Embed(ctx, embedInput)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	sessionID, err := p.routeSession(trace, cfg, result, activeSessions, embedding)
	if err != nil {
		return fmt.Errorf("route session: %w", err)
	}

	if err := p.store.UpdateTraceOcrText(trace.ID, ocrText); err != nil {
		return fmt.Errorf("update ocr text: %w", err)
	}
	if err := p.store.UpdateTraceEmbedding(trace.ID, embedding); err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}

	entitiesJSON, _ := json.Marshal(result.Entities)
	if err := p.store.UpdateTraceVlmAnalysis(trace.ID, result.Summary, result.ActionDescription, types.ActivityType(result.ActivityType), result.Confidence, string(entitiesJSON), result.RawResponse, result.IsKeyAction); err != nil {
		return fmt.Errorf("update vlm analysis: %w", err)
	}

	if err := p.store.UpdateActivitySessionFromVlm(sessionID, trace.ID, trace.Timestamp, result.Summary, result.ActionDescription, types.ActivityType(result.ActivityType), result.Entities, result.IsKeyAction, embedding, result.SessionTitle, result.SessionDescription); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return nil
}

// routeSession picks which activity session a freshly analyzed trace
// belongs to: an explicit verdict from the VLM wins, then the closest active
// session by embedding similarity, then a brand-new session.
func (p *Pool) routeSession(trace types.Trace, cfg config.Config, result llm.VlmResult, active []store.ActiveSessionInfo, embedding []float32) (int64, error) {
	if result.ExistingSessionID != nil {
		for _, a := range active {
			if a.ID == *result.ExistingSessionID {
				return a.ID, nil
			}
		}
	}

	lastEmbeddings, err := p.store.GetActiveSessionLastEmbeddings(trace.Timestamp, cfg.Session.ActiveWindowMs, cfg.Session.MaxActiveSessions)
	if err != nil {
		return 0, fmt.Errorf("get last embeddings: %w", err)
	}
	bestID := int64(0)
	bestScore := -1.0
	for _, e := range lastEmbeddings {
		score := llm.CosineSimilarity(embedding, e.Embedding)
		if score > bestScore {
			bestScore = score
			bestID = e.SessionID
		}
	}
	if bestID != 0 && bestScore >= cfg.Session.SimilarityThreshold {
		return bestID, nil
	}

	appName := result.DetectedApp
	if appName == "" {
		appName = trace.AppName
	}
	if appName == "" {
		appName = "unknown"
	}
	return p.store.CreateSession(appName, trace.Timestamp)
}

// buildPrompt assembles the VLM context (trace, active sessions, recent
// captures), tail-trimmed to 262,144 characters.
func buildPrompt(trace types.Trace, active []store.ActiveSessionInfo, recent []types.Trace) string {
	var b strings.Builder

	b.WriteString("You are analyzing one desktop screenshot. Respond with a single JSON object only, no prose, matching this shape:\n")
	b.WriteString(`{"summary": string (<=50 chars), "text_content": string, "detected_app": string, "activity_type": "coding"|"browsing"|"reading"|"writing"|"communication"|"media"|"other", "entities": string[], "confidence": number, "is_key_action": bool, "action_description": string, "existing_session_id": number|null, "session_title": string, "session_description": string}`)
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Trace: app=%q window=%q time=%s\n\n", trace.AppName, trace.WindowTitle, time.UnixMilli(trace.Timestamp).Format("15:04:05")))

	if len(active) > 0 {
		b.WriteString("Active sessions (pick existing_session_id if one of these continues, else null):\n")
		for _, a := range active {
			b.WriteString(fmt.Sprintf("- id=%d title=%q app=%q range=[%s,%s] traces=%d desc=%q\n",
				a.ID, a.Title, a.AppName,
				time.UnixMilli(a.StartTime).Format("15:04"), time.UnixMilli(a.EndTime).Format("15:04"),
				a.TraceCount, a.Description))
			for _, line := range lastKeyActionLines(a.KeyActionsJSON, keyActionsInPrompt) {
				b.WriteString("    " + line + "\n")
			}
		}
		b.WriteString("\n")
	}

	if len(recent) > 0 {
		b.WriteString("Most recent captures:\n")
		n := recent
		if len(n) > recentTraceCount {
			n = n[:recentTraceCount]
		}
		for _, t := range n {
			snippet := t.OCRText
			if len(snippet) > recentTraceSnippet {
				snippet = snippet[:recentTraceSnippet]
			}
			b.WriteString(fmt.Sprintf("- %s\n", snippet))
		}
	}

	out := b.String()
	if len(out) > maxContextChars {
		out = out[len(out)-maxContextChars:]
	}
	return out
}

func lastKeyActionLines(keyActionsJSON string, n int) []string {
	if keyActionsJSON == "" {
		return nil
	}
	var actions []types.KeyAction
	if err := json.Unmarshal([]byte(keyActionsJSON), &actions); err != nil {
		return nil
	}
	if len(actions) > n {
		actions = actions[len(actions)-n:]
	}
	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		lines = append(lines, fmt.Sprintf("[%s] %s", time.UnixMilli(a.Timestamp).Format("15:04"), a.Summary))
	}
	return lines
}
