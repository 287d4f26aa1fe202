// Package summarizer produces periodic short rollups and a once-daily
// collation by asking the chat LLM to structure a window of captured
// traces.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TokenRollAI/engram/internal/config"
	"github.com/TokenRollAI/engram/internal/entityextract"
	"github.com/TokenRollAI/engram/internal/logging"
	"github.com/TokenRollAI/engram/internal/types"
)

const (
	maxTracesPerTick = 100
	maxContextBlocks = 50
	ocrSnippetChars  = 200
)

// Store is the subset of *store.Store the task depends on.
type Store interface {
	TracesInRange(start, end int64, limit int) ([]types.Trace, error)
	InsertSummary(summary types.Summary) (int64, error)
	ListSummaries(summaryType types.SummaryType, start, end int64, limit int) ([]types.Summary, error)
	LastDailySummaryDate() (int64, error)
	UpsertEntity(name string, entityType types.EntityType, seenAt int64) (int64, error)
}

// ChatLLM is the chat half of the pipeline.
type ChatLLM interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// structuredResult is the rigid JSON shape requested of the chat LLM.
type structuredResult struct {
	Content           string                         `json:"content"`
	Topics            []string                       `json:"topics"`
	Entities          []types.SummaryEntityMention   `json:"entities"`
	Links             []string                       `json:"links"`
	ActivityBreakdown []types.ActivityBreakdown      `json:"activity_breakdown"`
}

// Task periodically rolls up captured traces into short summaries, and
// once a day collates the day's short summaries into a daily summary.
type Task struct {
	cfg      *config.Manager
	store    Store
	llm      ChatLLM
	fallback *entityextract.Extractor

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// New builds a Task.
func New(cfg *config.Manager, st Store, chatLLM ChatLLM) *Task {
	return &Task{cfg: cfg, store: st, llm: chatLLM, fallback: entityextract.New()}
}

// Start begins the periodic rollup loop in a background goroutine.
func (t *Task) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run()
	logging.Info("summarizer", "task started")
}

// Stop halts the loop, letting the in-flight tick finish.
func (t *Task) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopChan)
	t.mu.Unlock()

	t.wg.Wait()
	logging.Info("summarizer", "task stopped")
}

func (t *Task) run() {
	defer t.wg.Done()

	cfg := t.cfg.Snapshot()
	ticker := time.NewTicker(time.Duration(cfg.SummaryIntervalMin) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case now := <-ticker.C:
			cur := t.cfg.Snapshot()
			if cur.SummaryIntervalMin != cfg.SummaryIntervalMin {
				cfg = cur
				ticker.Reset(time.Duration(cfg.SummaryIntervalMin) * time.Minute)
			}
			if err := t.RunShortTick(now); err != nil {
				logging.Error("summarizer", "short tick: %v", err)
			}
			if err := t.maybeRunDailyTick(now, cur); err != nil {
				logging.Error("summarizer", "daily tick: %v", err)
			}
		}
	}
}

// RunShortTick gathers the last interval's traces, asks the chat LLM to
// structure them, and persists a short summary.
func (t *Task) RunShortTick(now time.Time) error {
	cfg := t.cfg.Snapshot()
	end := now.UnixMilli()
	start := now.Add(-time.Duration(cfg.SummaryIntervalMin) * time.Minute).UnixMilli()

	traces, err := t.store.TracesInRange(start, end, maxTracesPerTick)
	if err != nil {
		return fmt.Errorf("gather traces: %w", err)
	}
	if len(traces) == 0 {
		return nil
	}

	contextText := buildTraceContext(traces)
	result, err := t.structure(contextText)
	if err != nil {
		return fmt.Errorf("structure short summary: %w", err)
	}

	return t.persist(types.SummaryShort, start, end, len(traces), result)
}

// maybeRunDailyTick produces one daily rollup per UTC day, at or after
// DailySummaryUTCHour, collating the day's short summaries plus its traces.
func (t *Task) maybeRunDailyTick(now time.Time, cfg config.Config) error {
	utcNow := now.UTC()
	if utcNow.Hour() < cfg.DailySummaryUTCHour {
		return nil
	}

	dayStart := time.Date(utcNow.Year(), utcNow.Month(), utcNow.Day(), 0, 0, 0, 0, time.UTC)
	lastDaily, err := t.store.LastDailySummaryDate()
	if err != nil {
		return fmt.Errorf("read last daily date: %w", err)
	}
	if lastDaily >= dayStart.UnixMilli() {
		return nil // already produced today's daily rollup
	}

	dayEnd := dayStart.Add(24 * time.Hour).UnixMilli()
	shorts, err := t.store.ListSummaries(types.SummaryShort, dayStart.UnixMilli(), dayEnd, maxContextBlocks)
	if err != nil {
		return fmt.Errorf("list short summaries: %w", err)
	}
	traces, err := t.store.TracesInRange(dayStart.UnixMilli(), dayEnd, maxTracesPerTick)
	if err != nil {
		return fmt.Errorf("gather day traces: %w", err)
	}
	if len(shorts) == 0 && len(traces) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Short summaries from today:\n")
	for _, s := range shorts {
		b.WriteString("- " + s.Content + "\n")
	}
	b.WriteString(buildTraceContext(traces))

	result, err := t.structure(b.String())
	if err != nil {
		return fmt.Errorf("structure daily summary: %w", err)
	}
	return t.persist(types.SummaryDaily, dayStart.UnixMilli(), dayEnd, len(traces), result)
}

func (t *Task) structure(contextText string) (structuredResult, error) {
	system := `You produce a structured JSON rollup of a user's recent desktop activity. ` +
		`Respond with one JSON object only, matching: ` +
		`{"content": string, "topics": string[], "entities": [{"name": string, "type": "person"|"project"|"technology"|"url"|"file", "confidence": number}], "links": string[], "activity_breakdown": [{"activity_type": string, "count": number}]}`

	raw, err := t.llm.Chat(context.Background(), system, contextText)
	if err != nil {
		return structuredResult{}, fmt.Errorf("chat: %w", err)
	}

	var result structuredResult
	if err := json.Unmarshal([]byte(stripFence(raw)), &result); err != nil {
		logging.Warn("summarizer", "structured parse failed, falling back to plain content + local NER: %v", err)
		result = structuredResult{Content: raw}
		for _, ent := range t.fallback.Extract(contextText) {
			result.Entities = append(result.Entities, types.SummaryEntityMention{Name: ent.Name, Type: ent.Type, Confidence: 0.5})
		}
	}
	return result, nil
}

func (t *Task) persist(summaryType types.SummaryType, start, end int64, traceCount int, result structuredResult) error {
	structuredJSON, err := json.Marshal(types.StructuredSummary{
		Topics:            result.Topics,
		Links:             result.Links,
		ActivityBreakdown: result.ActivityBreakdown,
		Entities:          result.Entities,
	})
	if err != nil {
		return fmt.Errorf("marshal structured data: %w", err)
	}

	if _, err := t.store.InsertSummary(types.Summary{
		StartTime: start, EndTime: end, SummaryType: summaryType,
		Content: result.Content, StructuredData: string(structuredJSON), TraceCount: traceCount,
	}); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, e := range result.Entities {
		if e.Name == "" {
			continue
		}
		if _, err := t.store.UpsertEntity(e.Name, e.Type, now); err != nil {
			logging.Error("summarizer", "upsert entity %q: %v", e.Name, err)
		}
	}
	return nil
}

func buildTraceContext(traces []types.Trace) string {
	var b strings.Builder
	n := traces
	if len(n) > maxContextBlocks {
		n = n[:maxContextBlocks]
	}
	for _, tr := range n {
		snippet := tr.OCRText
		if len(snippet) > ocrSnippetChars {
			snippet = snippet[:ocrSnippetChars]
		}
		b.WriteString(fmt.Sprintf("[%s] %s — %s\n%s\n---\n",
			time.UnixMilli(tr.Timestamp).Format("15:04:05"), tr.AppName, tr.WindowTitle, snippet))
	}
	return b.String()
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
