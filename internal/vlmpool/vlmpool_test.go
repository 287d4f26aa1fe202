package vlmpool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TokenRollAI/engram/internal/config"
	"github.com/TokenRollAI/engram/internal/llm"
	"github.com/TokenRollAI/engram/internal/store"
	"github.com/TokenRollAI/engram/internal/types"
)

type fakeStore struct {
	pending        []types.Trace
	active         []store.ActiveSessionInfo
	lastEmbeddings []store.SessionLastEmbedding
	createdApp     string
	createdID      int64

	ocrText    string
	embedding  []float32
	vlmUpdated bool
	sessionID  int64
}

func (f *fakeStore) PendingOcrTraces(limit int) ([]types.Trace, error) { return f.pending, nil }
func (f *fakeStore) GetActiveSessionsForRouting(now, windowMs int64, max int) ([]store.ActiveSessionInfo, error) {
	return f.active, nil
}
func (f *fakeStore) GetActiveSessionLastEmbeddings(now, windowMs int64, max int) ([]store.SessionLastEmbedding, error) {
	return f.lastEmbeddings, nil
}
func (f *fakeStore) RecentTraces(n int) ([]types.Trace, error) { return nil, nil }
func (f *fakeStore) CreateSession(appName string, ts int64) (int64, error) {
	f.createdApp = appName
	f.createdID = 99
	return f.createdID, nil
}
func (f *fakeStore) UpdateTraceOcrText(traceID int64, text string) error {
	f.ocrText = text
	return nil
}
func (f *fakeStore) UpdateTraceEmbedding(traceID int64, embedding []float32) error {
	f.embedding = embedding
	return nil
}
func (f *fakeStore) UpdateTraceVlmAnalysis(traceID int64, summary, action string, activityType types.ActivityType, confidence float64, entitiesJSON, rawJSON string, isKeyAction bool) error {
	f.vlmUpdated = true
	return nil
}
func (f *fakeStore) UpdateActivitySessionFromVlm(sessionID, traceID, ts int64, summary, action string, activityType types.ActivityType, entities []string, isKeyAction bool, embedding []float32, newTitle, newDescription string) error {
	f.sessionID = sessionID
	return nil
}

type fakeAnalyzer struct {
	result llm.VlmResult
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, jpegBytes []byte, hash [8]byte, promptText string) (llm.VlmResult, error) {
	return a.result, nil
}

type fakeEmbedder struct{ vec []float32 }

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

func testManager(t *testing.T) *config.Manager {
	t.Helper()
	m, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return m
}

func TestRouteSessionPrefersExplicitSessionID(t *testing.T) {
	cfg := config.Config{Session: config.SessionConfig{SimilarityThreshold: 0.9}}
	existing := int64(7)
	result := llm.VlmResult{ExistingSessionID: &existing}
	active := []store.ActiveSessionInfo{{ID: 7, AppName: "Editor"}, {ID: 8, AppName: "Browser"}}

	p := &Pool{store: &fakeStore{}}
	id, err := p.routeSession(types.Trace{}, cfg, result, active, []float32{1, 0})
	if err != nil {
		t.Fatalf("routeSession: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected explicit session id 7, got %d", id)
	}
}

func TestRouteSessionFallsBackToSimilarity(t *testing.T) {
	cfg := config.Config{Session: config.SessionConfig{SimilarityThreshold: 0.5}}
	fs := &fakeStore{lastEmbeddings: []store.SessionLastEmbedding{
		{SessionID: 1, Embedding: []float32{1, 0}},
		{SessionID: 2, Embedding: []float32{0, 1}},
	}}
	p := &Pool{store: fs}

	id, err := p.routeSession(types.Trace{}, cfg, llm.VlmResult{}, nil, []float32{1, 0})
	if err != nil {
		t.Fatalf("routeSession: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected session 1 (best cosine match), got %d", id)
	}
}

func TestRouteSessionCreatesNewWhenNoMatch(t *testing.T) {
	cfg := config.Config{Session: config.SessionConfig{SimilarityThreshold: 0.99}}
	fs := &fakeStore{lastEmbeddings: []store.SessionLastEmbedding{
		{SessionID: 1, Embedding: []float32{0, 1}},
	}}
	p := &Pool{store: fs}

	id, err := p.routeSession(types.Trace{AppName: "Terminal"}, cfg, llm.VlmResult{}, nil, []float32{1, 0})
	if err != nil {
		t.Fatalf("routeSession: %v", err)
	}
	if id != 99 {
		t.Fatalf("expected newly created session id 99, got %d", id)
	}
	if fs.createdApp != "Terminal" {
		t.Fatalf("expected new session app 'Terminal', got %q", fs.createdApp)
	}
}

func TestRunOnceProcessesPendingTraceEndToEnd(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "shot.jpg")
	if err := os.WriteFile(imgPath, []byte{0xFF, 0xD8, 0xFF}, 0o644); err != nil {
		t.Fatalf("write fixture image: %v", err)
	}

	fs := &fakeStore{pending: []types.Trace{{ID: 1, ImagePath: imgPath, AppName: "Editor"}}}
	analyzer := &fakeAnalyzer{result: llm.VlmResult{Summary: "writing code", ActivityType: "coding", DetectedApp: "Editor"}}
	embedder := &fakeEmbedder{vec: []float32{1, 0}}

	p := New(testManager(t), fs, analyzer, embedder)
	p.RunOnce(config.Config{VlmEnabled: true, VlmBatchSize: 10, VlmConcurrency: 2})

	if !fs.vlmUpdated {
		t.Fatalf("expected VLM analysis to be persisted")
	}
	if fs.ocrText != "writing code" {
		t.Fatalf("expected ocr text fallback to summary, got %q", fs.ocrText)
	}
	if fs.sessionID != 99 {
		t.Fatalf("expected routed to newly created session 99, got %d", fs.sessionID)
	}
	if p.FailedCount() != 0 {
		t.Fatalf("expected no failures, got %d", p.FailedCount())
	}
}

func TestBuildPromptIncludesActiveSessionsAndRecent(t *testing.T) {
	trace := types.Trace{AppName: "Editor", WindowTitle: "main.go"}
	active := []store.ActiveSessionInfo{{ID: 1, Title: "Writing Go", AppName: "Editor"}}
	recent := []types.Trace{{OCRText: "func main() {}"}}

	prompt := buildPrompt(trace, active, recent)
	if !strings.Contains(prompt, "Writing Go") {
		t.Fatalf("expected prompt to mention active session title, got: %s", prompt)
	}
	if !strings.Contains(prompt, "func main()") {
		t.Fatalf("expected prompt to include recent trace snippet, got: %s", prompt)
	}
}
