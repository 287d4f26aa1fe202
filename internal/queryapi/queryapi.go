// Package queryapi is a thin, transport-agnostic read façade over the
// store: session/trace listing, hybrid search, summaries, entities, and
// chat-with-memory. cmd/engram-mcp exposes this as MCP tools; any other
// transport (HTTP, CLI) could wrap it the same way.
package queryapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TokenRollAI/engram/internal/store"
	"github.com/TokenRollAI/engram/internal/types"
)

// SearchMode selects keyword-only vs hybrid keyword+vector search.
type SearchMode string

const (
	ModeKeyword  SearchMode = "keyword"
	ModeSemantic SearchMode = "semantic"
)

const chatRecentTraceSnippets = 2

// Store is the subset of *store.Store the façade depends on.
type Store interface {
	GetActivitySessions(start, end int64, appFilter string, limit, offset int) ([]types.ActivitySession, error)
	GetSessionTraces(sessionID int64) ([]types.Trace, error)
	GetSessionEvents(sessionID int64) ([]types.ActivitySessionEvent, error)
	SearchText(query string, limit int) ([]types.Trace, error)
	HybridSearch(text string, queryEmbedding []float32, k int) ([]store.ScoredTrace, error)
	ListSummaries(summaryType types.SummaryType, start, end int64, limit int) ([]types.Summary, error)
	ListEntities(entityType types.EntityType, limit int) ([]types.Entity, error)
	RecentTraces(n int) ([]types.Trace, error)
	GetChatThread(idOrUUID string) (types.ChatThread, error)
	CreateChatThread(title string) (types.ChatThread, error)
	AppendChatMessage(threadID int64, role types.ChatRole, content, contextJSON string) (types.ChatMessage, error)
}

var _ Store = (*store.Store)(nil)

// Embedder produces the query embedding for semantic/hybrid search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatLLM services chatWithMemory's completion call.
type ChatLLM interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// API is the read façade: session/trace listing, search, summaries,
// entities, and chat-with-memory, all in terms of the Store interface.
type API struct {
	store    Store
	embedder Embedder
	llm      ChatLLM
}

// New builds an API.
func New(st Store, embedder Embedder, chatLLM ChatLLM) *API {
	return &API{store: st, embedder: embedder, llm: chatLLM}
}

// ListActivitySessions lists sessions whose end_time falls within [start, end].
func (a *API) ListActivitySessions(start, end int64, appFilter string, limit, offset int) ([]types.ActivitySession, error) {
	return a.store.GetActivitySessions(start, end, appFilter, limit, offset)
}

// GetSessionTraces returns every trace belonging to a session.
func (a *API) GetSessionTraces(sessionID int64) ([]types.Trace, error) {
	return a.store.GetSessionTraces(sessionID)
}

// GetSessionEvents returns every VLM verdict recorded against a session.
func (a *API) GetSessionEvents(sessionID int64) ([]types.ActivitySessionEvent, error) {
	return a.store.GetSessionEvents(sessionID)
}

// SearchResult is one Search hit.
type SearchResult struct {
	Trace types.Trace
	Score float64
}

// Search runs keyword-only or hybrid keyword+vector search.
// app_filter and time_range are applied by the caller filtering the result
// set — the store's FTS/KNN indices aren't app- or time-partitioned, and at
// single-user scale a post-filter over top-k is cheap enough to skip a
// second index.
func (a *API) Search(ctx context.Context, query string, mode SearchMode, startTime, endTime int64, appFilter string, limit int) ([]SearchResult, error) {
	var raw []SearchResult

	switch mode {
	case ModeSemantic:
		var embedding []float32
		if a.embedder != nil {
			var err error
			embedding, err = a.embedder.Embed(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("embed query: %w", err)
			}
		}
		scored, err := a.store.HybridSearch(query, embedding, limit*2)
		if err != nil {
			return nil, fmt.Errorf("hybrid search: %w", err)
		}
		for _, s := range scored {
			raw = append(raw, SearchResult{Trace: s.Trace, Score: s.Score})
		}
	default:
		traces, err := a.store.SearchText(query, limit*2)
		if err != nil {
			return nil, fmt.Errorf("text search: %w", err)
		}
		for _, t := range traces {
			raw = append(raw, SearchResult{Trace: t})
		}
	}

	out := make([]SearchResult, 0, limit)
	for _, r := range raw {
		if startTime != 0 && r.Trace.Timestamp < startTime {
			continue
		}
		if endTime != 0 && r.Trace.Timestamp > endTime {
			continue
		}
		if appFilter != "" && r.Trace.AppName != appFilter {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListSummaries returns summaries of the given type in [start, end].
func (a *API) ListSummaries(summaryType types.SummaryType, start, end int64, limit int) ([]types.Summary, error) {
	return a.store.ListSummaries(summaryType, start, end, limit)
}

// ListEntities returns known entities of the given type, most-mentioned first.
func (a *API) ListEntities(entityType types.EntityType, limit int) ([]types.Entity, error) {
	return a.store.ListEntities(entityType, limit)
}

// ChatRequest is the input to ChatWithMemory.
type ChatRequest struct {
	ThreadIDOrUUID string // empty creates a new thread
	Message        string
}

// ChatResponse is ChatWithMemory's output.
type ChatResponse struct {
	Thread  types.ChatThread
	Reply   string
}

// ChatWithMemory composes a prompt from recent sessions and recent-trace
// OCR snippets, calls the chat LLM, and persists both turns into the
// supplied or newly created thread.
func (a *API) ChatWithMemory(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var thread types.ChatThread
	var err error
	if req.ThreadIDOrUUID != "" {
		thread, err = a.store.GetChatThread(req.ThreadIDOrUUID)
		if err != nil {
			return ChatResponse{}, fmt.Errorf("get thread: %w", err)
		}
	} else {
		thread, err = a.store.CreateChatThread(truncateTitle(req.Message))
		if err != nil {
			return ChatResponse{}, fmt.Errorf("create thread: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	sessions, err := a.store.GetActivitySessions(now-24*time.Hour.Milliseconds(), now, "", 20, 0)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("gather sessions: %w", err)
	}
	// Present oldest first so the model reads them chronologically.
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}

	recent, err := a.store.RecentTraces(chatRecentTraceSnippets)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("gather recent traces: %w", err)
	}

	system := "You are a memory assistant. Answer using only the activity context provided; say so if you don't know."
	user := buildChatPrompt(sessions, recent, req.Message)

	reply, err := a.llm.Chat(ctx, system, user)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat: %w", err)
	}

	if _, err := a.store.AppendChatMessage(thread.ID, types.RoleUser, req.Message, "{}"); err != nil {
		return ChatResponse{}, fmt.Errorf("persist user turn: %w", err)
	}
	if _, err := a.store.AppendChatMessage(thread.ID, types.RoleAssistant, reply, "{}"); err != nil {
		return ChatResponse{}, fmt.Errorf("persist assistant turn: %w", err)
	}

	return ChatResponse{Thread: thread, Reply: reply}, nil
}

func buildChatPrompt(sessions []types.ActivitySession, recent []types.Trace, message string) string {
	var b strings.Builder
	b.WriteString("Recent activity sessions:\n")
	for _, s := range sessions {
		b.WriteString(fmt.Sprintf("- %s (%s): %s\n", s.AppName, s.Title, s.Description))
	}
	b.WriteString("\nMost recent captures:\n")
	for _, t := range recent {
		b.WriteString("- " + t.OCRText + "\n")
	}
	b.WriteString("\nUser: " + message)
	return b.String()
}

func truncateTitle(s string) string {
	if len(s) > 60 {
		return s[:60]
	}
	return s
}
