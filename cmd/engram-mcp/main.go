// Command engram-mcp exposes internal/queryapi's read façade as MCP tools
// over stdio: search_memory, list_sessions, list_summaries, chat_with_memory.
// It opens its own connection to the same $ENGRAM_DATA_DIR/engram.db the
// engram daemon writes to (SQLite's own WAL locking arbitrates the two
// processes; see internal/store's doc comment).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/TokenRollAI/engram/internal/config"
	"github.com/TokenRollAI/engram/internal/llm"
	"github.com/TokenRollAI/engram/internal/queryapi"
	"github.com/TokenRollAI/engram/internal/store"
	"github.com/TokenRollAI/engram/internal/types"
)

func main() {
	_ = godotenv.Load()

	dataDir := os.Getenv("ENGRAM_DATA_DIR")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".engram")
	}

	cfg, err := config.Load(filepath.Join(dataDir, "config.toml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	st, err := store.Open(filepath.Join(dataDir, "engram.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	embedder := llm.NewEmbeddingClient(snap.EmbeddingEndpoint, snap.EmbeddingAPIKey, snap.EmbeddingModel)
	vlmClient := llm.NewVlmClient(snap.VlmEndpoint, snap.VlmAPIKey, snap.VlmModel, snap.VlmMaxTokens, snap.VlmTemperature)
	api := queryapi.New(st, embedder, vlmClient)

	s := server.NewMCPServer(
		"engram-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(searchMemoryTool(), handleSearchMemory(api))
	s.AddTool(listSessionsTool(), handleListSessions(api))
	s.AddTool(listSummariesTool(), handleListSummaries(api))
	s.AddTool(chatWithMemoryTool(), handleChatWithMemory(api))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func searchMemoryTool() mcp.Tool {
	return mcp.NewTool("search_memory",
		mcp.WithDescription("Search captured screen activity by keyword or semantic similarity. Returns matching traces with their OCR text and app context."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("mode", mcp.Description("\"keyword\" or \"semantic\" (default keyword)")),
		mcp.WithString("app_filter", mcp.Description("Restrict results to this app name")),
		mcp.WithNumber("start_time", mcp.Description("Unix ms lower bound, 0 for unbounded")),
		mcp.WithNumber("end_time", mcp.Description("Unix ms upper bound, 0 for unbounded")),
		mcp.WithNumber("limit", mcp.Description("Max results, default 20")),
	)
}

func handleSearchMemory(api *queryapi.API) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		query, _ := args["query"].(string)
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		mode := queryapi.ModeKeyword
		if m, _ := args["mode"].(string); m == string(queryapi.ModeSemantic) {
			mode = queryapi.ModeSemantic
		}
		appFilter, _ := args["app_filter"].(string)
		startTime := int64(numArg(args, "start_time"))
		endTime := int64(numArg(args, "end_time"))
		limit := int(numArg(args, "limit"))
		if limit <= 0 {
			limit = 20
		}

		results, err := api.Search(ctx, query, mode, startTime, endTime, appFilter, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return jsonResult(results)
	}
}

func listSessionsTool() mcp.Tool {
	return mcp.NewTool("list_sessions",
		mcp.WithDescription("List activity sessions (grouped spans of related screen activity) within a time range."),
		mcp.WithNumber("start_time", mcp.Required(), mcp.Description("Unix ms lower bound")),
		mcp.WithNumber("end_time", mcp.Required(), mcp.Description("Unix ms upper bound")),
		mcp.WithString("app_filter", mcp.Description("Restrict to this app name")),
		mcp.WithNumber("limit", mcp.Description("Max results, default 50")),
	)
}

func handleListSessions(api *queryapi.API) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		start := int64(numArg(args, "start_time"))
		end := int64(numArg(args, "end_time"))
		appFilter, _ := args["app_filter"].(string)
		limit := int(numArg(args, "limit"))
		if limit <= 0 {
			limit = 50
		}

		sessions, err := api.ListActivitySessions(start, end, appFilter, limit, 0)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list sessions failed: %v", err)), nil
		}
		return jsonResult(sessions)
	}
}

func listSummariesTool() mcp.Tool {
	return mcp.NewTool("list_summaries",
		mcp.WithDescription("List short or daily rollup summaries within a time range."),
		mcp.WithString("summary_type", mcp.Description("\"short\" or \"daily\", default \"short\"")),
		mcp.WithNumber("start_time", mcp.Required(), mcp.Description("Unix ms lower bound")),
		mcp.WithNumber("end_time", mcp.Required(), mcp.Description("Unix ms upper bound")),
		mcp.WithNumber("limit", mcp.Description("Max results, default 20")),
	)
}

func handleListSummaries(api *queryapi.API) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		summaryType := types.SummaryShort
		if st, _ := args["summary_type"].(string); st == string(types.SummaryDaily) {
			summaryType = types.SummaryDaily
		}
		start := int64(numArg(args, "start_time"))
		end := int64(numArg(args, "end_time"))
		limit := int(numArg(args, "limit"))
		if limit <= 0 {
			limit = 20
		}

		summaries, err := api.ListSummaries(summaryType, start, end, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list summaries failed: %v", err)), nil
		}
		return jsonResult(summaries)
	}
}

func chatWithMemoryTool() mcp.Tool {
	return mcp.NewTool("chat_with_memory",
		mcp.WithDescription("Ask a question grounded in recent captured activity. Continues an existing thread if thread_id is given, otherwise starts a new one."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user's message")),
		mcp.WithString("thread_id", mcp.Description("Existing thread id or UUID to continue; omit to start a new thread")),
	)
}

func handleChatWithMemory(api *queryapi.API) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		message, _ := args["message"].(string)
		if message == "" {
			return mcp.NewToolResultError("message is required"), nil
		}
		threadID, _ := args["thread_id"].(string)

		resp, err := api.ChatWithMemory(ctx, queryapi.ChatRequest{ThreadIDOrUUID: threadID, Message: message})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return jsonResult(resp)
	}
}

func numArg(args map[string]any, key string) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return 0
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
