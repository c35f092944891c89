package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/workbench/internal/ingest"
	"github.com/kalambet/workbench/internal/loader"
	"github.com/kalambet/workbench/internal/rag"
)

// NewMCPServer creates an MCP server exposing the knowledge base as tools
// and resources.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"workbench",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("AI document workbench: ask questions over ingested PDFs, web pages and YouTube transcripts, or add new sources."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question from the knowledge base, citing the sources used."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Number of chunks to retrieve (default 5)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search the knowledge base and return relevant chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_url",
			mcp.WithDescription("Queue an https web page or YouTube video for ingestion. Temporary sources expire after an hour."),
			mcp.WithString("url", mcp.Description("https URL of a web page or YouTube video"), mcp.Required()),
			mcp.WithBoolean("permanent", mcp.Description("Keep the source permanently (default false)")),
			mcp.WithString("title", mcp.Description("Optional title override")),
		),
		mcpIngestURL(deps),
	)

	s.AddTool(
		mcp.NewTool("sweep",
			mcp.WithDescription("Delete expired temporary sources now."),
		),
		mcpSweep(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kb://sources",
			"Knowledge Base Sources",
			mcp.WithResourceDescription("Live sources in the knowledge base as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSources(deps),
	)

	return s
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}
		topK := req.GetInt("top_k", 0)
		if topK > maxTopK {
			topK = maxTopK
		}

		ans, err := deps.Asker.Ask(ctx, question, topK)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(ans)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecall(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", rag.DefaultTopK)
		if limit <= 0 {
			limit = rag.DefaultTopK
		}
		if limit > maxTopK {
			limit = maxTopK
		}

		chunks, err := deps.Retriever.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(chunks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIngestURL(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}
		if _, err := loader.Classify(url); err != nil {
			return mcpError("url must be an https web page or a YouTube video"), nil
		}

		job, err := ingest.NewJob(ingest.Payload{
			Origin:    url,
			Permanent: req.GetBool("permanent", false),
			Title:     req.GetString("title", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create job: %v", err)), nil
		}
		if err := deps.Jobs.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("failed to queue ingestion: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued ingestion job %s for %s", job.ID, url)), nil
	}
}

func mcpSweep(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rep, err := deps.Sweeper.RunOnce(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("sweep failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Removed %d expired sources (%d chunks), %d failures", rep.Expired-rep.Failed, rep.Deleted, rep.Failed)), nil
	}
}

func mcpResourceSources(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sources, err := deps.Sources.ListSources(ctx, deps.now())
		if err != nil {
			return nil, fmt.Errorf("failed to list sources: %w", err)
		}

		b, err := json.Marshal(toSourceResponses(sources))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sources: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

