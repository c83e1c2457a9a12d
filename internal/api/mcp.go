package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/askql/internal/ingest"
)

const (
	defaultToolLimit = 5
	maxToolLimit     = 50
)

// NewMCPServer creates an MCP server exposing training and retrieval tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"askql",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("askql: train a text-to-SQL assistant and generate SQL from natural-language questions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("train",
			mcp.WithDescription("Store training content. Give sql (with or without question), ddl, or documentation."),
			mcp.WithString("question", mcp.Description("Natural-language question answered by sql")),
			mcp.WithString("sql", mcp.Description("SQL statement")),
			mcp.WithString("ddl", mcp.Description("Schema DDL statement")),
			mcp.WithString("documentation", mcp.Description("Free-form documentation about the data")),
		),
		mcpTrain(deps),
	)

	s.AddTool(
		mcp.NewTool("get_similar_question_sql",
			mcp.WithDescription("Return stored question/SQL pairs most similar to a question."),
			mcp.WithString("question", mcp.Description("Natural-language question"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSimilarQuestionSQL(deps),
	)

	s.AddTool(
		mcp.NewTool("get_related_ddl",
			mcp.WithDescription("Return stored DDL statements related to a question."),
			mcp.WithString("question", mcp.Description("Natural-language question"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRelatedDDL(deps),
	)

	s.AddTool(
		mcp.NewTool("get_related_documentation",
			mcp.WithDescription("Return stored documentation related to a question."),
			mcp.WithString("question", mcp.Description("Natural-language question"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRelatedDocumentation(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_sql",
			mcp.WithDescription("Generate a SQL query answering a natural-language question."),
			mcp.WithString("question", mcp.Description("Natural-language question"), mcp.Required()),
		),
		mcpGenerateSQL(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"askql://training-data",
			"Training Data",
			mcp.WithResourceDescription("All stored training records"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTrainingData(deps),
	)

	return s
}

func mcpTrain(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		r := ingest.Request{
			Question:      req.GetString("question", ""),
			SQL:           req.GetString("sql", ""),
			DDL:           req.GetString("ddl", ""),
			Documentation: req.GetString("documentation", ""),
		}
		q, err := deps.Trainer.Train(ctx, r)
		if err != nil {
			return mcpError(fmt.Sprintf("train failed: %v", err)), nil
		}
		if q != "" {
			return mcpText(fmt.Sprintf("Queued question/SQL pair: %s", q)), nil
		}
		return mcpText("Queued training content"), nil
	}
}

func toolLimit(req mcp.CallToolRequest) int {
	limit := req.GetInt("limit", defaultToolLimit)
	if limit <= 0 {
		limit = defaultToolLimit
	}
	if limit > maxToolLimit {
		limit = maxToolLimit
	}
	return limit
}

func mcpSimilarQuestionSQL(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		pairs, err := deps.Store.GetSimilarQuestionSQL(ctx, question, toolLimit(req))
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		return mcpJSON(pairs)
	}
}

func mcpRelatedDDL(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		ddl, err := deps.Store.GetRelatedDDL(ctx, question, toolLimit(req))
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		return mcpJSON(ddl)
	}
}

func mcpRelatedDocumentation(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		docs, err := deps.Store.GetRelatedDocumentation(ctx, question, toolLimit(req))
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		return mcpJSON(docs)
	}
}

func mcpGenerateSQL(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		gen, err := deps.Generator.GenerateSQL(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("sql generation failed: %v", err)), nil
		}
		return mcpText(gen.SQL), nil
	}
}

func mcpResourceTrainingData(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := deps.Store.GetTrainingData(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get training data: %w", err)
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal training data: %w", err)
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

// mcpJSON renders v as the tool's text result. Nil slices render as [].
func mcpJSON[T any](v []T) (*mcp.CallToolResult, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
