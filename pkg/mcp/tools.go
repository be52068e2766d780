package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/pario-ai/aiswitch/pkg/audit"
	"github.com/pario-ai/aiswitch/pkg/models"
)

type logsArgs struct {
	Page int    `json:"page"`
	Size int    `json:"size"`
	Sort string `json:"sort"`
	Desc *bool  `json:"desc"`
}

type logArgs struct {
	ID json.Number `json:"id"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"aiswitch_logs":      handleLogs,
	"aiswitch_log":       handleLog,
	"aiswitch_usage":     handleUsage,
	"aiswitch_providers": handleProviders,
}

var allTools = []ToolDefinition{
	{
		Name:        "aiswitch_logs",
		Description: "List completed exchanges recorded by the gateway, newest first unless a sort is given.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"page": map[string]any{"type": "integer", "description": "Zero-based page (default 0)"},
				"size": map[string]any{"type": "integer", "description": "Rows per page (default 20)"},
				"sort": map[string]any{
					"type":        "string",
					"description": "Sort column: id, request_time, response_time, provider_id, model, prompt_tokens, completion_tokens, speed",
				},
				"desc": map[string]any{"type": "boolean", "description": "Sort descending (default true)"},
			},
		},
	},
	{
		Name:        "aiswitch_log",
		Description: "Show one recorded exchange including the forwarded request and the captured response.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"id"},
			"properties": map[string]any{
				"id": map[string]any{"type": "integer", "description": "Log id"},
			},
		},
	},
	{
		Name:        "aiswitch_usage",
		Description: "Aggregate token usage and average throughput per provider and model.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "aiswitch_providers",
		Description: "List configured providers, their active preset and which provider is active.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func handleLogs(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args logsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	q := models.LogQuery{Page: max(args.Page, 0), Size: args.Size, SortBy: args.Sort, SortDesc: true}
	if q.Size <= 0 {
		q.Size = 20
	}
	if args.Desc != nil {
		q.SortDesc = *args.Desc
	}
	recs, total, err := s.logs.List(ctx, q)
	if err != nil {
		return errorResult("Error listing logs: " + err.Error())
	}
	return textResult(formatLogs(recs, total, q))
}

func handleLog(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args logArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	id, err := strconv.ParseInt(args.ID.String(), 10, 64)
	if err != nil || id <= 0 {
		return errorResult("id is required")
	}
	rec, err := s.logs.Get(ctx, id)
	if errors.Is(err, audit.ErrNotFound) {
		return errorResult("No log with id " + strconv.FormatInt(id, 10) + ".")
	}
	if err != nil {
		return errorResult("Error fetching log: " + err.Error())
	}
	return textResult(formatLog(rec))
}

func handleUsage(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.logs.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatUsage(stats))
}

func handleProviders(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.selection == nil {
		return textResult("No provider configuration is loaded.")
	}
	return textResult(formatProviders(s.selection.Snapshot()))
}
