// Package mcp exposes the aiswitch exchange log and provider selection to
// MCP clients over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/aiswitch/pkg/models"
	"github.com/pario-ai/aiswitch/pkg/selection"
)

// LogReader is the read side of the audit store.
type LogReader interface {
	List(ctx context.Context, q models.LogQuery) ([]models.AuditRecord, int64, error)
	Get(ctx context.Context, id int64) (models.AuditRecord, error)
	Stats(ctx context.Context) ([]models.UsageStat, error)
}

// Server answers JSON-RPC 2.0 requests, one per line.
type Server struct {
	logs      LogReader
	selection *selection.Selection
	version   string
}

// New creates a Server. sel may be nil, in which case provider tools report
// that no configuration is loaded.
func New(logs LogReader, sel *selection.Selection, version string) *Server {
	return &Server{logs: logs, selection: sel, version: version}
}

// Run serves requests from r until it is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, replyError(nil, CodeParseError, "parse error"))
			continue
		}
		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return reply(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "aiswitch", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return reply(req.ID, map[string]any{})
	case "tools/list":
		return reply(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return replyError(req.ID, CodeInvalidParams, "invalid params")
		}
		handler, ok := toolHandlers[params.Name]
		if !ok {
			return reply(req.ID, errorResult("unknown tool: "+params.Name))
		}
		return reply(req.ID, handler(ctx, s, params.Arguments))
	default:
		if len(req.ID) == 0 {
			return nil
		}
		return replyError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("mcp: marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		log.Warn().Err(err).Msg("mcp: write response")
	}
}
