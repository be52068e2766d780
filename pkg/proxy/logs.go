package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/aiswitch/pkg/audit"
	"github.com/pario-ai/aiswitch/pkg/models"
)

type logSummary struct {
	ID               int64  `json:"id"`
	ProviderID       string `json:"provider_id"`
	Model            string `json:"model"`
	Chat             bool   `json:"chat"`
	RequestTime      string `json:"request_time"`
	ResponseTime     string `json:"response_time"`
	PromptTokens     *int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64 `json:"completion_tokens,omitempty"`
	Speed            *int64 `json:"speed,omitempty"`
}

type logDetail struct {
	logSummary
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response,omitempty"`
}

func summarize(rec models.AuditRecord) logSummary {
	out := logSummary{
		ID:               rec.ID,
		ProviderID:       rec.ProviderID,
		Model:            rec.Model,
		Chat:             rec.IsChat,
		RequestTime:      rec.RequestStartedAt.Format(time.RFC3339Nano),
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		Speed:            rec.TokensPerSecond,
	}
	if rec.ResponseCompletedAt != nil {
		out.ResponseTime = rec.ResponseCompletedAt.Format(time.RFC3339Nano)
	}
	return out
}

// embed returns v as JSON when it parses, otherwise as a JSON string.
func embed(v string) json.RawMessage {
	if gjson.Valid(v) {
		return json.RawMessage(v)
	}
	b, _ := json.Marshal(v)
	return b
}

func parseLogQuery(r *http.Request) models.LogQuery {
	q := models.LogQuery{Size: 10}
	v := r.URL.Query()
	if n, err := strconv.Atoi(v.Get("page")); err == nil && n >= 0 {
		q.Page = n
	}
	if n, err := strconv.Atoi(v.Get("size")); err == nil && n > 0 {
		q.Size = n
	}
	if sort := v.Get("sort"); sort != "" {
		col, dir, _ := strings.Cut(sort, ",")
		q.SortBy = col
		q.SortDesc = dir == "desc"
	}
	return q
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	recs, total, err := s.auditor.List(r.Context(), parseLogQuery(r))
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("list logs")
		writeJSONError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	logs := make([]logSummary, 0, len(recs))
	for _, rec := range recs {
		logs = append(logs, summarize(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rowCount": total, "logs": logs})
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "log not found")
		return
	}
	rec, err := s.auditor.Get(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "log not found")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Int64("log_id", id).Msg("get log")
		writeJSONError(w, http.StatusInternalServerError, "failed to read log")
		return
	}

	out := logDetail{logSummary: summarize(rec), Request: embed(rec.RequestBody)}
	if rec.ResponseCompletedAt != nil {
		out.Response = embed(rec.ResponseBody)
	}
	writeJSON(w, http.StatusOK, out)
}
