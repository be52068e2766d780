package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pario-ai/aiswitch/pkg/bridge"
	"github.com/pario-ai/aiswitch/pkg/models"
	"github.com/pario-ai/aiswitch/pkg/preset"
	"github.com/pario-ai/aiswitch/pkg/usage"
)

// readSize matches the chunk granularity relayed to stream callers.
const readSize = 4096

// exchange is the request-scoped state of one forwarded call.
type exchange struct {
	route    usage.Route
	provider models.Provider
	body     []byte
	model    string
	stream   bool
	prompt   usage.PromptView
	logID    int64
}

func (s *Server) handleForward(route usage.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body.Close()
		if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
			s.metrics.ObserveRequest(route.String(), false, "bad_request", 0)
			writeJSONError(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}

		provider, err := s.selection.Active()
		if err != nil {
			logger.Warn().Err(err).Str("route", route.String()).Msg("rejecting request")
			s.metrics.ObserveRequest(route.String(), false, "no_provider", 0)
			writeJSONError(w, http.StatusServiceUnavailable, "no active provider")
			return
		}

		ex := s.prepare(r.Context(), route, provider, body)
		if ex.logID > 0 {
			w.Header().Set("X-Aiswitch-Log-ID", strconv.FormatInt(ex.logID, 10))
		}
		if ex.stream {
			s.forwardStream(w, r, ex)
			return
		}
		s.forwardBuffered(w, r, ex)
	}
}

// prepare merges the preset, reads the routing fields from the merged body
// and inserts the audit row. It always returns an exchange; a failed insert
// leaves logID at zero and the request proceeds unrecorded.
func (s *Server) prepare(ctx context.Context, route usage.Route, provider models.Provider, body []byte) *exchange {
	out := preset.Apply(&provider, body)

	ex := &exchange{
		route:    route,
		provider: provider,
		model:    route.DefaultModel(),
		stream:   gjson.GetBytes(out, "stream").Type == gjson.True,
		prompt:   usage.ParsePrompt(route, out),
	}
	if m := gjson.GetBytes(out, "model"); m.Type == gjson.String {
		ex.model = m.String()
	}
	if ex.stream {
		out = forceIncludeUsage(out)
	}
	ex.body = out

	logger := zerolog.Ctx(ctx)
	id, err := s.auditor.Insert(ctx, provider.ID, route.IsChat(), string(out), ex.model)
	if err != nil {
		logger.Warn().Err(err).Str("provider_id", provider.ID).Msg("audit insert failed, forwarding unrecorded")
	} else {
		ex.logID = id
	}
	return ex
}

// forceIncludeUsage asks the provider to report usage in the final streamed
// chunk. A stream_options value that is present but not an object is left
// alone.
func forceIncludeUsage(body []byte) []byte {
	if so := gjson.GetBytes(body, "stream_options"); so.Exists() && !so.IsObject() {
		return body
	}
	out, err := sjson.SetBytes(body, "stream_options.include_usage", true)
	if err != nil {
		return body
	}
	return out
}

// forwardBuffered relays the upstream reply with the upstream status code and
// content type, so a provider 4xx/5xx reaches the caller as such rather than
// as a 200 carrying the error text. Such replies are still recorded.
func (s *Server) forwardBuffered(w http.ResponseWriter, r *http.Request, ex *exchange) {
	logger := zerolog.Ctx(r.Context()).With().Int64("log_id", ex.logID).Logger()

	start := s.now()
	resp, err := s.dispatch(r.Context(), ex)
	if err != nil {
		logger.Warn().Err(err).Str("provider_id", ex.provider.ID).Msg("upstream request failed")
		s.metrics.ObserveRequest(ex.route.String(), false, "upstream_error", 0)
		writeJSONError(w, http.StatusServiceUnavailable, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn().Err(err).Str("provider_id", ex.provider.ID).Msg("reading upstream response failed")
		s.metrics.ObserveRequest(ex.route.String(), false, "upstream_error", 0)
		writeJSONError(w, http.StatusServiceUnavailable, "failed to read upstream response")
		return
	}
	elapsed := s.now().Sub(start)

	acc := s.accumulator(ex)
	acc.Feed(raw)
	s.finish(context.WithoutCancel(r.Context()), ex, acc, elapsed, string(raw))

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(raw); err != nil {
		logger.Debug().Err(err).Msg("client disconnected")
	}
}

// forwardStream starts the detached producer and relays its chunks until the
// bridge closes or the caller goes away.
func (s *Server) forwardStream(w http.ResponseWriter, r *http.Request, ex *exchange) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	logger := zerolog.Ctx(r.Context()).With().Int64("log_id", ex.logID).Logger()

	parent := context.WithoutCancel(r.Context())
	if s.cfg.Stream.CancelOnDisconnect {
		parent = r.Context()
	}
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.base, cancel)

	b := bridge.New(s.cfg.Stream.Buffer)
	s.producers.Add(1)
	s.running.Add(1)
	go func() {
		defer s.producers.Done()
		defer s.running.Add(-1)
		defer cancel()
		defer stop()
		s.produce(ctx, ex, b)
	}()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case chunk, ok := <-b.Chunks():
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				logger.Debug().Err(err).Msg("client disconnected")
				b.Abandon()
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			logger.Debug().Msg("client disconnected")
			b.Abandon()
			return
		}
	}
}

// produce owns the upstream response for a streamed exchange. It relays raw
// chunks in order, accumulates usage from decoded frames, and after the
// upstream is exhausted resolves counts and completes the audit row. A
// transport failure ends the stream with the sentinel and leaves the row
// uncompleted.
func (s *Server) produce(ctx context.Context, ex *exchange, b *bridge.Bridge) {
	logger := zerolog.Ctx(ctx).With().Int64("log_id", ex.logID).Logger()

	start := s.now()
	resp, err := s.dispatch(ctx, ex)
	if err != nil {
		logger.Warn().Err(err).Str("provider_id", ex.provider.ID).Msg("upstream stream failed")
		s.metrics.ObserveRequest(ex.route.String(), true, "upstream_error", 0)
		b.Fail()
		return
	}
	defer resp.Body.Close()

	acc := s.accumulator(ex)
	var dec bridge.Decoder
	frames := make([]json.RawMessage, 0, 16)
	record := func(payloads [][]byte) {
		for _, p := range payloads {
			acc.Feed(p)
			frames = append(frames, p)
		}
	}

	buf := make([]byte, readSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			record(dec.Feed(chunk))
			s.metrics.ObserveChunk(b.Send(chunk))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Str("provider_id", ex.provider.ID).Msg("upstream stream interrupted")
			s.metrics.ObserveRequest(ex.route.String(), true, "upstream_error", 0)
			b.Fail()
			return
		}
	}
	record(dec.Flush())
	b.Close()
	elapsed := s.now().Sub(start)

	body, err := json.Marshal(frames)
	if err != nil {
		body = []byte("[]")
	}
	s.finish(context.WithoutCancel(ctx), ex, acc, elapsed, string(body))
}

func (s *Server) accumulator(ex *exchange) *usage.Accumulator {
	acc := usage.NewAccumulator(ex.route, ex.stream)
	if n, ok := ex.prompt.TokenCount(); ok {
		acc.SeedPromptTokens(n)
	}
	return acc
}

// finish fills missing counts through the tokenizer, derives throughput
// when both counts are known, and completes the audit row.
func (s *Server) finish(ctx context.Context, ex *exchange, acc *usage.Accumulator, elapsed time.Duration, responseBody string) {
	prompt, completion := s.resolveCounts(ctx, ex, acc)

	var tps *int64
	if prompt != nil && completion != nil {
		tps = usage.Throughput(*completion, elapsed)
	}

	s.auditor.Complete(ctx, ex.logID, models.Completion{
		ResponseBody:     responseBody,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TokensPerSecond:  tps,
	})
	s.metrics.ObserveUsage(ex.route.String(), prompt, completion, tps)
	s.metrics.ObserveRequest(ex.route.String(), ex.stream, "ok", elapsed)

	ev := zerolog.Ctx(ctx).Info().
		Int64("log_id", ex.logID).
		Str("provider_id", ex.provider.ID).
		Str("model", ex.model).
		Bool("stream", ex.stream).
		Dur("elapsed", elapsed)
	if prompt != nil {
		ev = ev.Int64("prompt_tokens", *prompt)
	}
	if completion != nil {
		ev = ev.Int64("completion_tokens", *completion)
	}
	if tps != nil {
		ev = ev.Int64("tokens_per_second", *tps)
	}
	ev.Msg("exchange recorded")
}

func (s *Server) resolveCounts(ctx context.Context, ex *exchange, acc *usage.Accumulator) (prompt, completion *int64) {
	prompt, completion = acc.Counts()
	if s.tokenizer == nil {
		return prompt, completion
	}
	if prompt == nil && ex.prompt.Kind != usage.PromptTokens {
		prompt, _ = s.tokenizer.Count(ctx, ex.provider, ex.model, ex.prompt.Text)
	}
	if completion == nil {
		completion, _ = s.tokenizer.Count(ctx, ex.provider, ex.model, acc.Text())
	}
	return prompt, completion
}

// dispatch issues the upstream call. The caller owns resp.Body.
func (s *Server) dispatch(ctx context.Context, ex *exchange) (*http.Response, error) {
	target, err := url.Parse(strings.TrimRight(ex.provider.BaseURL, "/") + ex.route.Path())
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(ex.body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ex.provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ex.provider.APIKey)
	}
	if ex.stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return s.client.Do(req)
}
