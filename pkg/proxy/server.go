// Package proxy is the aiswitch HTTP gateway. It forwards completion calls
// to the active provider, streams replies back and records each exchange.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/aiswitch/pkg/config"
	"github.com/pario-ai/aiswitch/pkg/metrics"
	"github.com/pario-ai/aiswitch/pkg/models"
	"github.com/pario-ai/aiswitch/pkg/selection"
	"github.com/pario-ai/aiswitch/pkg/usage"
)

// AuditStore is the subset of the audit store the gateway needs.
type AuditStore interface {
	Insert(ctx context.Context, providerID string, isChat bool, requestBody, model string) (int64, error)
	Complete(ctx context.Context, id int64, c models.Completion)
	List(ctx context.Context, q models.LogQuery) ([]models.AuditRecord, int64, error)
	Get(ctx context.Context, id int64) (models.AuditRecord, error)
	Ping(ctx context.Context) error
}

// Tokenizer counts tokens through the provider. ok is false on any failure.
type Tokenizer interface {
	Count(ctx context.Context, p models.Provider, model, text string) (n *int64, ok bool)
}

// Server is the aiswitch gateway.
type Server struct {
	cfg       *config.Config
	selection *selection.Selection
	auditor   AuditStore
	tokenizer Tokenizer
	metrics   *metrics.Collector
	client    *http.Client
	mux       *http.ServeMux
	now       func() time.Time

	shutdownTimeout time.Duration

	// producers tracks detached streaming goroutines; running counts them
	// for shutdown logging.
	producers sync.WaitGroup
	running   atomic.Int64

	// base outlives callers but not the server. Cancelling it aborts every
	// producer still reading upstream.
	base  context.Context
	abort context.CancelFunc
}

// abortGrace bounds how long drain waits for producers after aborting them.
const abortGrace = 2 * time.Second

// New creates a Server. tok and m may be nil.
func New(cfg *config.Config, sel *selection.Selection, auditor AuditStore, tok Tokenizer, m *metrics.Collector) *Server {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Upstream.Timeout

	base, abort := context.WithCancel(context.Background())
	s := &Server{
		base:      base,
		abort:     abort,
		cfg:       cfg,
		selection: sel,
		auditor:   auditor,
		tokenizer: tok,
		metrics:   m,
		client:    &http.Client{Transport: transport},
		mux:       http.NewServeMux(),
		now:       time.Now,

		shutdownTimeout: 5 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/v1/completions", s.handleForward(usage.Completions))
	s.mux.HandleFunc("POST /api/v1/chat/completions", s.handleForward(usage.ChatCompletions))
	s.mux.HandleFunc("GET /api/v1/models", s.handleModels)

	s.mux.HandleFunc("GET /api/logs", s.handleListLogs)
	s.mux.HandleFunc("GET /api/logs/{id}", s.handleGetLog)

	s.mux.HandleFunc("GET /api/config", s.handleGetConfig)
	s.mux.HandleFunc("GET /api/config/providers", s.handleGetProviders)
	s.mux.HandleFunc("GET /api/config/active-provider", s.handleGetActiveProvider)
	s.mux.HandleFunc("POST /api/config/active-provider", s.handleSetActiveProvider)
	s.mux.HandleFunc("POST /api/config/providers/{id}", s.handleAddProvider)
	s.mux.HandleFunc("PUT /api/config/providers/{id}", s.handleUpdateProvider)
	s.mux.HandleFunc("DELETE /api/config/providers/{id}", s.handleDeleteProvider)
	s.mux.HandleFunc("POST /api/config/providers/{id}/active-preset", s.handleSetActivePreset)
	s.mux.HandleFunc("POST /api/config/providers/{id}/presets", s.handleAddPreset)
	s.mux.HandleFunc("PUT /api/config/providers/{id}/presets/{pid}", s.handleUpdatePreset)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// ServeHTTP tags each request with an id and a request-scoped logger.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", id)

	logger := log.With().Str("request_id", id).Logger()
	r = r.WithContext(logger.WithContext(r.Context()))
	s.mux.ServeHTTP(w, r)
}

// Wait blocks until every detached stream producer has finished its
// audit bookkeeping.
func (s *Server) Wait() {
	s.producers.Wait()
}

// drain waits for stream producers until ctx expires, then aborts the ones
// still running and gives them abortGrace to unwind. Aborted exchanges keep
// their audit rows uncompleted.
func (s *Server) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.producers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	log.Warn().Int64("producers", s.running.Load()).Msg("shutdown deadline passed, aborting upstream streams")
	s.abort()

	timer := time.NewTimer(abortGrace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%d stream producers still running", s.running.Load())
	}
}

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.cfg.Listen).Msg("aiswitch gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		if derr := s.drain(shutCtx); err == nil {
			err = derr
		}
		s.abort()
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.auditor.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
