package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/aiswitch/pkg/models"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("test", nil)

	c.ObserveRequest("completions", true, "ok", 2*time.Second)
	c.ObserveRequest("completions", true, "ok", time.Second)
	c.ObserveRequest("chat_completions", false, "upstream_error", 0)
	c.ObserveUsage("completions", models.Int64(12), models.Int64(8), models.Int64(4))
	c.ObserveUsage("completions", nil, models.Int64(2), nil)
	c.ObserveTokenize(true)
	c.ObserveTokenize(false)
	c.ObserveTokenize(false)
	c.ObserveChunk(true)
	c.ObserveAuditError("insert")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("completions", "true", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("chat_completions", "false", "upstream_error")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.tokens.WithLabelValues("completions", "prompt")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.tokens.WithLabelValues("completions", "completion")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tokenizer.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamChunks.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.auditErrors.WithLabelValues("insert")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.throughput))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveRequest("completions", false, "ok", time.Second)
	c.ObserveUsage("completions", models.Int64(1), nil, nil)
	c.ObserveTokenize(true)
	c.ObserveChunk(false)
	c.ObserveAuditError("complete")
}

func TestHandlerServesText(t *testing.T) {
	c := NewCollector("", nil)
	c.ObserveTokenize(true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `aiswitch_tokenizer_requests_total{outcome="ok"} 1`))
}
