package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/aiswitch/pkg/config"
)

// gatedStream writes one frame, then holds the response open until released
// and writes n more. If the gateway drops the upstream call first, cancelled
// is closed instead.
type gatedStream struct {
	n         int
	started   chan struct{}
	release   chan struct{}
	cancelled chan struct{}
	once      sync.Once
}

func newGatedStream(n int) *gatedStream {
	return &gatedStream{
		n:         n,
		started:   make(chan struct{}),
		release:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

func (g *gatedStream) open() { g.once.Do(func() { close(g.release) }) }

func (g *gatedStream) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	f := w.(http.Flusher)
	frame := func(i int) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"text\":\"t"+strconv.Itoa(i)+"\"}]}\n\n")
		f.Flush()
	}

	frame(0)
	close(g.started)
	select {
	case <-g.release:
	case <-r.Context().Done():
		close(g.cancelled)
		return
	}
	for i := 1; i <= g.n; i++ {
		frame(i)
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// startStream serves a streamed completion on its own goroutine. Calling the
// returned cancel func is the caller going away.
func startStream(srv *Server, body string) (context.CancelFunc, <-chan *httptest.ResponseRecorder) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/completions", strings.NewReader(body)).WithContext(ctx)
		srv.ServeHTTP(rec, req)
		done <- rec
	}()
	return cancel, done
}

func TestStreamCallerDisconnect(t *testing.T) {
	g := newGatedStream(40)
	up := newFakeUpstream(t, 1, g.handler)
	defer g.open()
	srv, store := newGatewayWith(t, func(c *config.Config) { c.Stream.Buffer = 4 }, up.provider())

	cancel, done := startStream(srv, `{"prompt":"x","stream":true}`)
	waitClosed(t, g.started, "first upstream frame")
	cancel()
	rec := <-done

	// The caller is gone; the rest of the stream overflows the buffer.
	g.open()
	srv.Wait()

	select {
	case <-g.cancelled:
		t.Fatal("upstream call was cancelled with cancel_on_disconnect off")
	default:
	}

	r, err := store.Get(context.Background(), logID(t, rec))
	require.NoError(t, err)
	require.NotNil(t, r.ResponseCompletedAt, "producer completes the row after the caller left")
	assert.Len(t, gjson.Parse(r.ResponseBody).Array(), 41)
	assert.NotNil(t, r.CompletionTokens)
}

func TestStreamCancelOnDisconnect(t *testing.T) {
	g := newGatedStream(40)
	up := newFakeUpstream(t, 1, g.handler)
	defer g.open()
	srv, store := newGatewayWith(t, func(c *config.Config) {
		c.Stream.Buffer = 4
		c.Stream.CancelOnDisconnect = true
	}, up.provider())

	cancel, done := startStream(srv, `{"prompt":"x","stream":true}`)
	waitClosed(t, g.started, "first upstream frame")
	cancel()
	rec := <-done

	waitClosed(t, g.cancelled, "upstream cancellation")
	srv.Wait()

	r, err := store.Get(context.Background(), logID(t, rec))
	require.NoError(t, err)
	assert.Nil(t, r.ResponseCompletedAt)
	assert.Nil(t, r.CompletionTokens)
}

func TestDrainAbortsStalledProducer(t *testing.T) {
	g := newGatedStream(1)
	up := newFakeUpstream(t, 1, g.handler)
	defer g.open()
	srv, store := newGateway(t, up.provider())

	cancel, done := startStream(srv, `{"prompt":"x","stream":true}`)
	waitClosed(t, g.started, "first upstream frame")
	cancel()
	rec := <-done
	assert.EqualValues(t, 1, srv.running.Load())

	ctx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	start := time.Now()
	require.NoError(t, srv.drain(ctx))
	assert.Less(t, time.Since(start), abortGrace)
	assert.Zero(t, srv.running.Load())

	waitClosed(t, g.cancelled, "upstream cancellation")
	r, err := store.Get(context.Background(), logID(t, rec))
	require.NoError(t, err)
	assert.Nil(t, r.ResponseCompletedAt)
}

func TestDrainWithoutProducers(t *testing.T) {
	srv, _ := newGateway(t)
	ctx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	assert.NoError(t, srv.drain(ctx))
}

func TestListenAndServeReturnsWithStalledStream(t *testing.T) {
	g := newGatedStream(1)
	up := newFakeUpstream(t, 1, g.handler)
	defer g.open()
	srv, _ := newGatewayWith(t, func(c *config.Config) { c.Listen = "127.0.0.1:0" }, up.provider())
	srv.shutdownTimeout = 100 * time.Millisecond

	cancel, done := startStream(srv, `{"prompt":"x","stream":true}`)
	waitClosed(t, g.started, "first upstream frame")
	cancel()
	<-done

	ctx, shutdown := context.WithCancel(context.Background())
	returned := make(chan error, 1)
	go func() { returned <- srv.ListenAndServe(ctx) }()
	shutdown()

	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe blocked on a stalled stream producer")
	}
}
