package tokenizer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/aiswitch/pkg/models"
)

type countingObserver struct {
	mu       sync.Mutex
	ok, miss int
}

func (o *countingObserver) ObserveTokenize(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.ok++
	} else {
		o.miss++
	}
}

func TestTokenizeSuccess(t *testing.T) {
	var gotBody []byte
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tokenize", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tokens":[1,2,3,4]}`))
	}))
	defer srv.Close()

	obs := &countingObserver{}
	c := New(time.Second, obs)
	p := models.Provider{
		ID: "local", BaseURL: srv.URL + "/v1/", APIKey: "sk-1",
		Presets: []models.Preset{{ID: "p", Overrides: map[string]any{"add_special_tokens": false}}},
		ActivePresetID: "p",
	}

	toks, ok := c.Tokenize(context.Background(), p, "llama", "hello world")
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3, 4}, toks)
	assert.Equal(t, "Bearer sk-1", gotAuth)
	assert.Equal(t, "llama", gjson.GetBytes(gotBody, "model").String())
	assert.Equal(t, "hello world", gjson.GetBytes(gotBody, "prompt").String())
	assert.False(t, gjson.GetBytes(gotBody, "add_special_tokens").Bool())
	assert.True(t, gjson.GetBytes(gotBody, "add_special_tokens").Exists())
	assert.Equal(t, 1, obs.ok)

	n, ok := c.Count(context.Background(), p, "llama", "hello world")
	require.True(t, ok)
	assert.EqualValues(t, 4, *n)
}

func TestTokenizeMisses(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"tokens":`))
		},
		"wrong shape": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"tokens":["a"]}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			obs := &countingObserver{}
			c := New(time.Second, obs)
			toks, ok := c.Tokenize(context.Background(), models.Provider{BaseURL: srv.URL}, "m", "x")
			assert.False(t, ok)
			assert.Nil(t, toks)
			assert.Equal(t, 1, obs.miss)
		})
	}
}

func TestTokenizeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(time.Second, nil)
	n, ok := c.Count(context.Background(), models.Provider{BaseURL: url}, "m", "x")
	assert.False(t, ok)
	assert.Nil(t, n)
}
