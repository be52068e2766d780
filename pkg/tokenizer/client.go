// Package tokenizer asks a provider to count tokens when its responses carry no usage.
package tokenizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pario-ai/aiswitch/pkg/models"
	"github.com/pario-ai/aiswitch/pkg/preset"
)

// Observer is notified of each tokenize outcome.
type Observer interface {
	ObserveTokenize(ok bool)
}

// Client calls {base_url}/tokenize. It never retries.
type Client struct {
	http     *http.Client
	observer Observer
}

// New creates a Client. A zero timeout means no per-call limit.
func New(timeout time.Duration, observer Observer) *Client {
	return &Client{
		http:     &http.Client{Timeout: timeout},
		observer: observer,
	}
}

// Tokenize returns the token ids for text, or false on any failure.
// The active preset's overrides are included in the request so that
// model-affecting settings match the completion call.
func (c *Client) Tokenize(ctx context.Context, p models.Provider, model, text string) ([]int64, bool) {
	toks, err := c.tokenize(ctx, p, model, text)
	if c.observer != nil {
		c.observer.ObserveTokenize(err == nil)
	}
	if err != nil {
		log.Debug().Err(err).Str("provider_id", p.ID).Str("model", model).Msg("tokenizer unavailable")
		return nil, false
	}
	return toks, true
}

// Count is Tokenize reduced to a length.
func (c *Client) Count(ctx context.Context, p models.Provider, model, text string) (*int64, bool) {
	toks, ok := c.Tokenize(ctx, p, model, text)
	if !ok {
		return nil, false
	}
	n := int64(len(toks))
	return &n, true
}

func (c *Client) tokenize(ctx context.Context, p models.Provider, model, text string) ([]int64, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "model", model)
	if err != nil {
		return nil, fmt.Errorf("build body: %w", err)
	}
	if body, err = sjson.SetBytes(body, "prompt", text); err != nil {
		return nil, fmt.Errorf("build body: %w", err)
	}
	body = preset.Overlay(p.ActivePreset(), body)

	url := strings.TrimRight(p.BaseURL, "/") + "/tokenize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tokenize returned %d", resp.StatusCode)
	}
	tokens := gjson.GetBytes(raw, "tokens")
	if !tokens.IsArray() {
		return nil, fmt.Errorf("tokenize response has no tokens array")
	}
	items := tokens.Array()
	out := make([]int64, 0, len(items))
	for _, t := range items {
		if t.Type != gjson.Number {
			return nil, fmt.Errorf("tokenize response has non-numeric token")
		}
		out = append(out, t.Int())
	}
	return out, nil
}
