package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pario-ai/aiswitch/pkg/models"
)

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	provider, err := s.selection.Active()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no active provider")
		return
	}

	raw, err := s.fetchModels(r.Context(), provider)
	if err != nil {
		logger.Warn().Err(err).Str("provider_id", provider.ID).Msg("model listing failed")
		writeJSONError(w, http.StatusServiceUnavailable, "upstream request failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(filterModels(raw, provider.ActivePreset()))
}

func (s *Server) fetchModels(ctx context.Context, p models.Provider) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.BaseURL, "/")+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}

// filterModels narrows "data" to the model pinned by the preset. Entries
// without a string id are kept. A body that is not a JSON object becomes {}.
func filterModels(raw []byte, ps *models.Preset) []byte {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return []byte(`{}`)
	}
	if ps == nil {
		return raw
	}
	pinned, ok := ps.Overrides["model"].(string)
	if !ok {
		return raw
	}
	data := gjson.GetBytes(raw, "data")
	if !data.IsArray() {
		return raw
	}

	var kept bytes.Buffer
	kept.WriteByte('[')
	n := 0
	data.ForEach(func(_, m gjson.Result) bool {
		if id := m.Get("id"); m.IsObject() && id.Type == gjson.String && id.String() != pinned {
			return true
		}
		if n > 0 {
			kept.WriteByte(',')
		}
		kept.WriteString(m.Raw)
		n++
		return true
	})
	kept.WriteByte(']')

	out, err := sjson.SetRawBytes(raw, "data", kept.Bytes())
	if err != nil {
		return raw
	}
	return out
}
