// Package preset merges a provider's active preset into outbound request bodies.
package preset

import (
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pario-ai/aiswitch/pkg/models"
)

// Apply overwrites each top-level key of the active preset onto body.
// Nested objects are replaced wholesale. Apply never fails: a missing preset
// or a body that is not a JSON object leaves body unchanged.
func Apply(p *models.Provider, body []byte) []byte {
	return Overlay(p.ActivePreset(), body)
}

// Overlay writes the preset's overrides onto body. A nil preset is a no-op.
func Overlay(ps *models.Preset, body []byte) []byte {
	if ps == nil || len(ps.Overrides) == 0 {
		return body
	}
	if !gjson.ParseBytes(body).IsObject() {
		return body
	}
	out := body
	for _, key := range ps.Keys() {
		next, err := sjson.SetBytes(out, escapeKey(key), ps.Overrides[key])
		if err != nil {
			log.Debug().Err(err).Str("preset", ps.ID).Str("key", key).Msg("skipping preset override")
			continue
		}
		out = next
	}
	return out
}

// escapeKey makes key address a single top-level field in sjson path syntax.
func escapeKey(key string) string {
	buf := make([]byte, 0, len(key)+1)
	if isDigits(key) {
		buf = append(buf, ':')
	}
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			buf = append(buf, '\\')
		}
		buf = append(buf, key[i])
	}
	return string(buf)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
