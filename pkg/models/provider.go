package models

import (
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Preset is a named set of top-level field overrides applied to outbound request bodies.
type Preset struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Overrides map[string]any `json:"overrides" yaml:"overrides"`
	// Order preserves the override key order as configured.
	Order []string `json:"-" yaml:"-"`
}

// Keys returns the override keys in configured order, followed by any keys
// added programmatically, sorted.
func (p Preset) Keys() []string {
	seen := make(map[string]bool, len(p.Overrides))
	keys := make([]string, 0, len(p.Overrides))
	for _, k := range p.Order {
		if _, ok := p.Overrides[k]; ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range p.Overrides {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

type presetAlias Preset

// UnmarshalJSON decodes a preset and records the override key order.
func (p *Preset) UnmarshalJSON(data []byte) error {
	var a presetAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	a.Order = nil
	gjson.GetBytes(data, "overrides").ForEach(func(k, _ gjson.Result) bool {
		a.Order = append(a.Order, k.String())
		return true
	})
	*p = Preset(a)
	return nil
}

// UnmarshalYAML decodes a preset and records the override key order.
func (p *Preset) UnmarshalYAML(node *yaml.Node) error {
	var a presetAlias
	if err := node.Decode(&a); err != nil {
		return err
	}
	a.Order = nil
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value != "overrides" || node.Content[i+1].Kind != yaml.MappingNode {
				continue
			}
			ov := node.Content[i+1].Content
			for j := 0; j+1 < len(ov); j += 2 {
				a.Order = append(a.Order, ov[j].Value)
			}
		}
	}
	*p = Preset(a)
	return nil
}

// Provider is an upstream LLM API endpoint configuration.
type Provider struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	BaseURL        string   `json:"base_url" yaml:"base_url"`
	APIKey         string   `json:"api_key" yaml:"api_key"`
	Presets        []Preset `json:"presets" yaml:"presets"`
	ActivePresetID string   `json:"active_preset_id,omitempty" yaml:"active_preset_id"`
}

// ActivePreset returns the preset referenced by ActivePresetID, or nil when
// none is selected or the reference dangles.
func (p *Provider) ActivePreset() *Preset {
	if p == nil || p.ActivePresetID == "" {
		return nil
	}
	for i := range p.Presets {
		if p.Presets[i].ID == p.ActivePresetID {
			return &p.Presets[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can hold it without sharing state.
func (p Provider) Clone() Provider {
	out := p
	out.Presets = make([]Preset, len(p.Presets))
	for i, ps := range p.Presets {
		out.Presets[i] = ps.Clone()
	}
	return out
}

// Clone returns a deep copy of the preset.
func (p Preset) Clone() Preset {
	out := p
	out.Overrides = cloneMap(p.Overrides)
	out.Order = append([]string(nil), p.Order...)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
