// Package selection holds the live provider collection and the active provider choice.
package selection

import (
	"errors"
	"sync"

	"github.com/pario-ai/aiswitch/pkg/models"
)

var (
	ErrNoActiveProvider = errors.New("no active provider")
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderExists   = errors.New("provider already exists")
	ErrPresetNotFound   = errors.New("preset not found")
	ErrPresetExists     = errors.New("preset already exists")
)

// Snapshot is a point-in-time copy of the whole selection.
type Snapshot struct {
	Providers      []models.Provider `json:"providers"`
	ActiveProvider string            `json:"active_provider,omitempty"`
}

// Selection guards the provider collection. Every read returns a deep copy.
type Selection struct {
	mu        sync.RWMutex
	providers []models.Provider
	active    string
}

// New creates a Selection from configured providers and an optional active id.
func New(providers []models.Provider, active string) *Selection {
	s := &Selection{}
	s.Replace(providers, active)
	return s
}

// Replace swaps the whole collection, used on config reload.
func (s *Selection) Replace(providers []models.Provider, active string) {
	cp := make([]models.Provider, len(providers))
	for i, p := range providers {
		cp[i] = p.Clone()
	}
	s.mu.Lock()
	s.providers = cp
	s.active = active
	s.mu.Unlock()
}

// Active returns a copy of the active provider.
func (s *Selection) Active() (models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return models.Provider{}, ErrNoActiveProvider
	}
	i := s.indexLocked(s.active)
	if i < 0 {
		return models.Provider{}, ErrNoActiveProvider
	}
	return s.providers[i].Clone(), nil
}

// ActiveID returns the active provider id, possibly empty.
func (s *Selection) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Providers returns copies of all providers in configured order.
func (s *Selection) Providers() []models.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Provider, len(s.providers))
	for i, p := range s.providers {
		out[i] = p.Clone()
	}
	return out
}

// Snapshot returns the providers and active id under one lock.
func (s *Selection) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{ActiveProvider: s.active, Providers: make([]models.Provider, len(s.providers))}
	for i, p := range s.providers {
		out.Providers[i] = p.Clone()
	}
	return out
}

// SetActive selects a provider. An empty id clears the selection.
func (s *Selection) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.indexLocked(id) < 0 {
		return ErrProviderNotFound
	}
	s.active = id
	return nil
}

// AddProvider appends a provider with a unique id.
func (s *Selection) AddProvider(p models.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(p.ID) >= 0 {
		return ErrProviderExists
	}
	s.providers = append(s.providers, p.Clone())
	return nil
}

// ProviderPatch lists the mutable provider fields; nil means unchanged.
type ProviderPatch struct {
	Name    *string `json:"name"`
	BaseURL *string `json:"base_url"`
	APIKey  *string `json:"api_key"`
}

// UpdateProvider applies a patch to an existing provider.
func (s *Selection) UpdateProvider(id string, patch ProviderPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrProviderNotFound
	}
	p := &s.providers[i]
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.BaseURL != nil {
		p.BaseURL = *patch.BaseURL
	}
	if patch.APIKey != nil {
		p.APIKey = *patch.APIKey
	}
	return nil
}

// DeleteProvider removes a provider and clears the active id if it pointed there.
func (s *Selection) DeleteProvider(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrProviderNotFound
	}
	s.providers = append(s.providers[:i], s.providers[i+1:]...)
	if s.active == id {
		s.active = ""
	}
	return nil
}

// SetActivePreset selects a preset on a provider. An empty preset id clears it.
func (s *Selection) SetActivePreset(providerID, presetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(providerID)
	if i < 0 {
		return ErrProviderNotFound
	}
	p := &s.providers[i]
	if presetID != "" && presetIndex(p, presetID) < 0 {
		return ErrPresetNotFound
	}
	p.ActivePresetID = presetID
	return nil
}

// AddPreset appends a preset to a provider.
func (s *Selection) AddPreset(providerID string, ps models.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(providerID)
	if i < 0 {
		return ErrProviderNotFound
	}
	p := &s.providers[i]
	if presetIndex(p, ps.ID) >= 0 {
		return ErrPresetExists
	}
	p.Presets = append(p.Presets, ps.Clone())
	return nil
}

// PresetPatch renames a preset and merges overrides key by key.
type PresetPatch struct {
	Name      *string
	Overrides map[string]any
	Order     []string
}

// UpdatePreset applies a patch to an existing preset.
func (s *Selection) UpdatePreset(providerID, presetID string, patch PresetPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(providerID)
	if i < 0 {
		return ErrProviderNotFound
	}
	p := &s.providers[i]
	j := presetIndex(p, presetID)
	if j < 0 {
		return ErrPresetNotFound
	}
	ps := &p.Presets[j]
	if patch.Name != nil {
		ps.Name = *patch.Name
	}
	if len(patch.Overrides) > 0 {
		merged := models.Preset{Overrides: patch.Overrides, Order: patch.Order}.Clone()
		if ps.Overrides == nil {
			ps.Overrides = make(map[string]any, len(merged.Overrides))
		}
		for _, k := range merged.Keys() {
			if _, ok := ps.Overrides[k]; !ok {
				ps.Order = append(ps.Order, k)
			}
			ps.Overrides[k] = merged.Overrides[k]
		}
	}
	return nil
}

func (s *Selection) indexLocked(id string) int {
	for i := range s.providers {
		if s.providers[i].ID == id {
			return i
		}
	}
	return -1
}

func presetIndex(p *models.Provider, id string) int {
	for i := range p.Presets {
		if p.Presets[i].ID == id {
			return i
		}
	}
	return -1
}
