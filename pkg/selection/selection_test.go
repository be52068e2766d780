package selection

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/aiswitch/pkg/models"
)

func testProviders() []models.Provider {
	return []models.Provider{
		{ID: "a", Name: "A", BaseURL: "http://a/v1", Presets: []models.Preset{
			{ID: "p1", Overrides: map[string]any{"temperature": 0.2}, Order: []string{"temperature"}},
		}, ActivePresetID: "p1"},
		{ID: "b", Name: "B", BaseURL: "http://b/v1"},
	}
}

func TestActive(t *testing.T) {
	s := New(testProviders(), "")
	_, err := s.Active()
	assert.ErrorIs(t, err, ErrNoActiveProvider)

	require.NoError(t, s.SetActive("b"))
	p, err := s.Active()
	require.NoError(t, err)
	assert.Equal(t, "B", p.Name)

	assert.ErrorIs(t, s.SetActive("zzz"), ErrProviderNotFound)
	assert.Equal(t, "b", s.ActiveID())

	require.NoError(t, s.SetActive(""))
	_, err = s.Active()
	assert.ErrorIs(t, err, ErrNoActiveProvider)
}

func TestDanglingActiveID(t *testing.T) {
	s := New(testProviders(), "gone")
	_, err := s.Active()
	assert.ErrorIs(t, err, ErrNoActiveProvider)
}

func TestReadsAreCopies(t *testing.T) {
	s := New(testProviders(), "a")
	p, err := s.Active()
	require.NoError(t, err)
	p.Name = "mutated"
	p.Presets[0].Overrides["temperature"] = 9.0

	again, _ := s.Active()
	assert.Equal(t, "A", again.Name)
	assert.Equal(t, 0.2, again.Presets[0].Overrides["temperature"])

	list := s.Providers()
	list[1].BaseURL = "http://evil"
	assert.Equal(t, "http://b/v1", s.Providers()[1].BaseURL)
}

func TestProviderCRUD(t *testing.T) {
	s := New(nil, "")
	require.NoError(t, s.AddProvider(models.Provider{ID: "x", BaseURL: "http://x"}))
	assert.ErrorIs(t, s.AddProvider(models.Provider{ID: "x"}), ErrProviderExists)

	name := "Renamed"
	require.NoError(t, s.UpdateProvider("x", ProviderPatch{Name: &name}))
	assert.Equal(t, "Renamed", s.Providers()[0].Name)
	assert.Equal(t, "http://x", s.Providers()[0].BaseURL)
	assert.ErrorIs(t, s.UpdateProvider("y", ProviderPatch{}), ErrProviderNotFound)

	require.NoError(t, s.SetActive("x"))
	require.NoError(t, s.DeleteProvider("x"))
	assert.Empty(t, s.ActiveID())
	assert.Empty(t, s.Providers())
	assert.ErrorIs(t, s.DeleteProvider("x"), ErrProviderNotFound)
}

func TestPresets(t *testing.T) {
	s := New(testProviders(), "a")

	assert.ErrorIs(t, s.AddPreset("a", models.Preset{ID: "p1"}), ErrPresetExists)
	assert.ErrorIs(t, s.AddPreset("nope", models.Preset{ID: "p2"}), ErrProviderNotFound)
	require.NoError(t, s.AddPreset("a", models.Preset{ID: "p2", Overrides: map[string]any{"top_p": 0.5}}))

	assert.ErrorIs(t, s.SetActivePreset("a", "p9"), ErrPresetNotFound)
	require.NoError(t, s.SetActivePreset("a", "p2"))
	p, _ := s.Active()
	require.NotNil(t, p.ActivePreset())
	assert.Equal(t, "p2", p.ActivePreset().ID)

	require.NoError(t, s.UpdatePreset("a", "p1", PresetPatch{
		Overrides: map[string]any{"max_tokens": 64, "temperature": 0.9},
		Order:     []string{"max_tokens", "temperature"},
	}))
	p, _ = s.Active()
	ps := p.Presets[0]
	assert.Equal(t, []string{"temperature", "max_tokens"}, ps.Keys())
	assert.Equal(t, 0.9, ps.Overrides["temperature"])
	assert.Equal(t, 64, ps.Overrides["max_tokens"])

	assert.ErrorIs(t, s.UpdatePreset("a", "zz", PresetPatch{}), ErrPresetNotFound)

	require.NoError(t, s.SetActivePreset("a", ""))
	p, _ = s.Active()
	assert.Nil(t, p.ActivePreset())
}

func TestReplace(t *testing.T) {
	s := New(testProviders(), "a")
	s.Replace([]models.Provider{{ID: "c"}}, "c")
	snap := s.Snapshot()
	require.Len(t, snap.Providers, 1)
	assert.Equal(t, "c", snap.ActiveProvider)
}

func TestConcurrentAccess(t *testing.T) {
	s := New(testProviders(), "a")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Active()
		}()
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = s.SetActive("b")
			} else {
				_ = s.SetActive("a")
			}
		}(i)
	}
	wg.Wait()
	_, err := s.Active()
	assert.NoError(t, err)
}
