package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pario-ai/aiswitch/pkg/models"
	"github.com/pario-ai/aiswitch/pkg/selection"
)

const maxConfigBody = 1 << 20

func readText(r *http.Request) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readObject(r *http.Request) ([]byte, bool) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil || !gjson.ValidBytes(b) || !gjson.ParseBytes(b).IsObject() {
		return nil, false
	}
	return b, true
}

// writeSelectionError maps selection errors onto config endpoint replies.
func writeSelectionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, selection.ErrProviderNotFound):
		writeMessage(w, http.StatusNotFound, "Service not found")
	case errors.Is(err, selection.ErrProviderExists):
		writeMessage(w, http.StatusConflict, "Service already exists")
	case errors.Is(err, selection.ErrPresetNotFound):
		writeMessage(w, http.StatusNotFound, "Preset not found")
	case errors.Is(err, selection.ErrPresetExists):
		writeMessage(w, http.StatusConflict, "Preset already exists")
	default:
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.selection.Snapshot())
}

func (s *Server) handleGetProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.selection.Providers())
}

func (s *Server) handleGetActiveProvider(w http.ResponseWriter, r *http.Request) {
	if id := s.selection.ActiveID(); id != "" {
		writeJSON(w, http.StatusOK, id)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleSetActiveProvider(w http.ResponseWriter, r *http.Request) {
	id, err := readText(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := s.selection.SetActive(id); err != nil {
		writeSelectionError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Service updated successfully")
}

func (s *Server) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid provider")
		return
	}
	var p models.Provider
	if err := json.Unmarshal(body, &p); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid provider")
		return
	}
	if p.BaseURL == "" {
		p.BaseURL = gjson.GetBytes(body, "api_url").String()
	}
	p.ID = r.PathValue("id")
	if err := s.selection.AddProvider(p); err != nil {
		writeSelectionError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Service added successfully")
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid provider update")
		return
	}
	var patch selection.ProviderPatch
	str := func(keys ...string) *string {
		for _, k := range keys {
			if v := gjson.GetBytes(body, k); v.Type == gjson.String {
				val := v.String()
				return &val
			}
		}
		return nil
	}
	patch.Name = str("name")
	patch.BaseURL = str("base_url", "api_url")
	patch.APIKey = str("api_key")

	if err := s.selection.UpdateProvider(r.PathValue("id"), patch); err != nil {
		writeSelectionError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Service updated successfully")
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.selection.DeleteProvider(r.PathValue("id")); err != nil {
		writeSelectionError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Service deleted successfully")
}

func (s *Server) handleSetActivePreset(w http.ResponseWriter, r *http.Request) {
	presetID, err := readText(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := s.selection.SetActivePreset(r.PathValue("id"), presetID); err != nil {
		writeSelectionError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Preset updated successfully")
}

func (s *Server) handleAddPreset(w http.ResponseWriter, r *http.Request) {
	var ps models.Preset
	if err := json.NewDecoder(io.LimitReader(r.Body, maxConfigBody)).Decode(&ps); err != nil || ps.ID == "" {
		writeMessage(w, http.StatusBadRequest, "invalid preset")
		return
	}
	if err := s.selection.AddPreset(r.PathValue("id"), ps); err != nil {
		writeSelectionError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Preset added successfully")
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid preset update")
		return
	}
	var patch selection.PresetPatch
	if v := gjson.GetBytes(body, "name"); v.Type == gjson.String {
		name := v.String()
		patch.Name = &name
	}
	if ov := gjson.GetBytes(body, "overrides"); ov.IsObject() {
		if err := json.Unmarshal([]byte(ov.Raw), &patch.Overrides); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid preset overrides")
			return
		}
		ov.ForEach(func(k, _ gjson.Result) bool {
			patch.Order = append(patch.Order, k.String())
			return true
		})
	}

	if err := s.selection.UpdatePreset(r.PathValue("id"), r.PathValue("pid"), patch); err != nil {
		writeSelectionError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Preset updated successfully")
}
