package api

import (
	"net/http"
)

// ModelInfo is the API listing of a catalog entry.
type ModelInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	MaxContext  int     `json:"maxContext"`
	MaxResponse int     `json:"maxResponse"`
	InputPrice  float64 `json:"inputPrice"`
	OutputPrice float64 `json:"outputPrice"`
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	entries := s.models.List()
	out := make([]ModelInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ModelInfo{
			ID:          e.ID,
			Name:        e.Name,
			Provider:    e.Provider,
			MaxContext:  e.MaxContext,
			MaxResponse: e.MaxResponse,
			InputPrice:  e.Price.Input,
			OutputPrice: e.Price.Output,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listTools(w http.ResponseWriter, _ *http.Request) {
	if s.toolReg == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.toolReg.AllTools())
}
