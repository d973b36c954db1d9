package api

import (
	"net/http"
)

func (s *Server) listApps(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authorizer.Authorize(r.Context(), r.URL.Query().Get("appId"), bearer(r)); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	apps, err := s.ledger.ListApps(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type appSummary struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		TeamID string `json:"teamId"`
		Intro  string `json:"intro,omitempty"`
		Nodes  int    `json:"nodes"`
	}
	out := make([]appSummary, 0, len(apps))
	for _, a := range apps {
		out = append(out, appSummary{ID: a.ID, Name: a.Name, TeamID: a.TeamID, Intro: a.Intro, Nodes: len(a.Nodes)})
	}
	writeJSON(w, http.StatusOK, out)
}

// listUsage returns the usage ledger of the caller's team.
func (s *Server) listUsage(w http.ResponseWriter, r *http.Request) {
	principal, err := s.authorizer.Authorize(r.Context(), r.URL.Query().Get("appId"), bearer(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	records, err := s.ledger.ListUsage(r.Context(), principal.TeamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, records)
}
