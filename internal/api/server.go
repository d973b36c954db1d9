package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/flowchat/ports"
	"github.com/soochol/flowchat/internal/model"
	"github.com/soochol/flowchat/internal/repository"
	"github.com/soochol/flowchat/internal/services"
	"github.com/soochol/flowchat/internal/tools"
	"github.com/soochol/flowchat/internal/xjson"
)

// Catalog is the read side of the model catalog.
type Catalog interface {
	List() []*model.Entry
}

// Ledger lists stored apps and billed usage.
type Ledger interface {
	ListApps(ctx context.Context) ([]*flowchat.App, error)
	ListUsage(ctx context.Context, teamID string) ([]*repository.UsageRecord, error)
}

type Server struct {
	chatSvc    *services.ChatService
	models     Catalog
	toolReg    *tools.Registry
	ledger     Ledger
	authorizer ports.Authorizer
}

func NewServer(chatSvc *services.ChatService, models Catalog, toolReg *tools.Registry) *Server {
	return &Server{
		chatSvc: chatSvc,
		models:  models,
		toolReg: toolReg,
	}
}

// SetLedger enables the app and usage listing endpoints. Callers are
// resolved with authorizer.
func (s *Server) SetLedger(ledger Ledger, authorizer ports.Authorizer) {
	s.ledger = ledger
	s.authorizer = authorizer
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Get("/healthz", s.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Post("/v1/chat/completions", s.chatCompletions)
		r.Get("/models", s.listModels)
		r.Get("/tools", s.listTools)
		if s.ledger != nil {
			r.Get("/apps", s.listApps)
			r.Get("/usage", s.listUsage)
		}
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	stats := s.chatSvc.Stats()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "runs": stats})
}

// bearer extracts the credentials of the Authorization header.
func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	xjson.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps run errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, flowchat.ErrUpstreamAuth):
		return http.StatusUnauthorized
	case errors.Is(err, flowchat.ErrGraphInvalid), errors.Is(err, flowchat.ErrNoPendingInteraction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
