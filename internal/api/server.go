package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.io/infrasutra/mailcat/internal/filter"
	"github.io/infrasutra/mailcat/internal/outcome"
	"github.io/infrasutra/mailcat/internal/service"
	"github.io/infrasutra/mailcat/internal/sse"
	"github.io/infrasutra/mailcat/internal/store"
)

type Mails interface {
	CreateMail(ctx context.Context, in service.NewMail) outcome.Outcome[bool]
	GetMail(ctx context.Context, f filter.Mail) outcome.Outcome[service.Filtered[filter.Mail, store.Mail]]
}

type Templates interface {
	NewTemplate(ctx context.Context, in service.NewTemplate) outcome.Outcome[store.Template]
	GetTemplates(ctx context.Context, f filter.Templates) outcome.Outcome[service.Filtered[filter.Templates, store.Template]]
	GetTemplate(ctx context.Context, id string) outcome.Outcome[store.Template]
	UpdateTemplate(ctx context.Context, id string, in service.TemplateUpdate) outcome.Outcome[store.Template]
	NewTemplateRevision(ctx context.Context, templateID string, in service.NewRevision) outcome.Outcome[store.TemplateRevision]
	GetTemplateRevisions(ctx context.Context, templateID string, f filter.TemplateRevisions) outcome.Outcome[service.Filtered[filter.TemplateRevisions, store.TemplateRevision]]
	GetTemplateRevision(ctx context.Context, templateID, revisionID string) outcome.Outcome[store.TemplateRevision]
	GetLatestTemplateRevision(ctx context.Context, templateID string) outcome.Outcome[store.TemplateRevision]
	Send(ctx context.Context, templateID string, in service.SendInput) outcome.Outcome[bool]
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	mails     Mails
	templates Templates
	store     Pinger
	hub       *sse.Hub
	logger    *slog.Logger
	mux       *http.ServeMux
}

func NewServer(mails Mails, templates Templates, pinger Pinger, hub *sse.Hub, logger *slog.Logger) *Server {
	server := &Server{
		mails:     mails,
		templates: templates,
		store:     pinger,
		hub:       hub,
		logger:    logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/mail", server.handleListMail)
	mux.HandleFunc("POST /api/mail", server.handleCreateMail)
	mux.HandleFunc("GET /api/templates", server.handleListTemplates)
	mux.HandleFunc("POST /api/templates", server.handleCreateTemplate)
	mux.HandleFunc("GET /api/templates/{id}", server.handleGetTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", server.handleUpdateTemplate)
	mux.HandleFunc("GET /api/templates/{id}/revisions", server.handleListRevisions)
	mux.HandleFunc("POST /api/templates/{id}/revisions", server.handleCreateRevision)
	mux.HandleFunc("GET /api/templates/{id}/revisions/latest", server.handleLatestRevision)
	mux.HandleFunc("GET /api/templates/{id}/revisions/{revisionId}", server.handleGetRevision)
	mux.HandleFunc("POST /api/templates/{id}/send", server.handleSend)
	mux.HandleFunc("GET /api/stream", server.handleStream)
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	email := normalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		s.respondProblem(w, outcome.Problem{Field: "email", Message: "email is required"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(email)
	defer unsubscribe()
	s.logger.Debug("stream opened", "email", email, "subscribers", s.hub.Subscribers(email))

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

// reply is the HTTP rendering of an outcome. A nil body means no content.
type reply struct {
	status int
	body   any
}

func fromOutcome[T any](o outcome.Outcome[T], success func(T) reply) reply {
	return outcome.Match(o, outcome.Handlers[T, reply]{
		Success: success,
		BadRequest: func(p outcome.Problem) reply {
			return reply{status: http.StatusBadRequest, body: problemBody(p)}
		},
		NotFound: func() reply {
			return reply{status: http.StatusNotFound}
		},
		Failed: func(error) reply {
			return reply{status: http.StatusInternalServerError, body: errorBody{Error: "internal error"}}
		},
	})
}

func okReply(body any) reply {
	return reply{status: http.StatusOK, body: body}
}

func noContent[T any](T) reply {
	return reply{status: http.StatusNoContent}
}

func (s *Server) write(w http.ResponseWriter, rep reply) {
	if rep.body == nil {
		w.WriteHeader(rep.status)
		return
	}
	s.respondJSON(w, rep.status, rep.body)
}

func (s *Server) respondProblem(w http.ResponseWriter, p outcome.Problem) {
	s.respondJSON(w, http.StatusBadRequest, problemBody(p))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondProblem(w, outcome.Problem{Field: "body", Message: "invalid JSON"})
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
