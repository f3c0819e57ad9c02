package api

import (
	"net/http"

	"github.io/infrasutra/mailcat/internal/filter"
	"github.io/infrasutra/mailcat/internal/outcome"
	"github.io/infrasutra/mailcat/internal/pagination"
	"github.io/infrasutra/mailcat/internal/service"
	"github.io/infrasutra/mailcat/internal/store"
)

func (s *Server) handleListMail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pagination.GetPaginationParams(q)
	f := filter.Mail{
		ToEmail:   q.Get("toEmail"),
		FromEmail: q.Get("fromEmail"),
		Limit:     page.Limit,
		Skip:      page.Skip,
	}
	var problem *outcome.Problem
	if f.Before, problem = queryTime(q, "before"); problem != nil {
		s.respondProblem(w, *problem)
		return
	}
	if f.After, problem = queryTime(q, "after"); problem != nil {
		s.respondProblem(w, *problem)
		return
	}

	result := s.mails.GetMail(r.Context(), f)
	s.write(w, fromOutcome(result, func(v service.Filtered[filter.Mail, store.Mail]) reply {
		return okReply(toList(v, toMailResponse))
	}))
}

func (s *Server) handleCreateMail(w http.ResponseWriter, r *http.Request) {
	var payload mailRequest
	if !s.decode(w, r, &payload) {
		return
	}
	s.write(w, fromOutcome(s.mails.CreateMail(r.Context(), payload.toNewMail()), noContent[bool]))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pagination.GetPaginationParams(q)
	f := filter.Templates{
		NameContains:        q.Get("nameContains"),
		DescriptionContains: q.Get("descriptionContains"),
		Limit:               page.Limit,
		Skip:                page.Skip,
	}
	var problem *outcome.Problem
	if f.DateBefore, problem = queryTime(q, "dateBefore"); problem != nil {
		s.respondProblem(w, *problem)
		return
	}

	result := s.templates.GetTemplates(r.Context(), f)
	s.write(w, fromOutcome(result, func(v service.Filtered[filter.Templates, store.Template]) reply {
		return okReply(toList(v, toTemplateResponse))
	}))
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var payload templateRequest
	if !s.decode(w, r, &payload) {
		return
	}
	result := s.templates.NewTemplate(r.Context(), service.NewTemplate{Name: payload.Name, Description: payload.Description})
	s.write(w, fromOutcome(result, templateReply))
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	s.write(w, fromOutcome(s.templates.GetTemplate(r.Context(), r.PathValue("id")), templateReply))
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var payload templateRequest
	if !s.decode(w, r, &payload) {
		return
	}
	result := s.templates.UpdateTemplate(r.Context(), r.PathValue("id"), service.TemplateUpdate{
		Name:        payload.Name,
		Description: payload.Description,
	})
	s.write(w, fromOutcome(result, templateReply))
}

func (s *Server) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pagination.GetPaginationParams(q)
	f := filter.TemplateRevisions{Limit: page.Limit, Skip: page.Skip}
	var problem *outcome.Problem
	if f.DateBefore, problem = queryTime(q, "dateBefore"); problem != nil {
		s.respondProblem(w, *problem)
		return
	}

	result := s.templates.GetTemplateRevisions(r.Context(), r.PathValue("id"), f)
	s.write(w, fromOutcome(result, func(v service.Filtered[filter.TemplateRevisions, store.TemplateRevision]) reply {
		return okReply(toList(v, toRevisionResponse))
	}))
}

func (s *Server) handleCreateRevision(w http.ResponseWriter, r *http.Request) {
	var payload revisionRequest
	if !s.decode(w, r, &payload) {
		return
	}
	result := s.templates.NewTemplateRevision(r.Context(), r.PathValue("id"), payload.toNewRevision())
	s.write(w, fromOutcome(result, revisionReply))
}

func (s *Server) handleLatestRevision(w http.ResponseWriter, r *http.Request) {
	s.write(w, fromOutcome(s.templates.GetLatestTemplateRevision(r.Context(), r.PathValue("id")), revisionReply))
}

func (s *Server) handleGetRevision(w http.ResponseWriter, r *http.Request) {
	result := s.templates.GetTemplateRevision(r.Context(), r.PathValue("id"), r.PathValue("revisionId"))
	s.write(w, fromOutcome(result, revisionReply))
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if !s.decode(w, r, &payload) {
		return
	}
	result := s.templates.Send(r.Context(), r.PathValue("id"), payload.toSendInput())
	s.write(w, fromOutcome(result, noContent[bool]))
}

func templateReply(t store.Template) reply {
	return okReply(toTemplateResponse(t))
}

func revisionReply(rev store.TemplateRevision) reply {
	return okReply(toRevisionResponse(rev))
}
