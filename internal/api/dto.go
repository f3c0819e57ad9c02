package api

import (
	"net/url"
	"strings"
	"time"

	"github.io/infrasutra/mailcat/internal/opt"
	"github.io/infrasutra/mailcat/internal/outcome"
	"github.io/infrasutra/mailcat/internal/service"
	"github.io/infrasutra/mailcat/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
}

type problemResponse struct {
	Errors map[string][]string `json:"errors"`
}

func problemBody(p outcome.Problem) problemResponse {
	return problemResponse{Errors: map[string][]string{p.Field: {p.Message}}}
}

type listResponse[F, T any] struct {
	FilterUsed F   `json:"filterUsed"`
	Data       []T `json:"data"`
}

func toList[F, S, T any](result service.Filtered[F, S], convert func(S) T) listResponse[F, T] {
	data := make([]T, 0, len(result.Data))
	for _, item := range result.Data {
		data = append(data, convert(item))
	}
	return listResponse[F, T]{FilterUsed: result.FilterUsed, Data: data}
}

type mailRequest struct {
	From          string                 `json:"from"`
	ToRecipients  []string               `json:"toRecipients"`
	CcRecipients  opt.Optional[[]string] `json:"ccRecipients,omitzero"`
	BccRecipients opt.Optional[[]string] `json:"bccRecipients,omitzero"`
	Subject       string                 `json:"subject"`
	Body          string                 `json:"body"`
}

func (r mailRequest) toNewMail() service.NewMail {
	return service.NewMail{
		From:          r.From,
		ToRecipients:  r.ToRecipients,
		CcRecipients:  r.CcRecipients,
		BccRecipients: r.BccRecipients,
		Subject:       r.Subject,
		Body:          r.Body,
	}
}

type mailResponse struct {
	ID            string                 `json:"id"`
	From          string                 `json:"from"`
	ToRecipients  []string               `json:"toRecipients"`
	CcRecipients  opt.Optional[[]string] `json:"ccRecipients,omitzero"`
	BccRecipients opt.Optional[[]string] `json:"bccRecipients,omitzero"`
	Subject       string                 `json:"subject"`
	Body          string                 `json:"body"`
	Date          time.Time              `json:"date"`
}

func toMailResponse(m store.Mail) mailResponse {
	return mailResponse{
		ID:            m.ID,
		From:          m.From,
		ToRecipients:  m.ToRecipients,
		CcRecipients:  m.CcRecipients,
		BccRecipients: m.BccRecipients,
		Subject:       m.Subject,
		Body:          m.Body,
		Date:          m.Date.UTC(),
	}
}

type templateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type templateResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedDate time.Time `json:"createdDate"`
}

func toTemplateResponse(t store.Template) templateResponse {
	return templateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		CreatedDate: t.CreatedDate.UTC(),
	}
}

type revisionRequest struct {
	SubjectTemplate      string                 `json:"subjectTemplate"`
	BodyTemplate         string                 `json:"bodyTemplate"`
	DefaultFrom          string                 `json:"defaultFrom"`
	DefaultToRecipients  opt.Optional[[]string] `json:"defaultToRecipients,omitzero"`
	DefaultCcRecipients  opt.Optional[[]string] `json:"defaultCcRecipients,omitzero"`
	DefaultBccRecipients opt.Optional[[]string] `json:"defaultBccRecipients,omitzero"`
}

func (r revisionRequest) toNewRevision() service.NewRevision {
	return service.NewRevision{
		SubjectTemplate:      r.SubjectTemplate,
		BodyTemplate:         r.BodyTemplate,
		DefaultFrom:          r.DefaultFrom,
		DefaultToRecipients:  r.DefaultToRecipients,
		DefaultCcRecipients:  r.DefaultCcRecipients,
		DefaultBccRecipients: r.DefaultBccRecipients,
	}
}

type revisionResponse struct {
	ID                   string                 `json:"id"`
	TemplateReference    string                 `json:"templateReference"`
	RevisionNumber       int64                  `json:"revisionNumber"`
	CreatedDate          time.Time              `json:"createdDate"`
	SubjectTemplate      string                 `json:"subjectTemplate"`
	BodyTemplate         string                 `json:"bodyTemplate"`
	DefaultFrom          opt.Optional[string]   `json:"defaultFrom,omitzero"`
	DefaultToRecipients  opt.Optional[[]string] `json:"defaultToRecipients,omitzero"`
	DefaultCcRecipients  opt.Optional[[]string] `json:"defaultCcRecipients,omitzero"`
	DefaultBccRecipients opt.Optional[[]string] `json:"defaultBccRecipients,omitzero"`
}

func toRevisionResponse(r store.TemplateRevision) revisionResponse {
	return revisionResponse{
		ID:                   r.ID,
		TemplateReference:    r.TemplateReference,
		RevisionNumber:       r.RevisionNumber,
		CreatedDate:          r.CreatedDate.UTC(),
		SubjectTemplate:      r.SubjectTemplate,
		BodyTemplate:         r.BodyTemplate,
		DefaultFrom:          r.DefaultFrom,
		DefaultToRecipients:  r.DefaultToRecipients,
		DefaultCcRecipients:  r.DefaultCcRecipients,
		DefaultBccRecipients: r.DefaultBccRecipients,
	}
}

type sendRequest struct {
	From          string                 `json:"from"`
	ToRecipients  opt.Optional[[]string] `json:"toRecipients,omitzero"`
	CcRecipients  opt.Optional[[]string] `json:"ccRecipients,omitzero"`
	BccRecipients opt.Optional[[]string] `json:"bccRecipients,omitzero"`
	Data          map[string]any         `json:"data"`
}

func (r sendRequest) toSendInput() service.SendInput {
	return service.SendInput{
		From:          r.From,
		ToRecipients:  r.ToRecipients,
		CcRecipients:  r.CcRecipients,
		BccRecipients: r.BccRecipients,
		Data:          r.Data,
	}
}

// queryTime parses an optional RFC 3339 timestamp from the query string.
func queryTime(q url.Values, key string) (opt.Optional[time.Time], *outcome.Problem) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return opt.None[time.Time](), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return opt.None[time.Time](), &outcome.Problem{Field: key, Message: "expected an RFC 3339 timestamp"}
	}
	return opt.Some(t.UTC()), nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
