package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.io/infrasutra/mailcat/internal/filter"
	"github.io/infrasutra/mailcat/internal/opt"
	"github.io/infrasutra/mailcat/internal/outcome"
	"github.io/infrasutra/mailcat/internal/store"
)

type TemplateStore interface {
	InsertTemplate(ctx context.Context, template store.Template) error
	FindTemplates(ctx context.Context, q filter.Query) ([]store.Template, error)
	GetTemplate(ctx context.Context, id string) (store.Template, error)
	UpdateTemplate(ctx context.Context, id string, patch store.TemplatePatch) (store.Template, error)
	InsertTemplateRevision(ctx context.Context, revision store.TemplateRevision) error
	FindTemplateRevisions(ctx context.Context, q filter.Query) ([]store.TemplateRevision, error)
	GetTemplateRevision(ctx context.Context, templateID, revisionID string) (store.TemplateRevision, error)
}

type Renderer interface {
	Render(source string, data map[string]any) (string, error)
}

// MailCreator records rendered mail; *MailService satisfies it.
type MailCreator interface {
	CreateMail(ctx context.Context, in NewMail) outcome.Outcome[bool]
}

type NewTemplate struct {
	Name        string
	Description string
}

// TemplateUpdate carries the requested changes. Blank fields are ignored.
type TemplateUpdate struct {
	Name        string
	Description string
}

type NewRevision struct {
	SubjectTemplate      string
	BodyTemplate         string
	DefaultFrom          string
	DefaultToRecipients  opt.Optional[[]string]
	DefaultCcRecipients  opt.Optional[[]string]
	DefaultBccRecipients opt.Optional[[]string]
}

// SendInput overrides the latest revision's defaults. A present list wins
// over the default even when it is empty.
type SendInput struct {
	From          string
	ToRecipients  opt.Optional[[]string]
	CcRecipients  opt.Optional[[]string]
	BccRecipients opt.Optional[[]string]
	Data          map[string]any
}

type TemplateService struct {
	store    TemplateStore
	renderer Renderer
	mail     MailCreator
	logger   *slog.Logger
	settings settings
}

func NewTemplateService(store TemplateStore, renderer Renderer, mail MailCreator, logger *slog.Logger, opts ...Option) *TemplateService {
	return &TemplateService{
		store:    store,
		renderer: renderer,
		mail:     mail,
		logger:   logger,
		settings: newSettings(opts),
	}
}

func (s *TemplateService) NewTemplate(ctx context.Context, in NewTemplate) outcome.Outcome[store.Template] {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return outcome.BadRequest[store.Template]("name", "name is required")
	}
	template := store.Template{
		ID:          s.settings.newID(),
		Name:        name,
		Description: in.Description,
		CreatedDate: s.settings.stamp(),
	}

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	if err := s.store.InsertTemplate(ctx, template); err != nil {
		return failed[store.Template](s.logger, "store template", err)
	}
	return outcome.Success(template)
}

func (s *TemplateService) GetTemplates(ctx context.Context, f filter.Templates) outcome.Outcome[Filtered[filter.Templates, store.Template]] {
	effective := f.Effective()

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	templates, err := s.store.FindTemplates(ctx, filter.ForTemplates(effective))
	if err != nil {
		return failed[Filtered[filter.Templates, store.Template]](s.logger, "find templates", err)
	}
	return outcome.Success(Filtered[filter.Templates, store.Template]{FilterUsed: effective, Data: templates})
}

func (s *TemplateService) GetTemplate(ctx context.Context, id string) outcome.Outcome[store.Template] {
	if !validID(id) {
		return outcome.BadRequest[store.Template]("templateId", "Not a valid id.")
	}

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	template, err := s.store.GetTemplate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return outcome.NotFound[store.Template]()
	}
	if err != nil {
		return failed[store.Template](s.logger, "get template", err)
	}
	return outcome.Success(template)
}

// UpdateTemplate overwrites the non-blank fields and returns the template as
// stored after the write.
func (s *TemplateService) UpdateTemplate(ctx context.Context, id string, in TemplateUpdate) outcome.Outcome[store.Template] {
	if !validID(id) {
		return outcome.BadRequest[store.Template]("templateId", "Not a valid id.")
	}
	var patch store.TemplatePatch
	if name := strings.TrimSpace(in.Name); name != "" {
		patch.Name = opt.Some(name)
	}
	if strings.TrimSpace(in.Description) != "" {
		patch.Description = opt.Some(in.Description)
	}
	if patch.Empty() {
		return outcome.BadRequest[store.Template]("template", "No updates to apply.")
	}

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	template, err := s.store.UpdateTemplate(ctx, id, patch)
	if errors.Is(err, store.ErrNotFound) {
		return outcome.NotFound[store.Template]()
	}
	if err != nil {
		return failed[store.Template](s.logger, "update template", err)
	}
	return outcome.Success(template)
}

// NewTemplateRevision appends a revision numbered one past the latest. When
// a concurrent writer takes the number first the read and insert are
// retried, so every template's numbers stay contiguous from 1.
func (s *TemplateService) NewTemplateRevision(ctx context.Context, templateID string, in NewRevision) outcome.Outcome[store.TemplateRevision] {
	if !validID(templateID) {
		return outcome.BadRequest[store.TemplateRevision]("templateId", "Not a valid id.")
	}
	revision, problem := buildRevision(templateID, in)
	if problem != nil {
		return outcome.BadRequest[store.TemplateRevision](problem.Field, problem.Message)
	}

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	if _, err := s.store.GetTemplate(ctx, templateID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return outcome.BadRequest[store.TemplateRevision]("templateId", "No matching template found.")
		}
		return failed[store.TemplateRevision](s.logger, "get template", err)
	}

	for attempt := 1; attempt <= s.settings.revisionAttempts; attempt++ {
		latest, found, err := s.latest(ctx, templateID)
		if err != nil {
			return failed[store.TemplateRevision](s.logger, "find latest revision", err)
		}
		revision.ID = s.settings.newID()
		revision.RevisionNumber = 1
		if found {
			revision.RevisionNumber = latest.RevisionNumber + 1
		}
		revision.CreatedDate = s.settings.stamp()

		err = s.store.InsertTemplateRevision(ctx, revision)
		if err == nil {
			return outcome.Success(revision)
		}
		if !errors.Is(err, store.ErrRevisionConflict) {
			return failed[store.TemplateRevision](s.logger, "store template revision", err)
		}
		s.logger.Debug("revision number taken, retrying",
			"templateId", templateID, "revisionNumber", revision.RevisionNumber, "attempt", attempt)
	}

	err := fmt.Errorf("number revision for template %s after %d attempts: %w",
		templateID, s.settings.revisionAttempts, store.ErrRevisionConflict)
	return failed[store.TemplateRevision](s.logger, "store template revision", err)
}

func buildRevision(templateID string, in NewRevision) (store.TemplateRevision, *outcome.Problem) {
	revision := store.TemplateRevision{
		TemplateReference: templateID,
		SubjectTemplate:   in.SubjectTemplate,
		BodyTemplate:      in.BodyTemplate,
	}
	if strings.TrimSpace(in.DefaultFrom) != "" {
		from, problem := checkAddress("defaultFrom", in.DefaultFrom)
		if problem != nil {
			return store.TemplateRevision{}, problem
		}
		revision.DefaultFrom = opt.Some(from)
	}

	var problem *outcome.Problem
	if revision.DefaultToRecipients, problem = checkOptionalList("defaultToRecipients", in.DefaultToRecipients); problem != nil {
		return store.TemplateRevision{}, problem
	}
	if revision.DefaultCcRecipients, problem = checkOptionalList("defaultCcRecipients", in.DefaultCcRecipients); problem != nil {
		return store.TemplateRevision{}, problem
	}
	if revision.DefaultBccRecipients, problem = checkOptionalList("defaultBccRecipients", in.DefaultBccRecipients); problem != nil {
		return store.TemplateRevision{}, problem
	}
	return revision, nil
}

func (s *TemplateService) latest(ctx context.Context, templateID string) (store.TemplateRevision, bool, error) {
	revisions, err := s.store.FindTemplateRevisions(ctx, filter.LatestRevision(templateID))
	if err != nil || len(revisions) == 0 {
		return store.TemplateRevision{}, false, err
	}
	return revisions[0], true, nil
}

// GetTemplateRevisions lists the revisions of one template. An unknown
// template simply has none.
func (s *TemplateService) GetTemplateRevisions(ctx context.Context, templateID string, f filter.TemplateRevisions) outcome.Outcome[Filtered[filter.TemplateRevisions, store.TemplateRevision]] {
	type result = Filtered[filter.TemplateRevisions, store.TemplateRevision]
	if !validID(templateID) {
		return outcome.BadRequest[result]("templateId", "Not a valid id.")
	}
	effective := f.Effective()

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	revisions, err := s.store.FindTemplateRevisions(ctx, filter.ForTemplateRevisions(templateID, effective))
	if err != nil {
		return failed[result](s.logger, "find template revisions", err)
	}
	return outcome.Success(result{FilterUsed: effective, Data: revisions})
}

func (s *TemplateService) GetTemplateRevision(ctx context.Context, templateID, revisionID string) outcome.Outcome[store.TemplateRevision] {
	if !validID(templateID) {
		return outcome.BadRequest[store.TemplateRevision]("templateId", "Not a valid id.")
	}
	if !validID(revisionID) {
		return outcome.BadRequest[store.TemplateRevision]("revisionId", "Not a valid id.")
	}

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	revision, err := s.store.GetTemplateRevision(ctx, templateID, revisionID)
	if errors.Is(err, store.ErrNotFound) {
		return outcome.NotFound[store.TemplateRevision]()
	}
	if err != nil {
		return failed[store.TemplateRevision](s.logger, "get template revision", err)
	}
	return outcome.Success(revision)
}

// GetLatestTemplateRevision returns the highest-numbered revision, or
// NotFound when the template has none or does not exist.
func (s *TemplateService) GetLatestTemplateRevision(ctx context.Context, templateID string) outcome.Outcome[store.TemplateRevision] {
	if !validID(templateID) {
		return outcome.BadRequest[store.TemplateRevision]("templateId", "Not a valid id.")
	}

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	revision, found, err := s.latest(ctx, templateID)
	if err != nil {
		return failed[store.TemplateRevision](s.logger, "find latest revision", err)
	}
	if !found {
		return outcome.NotFound[store.TemplateRevision]()
	}
	return outcome.Success(revision)
}

// Send renders the template's latest revision with in.Data and records the
// result as mail. Caller-supplied addresses take precedence over the
// revision's defaults.
func (s *TemplateService) Send(ctx context.Context, templateID string, in SendInput) outcome.Outcome[bool] {
	latest := s.GetLatestTemplateRevision(ctx, templateID)
	revision, ok := latest.Value()
	if !ok {
		return outcome.Forward[bool](latest)
	}

	from := in.From
	if strings.TrimSpace(from) == "" {
		from = revision.DefaultFrom.OrElse("")
	}
	if strings.TrimSpace(from) == "" {
		return outcome.BadRequest[bool]("from", "from is required")
	}

	subject, err := s.renderer.Render(revision.SubjectTemplate, in.Data)
	if err != nil {
		return failed[bool](s.logger, "render subject", fmt.Errorf("revision %s: %w", revision.ID, err))
	}
	body, err := s.renderer.Render(revision.BodyTemplate, in.Data)
	if err != nil {
		return failed[bool](s.logger, "render body", fmt.Errorf("revision %s: %w", revision.ID, err))
	}

	return s.mail.CreateMail(ctx, NewMail{
		From:          from,
		ToRecipients:  in.ToRecipients.Or(revision.DefaultToRecipients).OrElse(nil),
		CcRecipients:  in.CcRecipients.Or(revision.DefaultCcRecipients),
		BccRecipients: in.BccRecipients.Or(revision.DefaultBccRecipients),
		Subject:       subject,
		Body:          body,
	})
}
