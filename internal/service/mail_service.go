package service

import (
	"context"
	"log/slog"
	"time"

	"github.io/infrasutra/mailcat/internal/filter"
	"github.io/infrasutra/mailcat/internal/opt"
	"github.io/infrasutra/mailcat/internal/outcome"
	"github.io/infrasutra/mailcat/internal/sse"
	"github.io/infrasutra/mailcat/internal/store"
)

type MailStore interface {
	InsertMail(ctx context.Context, mail store.Mail) error
	FindMail(ctx context.Context, q filter.Query) ([]store.Mail, error)
}

// Publisher receives one framed event per recorded mail, addressed to the
// sender and every recipient.
type Publisher interface {
	Broadcast(emails []string, payload []byte)
}

// NewMail is a mail submission before validation. Cc and Bcc stay absent
// unless the caller supplied them, even as empty lists.
type NewMail struct {
	From          string
	ToRecipients  []string
	CcRecipients  opt.Optional[[]string]
	BccRecipients opt.Optional[[]string]
	Subject       string
	Body          string
}

type MailService struct {
	store    MailStore
	logger   *slog.Logger
	settings settings
}

func NewMailService(store MailStore, logger *slog.Logger, opts ...Option) *MailService {
	return &MailService{store: store, logger: logger, settings: newSettings(opts)}
}

// CreateMail validates and records a mail. Nothing is written unless every
// address is well formed.
func (s *MailService) CreateMail(ctx context.Context, in NewMail) outcome.Outcome[bool] {
	mail, problem := s.buildMail(in)
	if problem != nil {
		return outcome.BadRequest[bool](problem.Field, problem.Message)
	}

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	if err := s.store.InsertMail(ctx, mail); err != nil {
		return failed[bool](s.logger, "store mail", err)
	}
	s.logger.Debug("mail recorded", "id", mail.ID, "from", mail.From, "recipients", len(mail.ToRecipients))

	s.publish(mail)
	return outcome.Success(true)
}

func (s *MailService) buildMail(in NewMail) (store.Mail, *outcome.Problem) {
	from, problem := checkAddress("from", in.From)
	if problem != nil {
		return store.Mail{}, problem
	}
	if len(in.ToRecipients) == 0 {
		return store.Mail{}, &outcome.Problem{Field: "toRecipients", Message: "at least one recipient is required"}
	}
	to, problem := checkAddressList("toRecipients", in.ToRecipients)
	if problem != nil {
		return store.Mail{}, problem
	}
	cc, problem := checkOptionalList("ccRecipients", in.CcRecipients)
	if problem != nil {
		return store.Mail{}, problem
	}
	bcc, problem := checkOptionalList("bccRecipients", in.BccRecipients)
	if problem != nil {
		return store.Mail{}, problem
	}

	return store.Mail{
		ID:            s.settings.newID(),
		From:          from,
		ToRecipients:  to,
		CcRecipients:  cc,
		BccRecipients: bcc,
		Subject:       in.Subject,
		Body:          in.Body,
		Date:          s.settings.stamp(),
	}, nil
}

func checkOptionalList(field string, list opt.Optional[[]string]) (opt.Optional[[]string], *outcome.Problem) {
	emails, ok := list.Get()
	if !ok {
		return opt.None[[]string](), nil
	}
	checked, problem := checkAddressList(field, emails)
	if problem != nil {
		return opt.None[[]string](), problem
	}
	return opt.Some(checked), nil
}

// GetMail runs the filter and returns the matches with the filter as
// executed.
func (s *MailService) GetMail(ctx context.Context, f filter.Mail) outcome.Outcome[Filtered[filter.Mail, store.Mail]] {
	effective := f.Effective()

	ctx, cancel := s.settings.withTimeout(ctx)
	defer cancel()
	mails, err := s.store.FindMail(ctx, filter.ForMail(effective))
	if err != nil {
		return failed[Filtered[filter.Mail, store.Mail]](s.logger, "find mail", err)
	}
	return outcome.Success(Filtered[filter.Mail, store.Mail]{FilterUsed: effective, Data: mails})
}

type mailEvent struct {
	ID      string   `json:"id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Date    string   `json:"date"`
}

func (s *MailService) publish(mail store.Mail) {
	if s.settings.publisher == nil {
		return
	}
	payload, err := sse.Event("mail", mailEvent{
		ID:      mail.ID,
		From:    mail.From,
		To:      mail.ToRecipients,
		Subject: mail.Subject,
		Date:    mail.Date.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Warn("encode mail event", "id", mail.ID, "error", err)
		return
	}
	s.settings.publisher.Broadcast(audience(mail), payload)
}

func audience(mail store.Mail) []string {
	emails := append([]string{mail.From}, mail.ToRecipients...)
	emails = append(emails, mail.CcRecipients.OrElse(nil)...)
	return append(emails, mail.BccRecipients.OrElse(nil)...)
}
