package smtpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/mailcat/internal/opt"
	"github.io/infrasutra/mailcat/internal/outcome"
	"github.io/infrasutra/mailcat/internal/service"
)

const (
	defaultDomain = "mailcat"
)

type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

// MailCreator records accepted messages; *service.MailService satisfies it.
type MailCreator interface {
	CreateMail(ctx context.Context, in service.NewMail) outcome.Outcome[bool]
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(mails MailCreator, logger *slog.Logger, addr string, authCfg AuthConfig) *Server {
	backend := &backend{
		mails:        mails,
		logger:       logger,
		authEnabled:  authCfg.Enabled,
		authUsername: authCfg.Username,
		authPassword: authCfg.Password,
	}
	server := smtp.NewServer(backend)
	server.Addr = addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	mails        MailCreator
	logger       *slog.Logger
	authEnabled  bool
	authUsername string
	authPassword string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.authUsername && password == s.backend.authPassword {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.to = append(s.to, normalizeEmail(to))
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	in, err := parseMessage(s.from, s.to, data)
	if err != nil {
		s.backend.logger.Warn("parse smtp message", "error", err)
	}

	result := s.backend.mails.CreateMail(context.Background(), in)
	return outcome.Match(result, outcome.Handlers[bool, error]{
		Success: func(bool) error { return nil },
		BadRequest: func(p outcome.Problem) error {
			s.backend.logger.Info("rejected smtp message", "field", p.Field, "reason", p.Message)
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 3},
				Message:      fmt.Sprintf("%s: %s", p.Field, p.Message),
			}
		},
		NotFound: func() error {
			return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "Mailbox unavailable"}
		},
		Failed: func(error) error {
			return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Message not stored, try again later"}
		},
	})
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// parseMessage turns a raw RFC 5322 message into a mail submission. Header
// addresses are preferred; envelope recipients missing from every header are
// treated as blind copies. The returned submission is usable even when err
// is set, carrying whatever was parsed before the failure.
func parseMessage(envelopeFrom string, envelopeTo []string, raw []byte) (service.NewMail, error) {
	in := service.NewMail{From: normalizeEmail(envelopeFrom)}
	headers := recipients{}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		headers.applyEnvelope(&in, envelopeTo)
		return in, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		in.Subject = subject
	}
	if in.From == "" {
		if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
			in.From = normalizeEmail(fromList[0].Address)
		}
	}

	headers.to = headerAddresses(reader.Header, "To")
	headers.cc = headerAddresses(reader.Header, "Cc")
	headers.bcc = headerAddresses(reader.Header, "Bcc")

	var text, html []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			in.Body = pickBody(text, html)
			headers.applyEnvelope(&in, envelopeTo)
			return in, err
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
			text = append(text, string(body))
		case strings.HasPrefix(mediaType, "text/html"):
			html = append(html, string(body))
		}
	}

	in.Body = pickBody(text, html)
	headers.applyEnvelope(&in, envelopeTo)
	return in, nil
}

func pickBody(text, html []string) string {
	if len(text) > 0 {
		return strings.Join(text, "\n")
	}
	return strings.Join(html, "\n")
}

type recipients struct {
	to, cc, bcc []string
}

// applyEnvelope fills the recipient lists. Envelope recipients named in no
// header become the To list when the message has no To header and blind
// copies otherwise.
func (r recipients) applyEnvelope(in *service.NewMail, envelopeTo []string) {
	listed := map[string]struct{}{}
	for _, list := range [][]string{r.to, r.cc, r.bcc} {
		for _, email := range list {
			listed[email] = struct{}{}
		}
	}
	var unlisted []string
	for _, email := range envelopeTo {
		if _, ok := listed[email]; !ok {
			unlisted = append(unlisted, email)
		}
	}

	in.ToRecipients = r.to
	bcc := r.bcc
	if len(in.ToRecipients) == 0 {
		in.ToRecipients = unlisted
	} else {
		bcc = append(bcc, unlisted...)
	}

	if len(r.cc) > 0 {
		in.CcRecipients = opt.Some(r.cc)
	}
	if len(bcc) > 0 {
		in.BccRecipients = opt.Some(bcc)
	}
}

func headerAddresses(header mail.Header, name string) []string {
	list, err := header.AddressList(name)
	if err != nil {
		return nil
	}
	var emails []string
	for _, addr := range list {
		if email := normalizeEmail(addr.Address); email != "" {
			emails = append(emails, email)
		}
	}
	return emails
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
