package store

import (
	"time"

	"github.io/infrasutra/mailcat/internal/opt"
)

type Mail struct {
	ID            string
	From          string
	ToRecipients  []string
	CcRecipients  opt.Optional[[]string]
	BccRecipients opt.Optional[[]string]
	Subject       string
	Body          string
	Date          time.Time
}

type Template struct {
	ID          string
	Name        string
	Description string
	CreatedDate time.Time
}

// TemplatePatch lists the template fields to overwrite; absent fields are
// left untouched.
type TemplatePatch struct {
	Name        opt.Optional[string]
	Description opt.Optional[string]
}

func (p TemplatePatch) Empty() bool {
	return !p.Name.Present() && !p.Description.Present()
}

type TemplateRevision struct {
	ID                   string
	TemplateReference    string
	RevisionNumber       int64
	CreatedDate          time.Time
	SubjectTemplate      string
	BodyTemplate         string
	DefaultFrom          opt.Optional[string]
	DefaultToRecipients  opt.Optional[[]string]
	DefaultCcRecipients  opt.Optional[[]string]
	DefaultBccRecipients opt.Optional[[]string]
}

const (
	recipientTo  = "to"
	recipientCc  = "cc"
	recipientBcc = "bcc"
)
