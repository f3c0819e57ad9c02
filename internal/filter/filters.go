package filter

import (
	"strings"
	"time"

	"github.io/infrasutra/mailcat/internal/opt"
)

// Mail selects recorded mail. ToEmail matches any of the to, cc and bcc
// recipients.
type Mail struct {
	Before    opt.Optional[time.Time] `json:"before,omitzero"`
	After     opt.Optional[time.Time] `json:"after,omitzero"`
	ToEmail   string                  `json:"toEmail,omitempty"`
	FromEmail string                  `json:"fromEmail,omitempty"`
	Limit     int                     `json:"limit"`
	Skip      int                     `json:"skip"`
}

// Effective returns the filter as it is executed: paging clamped and
// addresses normalized.
func (f Mail) Effective() Mail {
	f.Limit, f.Skip = Clamp(f.Limit, f.Skip)
	f.ToEmail = normalizeAddress(f.ToEmail)
	f.FromEmail = normalizeAddress(f.FromEmail)
	return f
}

var mailRules = []Rule[Mail]{
	func(f Mail) (Predicate, bool) {
		t, ok := f.After.Get()
		return Predicate{Field: FieldDate, Op: OpGte, Value: t}, ok
	},
	func(f Mail) (Predicate, bool) {
		t, ok := f.Before.Get()
		return Predicate{Field: FieldDate, Op: OpLte, Value: t}, ok
	},
	func(f Mail) (Predicate, bool) {
		return Predicate{Field: FieldFrom, Op: OpEq, Value: f.FromEmail}, f.FromEmail != ""
	},
	func(f Mail) (Predicate, bool) {
		return Predicate{AnyOf: []Predicate{
			{Field: FieldToRecipients, Op: OpHas, Value: f.ToEmail},
			{Field: FieldCcRecipients, Op: OpHas, Value: f.ToEmail},
			{Field: FieldBccRecipients, Op: OpHas, Value: f.ToEmail},
		}}, f.ToEmail != ""
	},
}

func ForMail(f Mail) Query {
	f = f.Effective()
	return translate(f, f.Limit, f.Skip, newestFirst(FieldDate, FieldID), mailRules...)
}

type Templates struct {
	NameContains        string                  `json:"nameContains,omitempty"`
	DescriptionContains string                  `json:"descriptionContains,omitempty"`
	DateBefore          opt.Optional[time.Time] `json:"dateBefore,omitzero"`
	Limit               int                     `json:"limit"`
	Skip                int                     `json:"skip"`
}

func (f Templates) Effective() Templates {
	f.Limit, f.Skip = Clamp(f.Limit, f.Skip)
	return f
}

var templateRules = []Rule[Templates]{
	func(f Templates) (Predicate, bool) {
		return Predicate{Field: FieldName, Op: OpContains, Value: f.NameContains}, strings.TrimSpace(f.NameContains) != ""
	},
	func(f Templates) (Predicate, bool) {
		return Predicate{Field: FieldDescription, Op: OpContains, Value: f.DescriptionContains}, strings.TrimSpace(f.DescriptionContains) != ""
	},
	func(f Templates) (Predicate, bool) {
		t, ok := f.DateBefore.Get()
		return Predicate{Field: FieldCreatedDate, Op: OpLte, Value: t}, ok
	},
}

func ForTemplates(f Templates) Query {
	f = f.Effective()
	return translate(f, f.Limit, f.Skip, newestFirst(FieldCreatedDate, FieldID), templateRules...)
}

type TemplateRevisions struct {
	DateBefore opt.Optional[time.Time] `json:"dateBefore,omitzero"`
	Limit      int                     `json:"limit"`
	Skip       int                     `json:"skip"`
}

func (f TemplateRevisions) Effective() TemplateRevisions {
	f.Limit, f.Skip = Clamp(f.Limit, f.Skip)
	return f
}

var revisionRules = []Rule[TemplateRevisions]{
	func(f TemplateRevisions) (Predicate, bool) {
		t, ok := f.DateBefore.Get()
		return Predicate{Field: FieldCreatedDate, Op: OpLte, Value: t}, ok
	},
}

// ForTemplateRevisions scopes the revision filter to a single template.
func ForTemplateRevisions(templateID string, f TemplateRevisions) Query {
	f = f.Effective()
	q := translate(f, f.Limit, f.Skip, newestFirst(FieldCreatedDate, FieldRevisionNumber), revisionRules...)
	q.Where = append([]Predicate{templateReference(templateID)}, q.Where...)
	return q
}

// LatestRevision selects the highest-numbered revision of a template.
func LatestRevision(templateID string) Query {
	return Query{
		Where: []Predicate{templateReference(templateID)},
		Sort:  []Sort{{Field: FieldRevisionNumber, Descending: true}},
		Limit: 1,
	}
}

func templateReference(templateID string) Predicate {
	return Predicate{Field: FieldTemplateReference, Op: OpEq, Value: templateID}
}

func normalizeAddress(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
