package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailcat/internal/filter"
	"github.io/infrasutra/mailcat/internal/opt"
	"github.io/infrasutra/mailcat/internal/outcome"
	"github.io/infrasutra/mailcat/internal/render"
	"github.io/infrasutra/mailcat/internal/store"
)

var discard = slog.New(slog.DiscardHandler)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))
	return st
}

type recordingPublisher struct {
	mu       sync.Mutex
	audience [][]string
	payloads [][]byte
}

func (p *recordingPublisher) Broadcast(emails []string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audience = append(p.audience, emails)
	p.payloads = append(p.payloads, payload)
}

type services struct {
	store     *store.Store
	mail      *MailService
	templates *TemplateService
	publisher *recordingPublisher
}

func newServices(t *testing.T, opts ...Option) services {
	t.Helper()
	st := newTestStore(t)
	publisher := &recordingPublisher{}
	mail := NewMailService(st, discard, append(opts, WithPublisher(publisher))...)
	templates := NewTemplateService(st, render.NewHandlebars(), mail, discard, opts...)
	return services{store: st, mail: mail, templates: templates, publisher: publisher}
}

func requireSuccess[T any](t *testing.T, o outcome.Outcome[T]) T {
	t.Helper()
	value, ok := o.Value()
	require.True(t, ok, "expected success, got %s", o)
	return value
}

func requireBadRequest[T any](t *testing.T, o outcome.Outcome[T], field string) {
	t.Helper()
	problem, ok := o.Problem()
	require.True(t, ok, "expected bad request, got %s", o)
	assert.Equal(t, field, problem.Field)
}

func TestCreateMailValidatesAddresses(t *testing.T) {
	tests := []struct {
		name  string
		in    NewMail
		field string
	}{
		{name: "missing from", in: NewMail{ToRecipients: []string{"a@b.co"}}, field: "from"},
		{name: "malformed from", in: NewMail{From: "nobody", ToRecipients: []string{"a@b.co"}}, field: "from"},
		{name: "no recipients", in: NewMail{From: "x@y.co"}, field: "toRecipients"},
		{name: "malformed to", in: NewMail{From: "x@y.co", ToRecipients: []string{"a@b.co", "bad@"}}, field: "toRecipients"},
		{name: "malformed cc", in: NewMail{From: "x@y.co", ToRecipients: []string{"a@b.co"}, CcRecipients: opt.Some([]string{"c@"})}, field: "ccRecipients"},
		{name: "malformed bcc", in: NewMail{From: "x@y.co", ToRecipients: []string{"a@b.co"}, BccRecipients: opt.Some([]string{"@d.co"})}, field: "bccRecipients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServices(t)
			requireBadRequest(t, s.mail.CreateMail(context.Background(), tt.in), tt.field)

			mails := requireSuccess(t, s.mail.GetMail(context.Background(), filter.Mail{Limit: 10}))
			assert.Empty(t, mails.Data)
			assert.Empty(t, s.publisher.payloads)
		})
	}
}

func TestCreateMailNormalizesAndPublishes(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	created := s.mail.CreateMail(ctx, NewMail{
		From:          " Sender@Example.com ",
		ToRecipients:  []string{"A@b.co", "a@b.co", "c@d.co"},
		BccRecipients: opt.Some([]string{}),
		Subject:       "hi",
		Body:          "body",
	})
	assert.True(t, requireSuccess(t, created))

	result := requireSuccess(t, s.mail.GetMail(ctx, filter.Mail{Limit: 10}))
	require.Len(t, result.Data, 1)
	mail := result.Data[0]
	assert.Equal(t, "sender@example.com", mail.From)
	assert.Equal(t, []string{"a@b.co", "c@d.co"}, mail.ToRecipients)
	assert.False(t, mail.CcRecipients.Present())
	bcc, ok := mail.BccRecipients.Get()
	assert.True(t, ok)
	assert.Empty(t, bcc)
	assert.Equal(t, time.UTC, mail.Date.Location())

	require.Len(t, s.publisher.payloads, 1)
	assert.Contains(t, s.publisher.audience[0], "sender@example.com")
	assert.Contains(t, string(s.publisher.payloads[0]), "event: mail\n")
}

func TestGetMailEchoesEffectiveFilter(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	requireSuccess(t, s.mail.CreateMail(ctx, NewMail{From: "x@y.co", ToRecipients: []string{"a@b.co"}}))
	requireSuccess(t, s.mail.CreateMail(ctx, NewMail{From: "x@y.co", ToRecipients: []string{"c@d.co"}, CcRecipients: opt.Some([]string{"a@b.co"})}))
	requireSuccess(t, s.mail.CreateMail(ctx, NewMail{From: "x@y.co", ToRecipients: []string{"e@f.co"}}))

	result := requireSuccess(t, s.mail.GetMail(ctx, filter.Mail{ToEmail: "A@B.CO", Limit: 5000, Skip: -3}))
	assert.Len(t, result.Data, 2)
	assert.Equal(t, "a@b.co", result.FilterUsed.ToEmail)
	assert.Equal(t, filter.MaxLimit, result.FilterUsed.Limit)
	assert.Equal(t, 0, result.FilterUsed.Skip)

	none := requireSuccess(t, s.mail.GetMail(ctx, filter.Mail{Limit: 0}))
	assert.Empty(t, none.Data)
}

func TestStoreFailuresAreFailed(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	template := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "welcome"}))
	require.NoError(t, s.store.Close())

	assert.Equal(t, outcome.KindFailed, s.mail.CreateMail(ctx, NewMail{From: "x@y.co", ToRecipients: []string{"a@b.co"}}).Kind())
	assert.Equal(t, outcome.KindFailed, s.mail.GetMail(ctx, filter.Mail{}).Kind())
	assert.Equal(t, outcome.KindFailed, s.templates.GetTemplate(ctx, template.ID).Kind())
	assert.Equal(t, outcome.KindFailed, s.templates.GetTemplates(ctx, filter.Templates{}).Kind())
	assert.Equal(t, outcome.KindFailed, s.templates.NewTemplateRevision(ctx, template.ID, NewRevision{}).Kind())
}

func TestNewTemplateRequiresName(t *testing.T) {
	s := newServices(t)
	requireBadRequest(t, s.templates.NewTemplate(context.Background(), NewTemplate{Name: "  "}), "name")
}

func TestGetTemplateIsIdempotent(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	created := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "welcome", Description: "first"}))

	first := requireSuccess(t, s.templates.GetTemplate(ctx, created.ID))
	second := requireSuccess(t, s.templates.GetTemplate(ctx, created.ID))
	assert.Equal(t, first, second)
	assert.Equal(t, created.ID, first.ID)
}

func TestMalformedAndUnknownIDs(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	requireBadRequest(t, s.templates.GetTemplate(ctx, "not-an-id"), "templateId")
	requireBadRequest(t, s.templates.GetTemplateRevisions(ctx, "not-an-id", filter.TemplateRevisions{}), "templateId")
	requireBadRequest(t, s.templates.GetTemplateRevision(ctx, "not-an-id", "also-not"), "templateId")
	requireBadRequest(t, s.templates.Send(ctx, "not-an-id", SendInput{}), "templateId")

	unknown := "0b4a4f5e-6d1e-4c1a-9a44-6a0f5f3b1c2d"
	assert.Equal(t, outcome.KindNotFound, s.templates.GetTemplate(ctx, unknown).Kind())
	assert.Equal(t, outcome.KindNotFound, s.templates.GetLatestTemplateRevision(ctx, unknown).Kind())
	requireBadRequest(t, s.templates.GetTemplateRevision(ctx, unknown, "bad"), "revisionId")
	requireBadRequest(t, s.templates.NewTemplateRevision(ctx, unknown, NewRevision{}), "templateId")

	revisions := requireSuccess(t, s.templates.GetTemplateRevisions(ctx, unknown, filter.TemplateRevisions{Limit: 10}))
	assert.Empty(t, revisions.Data)
}

func TestUpdateTemplate(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	created := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "welcome", Description: "first"}))

	updated := requireSuccess(t, s.templates.UpdateTemplate(ctx, created.ID, TemplateUpdate{Description: "second"}))
	assert.Equal(t, "welcome", updated.Name)
	assert.Equal(t, "second", updated.Description)
	assert.True(t, created.CreatedDate.Equal(updated.CreatedDate))

	unknown := "0b4a4f5e-6d1e-4c1a-9a44-6a0f5f3b1c2d"
	assert.Equal(t, outcome.KindNotFound, s.templates.UpdateTemplate(ctx, unknown, TemplateUpdate{Name: "x"}).Kind())
}

func TestUpdateTemplateWithoutFieldsLeavesStoreUnchanged(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	created := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "welcome", Description: "first"}))

	requireBadRequest(t, s.templates.UpdateTemplate(ctx, created.ID, TemplateUpdate{}), "template")
	requireBadRequest(t, s.templates.UpdateTemplate(ctx, created.ID, TemplateUpdate{Name: " ", Description: "\t"}), "template")

	assert.Equal(t, created, requireSuccess(t, s.templates.GetTemplate(ctx, created.ID)))
}

func TestRevisionNumbersAreSequential(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	template := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "welcome"}))
	other := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "other"}))

	for want := int64(1); want <= 3; want++ {
		revision := requireSuccess(t, s.templates.NewTemplateRevision(ctx, template.ID, NewRevision{SubjectTemplate: "s"}))
		assert.Equal(t, want, revision.RevisionNumber)
		assert.Equal(t, template.ID, revision.TemplateReference)

		latest := requireSuccess(t, s.templates.GetLatestTemplateRevision(ctx, template.ID))
		assert.Equal(t, revision.ID, latest.ID)
	}

	first := requireSuccess(t, s.templates.NewTemplateRevision(ctx, other.ID, NewRevision{}))
	assert.Equal(t, int64(1), first.RevisionNumber)

	fetched := requireSuccess(t, s.templates.GetTemplateRevision(ctx, other.ID, first.ID))
	assert.Equal(t, first.ID, fetched.ID)
	assert.Equal(t, outcome.KindNotFound, s.templates.GetTemplateRevision(ctx, template.ID, first.ID).Kind())

	listed := requireSuccess(t, s.templates.GetTemplateRevisions(ctx, template.ID, filter.TemplateRevisions{Limit: 10}))
	assert.Len(t, listed.Data, 3)
}

func TestConcurrentRevisionsGetDistinctNumbers(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	template := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "busy"}))

	const writers = 16
	numbers := make([]int64, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			revision, ok := s.templates.NewTemplateRevision(ctx, template.ID, NewRevision{BodyTemplate: "b"}).Value()
			if ok {
				numbers[i] = revision.RevisionNumber
			}
		}()
	}
	wg.Wait()

	sort.Slice(numbers, func(a, b int) bool { return numbers[a] < numbers[b] })
	for i, n := range numbers {
		assert.Equal(t, int64(i+1), n)
	}
}

type conflictingStore struct {
	*store.Store
	attempts int
}

func (s *conflictingStore) InsertTemplateRevision(context.Context, store.TemplateRevision) error {
	s.attempts++
	return store.ErrRevisionConflict
}

func TestRevisionRetriesAreBounded(t *testing.T) {
	st := &conflictingStore{Store: newTestStore(t)}
	templates := NewTemplateService(st, render.NewHandlebars(), nil, discard, WithRevisionAttempts(3))
	ctx := context.Background()
	template := requireSuccess(t, templates.NewTemplate(ctx, NewTemplate{Name: "stuck"}))

	result := templates.NewTemplateRevision(ctx, template.ID, NewRevision{})
	assert.Equal(t, outcome.KindFailed, result.Kind())
	assert.ErrorIs(t, result.Err(), store.ErrRevisionConflict)
	assert.Equal(t, 3, st.attempts)
}

func TestNewRevisionValidatesDefaults(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	template := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "welcome"}))

	requireBadRequest(t, s.templates.NewTemplateRevision(ctx, template.ID, NewRevision{DefaultFrom: "nope"}), "defaultFrom")
	requireBadRequest(t, s.templates.NewTemplateRevision(ctx, template.ID, NewRevision{DefaultToRecipients: opt.Some([]string{"x"})}), "defaultToRecipients")
	assert.Equal(t, outcome.KindNotFound, s.templates.GetLatestTemplateRevision(ctx, template.ID).Kind())
}

func TestSendResolvesDefaults(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	template := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "welcome"}))
	requireSuccess(t, s.templates.NewTemplateRevision(ctx, template.ID, NewRevision{
		SubjectTemplate:     "Hello {{name}}",
		BodyTemplate:        "Welcome aboard, {{name}}.",
		DefaultFrom:         "x@y.co",
		DefaultToRecipients: opt.Some([]string{"team@y.co"}),
		DefaultCcRecipients: opt.Some([]string{"cc@y.co"}),
	}))

	sent := s.templates.Send(ctx, template.ID, SendInput{
		ToRecipients: opt.Some([]string{"ada@example.com"}),
		CcRecipients: opt.Some([]string{}),
		Data:         map[string]any{"name": "Ada"},
	})
	assert.True(t, requireSuccess(t, sent))

	result := requireSuccess(t, s.mail.GetMail(ctx, filter.Mail{Limit: 10}))
	require.Len(t, result.Data, 1)
	mail := result.Data[0]
	assert.Equal(t, "x@y.co", mail.From)
	assert.Equal(t, []string{"ada@example.com"}, mail.ToRecipients)
	cc, ok := mail.CcRecipients.Get()
	assert.True(t, ok)
	assert.Empty(t, cc)
	assert.False(t, mail.BccRecipients.Present())
	assert.Equal(t, "Hello Ada", mail.Subject)
	assert.Equal(t, "Welcome aboard, Ada.", mail.Body)
}

func TestSendWithoutResolvableFrom(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	template := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "welcome"}))

	assert.Equal(t, outcome.KindNotFound, s.templates.Send(ctx, template.ID, SendInput{From: "x@y.co"}).Kind())

	requireSuccess(t, s.templates.NewTemplateRevision(ctx, template.ID, NewRevision{SubjectTemplate: "s"}))
	requireBadRequest(t, s.templates.Send(ctx, template.ID, SendInput{ToRecipients: opt.Some([]string{"a@b.co"})}), "from")
	requireBadRequest(t, s.templates.Send(ctx, template.ID, SendInput{From: "x@y.co"}), "toRecipients")
}

func TestSendRenderFailureIsFailed(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	template := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "broken"}))
	requireSuccess(t, s.templates.NewTemplateRevision(ctx, template.ID, NewRevision{
		SubjectTemplate: "{{#if name}}unterminated",
		DefaultFrom:     "x@y.co",
	}))

	sent := s.templates.Send(ctx, template.ID, SendInput{ToRecipients: opt.Some([]string{"a@b.co"})})
	assert.Equal(t, outcome.KindFailed, sent.Kind())

	result := requireSuccess(t, s.mail.GetMail(ctx, filter.Mail{Limit: 10}))
	assert.Empty(t, result.Data)
}

func TestExpiredContextIsFailed(t *testing.T) {
	s := newServices(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, outcome.KindFailed, s.templates.NewTemplate(ctx, NewTemplate{Name: "late"}).Kind())
}

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

func TestListsAreNewestFirst(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s := newServices(t, WithClock(steppingClock(start, time.Minute)))
	ctx := context.Background()

	first := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "first"}))
	second := requireSuccess(t, s.templates.NewTemplate(ctx, NewTemplate{Name: "second"}))
	assert.Equal(t, start, first.CreatedDate)

	templates := requireSuccess(t, s.templates.GetTemplates(ctx, filter.Templates{Limit: 10}))
	require.Len(t, templates.Data, 2)
	assert.Equal(t, second.ID, templates.Data[0].ID)
	assert.Equal(t, first.ID, templates.Data[1].ID)

	older := requireSuccess(t, s.templates.GetTemplates(ctx, filter.Templates{DateBefore: opt.Some(start), Limit: 10}))
	require.Len(t, older.Data, 1)
	assert.Equal(t, first.ID, older.Data[0].ID)

	r1 := requireSuccess(t, s.templates.NewTemplateRevision(ctx, first.ID, NewRevision{}))
	r2 := requireSuccess(t, s.templates.NewTemplateRevision(ctx, first.ID, NewRevision{}))
	revisions := requireSuccess(t, s.templates.GetTemplateRevisions(ctx, first.ID, filter.TemplateRevisions{Limit: 10}))
	require.Len(t, revisions.Data, 2)
	assert.Equal(t, r2.ID, revisions.Data[0].ID)
	assert.Equal(t, r1.ID, revisions.Data[1].ID)

	requireSuccess(t, s.mail.CreateMail(ctx, NewMail{From: "x@y.co", ToRecipients: []string{"a@b.co"}, Subject: "old"}))
	requireSuccess(t, s.mail.CreateMail(ctx, NewMail{From: "x@y.co", ToRecipients: []string{"a@b.co"}, Subject: "new"}))
	mails := requireSuccess(t, s.mail.GetMail(ctx, filter.Mail{Limit: 10}))
	require.Len(t, mails.Data, 2)
	assert.Equal(t, "new", mails.Data[0].Subject)
}
