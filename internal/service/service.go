// Package service implements the mail and template operations. Every
// operation returns an outcome.Outcome; store and renderer failures are
// logged and wrapped as Failed here and never escape as errors.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/mailcat/internal/outcome"
)

const (
	defaultTimeout          = 5 * time.Second
	defaultRevisionAttempts = 32
)

// Filtered is a successful list read together with the filter that was
// actually executed.
type Filtered[F, T any] struct {
	FilterUsed F
	Data       []T
}

type settings struct {
	timeout          time.Duration
	revisionAttempts int
	now              func() time.Time
	newID            func() string
	publisher        Publisher
}

type Option func(*settings)

// WithTimeout bounds store calls made under a context without a deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRevisionAttempts bounds the retry loop that assigns revision numbers.
func WithRevisionAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.revisionAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher fans out an event for every recorded mail.
func WithPublisher(p Publisher) Option {
	return func(s *settings) {
		s.publisher = p
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		timeout:          defaultTimeout,
		revisionAttempts: defaultRevisionAttempts,
		now:              time.Now,
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s settings) stamp() time.Time {
	return s.now().UTC()
}

func failed[T any](logger *slog.Logger, op string, err error) outcome.Outcome[T] {
	logger.Error(op, "error", err)
	return outcome.Failed[T](err)
}

// validID reports whether id is well formed. Malformed ids are rejected
// before any store lookup.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
