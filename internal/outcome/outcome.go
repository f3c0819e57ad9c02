// Package outcome holds the closed result type returned by every service
// operation. An Outcome is exactly one of Success, BadRequest, NotFound or
// Failed; callers discriminate with Match.
package outcome

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindSuccess Kind = iota + 1
	KindBadRequest
	KindNotFound
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Problem describes a rejected caller input.
type Problem struct {
	Field   string
	Message string
}

type Outcome[T any] struct {
	kind    Kind
	value   T
	problem Problem
	err     error
}

func Success[T any](value T) Outcome[T] {
	return Outcome[T]{kind: KindSuccess, value: value}
}

func BadRequest[T any](field, message string) Outcome[T] {
	return Outcome[T]{kind: KindBadRequest, problem: Problem{Field: field, Message: message}}
}

func NotFound[T any]() Outcome[T] {
	return Outcome[T]{kind: KindNotFound}
}

func Failed[T any](err error) Outcome[T] {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Outcome[T]{kind: KindFailed, err: err}
}

func (o Outcome[T]) Kind() Kind {
	return o.kind
}

func (o Outcome[T]) Value() (T, bool) {
	return o.value, o.kind == KindSuccess
}

func (o Outcome[T]) Problem() (Problem, bool) {
	return o.problem, o.kind == KindBadRequest
}

// Err returns the cause of a Failed outcome and nil otherwise.
func (o Outcome[T]) Err() error {
	if o.kind != KindFailed {
		return nil
	}
	return o.err
}

func (o Outcome[T]) String() string {
	switch o.kind {
	case KindBadRequest:
		return fmt.Sprintf("bad_request(%s: %s)", o.problem.Field, o.problem.Message)
	case KindFailed:
		return fmt.Sprintf("failed(%v)", o.err)
	default:
		return o.kind.String()
	}
}

// Handlers has one branch per state. Every branch must be set.
type Handlers[T, R any] struct {
	Success    func(T) R
	BadRequest func(Problem) R
	NotFound   func() R
	Failed     func(error) R
}

// Match runs the handler for o's state. It panics on a zero Outcome or a
// missing handler, both of which are programming errors.
func Match[T, R any](o Outcome[T], h Handlers[T, R]) R {
	if h.Success == nil || h.BadRequest == nil || h.NotFound == nil || h.Failed == nil {
		panic("outcome: Match requires a handler for every state")
	}
	switch o.kind {
	case KindSuccess:
		return h.Success(o.value)
	case KindBadRequest:
		return h.BadRequest(o.problem)
	case KindNotFound:
		return h.NotFound()
	case KindFailed:
		return h.Failed(o.err)
	default:
		panic(fmt.Sprintf("outcome: unexpected %s", o.kind))
	}
}

// Forward re-types a non-success outcome so it can be returned from an
// operation with a different success type. Forwarding a Success is a
// programming error and yields Failed.
func Forward[U, T any](o Outcome[T]) Outcome[U] {
	switch o.kind {
	case KindBadRequest:
		return BadRequest[U](o.problem.Field, o.problem.Message)
	case KindNotFound:
		return NotFound[U]()
	case KindFailed:
		return Failed[U](o.err)
	default:
		return Failed[U](fmt.Errorf("outcome: cannot forward %s", o.kind))
	}
}
