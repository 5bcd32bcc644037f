// Package rag retrieves document and web context for a question and
// streams the generated answer.
package rag

import (
	"context"
	"errors"
	"net"

	"github.com/reanm09/intellidocs/internal/types"
)

// FailureReason classifies why a dependency call produced no value.
type FailureReason string

const (
	ReasonNone        FailureReason = ""
	ReasonMissing     FailureReason = "missing"     // the requested thing does not exist
	ReasonUnavailable FailureReason = "unavailable" // not configured
	ReasonTimeout     FailureReason = "timeout"
	ReasonUpstream    FailureReason = "upstream" // the dependency failed
)

// Outcome carries either a value or a classified failure.
type Outcome[T any] struct {
	Value  T
	Reason FailureReason
	Err    error
}

func Succeed[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

func Fail[T any](err error) Outcome[T] {
	return Outcome[T]{Reason: Classify(err), Err: err}
}

// Call runs fn and wraps its result.
func Call[T any](ctx context.Context, fn func(context.Context) (T, error)) Outcome[T] {
	v, err := fn(ctx)
	if err != nil {
		return Fail[T](err)
	}
	return Succeed(v)
}

func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Or returns the value, or fallback if the call failed.
func (o Outcome[T]) Or(fallback T) T {
	if o.Err != nil {
		return fallback
	}
	return o.Value
}

func Classify(err error) FailureReason {
	if err == nil {
		return ReasonNone
	}
	if errors.Is(err, types.ErrCollectionNotFound) || errors.Is(err, types.ErrNotFound) {
		return ReasonMissing
	}
	if errors.Is(err, types.ErrNoCredentials) || errors.Is(err, types.ErrNoModel) {
		return ReasonUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUpstream
}
