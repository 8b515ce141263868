package resolver

import (
	"context"
	"errors"
)

// ErrExhausted is returned by Run when every source failed or was rejected.
var ErrExhausted = errors.New("no source produced a result")

// Source is one stage of a fallback chain.
type Source[T any] struct {
	Name  string
	Fetch func(ctx context.Context) (T, error)
	// Accept reports whether a successful value ends the chain. Nil accepts
	// everything.
	Accept func(T) bool
	// FallThrough reports whether a failure may continue to the next
	// source. Nil always falls through. A false answer makes Run return the
	// error unmodified.
	FallThrough func(error) bool
}

// Attempt records the outcome of one source.
type Attempt struct {
	Source   string
	Err      error
	Rejected bool
}

// Result is the outcome of Run.
type Result[T any] struct {
	Value    T
	Source   string
	Attempts []Attempt
}

// AttemptNames lists the sources tried, in order.
func (r Result[T]) AttemptNames() []string {
	names := make([]string, len(r.Attempts))
	for i, a := range r.Attempts {
		names[i] = a.Source
	}
	return names
}

// Run evaluates sources in order and returns the first accepted value.
// onError, when non-nil, sees every source failure before the fall-through
// decision.
func Run[T any](ctx context.Context, sources []Source[T], onError func(source string, err error)) (Result[T], error) {
	var res Result[T]
	var lastErr error

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		v, err := src.Fetch(ctx)
		if err != nil {
			res.Attempts = append(res.Attempts, Attempt{Source: src.Name, Err: err})
			if onError != nil {
				onError(src.Name, err)
			}
			if src.FallThrough != nil && !src.FallThrough(err) {
				res.Source = src.Name
				return res, err
			}
			lastErr = err
			continue
		}

		if src.Accept != nil && !src.Accept(v) {
			res.Attempts = append(res.Attempts, Attempt{Source: src.Name, Rejected: true})
			continue
		}

		res.Attempts = append(res.Attempts, Attempt{Source: src.Name})
		res.Value = v
		res.Source = src.Name
		return res, nil
	}

	if lastErr != nil {
		return res, errors.Join(ErrExhausted, lastErr)
	}
	return res, ErrExhausted
}
