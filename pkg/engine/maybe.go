package engine

import (
	"context"
	"fmt"
)

// Maybe holds a value that is either settled now or produced later by a goroutine.
//
// The zero value is a settled Maybe carrying the zero value of T and no error.
// Helpers that complete synchronously return a settled Maybe; helpers that need
// to suspend on I/O return Async/Later. The engine probes Deferred at every
// invocation site so a run made only of settled steps never leaves the caller's
// goroutine.
type Maybe[T any] struct {
	value T
	err   error
	p     *promise[T]
}

type promise[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Resolve returns a settled Maybe holding v.
func Resolve[T any](v T) Maybe[T] {
	return Maybe[T]{value: v}
}

// Reject returns a settled Maybe holding err.
func Reject[T any](err error) Maybe[T] {
	return Maybe[T]{err: err}
}

// Later runs fn on a new goroutine and returns a deferred Maybe for its result.
// A panic inside fn is converted into an error.
func Later[T any](fn func() (T, error)) Maybe[T] {
	p := &promise[T]{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				p.err = fmt.Errorf("deferred step panicked: %v", r)
			}
		}()
		p.value, p.err = fn()
	}()
	return Maybe[T]{p: p}
}

// Done returns a settled, successful completion.
func Done() Maybe[struct{}] {
	return Maybe[struct{}]{}
}

// Failed returns a settled, failed completion.
func Failed(err error) Maybe[struct{}] {
	return Reject[struct{}](err)
}

// Async runs fn on a new goroutine and returns a deferred completion.
func Async(fn func() error) Maybe[struct{}] {
	return Later(func() (struct{}, error) {
		return struct{}{}, fn()
	})
}

// Deferred reports whether m is backed by a goroutine rather than settled at construction.
// It stays true after the goroutine finishes.
func (m Maybe[T]) Deferred() bool {
	return m.p != nil
}

// Settled returns the value and error if they are available without blocking.
func (m Maybe[T]) Settled() (T, error, bool) {
	if m.p == nil {
		return m.value, m.err, true
	}
	select {
	case <-m.p.done:
		return m.p.value, m.p.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Await blocks until m settles or ctx is done. Cancelling ctx only stops the wait.
func (m Maybe[T]) Await(ctx context.Context) (T, error) {
	if m.p == nil {
		return m.value, m.err
	}
	select {
	case <-m.p.done:
		return m.p.value, m.p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Handle calls fn with the outcome of m. When m is settled fn runs immediately on the
// caller's goroutine; otherwise fn runs after m settles and the result is deferred.
func Handle[T, U any](m Maybe[T], fn func(T, error) Maybe[U]) Maybe[U] {
	if m.p == nil {
		return fn(m.value, m.err)
	}
	return Later(func() (U, error) {
		<-m.p.done
		return fn(m.p.value, m.p.err).Await(context.Background())
	})
}

// Then calls fn with the value of m when m succeeds and propagates the error otherwise.
func Then[T, U any](m Maybe[T], fn func(T) Maybe[U]) Maybe[U] {
	return Handle(m, func(v T, err error) Maybe[U] {
		if err != nil {
			return Reject[U](err)
		}
		return fn(v)
	})
}

// All waits for every element of ms. The result is settled when every element is
// settled. All elements are waited for even after one fails; the first error in
// slice order wins.
func All[T any](ms []Maybe[T]) Maybe[[]T] {
	deferred := false
	for _, m := range ms {
		if m.Deferred() {
			deferred = true
			break
		}
	}

	collect := func(ctx context.Context) ([]T, error) {
		values := make([]T, len(ms))
		var firstErr error
		for i, m := range ms {
			v, err := m.Await(ctx)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			values[i] = v
		}
		return values, firstErr
	}

	if !deferred {
		values, err := collect(context.Background())
		if err != nil {
			return Maybe[[]T]{value: values, err: err}
		}
		return Resolve(values)
	}
	return Later(func() ([]T, error) {
		return collect(context.Background())
	})
}
