// Package source is the uniform view over every place records come from:
// remote list endpoints, local files and archives. A source yields record
// identifiers through a Stream and fetches one raw payload per identifier.
package source

import "context"

// PullFunc produces the next value. ok=false with a nil error means the
// sequence ended normally.
type PullFunc[T any] func(ctx context.Context) (value T, ok bool, err error)

// Stream is a lazy, finite, non-restartable sequence. Once Next returns false
// the stream is exhausted and every later call to Next returns false again.
type Stream[T any] struct {
	pull PullFunc[T]
	cur  T
	err  error
	done bool
}

// NewStream wraps a pull function
func NewStream[T any](pull PullFunc[T]) *Stream[T] {
	return &Stream[T]{pull: pull}
}

// FromSlice streams the given items in order
func FromSlice[T any](items []T) *Stream[T] {
	i := 0
	return NewStream(func(context.Context) (T, bool, error) {
		var zero T
		if i >= len(items) {
			return zero, false, nil
		}
		i++
		return items[i-1], true, nil
	})
}

// Empty is an already exhausted stream
func Empty[T any]() *Stream[T] {
	return &Stream[T]{done: true}
}

// Failed is an exhausted stream reporting err
func Failed[T any](err error) *Stream[T] {
	return &Stream[T]{done: true, err: err}
}

// Next advances to the next value
func (s *Stream[T]) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.finish(err)
		return false
	}

	v, ok, err := s.pull(ctx)
	if err != nil || !ok {
		s.finish(err)
		return false
	}
	s.cur = v
	return true
}

func (s *Stream[T]) finish(err error) {
	var zero T
	s.cur = zero
	s.err = err
	s.done = true
	s.pull = nil
}

// Value returns the current value. It is the zero value once exhausted.
func (s *Stream[T]) Value() T { return s.cur }

// Err reports why the stream ended early, if it did
func (s *Stream[T]) Err() error { return s.err }

// Exhausted reports whether the stream has reached its terminal state
func (s *Stream[T]) Exhausted() bool { return s.done }

// Collect drains s
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	var out []T
	for s.Next(ctx) {
		out = append(out, s.Value())
	}
	return out, s.Err()
}

// Chunked reads up to size values at a time from in and passes each chunk
// through keep, streaming whatever keep returns. Used to filter identifiers
// against the store without one query per identifier.
func Chunked[T any](in *Stream[T], size int, keep func(ctx context.Context, chunk []T) ([]T, error)) *Stream[T] {
	if size <= 0 {
		size = 1
	}
	var pending []T
	return NewStream(func(ctx context.Context) (T, bool, error) {
		var zero T
		for len(pending) == 0 {
			chunk := make([]T, 0, size)
			for len(chunk) < size && in.Next(ctx) {
				chunk = append(chunk, in.Value())
			}
			if len(chunk) == 0 {
				return zero, false, in.Err()
			}
			kept, err := keep(ctx, chunk)
			if err != nil {
				return zero, false, err
			}
			pending = kept
		}
		v := pending[0]
		pending = pending[1:]
		return v, true, nil
	})
}
