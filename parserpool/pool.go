// Package parserpool is a bounded blocking pool of reusable, non
// goroutine-safe instances (tokenizers). Callers borrow with Take and must
// give the instance back with Place before their unit of work ends.
package parserpool

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrInterrupted is returned when the caller's context ends while it
	// waits. Nothing was borrowed, so nothing must be returned.
	ErrInterrupted = errors.New("parserpool: interrupted")
	// ErrClosed is returned once Clear has been called.
	ErrClosed = errors.New("parserpool: closed")
)

// Pool holds a fixed number of instances of T.
type Pool[T any] struct {
	items chan T
	done  chan struct{}
	once  sync.Once
}

// New builds a pool of size instances created by newFn. size is raised to 1.
func New[T any](size int, newFn func() T) *Pool[T] {
	if size < 1 {
		size = 1
	}
	p := &Pool[T]{
		items: make(chan T, size),
		done:  make(chan struct{}),
	}
	for range size {
		p.items <- newFn()
	}
	return p
}

// SizeFor returns the default pool size for a given worker count.
func SizeFor(workers int) int {
	return max(workers-1, 1)
}

// Take blocks until an instance is available, ctx ends or the pool is cleared.
func (p *Pool[T]) Take(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-p.done:
		return zero, ErrClosed
	default:
	}
	select {
	case t := <-p.items:
		return t, nil
	case <-p.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ErrInterrupted
	}
}

// Place returns an instance, waking one waiter. Instances placed after
// Clear are discarded.
func (p *Pool[T]) Place(ctx context.Context, t T) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.items <- t:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ErrInterrupted
	}
}

// Available reports how many instances are idle.
func (p *Pool[T]) Available() int { return len(p.items) }

// Clear discards all idle instances and fails every pending and future Take.
func (p *Pool[T]) Clear() {
	p.once.Do(func() { close(p.done) })
	for {
		select {
		case <-p.items:
		default:
			return
		}
	}
}

// With borrows an instance for the duration of fn.
func (p *Pool[T]) With(ctx context.Context, fn func(T) error) error {
	t, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Place(context.WithoutCancel(ctx), t)
	return fn(t)
}
