package feedcache

import (
	"context"
	"time"
)

// Future is a single result delivered by a Store completion.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done. ctx bounds only
// the wait; the operation itself still runs to completion.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// RetrieveFuture submits a Retrieve and returns its pending result.
func RetrieveFuture(s Store) *Future[Retrieval] {
	f := newFuture[Retrieval]()
	s.Retrieve(f.resolve)
	return f
}

func InsertFuture(s Store, images []Image, timestamp time.Time) *Future[struct{}] {
	f := newFuture[struct{}]()
	s.Insert(images, timestamp, func(err error) { f.resolve(struct{}{}, err) })
	return f
}

func DeleteFuture(s Store) *Future[struct{}] {
	f := newFuture[struct{}]()
	s.DeleteCachedFeed(func(err error) { f.resolve(struct{}{}, err) })
	return f
}
