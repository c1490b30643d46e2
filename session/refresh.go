package session

import (
	"context"
	"sync/atomic"
	"time"
)

// Refresh is the handle of a single session refresh. Every caller that needs
// the refresh while it runs waits on the same handle.
type Refresh struct {
	started time.Time
	done    chan struct{}
	err     error
	waiters atomic.Int32
}

func newRefresh() *Refresh {
	return &Refresh{started: time.Now(), done: make(chan struct{})}
}

func (r *Refresh) Started() time.Time { return r.started }

// Done is closed when the refresh has finished.
func (r *Refresh) Done() <-chan struct{} { return r.done }

// Waiters is the number of callers that have waited on this refresh.
func (r *Refresh) Waiters() int { return int(r.waiters.Load()) }

// Err is the outcome; nil until Done is closed and on success.
func (r *Refresh) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the refresh finishes or ctx is done. Cancelling ctx only
// stops this caller from waiting; the refresh keeps running for the others.
func (r *Refresh) Wait(ctx context.Context) error {
	r.waiters.Add(1)
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresh) finish(err error) {
	r.err = err
	close(r.done)
}
