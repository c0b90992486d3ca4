package linesource

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds how long Async.Lookup waits for a line.
const DefaultTimeout = time.Minute

// Result is the eventual outcome of an asynchronous lookup.
type Result struct {
	Line string
	Err  error
}

// Async runs lookups of another Source on a bounded goroutine pool.
type Async struct {
	src     Source
	pool    *ants.Pool
	timeout time.Duration
}

// NewAsync returns an Async source running at most poolSize lookups at once;
// a lookup submitted while the pool is full fails immediately.
// Lookup waits at most timeout for a result; DefaultTimeout when zero.
func NewAsync(src Source, poolSize int, timeout time.Duration) (*Async, error) {
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, errors.Wrap(err, "create lookup pool")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Async{src: src, pool: pool, timeout: timeout}, nil
}

// Go starts a lookup and returns the channel its result is delivered on.
// The channel is buffered, so a result nobody waits for anymore is simply
// dropped with the channel.
func (a *Async) Go(ctx context.Context, index int) <-chan Result {
	ch := make(chan Result, 1)

	err := a.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Result{Err: errors.Errorf("lookup %d panicked: %v", index, r)}
			}
		}()
		line, err := a.src.Lookup(ctx, index)
		ch <- Result{Line: line, Err: err}
	})
	if err != nil {
		ch <- Result{Err: errors.Wrap(err, "submit lookup")}
	}

	return ch
}

// Lookup starts a lookup and waits for it at most the configured timeout.
// It returns ErrLookupTimeout when the time is up, or ctx's error when ctx
// ends first.
func (a *Async) Lookup(ctx context.Context, index int) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	select {
	case r := <-a.Go(waitCtx, index):
		if r.Err != nil && ctx.Err() == nil && errors.Is(r.Err, context.DeadlineExceeded) {
			return "", a.timedOut(index)
		}
		return r.Line, r.Err
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", a.timedOut(index)
	}
}

func (a *Async) timedOut(index int) error {
	return errors.Wrap(ErrLookupTimeout, fmt.Sprintf("index %d after %s", index, a.timeout))
}

// Running returns the number of lookups in progress.
func (a *Async) Running() int {
	return a.pool.Running()
}

// Release stops the pool. Lookups submitted afterwards fail.
func (a *Async) Release() {
	a.pool.Release()
}
