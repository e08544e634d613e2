package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// queueBackoff is how long a worker sleeps when its queue is empty.
	queueBackoff = time.Second
	// connectionBackoff is how long a worker waits before retrying after a
	// transient site or platform failure.
	connectionBackoff = 20 * time.Second
	// restartDelay is how long a supervisor waits before restarting a
	// crashed worker.
	restartDelay = 5 * time.Second
)

// ErrShutdown is returned by a worker that was interrupted mid-attempt by
// context cancellation. The supervisor treats it as a clean exit.
var ErrShutdown = errors.New("worker shutting down")

// runnable is one pipeline worker. doProcess handles at most one item per
// call; revertLastAttempt returns any in-flight item to the wait pool so
// another worker (or the next run) can resume it.
type runnable interface {
	name() string
	doProcess(ctx context.Context) error
	revertLastAttempt()
}

// supervise drives a worker until ctx is cancelled, restarting it after
// crashes. Any exit path reverts the worker's in-flight item.
func supervise(ctx context.Context, wg *sync.WaitGroup, r runnable) {
	defer wg.Done()
	for {
		err := runWorker(ctx, r)
		r.revertLastAttempt()
		if ctx.Err() != nil {
			log.Printf("subwatch[%s]: stopped", r.name())
			return
		}
		log.Printf("subwatch[%s]: worker exited (%v); restarting in %s", r.name(), err, restartDelay)
		select {
		case <-ctx.Done():
			log.Printf("subwatch[%s]: stopped", r.name())
			return
		case <-time.After(restartDelay):
		}
	}
}

// runWorker loops doProcess until an error or cancellation, converting
// panics into errors so the supervisor can restart the worker.
func runWorker(ctx context.Context, r runnable) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s panicked: %v", r.name(), rec)
		}
	}()
	for ctx.Err() == nil {
		if err := r.doProcess(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// sleepCtx sleeps for d or until ctx is cancelled. Reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
