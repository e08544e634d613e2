package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/subwatch/subwatch/internal/query"
	"github.com/subwatch/subwatch/internal/site"
	"github.com/subwatch/subwatch/internal/waitpool"
)

// dataFetcher pulls ids from the fetch queue, retrieves their metadata and
// evaluates it against the subscription store. Submissions matching nothing
// are discarded here, before any media work.
type dataFetcher struct {
	w             *Watcher
	lastProcessed site.SubmissionID
}

func (f *dataFetcher) name() string { return "fetcher" }

func (f *dataFetcher) doProcess(ctx context.Context) error {
	id, isRefresh, err := f.w.pool.GetNextForDataFetch()
	if errors.Is(err, waitpool.ErrQueueEmpty) {
		sleepCtx(ctx, queueBackoff)
		return nil
	}
	f.lastProcessed = id

	start := time.Now()
	full, err := f.fetchData(ctx, id, isRefresh)
	if err != nil {
		return err
	}
	if full == nil {
		// Submission gone from the site; its state was already removed.
		f.lastProcessed = 0
		return nil
	}

	target := query.TargetFromSubmission(full)
	matched := f.w.store.MatchingSubscriptions(target)
	f.w.metrics.ObserveStage("fetch", start)
	if len(matched) == 0 {
		f.w.metrics.SubmissionsDropped.Inc()
		f.w.markChecked(id)
		if err := f.w.pool.RemoveState(id); err != nil {
			log.Printf("subwatch[fetcher]: dropping %s: %v", id, err)
		}
		f.lastProcessed = 0
		return nil
	}
	f.w.metrics.SubmissionsMatched.Inc()
	log.Printf("subwatch[fetcher]: %s matches %d subscriptions", id, len(matched))

	// Blocks on the backpressure gate while the media stages are saturated.
	if err := f.w.pool.SetFetchedData(ctx, id, full, matched); err != nil {
		return fmt.Errorf("publishing fetched data for %s: %w", id, err)
	}
	f.lastProcessed = 0
	return nil
}

// fetchData retrieves one submission's metadata, retrying transient upstream
// failures indefinitely. A nil result with nil error means the submission no
// longer exists and its pool state was removed.
func (f *dataFetcher) fetchData(ctx context.Context, id site.SubmissionID, isRefresh bool) (*site.FullSubmission, error) {
	for ctx.Err() == nil {
		full, err := f.w.site.FullSubmission(ctx, id)
		if err == nil {
			return full, nil
		}
		if site.IsStatus(err, 404) {
			if isRefresh {
				log.Printf("subwatch[fetcher]: %s vanished during refresh, discarding", id)
			} else {
				log.Printf("subwatch[fetcher]: %s not found, discarding", id)
			}
			f.w.markChecked(id)
			if rmErr := f.w.pool.RemoveState(id); rmErr != nil && !errors.Is(rmErr, waitpool.ErrStateNotFound) {
				log.Printf("subwatch[fetcher]: removing %s: %v", id, rmErr)
			}
			f.lastProcessed = 0
			return nil, nil
		}
		if site.IsStatus(err, 500, 502, 503, 504) || site.IsRetryableStatus(err) || site.IsConnError(err) {
			log.Printf("subwatch[fetcher]: fetching %s failed (%v), retrying in %s", id, err, connectionBackoff)
			f.w.metrics.StageErrors.WithLabelValues("fetch").Inc()
			sleepCtx(ctx, connectionBackoff)
			continue
		}
		return nil, fmt.Errorf("fetching %s: %w", id, err)
	}
	return nil, ErrShutdown
}

// revertLastAttempt re-queues the in-flight id so another fetcher picks it
// up. The refresh counter is intentionally consumed by the re-queue; an id
// that keeps crashing fetchers eventually exhausts its refresh budget.
func (f *dataFetcher) revertLastAttempt() {
	if f.lastProcessed == 0 {
		return
	}
	id := f.lastProcessed
	f.lastProcessed = 0
	if err := f.w.pool.RevertDataFetch(id); err != nil {
		var tooMany *waitpool.TooManyRefreshError
		if errors.As(err, &tooMany) {
			log.Printf("subwatch[fetcher]: %s exceeded refresh budget, discarding", id)
			if rmErr := f.w.pool.RemoveState(id); rmErr != nil && !errors.Is(rmErr, waitpool.ErrStateNotFound) {
				log.Printf("subwatch[fetcher]: removing %s: %v", id, rmErr)
			}
			return
		}
		log.Printf("subwatch[fetcher]: reverting %s: %v", id, err)
	}
}
