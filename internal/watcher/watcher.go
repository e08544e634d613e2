// Package watcher runs the subscription pipeline: a poller discovers new
// submissions on the site's browse page, and staged workers fetch metadata,
// match it against subscriptions, download and upload media, and deliver
// updates in submission-id order.
package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/subwatch/subwatch/internal/config"
	"github.com/subwatch/subwatch/internal/metrics"
	"github.com/subwatch/subwatch/internal/site"
	"github.com/subwatch/subwatch/internal/subscription"
	"github.com/subwatch/subwatch/internal/waitpool"
)

// latestIDsKept bounds the recently-delivered id window used by the poller
// to tell new browse results from already-seen ones.
const latestIDsKept = 100

// Cache is the delivered-submission cache consumed by the media workers and
// the sender. Lookups are best-effort; a miss and a failure look the same.
type Cache interface {
	Load(ctx context.Context, id site.SubmissionID) *site.SentSubmission
	Save(ctx context.Context, entry *site.SentSubmission)
}

// Watcher owns the pipeline: the wait pool, the worker set, and the
// latest-delivered watermark persisted alongside the subscription store.
type Watcher struct {
	cfg      config.Watcher
	site     site.SiteClient
	platform site.PlatformClient
	store    *subscription.Store
	pool     *waitpool.Pool
	cache    Cache
	metrics  *metrics.Metrics

	storePath string

	mu             sync.Mutex
	latestIDs      []site.SubmissionID
	latestObserved time.Time
	// checkedIDs holds above-watermark ids already fetched and dropped, so
	// the poller does not re-enqueue them while they linger on the browse
	// page. Pruned each poll to the ids still on the page.
	checkedIDs map[site.SubmissionID]struct{}

	// floodUnit scales platform flood-wait seconds; tests shrink it.
	floodUnit time.Duration
}

// New assembles a watcher over the given store and clients. latestIDs seeds
// the poller's already-seen window from the persisted store file.
func New(cfg config.Watcher, siteClient site.SiteClient, platform site.PlatformClient,
	store *subscription.Store, cache Cache, m *metrics.Metrics,
	storePath string, latestIDs []site.SubmissionID) *Watcher {
	return &Watcher{
		cfg:        cfg,
		site:       siteClient,
		platform:   platform,
		store:      store,
		pool:       waitpool.New(cfg.MaxReadyForUpload, cfg.FetchRefreshLimit),
		cache:      cache,
		metrics:    m,
		storePath:  storePath,
		latestIDs:  latestIDs,
		checkedIDs: make(map[site.SubmissionID]struct{}),
		floodUnit:  time.Second,
	}
}

// Run starts the poller and the worker set and blocks until ctx is cancelled
// and every worker has returned its in-flight work to the pool.
func (w *Watcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	start := func(r runnable) {
		wg.Add(1)
		go supervise(ctx, &wg, r)
	}
	for i := 0; i < w.cfg.NumDataFetchers; i++ {
		start(&dataFetcher{w: w})
	}
	for i := 0; i < w.cfg.NumMediaDownloaders; i++ {
		start(&mediaDownloader{w: w})
	}
	for i := 0; i < w.cfg.NumMediaUploaders; i++ {
		start(&mediaUploader{w: w})
	}
	start(&sender{w: w})

	wg.Add(1)
	go w.poll(ctx, &wg)

	wg.Wait()
}

// ─── Browse polling ──────────────────────────────────────────────────────────

// poll watches the browse page and feeds unseen submission ids into the wait
// pool. On the very first page (no known ids yet) it only records the
// watermark, so a fresh deployment does not replay the whole front page.
func (w *Watcher) poll(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		w.pollOnce(ctx)
		w.updateGauges()
		if !sleepCtx(ctx, w.cfg.PollInterval) {
			log.Printf("subwatch[poller]: stopped")
			return
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) {
	start := time.Now()
	page, err := w.site.BrowsePage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("subwatch[poller]: browse failed: %v", err)
			w.metrics.StageErrors.WithLabelValues("browse").Inc()
		}
		return
	}
	w.metrics.ObserveStage("browse", start)

	w.mu.Lock()
	watermark := w.maxKnownIDLocked()
	if watermark == 0 {
		// First run with no history: record the newest id and skip the page.
		for _, sub := range page {
			if sub.ID > watermark {
				watermark = sub.ID
			}
		}
		if watermark != 0 {
			w.latestIDs = append(w.latestIDs, watermark)
		}
		w.mu.Unlock()
		return
	}
	var fresh []site.SubmissionID
	onPage := make(map[site.SubmissionID]struct{}, len(page))
	for _, sub := range page {
		onPage[sub.ID] = struct{}{}
		if sub.ID <= watermark || w.pool.Contains(sub.ID) {
			continue
		}
		if _, done := w.checkedIDs[sub.ID]; done {
			continue
		}
		fresh = append(fresh, sub.ID)
	}
	// An id off the page can no longer be re-discovered; forget it.
	for id := range w.checkedIDs {
		if _, ok := onPage[id]; !ok {
			delete(w.checkedIDs, id)
		}
	}
	w.mu.Unlock()

	for _, id := range fresh {
		w.pool.AddSubID(id)
		w.metrics.SubmissionsFound.Inc()
	}
	if len(fresh) > 0 {
		log.Printf("subwatch[poller]: found %d new submissions", len(fresh))
	}
}

// markChecked records an id whose metadata was fetched and discarded, so the
// poller skips it while it remains on the browse page.
func (w *Watcher) markChecked(id site.SubmissionID) {
	w.mu.Lock()
	w.checkedIDs[id] = struct{}{}
	w.mu.Unlock()
}

func (w *Watcher) maxKnownIDLocked() site.SubmissionID {
	var max site.SubmissionID
	for _, id := range w.latestIDs {
		if id > max {
			max = id
		}
	}
	return max
}

// recordSent advances the delivered watermark after the sender finishes a
// submission and persists the store file. Only the sender calls this, so the
// watermark never moves past an undelivered submission.
func (w *Watcher) recordSent(state *waitpool.CheckState) {
	w.mu.Lock()
	w.latestIDs = append(w.latestIDs, state.ID)
	if len(w.latestIDs) > latestIDsKept {
		w.latestIDs = w.latestIDs[len(w.latestIDs)-latestIDsKept:]
	}
	if state.FullData != nil && state.FullData.PostedAt.After(w.latestObserved) {
		w.latestObserved = state.FullData.PostedAt
	}
	ids := make([]site.SubmissionID, len(w.latestIDs))
	copy(ids, w.latestIDs)
	w.mu.Unlock()

	w.metrics.SubmissionsSent.Inc()
	w.metrics.LatestID.Set(float64(state.ID))
	if err := subscription.Save(w.storePath, w.store, ids); err != nil {
		log.Printf("subwatch[sender]: persisting store failed: %v", err)
	}
}

// LatestIDs returns a snapshot of the delivered-id window, for persisting
// the store outside the sender.
func (w *Watcher) LatestIDs() []site.SubmissionID {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]site.SubmissionID, len(w.latestIDs))
	copy(ids, w.latestIDs)
	return ids
}

func (w *Watcher) updateGauges() {
	fetchNew, fetchRefresh, download, upload, send := w.pool.QueueSizes()
	w.metrics.PoolSize.Set(float64(w.pool.Size()))
	w.metrics.PoolActive.Set(float64(w.pool.SizeActive()))
	w.metrics.QueueFetchNew.Set(float64(fetchNew))
	w.metrics.QueueRefresh.Set(float64(fetchRefresh))
	w.metrics.QueueDownload.Set(float64(download))
	w.metrics.QueueUpload.Set(float64(upload))
	w.metrics.QueueSend.Set(float64(send))
}
