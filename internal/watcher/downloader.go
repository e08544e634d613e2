package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/subwatch/subwatch/internal/site"
	"github.com/subwatch/subwatch/internal/waitpool"
)

// mediaDownloader stages submission media into the local sandbox. Cached
// submissions skip the download entirely; submissions whose media has gone
// missing are sent back for a metadata refresh, and after too many refreshes
// are finalised as caption-only.
type mediaDownloader struct {
	w             *Watcher
	lastProcessed site.SubmissionID
}

func (d *mediaDownloader) name() string { return "downloader" }

func (d *mediaDownloader) doProcess(ctx context.Context) error {
	full, err := d.w.pool.GetNextForMediaDownload()
	if errors.Is(err, waitpool.ErrQueueEmpty) {
		sleepCtx(ctx, queueBackoff)
		return nil
	}
	id := full.ID
	d.lastProcessed = id

	if entry := d.w.cache.Load(ctx, id); entry != nil {
		d.w.metrics.CacheHits.Inc()
		d.w.pool.SetCached(id, entry)
		d.lastProcessed = 0
		return nil
	}
	d.w.metrics.CacheMisses.Inc()

	start := time.Now()
	file, settings, err := d.download(ctx, full)
	if err != nil {
		if site.IsStatus(err, 404) {
			d.handleMissingMedia(id)
			d.lastProcessed = 0
			return nil
		}
		return err
	}
	d.w.metrics.ObserveStage("download", start)
	d.w.pool.SetDownloaded(id, file, settings)
	d.lastProcessed = 0
	return nil
}

// download fetches the submission's media, retrying transient failures until
// cancelled.
func (d *mediaDownloader) download(ctx context.Context, full *site.FullSubmission) (*site.DownloadedFile, site.SendSettings, error) {
	for ctx.Err() == nil {
		file, settings, err := d.w.site.DownloadMedia(ctx, full)
		if err == nil {
			return file, settings, nil
		}
		if site.IsRetryableStatus(err) || site.IsConnError(err) {
			log.Printf("subwatch[downloader]: downloading %s failed (%v), retrying in %s",
				full.ID, err, connectionBackoff)
			d.w.metrics.StageErrors.WithLabelValues("download").Inc()
			sleepCtx(ctx, connectionBackoff)
			continue
		}
		return nil, site.SendSettings{}, fmt.Errorf("downloading %s: %w", full.ID, err)
	}
	return nil, site.SendSettings{}, ErrShutdown
}

// handleMissingMedia reacts to a 404 on the media URL: the metadata may be
// stale, so the submission goes back for a fresh fetch. Once the refresh
// budget runs out the update is finalised without media.
func (d *mediaDownloader) handleMissingMedia(id site.SubmissionID) {
	log.Printf("subwatch[downloader]: media for %s missing, requesting refresh", id)
	err := d.w.pool.RevertDataFetch(id)
	if err == nil {
		return
	}
	var tooMany *waitpool.TooManyRefreshError
	if errors.As(err, &tooMany) {
		log.Printf("subwatch[downloader]: %s refreshed %d times without media, sending caption only",
			id, tooMany.Count-1)
		d.w.pool.SetUploaded(id, site.NoMediaUpload(id))
		return
	}
	log.Printf("subwatch[downloader]: reverting %s: %v", id, err)
}

// revertLastAttempt sends the in-flight id back for a refresh. With the
// refresh budget exhausted the submission is finalised as caption-only
// instead, so a repeatedly crashing download cannot hold up the sender.
func (d *mediaDownloader) revertLastAttempt() {
	if d.lastProcessed == 0 {
		return
	}
	id := d.lastProcessed
	d.lastProcessed = 0
	err := d.w.pool.RevertDataFetch(id)
	if err == nil {
		return
	}
	var tooMany *waitpool.TooManyRefreshError
	if errors.As(err, &tooMany) {
		log.Printf("subwatch[downloader]: %s exceeded refresh budget, sending caption only", id)
		d.w.pool.SetUploaded(id, site.NoMediaUpload(id))
		return
	}
	log.Printf("subwatch[downloader]: reverting %s: %v", id, err)
}
