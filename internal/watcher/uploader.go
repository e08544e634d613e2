package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/subwatch/subwatch/internal/site"
	"github.com/subwatch/subwatch/internal/waitpool"
)

// mediaUploader pushes staged media files to the platform, turning them into
// reusable media handles. A last cache check runs here too: a concurrent
// delivery of the same submission may have populated the cache since the
// download started.
type mediaUploader struct {
	w             *Watcher
	lastProcessed site.SubmissionID
}

func (u *mediaUploader) name() string { return "uploader" }

func (u *mediaUploader) doProcess(ctx context.Context) error {
	state, err := u.w.pool.GetNextForMediaUpload()
	if errors.Is(err, waitpool.ErrQueueEmpty) {
		sleepCtx(ctx, queueBackoff)
		return nil
	}
	id := state.ID
	u.lastProcessed = id

	if entry := u.w.cache.Load(ctx, id); entry != nil {
		u.w.metrics.CacheHits.Inc()
		u.w.pool.SetCached(id, entry)
		u.removeStaged(state.Downloaded.File)
		u.lastProcessed = 0
		return nil
	}

	start := time.Now()
	media, err := u.upload(ctx, state)
	if err != nil {
		return err
	}
	u.w.metrics.ObserveStage("upload", start)
	u.removeStaged(state.Downloaded.File)
	u.w.pool.SetUploaded(id, media)
	u.lastProcessed = 0
	return nil
}

func (u *mediaUploader) upload(ctx context.Context, state *waitpool.CheckState) (*site.UploadedMedia, error) {
	for ctx.Err() == nil {
		media, err := u.w.platform.UploadMedia(ctx, state.FullData, state.Downloaded.File, state.Downloaded.Settings)
		if err == nil {
			return media, nil
		}
		if site.IsRetryableStatus(err) || site.IsConnError(err) {
			log.Printf("subwatch[uploader]: uploading %s failed (%v), retrying in %s",
				state.ID, err, connectionBackoff)
			u.w.metrics.StageErrors.WithLabelValues("upload").Inc()
			sleepCtx(ctx, connectionBackoff)
			continue
		}
		return nil, fmt.Errorf("uploading %s: %w", state.ID, err)
	}
	return nil, ErrShutdown
}

// removeStaged deletes a sandbox file once its handle exists (or is no
// longer needed).
func (u *mediaUploader) removeStaged(file *site.DownloadedFile) {
	if file == nil || file.Path == "" {
		return
	}
	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("subwatch[uploader]: removing staged file %s: %v", file.Path, err)
	}
}

// revertLastAttempt sends the in-flight id back for a refresh, falling back
// to a caption-only finalise once the refresh budget is spent.
func (u *mediaUploader) revertLastAttempt() {
	if u.lastProcessed == 0 {
		return
	}
	id := u.lastProcessed
	u.lastProcessed = 0
	err := u.w.pool.RevertDataFetch(id)
	if err == nil {
		return
	}
	var tooMany *waitpool.TooManyRefreshError
	if errors.As(err, &tooMany) {
		log.Printf("subwatch[uploader]: %s exceeded refresh budget, sending caption only", id)
		u.w.pool.SetUploaded(id, site.NoMediaUpload(id))
		return
	}
	log.Printf("subwatch[uploader]: reverting %s: %v", id, err)
}
