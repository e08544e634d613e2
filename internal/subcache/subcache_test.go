package subcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/subwatch/subwatch/internal/site"
)

func TestCacheRoundTrip(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cache.Close()
	ctx := context.Background()

	if got := cache.Load(ctx, 123); got != nil {
		t.Errorf("Load on empty cache = %+v, want nil", got)
	}

	entry := &site.SentSubmission{
		SubID:       123,
		MediaHandle: "handle-abc",
		Caption:     "A Red Fox",
		SentAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	cache.Save(ctx, entry)

	got := cache.Load(ctx, 123)
	if got == nil {
		t.Fatal("Load after Save = nil")
	}
	if got.MediaHandle != "handle-abc" || got.Caption != "A Red Fox" || !got.SentAt.Equal(entry.SentAt) {
		t.Errorf("Load = %+v, want %+v", got, entry)
	}

	// Replacing updates in place.
	entry.MediaHandle = "handle-def"
	cache.Save(ctx, entry)
	if got := cache.Load(ctx, 123); got == nil || got.MediaHandle != "handle-def" {
		t.Errorf("Load after replace = %+v", got)
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	cache, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cache.Save(ctx, &site.SentSubmission{SubID: 7, MediaHandle: "h", SentAt: time.Now().UTC()})
	cache.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Load(ctx, 7); got == nil || got.MediaHandle != "h" {
		t.Errorf("Load after reopen = %+v", got)
	}
}
