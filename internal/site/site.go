// Package site holds the domain types shared across the subscription
// pipeline: submission identifiers, ratings, fetched submission data, media
// artifacts, and the thin client interfaces through which the watcher talks
// to the art site and the downstream chat platform.
package site

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// SubmissionID is the totally-ordered identifier of one submission on the
// art site. IDs are monotonically increasing, so ordering by ID orders by
// publication.
type SubmissionID int64

func (id SubmissionID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseSubmissionID parses the decimal form used in persisted files.
func ParseSubmissionID(s string) (SubmissionID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse submission id %q: %w", s, err)
	}
	return SubmissionID(n), nil
}

// Rating is the site's content rating for a submission.
type Rating int

const (
	RatingGeneral Rating = iota + 1
	RatingMature
	RatingAdult
)

func (r Rating) String() string {
	switch r {
	case RatingGeneral:
		return "general"
	case RatingMature:
		return "mature"
	case RatingAdult:
		return "adult"
	}
	return "unknown"
}

// RatingFromName maps a site rating name onto a Rating. Recognised names are
// the canonical general/mature/adult.
func RatingFromName(name string) (Rating, bool) {
	switch name {
	case "general":
		return RatingGeneral, true
	case "mature":
		return RatingMature, true
	case "adult":
		return RatingAdult, true
	}
	return 0, false
}

// ShortSubmission is one entry of a browse page: just enough to decide
// whether the submission is new.
type ShortSubmission struct {
	ID       SubmissionID
	PostedAt time.Time
}

// FullSubmission is the fetched metadata of one submission. Description is a
// list of text segments (HTML already flattened by the site client).
type FullSubmission struct {
	ID          SubmissionID
	Title       string
	Description []string
	Keywords    []string
	Artist      string
	Rating      Rating
	PostedAt    time.Time
	MediaURL    string
	Link        string
}

// CaptionSettings controls which parts of a submission appear in the caption
// of a delivered message.
type CaptionSettings struct {
	DirectLink bool
	Title      bool
	Author     bool
}

// SendSettings carries the delivery options decided at download time.
type SendSettings struct {
	Caption    CaptionSettings
	AsDocument bool
	Spoiler    bool
}

// DownloadedFile is a media file staged in the local sandbox directory.
type DownloadedFile struct {
	Path string
	Size int64
}

// UploadedMedia is a platform media handle produced by uploading a
// downloaded file. A zero Handle marks the no-media sentinel used when a
// submission's media is permanently broken and the update is sent text-only.
type UploadedMedia struct {
	SubID    SubmissionID
	Handle   string
	Settings SendSettings
}

// NoMediaUpload returns the sentinel UploadedMedia for a caption-only send.
func NoMediaUpload(id SubmissionID) *UploadedMedia {
	return &UploadedMedia{
		SubID: id,
		Settings: SendSettings{
			Caption: CaptionSettings{DirectLink: true, Title: true, Author: true},
		},
	}
}

// NoMedia reports whether this is the caption-only sentinel.
func (u *UploadedMedia) NoMedia() bool {
	return u.Handle == ""
}

// SentSubmission is the artifact recorded after a successful delivery. The
// media handle can be replayed to any destination without re-uploading.
type SentSubmission struct {
	SubID       SubmissionID
	MediaHandle string
	Caption     string
	SentAt      time.Time
}

// SiteClient is the art-site boundary consumed by the pipeline.
type SiteClient interface {
	// BrowsePage returns the most recently published submissions.
	BrowsePage(ctx context.Context) ([]ShortSubmission, error)
	// FullSubmission fetches one submission's metadata. HTTP failures are
	// reported as *StatusError.
	FullSubmission(ctx context.Context, id SubmissionID) (*FullSubmission, error)
	// DownloadMedia fetches the submission's binary media into the sandbox.
	DownloadMedia(ctx context.Context, sub *FullSubmission) (*DownloadedFile, SendSettings, error)
}

// PlatformClient is the chat-platform boundary consumed by the pipeline.
// Implementations must be safe for concurrent upload and send calls.
type PlatformClient interface {
	// UploadMedia uploads a staged file and returns its platform handle.
	UploadMedia(ctx context.Context, sub *FullSubmission, file *DownloadedFile, settings SendSettings) (*UploadedMedia, error)
	// SendMessage delivers a submission to one destination.
	SendMessage(ctx context.Context, dest int64, prefix string, sub *FullSubmission, media *UploadedMedia) (*SentSubmission, error)
	// ResendCached replays a previously sent artifact to a destination.
	// Returns false (with nil error) when the cached handle is unusable.
	ResendCached(ctx context.Context, dest int64, prefix string, entry *SentSubmission) (bool, error)
}
