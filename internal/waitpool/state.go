package waitpool

import (
	"github.com/subwatch/subwatch/internal/site"
	"github.com/subwatch/subwatch/internal/subscription"
)

// DownloadedMedia pairs a staged file with the send settings decided at
// download time.
type DownloadedMedia struct {
	File     *site.DownloadedFile
	Settings site.SendSettings
}

// CheckState is the pipeline record for one submission id, populated stage
// by stage. All fields are guarded by the wait pool mutex.
type CheckState struct {
	ID       site.SubmissionID
	FullData *site.FullSubmission
	Matching []subscription.Key

	MediaDownloading bool
	Downloaded       *DownloadedMedia

	MediaUploading bool
	CacheEntry     *site.SentSubmission
	Uploaded       *site.UploadedMedia

	// SentTo lists destinations already delivered, so a resumed send after
	// a crash or shutdown does not double-deliver.
	SentTo []int64
}

// NewCheckState returns an empty state for an id.
func NewCheckState(id site.SubmissionID) *CheckState {
	return &CheckState{ID: id}
}

// Key is the ordering key: submission ids ascend with publication order.
func (s *CheckState) Key() int64 {
	return int64(s.ID)
}

// Reset clears every per-stage field back to just-discovered, keeping only
// the delivery record.
func (s *CheckState) Reset() {
	s.FullData = nil
	s.Matching = nil
	s.MediaDownloading = false
	s.Downloaded = nil
	s.MediaUploading = false
	s.CacheEntry = nil
	s.Uploaded = nil
}

// ReadyForDownload reports whether the downloader stage can pick this state.
func (s *CheckState) ReadyForDownload() bool {
	return s.FullData != nil && s.Downloaded == nil && !s.MediaDownloading && !s.ReadyToSend()
}

// ReadyForUpload reports whether the uploader stage can pick this state.
func (s *CheckState) ReadyForUpload() bool {
	return s.Downloaded != nil && !s.MediaUploading && !s.ReadyToSend()
}

// ReadyToSend reports whether the sender can deliver this state.
func (s *CheckState) ReadyToSend() bool {
	return s.Uploaded != nil || s.CacheEntry != nil
}

// WasSentTo reports whether the destination already received this
// submission.
func (s *CheckState) WasSentTo(dest int64) bool {
	for _, d := range s.SentTo {
		if d == dest {
			return true
		}
	}
	return false
}
