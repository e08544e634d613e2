// Package fasite implements the art-site client over a faexport-style JSON
// API: browse listing, submission metadata, and media download into the
// local sandbox directory.
package fasite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/subwatch/subwatch/internal/httpclient"
	"github.com/subwatch/subwatch/internal/safeurl"
	"github.com/subwatch/subwatch/internal/site"
)

// Client talks to the site API. Metadata requests are rate limited; media
// downloads go through the per-host semaphore instead, since the media CDN
// is a different upstream.
type Client struct {
	baseURL    string
	apiKey     string
	sandboxDir string
	api        *http.Client
	media      *http.Client
	limiter    *rate.Limiter
}

// New returns a client for the API at baseURL. ratePerSec caps metadata
// requests per second; 0 disables the limiter.
func New(baseURL, apiKey, sandboxDir string, ratePerSec float64) *Client {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		sandboxDir: sandboxDir,
		api:        httpclient.Default(),
		media:      httpclient.WithTimeout(5 * time.Minute),
		limiter:    limiter,
	}
}

type browseEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	PostedAt string `json:"posted_at"`
}

type submissionEntry struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Download    string   `json:"download"`
	Keywords    []string `json:"keywords"`
	Name        string   `json:"name"`
	Rating      string   `json:"rating"`
	PostedAt    string   `json:"posted_at"`
	Link        string   `json:"link"`
}

// BrowsePage returns the most recently published submissions. Entries with
// unparseable ids are skipped.
func (c *Client) BrowsePage(ctx context.Context) ([]site.ShortSubmission, error) {
	var entries []browseEntry
	if err := c.getJSON(ctx, "/browse.json", &entries); err != nil {
		return nil, err
	}
	out := make([]site.ShortSubmission, 0, len(entries))
	for _, e := range entries {
		id, err := site.ParseSubmissionID(e.ID)
		if err != nil {
			log.Printf("subwatch[site]: skipping browse entry: %v", err)
			continue
		}
		short := site.ShortSubmission{ID: id}
		if e.PostedAt != "" {
			if t, err := time.Parse(time.RFC3339, e.PostedAt); err == nil {
				short.PostedAt = t
			}
		}
		out = append(out, short)
	}
	return out, nil
}

// FullSubmission fetches one submission's metadata. The HTML description is
// flattened into plain-text segments.
func (c *Client) FullSubmission(ctx context.Context, id site.SubmissionID) (*site.FullSubmission, error) {
	var entry submissionEntry
	if err := c.getJSON(ctx, fmt.Sprintf("/submission/%s.json", id), &entry); err != nil {
		return nil, err
	}
	full := &site.FullSubmission{
		ID:          id,
		Title:       entry.Title,
		Description: FlattenHTML(entry.Description),
		Keywords:    entry.Keywords,
		Artist:      entry.Name,
		MediaURL:    entry.Download,
		Link:        entry.Link,
	}
	rating, ok := site.RatingFromName(strings.ToLower(entry.Rating))
	if !ok {
		// Unknown ratings are treated as adult so they never leak into
		// subscriptions filtered to safer ones.
		log.Printf("subwatch[site]: unknown rating %q on %s", entry.Rating, id)
		rating = site.RatingAdult
	}
	full.Rating = rating
	if entry.PostedAt != "" {
		if t, err := time.Parse(time.RFC3339, entry.PostedAt); err == nil {
			full.PostedAt = t
		}
	}
	return full, nil
}

// DownloadMedia fetches the submission's media file into the sandbox.
func (c *Client) DownloadMedia(ctx context.Context, sub *site.FullSubmission) (*site.DownloadedFile, site.SendSettings, error) {
	var none site.SendSettings
	if !safeurl.IsHTTPOrHTTPS(sub.MediaURL) {
		return nil, none, fmt.Errorf("refusing media url %q for %s", sub.MediaURL, sub.ID)
	}
	release := httpclient.GlobalHostSem.Acquire(sub.MediaURL)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.MediaURL, nil)
	if err != nil {
		return nil, none, err
	}
	resp, err := c.media.Do(req)
	if err != nil {
		return nil, none, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, none, &site.StatusError{Op: "download " + sub.ID.String(), Status: resp.StatusCode}
	}

	ext := path.Ext(sub.MediaURL)
	f, err := os.CreateTemp(c.sandboxDir, "subwatch-media-*"+ext)
	if err != nil {
		return nil, none, fmt.Errorf("staging media for %s: %w", sub.ID, err)
	}
	size, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, none, fmt.Errorf("staging media for %s: %w", sub.ID, err)
	}
	return &site.DownloadedFile{Path: f.Name(), Size: size}, settingsForMedia(ext, sub.Rating), nil
}

// settingsForMedia decides how a file should be delivered: known image types
// go inline, everything else as a document. Mature and adult submissions get
// the spoiler cover.
func settingsForMedia(ext string, rating site.Rating) site.SendSettings {
	inline := false
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		inline = true
	}
	return site.SendSettings{
		Caption:    site.CaptionSettings{DirectLink: true},
		AsDocument: !inline,
		Spoiler:    rating != site.RatingGeneral,
	}
}

// getJSON performs a rate-limited API request and decodes the response. The
// API serves brotli when asked; the stdlib transport only handles gzip, so
// decode it here.
func (c *Client) getJSON(ctx context.Context, apiPath string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := httpclient.DoWithRetry(ctx, c.api, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &site.StatusError{Op: "GET " + apiPath, Status: resp.StatusCode}
	}
	var body io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "br") {
		body = brotli.NewReader(resp.Body)
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", apiPath, err)
	}
	return nil
}
