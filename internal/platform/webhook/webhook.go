// Package webhook delivers subscription updates through the chat platform's
// HTTP bot API: media uploads, message sends, and cached-handle replays. It
// maps the platform's failure modes onto the pipeline's error types.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/subwatch/subwatch/internal/httpclient"
	"github.com/subwatch/subwatch/internal/site"
)

// Client implements site.PlatformClient over the bot API at baseURL.
type Client struct {
	baseURL string
	token   string
	api     *http.Client
	media   *http.Client
}

// New returns a platform client. Uploads get a long timeout; everything else
// uses the shared default.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		api:     httpclient.Default(),
		media:   httpclient.WithTimeout(5 * time.Minute),
	}
}

type uploadResponse struct {
	Handle string `json:"handle"`
}

type sendRequest struct {
	Dest       int64  `json:"destination"`
	Text       string `json:"text"`
	Handle     string `json:"handle,omitempty"`
	AsDocument bool   `json:"as_document,omitempty"`
	Spoiler    bool   `json:"spoiler,omitempty"`
}

type apiError struct {
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// UploadMedia pushes a staged file and returns its reusable platform handle.
func (c *Client) UploadMedia(ctx context.Context, sub *site.FullSubmission, file *site.DownloadedFile, settings site.SendSettings) (*site.UploadedMedia, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("opening staged media for %s: %w", sub.ID, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("media", filepath.Base(file.Path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading staged media for %s: %w", sub.ID, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)
	resp, err := c.media.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.mapError("upload", resp, 0)
	}
	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("decoding upload response for %s: %w", sub.ID, err)
	}
	if ur.Handle == "" {
		return nil, fmt.Errorf("upload for %s returned no handle", sub.ID)
	}
	return &site.UploadedMedia{SubID: sub.ID, Handle: ur.Handle, Settings: settings}, nil
}

// SendMessage delivers one submission to a destination.
func (c *Client) SendMessage(ctx context.Context, dest int64, prefix string, sub *site.FullSubmission, media *site.UploadedMedia) (*site.SentSubmission, error) {
	caption := BuildCaption(sub, media.Settings.Caption)
	payload := sendRequest{
		Dest:       dest,
		Text:       prefix + "\n" + caption,
		Handle:     media.Handle,
		AsDocument: media.Settings.AsDocument,
		Spoiler:    media.Settings.Spoiler,
	}
	if err := c.send(ctx, dest, payload); err != nil {
		return nil, err
	}
	return &site.SentSubmission{
		SubID:       sub.ID,
		MediaHandle: media.Handle,
		Caption:     caption,
		SentAt:      time.Now().UTC(),
	}, nil
}

// ResendCached replays a previously sent artifact. A rejected handle is a
// clean miss, not an error; the pipeline re-does the media stages.
func (c *Client) ResendCached(ctx context.Context, dest int64, prefix string, entry *site.SentSubmission) (bool, error) {
	payload := sendRequest{
		Dest:   dest,
		Text:   prefix + "\n" + entry.Caption,
		Handle: entry.MediaHandle,
	}
	err := c.send(ctx, dest, payload)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, site.ErrFilePartMissing) {
		return false, nil
	}
	return false, err
}

func (c *Client) send(ctx context.Context, dest int64, payload sendRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.api.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.mapError("send", resp, dest)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// mapError turns a platform failure response into the pipeline's error
// vocabulary.
func (c *Client) mapError(op string, resp *http.Response, dest int64) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ae apiError
	json.Unmarshal(raw, &ae)
	desc := strings.ToLower(ae.Description)

	switch {
	case resp.StatusCode == http.StatusForbidden,
		strings.Contains(desc, "chat not found"),
		strings.Contains(desc, "bot was blocked"),
		strings.Contains(desc, "user is deactivated"),
		strings.Contains(desc, "peer_id_invalid"):
		reason := ae.Description
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return &site.DestinationGoneError{Dest: dest, Reason: reason}

	case resp.StatusCode == http.StatusTooManyRequests:
		seconds := ae.Parameters.RetryAfter
		if seconds <= 0 {
			if n, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				seconds = n
			}
		}
		if seconds <= 0 {
			seconds = 1
		}
		return &site.FloodWaitError{Seconds: seconds}

	case strings.Contains(desc, "file part"),
		strings.Contains(desc, "file reference"),
		strings.Contains(desc, "wrong file identifier"):
		return site.ErrFilePartMissing
	}
	return &site.StatusError{Op: op, Status: resp.StatusCode}
}

// BuildCaption renders the message body under a submission: the optional
// title and author lines, the submission page link, and optionally the
// direct media link.
func BuildCaption(sub *site.FullSubmission, cs site.CaptionSettings) string {
	var lines []string
	if cs.Title {
		lines = append(lines, fmt.Sprintf("%q", sub.Title))
	}
	if cs.Author {
		lines = append(lines, "By: "+sub.Artist)
	}
	lines = append(lines, sub.Link)
	if cs.DirectLink && sub.MediaURL != "" {
		lines = append(lines, sub.MediaURL)
	}
	return strings.Join(lines, "\n")
}
