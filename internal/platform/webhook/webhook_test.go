package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/subwatch/subwatch/internal/site"
)

func testSubmission() *site.FullSubmission {
	return &site.FullSubmission{
		ID:       101,
		Title:    "A Red Fox",
		Artist:   "someartist",
		MediaURL: "http://cdn.test/art/101.png",
		Link:     "http://site.test/view/101",
	}
}

func TestUploadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing upload: %v", err)
		}
		f, _, err := r.FormFile("media")
		if err != nil {
			t.Fatalf("media part: %v", err)
		}
		f.Close()
		json.NewEncoder(w).Encode(map[string]string{"handle": "h-101"})
	}))
	defer srv.Close()

	staged := filepath.Join(t.TempDir(), "101.png")
	if err := os.WriteFile(staged, []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(srv.URL, "tok")
	settings := site.SendSettings{AsDocument: true}
	media, err := c.UploadMedia(context.Background(), testSubmission(), &site.DownloadedFile{Path: staged, Size: 5}, settings)
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if media.Handle != "h-101" || media.SubID != 101 || !media.Settings.AsDocument {
		t.Errorf("media = %+v", media)
	}
}

func TestSendMessage(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	media := &site.UploadedMedia{
		SubID:  101,
		Handle: "h-101",
		Settings: site.SendSettings{
			Caption: site.CaptionSettings{Title: true, Author: true},
			Spoiler: true,
		},
	}
	sent, err := c.SendMessage(context.Background(), 42, "Update:", testSubmission(), media)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.Dest != 42 || got.Handle != "h-101" || !got.Spoiler {
		t.Errorf("request = %+v", got)
	}
	want := "Update:\n\"A Red Fox\"\nBy: someartist\nhttp://site.test/view/101"
	if got.Text != want {
		t.Errorf("text = %q, want %q", got.Text, want)
	}
	if sent.SubID != 101 || sent.MediaHandle != "h-101" || sent.SentAt.IsZero() {
		t.Errorf("sent = %+v", sent)
	}
}

func TestSendMapsDestinationGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"description": "Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.SendMessage(context.Background(), 42, "p", testSubmission(), site.NoMediaUpload(101))
	var gone *site.DestinationGoneError
	if !errors.As(err, &gone) || gone.Dest != 42 {
		t.Errorf("err = %v, want DestinationGoneError for 42", err)
	}
}

func TestSendMapsFloodWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"description": "Too Many Requests: retry later", "parameters": {"retry_after": 17}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.SendMessage(context.Background(), 42, "p", testSubmission(), site.NoMediaUpload(101))
	var flood *site.FloodWaitError
	if !errors.As(err, &flood) || flood.Seconds != 17 {
		t.Errorf("err = %v, want 17s flood wait", err)
	}
}

func TestSendMapsFilePartMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"description": "Bad Request: FILE_PART_0_MISSING"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	media := &site.UploadedMedia{SubID: 101, Handle: "h-101"}
	_, err := c.SendMessage(context.Background(), 42, "p", testSubmission(), media)
	if !errors.Is(err, site.ErrFilePartMissing) {
		t.Errorf("err = %v, want ErrFilePartMissing", err)
	}
}

func TestResendCachedRejectedHandleIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"description": "Bad Request: wrong file identifier"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	entry := &site.SentSubmission{SubID: 101, MediaHandle: "stale", Caption: "c"}
	ok, err := c.ResendCached(context.Background(), 42, "p", entry)
	if err != nil || ok {
		t.Errorf("ResendCached = %v, %v; want miss without error", ok, err)
	}
}

func TestResendCachedSuccess(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	entry := &site.SentSubmission{SubID: 101, MediaHandle: "h-101", Caption: "cached caption"}
	ok, err := c.ResendCached(context.Background(), 42, "Update:", entry)
	if err != nil || !ok {
		t.Fatalf("ResendCached = %v, %v", ok, err)
	}
	if got.Handle != "h-101" || got.Text != "Update:\ncached caption" {
		t.Errorf("request = %+v", got)
	}
}

func TestBuildCaption(t *testing.T) {
	sub := testSubmission()
	got := BuildCaption(sub, site.CaptionSettings{DirectLink: true, Title: true, Author: true})
	want := "\"A Red Fox\"\nBy: someartist\nhttp://site.test/view/101\nhttp://cdn.test/art/101.png"
	if got != want {
		t.Errorf("caption = %q, want %q", got, want)
	}
	if got := BuildCaption(sub, site.CaptionSettings{}); got != "http://site.test/view/101" {
		t.Errorf("bare caption = %q", got)
	}
}
