package fasite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"

	"github.com/subwatch/subwatch/internal/site"
)

func TestBrowsePageSkipsBadIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/browse.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[
			{"id": "101", "title": "one", "posted_at": "2026-08-01T10:00:00Z"},
			{"id": "bogus", "title": "bad"},
			{"id": "102", "title": "two"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", t.TempDir(), 0)
	page, err := c.BrowsePage(context.Background())
	if err != nil {
		t.Fatalf("BrowsePage: %v", err)
	}
	if len(page) != 2 || page[0].ID != 101 || page[1].ID != 102 {
		t.Errorf("page = %+v, want ids 101 and 102", page)
	}
	if page[0].PostedAt.IsZero() {
		t.Error("posted_at not parsed")
	}
}

func TestFullSubmissionDecodesBrotli(t *testing.T) {
	payload := `{
		"id": "101",
		"title": "A Red Fox",
		"description": "<p>First line</p>Second<br/>Third",
		"download": "http://cdn.test/art/101.png",
		"keywords": ["fox", "canine"],
		"name": "someartist",
		"rating": "General",
		"posted_at": "2026-08-01T10:00:00Z",
		"link": "http://site.test/view/101"
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submission/101.json" {
			http.NotFound(w, r)
			return
		}
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			t.Error("request missing brotli accept-encoding")
		}
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		bw.Write([]byte(payload))
		bw.Close()
	}))
	defer srv.Close()

	c := New(srv.URL, "", t.TempDir(), 0)
	full, err := c.FullSubmission(context.Background(), 101)
	if err != nil {
		t.Fatalf("FullSubmission: %v", err)
	}
	if full.Title != "A Red Fox" || full.Artist != "someartist" {
		t.Errorf("metadata = %+v", full)
	}
	if full.Rating != site.RatingGeneral {
		t.Errorf("rating = %v, want general", full.Rating)
	}
	want := []string{"First line", "Second", "Third"}
	if !reflect.DeepEqual(full.Description, want) {
		t.Errorf("description = %v, want %v", full.Description, want)
	}
	if full.MediaURL != "http://cdn.test/art/101.png" {
		t.Errorf("media url = %q", full.MediaURL)
	}
}

func TestFullSubmissionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, "", t.TempDir(), 0)
	_, err := c.FullSubmission(context.Background(), 999)
	if !site.IsStatus(err, 404) {
		t.Errorf("err = %v, want 404 StatusError", err)
	}
}

func TestDownloadMediaStagesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake image bytes"))
	}))
	defer srv.Close()

	sandbox := t.TempDir()
	c := New("http://unused", "", sandbox, 0)
	sub := &site.FullSubmission{ID: 101, MediaURL: srv.URL + "/art/101.png", Rating: site.RatingAdult}
	file, settings, err := c.DownloadMedia(context.Background(), sub)
	if err != nil {
		t.Fatalf("DownloadMedia: %v", err)
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		t.Fatalf("reading staged file: %v", err)
	}
	if string(data) != "fake image bytes" || file.Size != int64(len(data)) {
		t.Errorf("staged file = %q size %d", data, file.Size)
	}
	if !strings.HasPrefix(file.Path, sandbox) || !strings.HasSuffix(file.Path, ".png") {
		t.Errorf("staged path = %q", file.Path)
	}
	if settings.AsDocument {
		t.Error("png should be sent inline")
	}
	if !settings.Spoiler {
		t.Error("adult media should get the spoiler cover")
	}
}

func TestDownloadMediaRejectsNonHTTP(t *testing.T) {
	c := New("http://unused", "", t.TempDir(), 0)
	sub := &site.FullSubmission{ID: 101, MediaURL: "file:///etc/passwd"}
	if _, _, err := c.DownloadMedia(context.Background(), sub); err == nil {
		t.Error("non-http media url should be rejected")
	}
}

func TestDownloadMediaNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New("http://unused", "", t.TempDir(), 0)
	sub := &site.FullSubmission{ID: 101, MediaURL: srv.URL + "/gone.png"}
	_, _, err := c.DownloadMedia(context.Background(), sub)
	if !site.IsStatus(err, 404) {
		t.Errorf("err = %v, want 404 StatusError", err)
	}
}

func TestFlattenHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"plain text", "hello world", []string{"hello world"}},
		{"line breaks", "a<br>b<br/>c", []string{"a", "b", "c"}},
		{"paragraphs", "<p>one</p><p>two</p>", []string{"one", "two"}},
		{"inline markup joined", "a <b>bold</b> word", []string{"a bold word"}},
		{"nested blocks", "<div>outer <p>inner</p> tail</div>", []string{"outer", "inner", "tail"}},
		{"empty", "   ", nil},
		{"entities", "cats &amp; dogs", []string{"cats & dogs"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FlattenHTML(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("FlattenHTML(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
