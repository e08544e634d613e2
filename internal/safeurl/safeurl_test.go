package safeurl

import "testing"

func TestIsHTTPOrHTTPS(t *testing.T) {
	tests := []struct {
		url   string
		allow bool
	}{
		{"https://d.furrycdn.test/art/someartist/1234.png", true},
		{"http://d.furrycdn.test/art/someartist/1234.png", true},
		{"HTTPS://d.furrycdn.test/x", true},
		{"//d.furrycdn.test/art/1234.png", false}, // scheme-relative
		{"file:///etc/passwd", false},
		{"ftp://d.furrycdn.test/art", false},
		{"data:image/png;base64,AAAA", false},
		{"javascript:alert(1)", false},
		{"", false},
		{"::not a url::", false},
	}
	for _, tt := range tests {
		if got := IsHTTPOrHTTPS(tt.url); got != tt.allow {
			t.Errorf("IsHTTPOrHTTPS(%q) = %v, want %v", tt.url, got, tt.allow)
		}
	}
}
