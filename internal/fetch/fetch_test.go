package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExtractHTML(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head><title>Test Page</title></head>
<body>
<header>Site banner</header>
<nav>Navigation stuff</nav>
<script>var x = 1;</script>
<style>.foo { color: red; }</style>
<!-- tracking pixel comment -->
<main>
<h1>Hello World</h1>
<p>This is a test paragraph with <strong>bold text</strong>.</p>
<noscript>Enable JS</noscript>
<p>Second paragraph.</p>
</main>
<footer>Footer stuff</footer>
</body>
</html>`

	title, content := extractHTML(html)

	if title != "Test Page" {
		t.Errorf("title = %q, want %q", title, "Test Page")
	}
	for _, want := range []string{"Hello World", "bold text", "Second paragraph."} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q: %q", want, content)
		}
	}
	for _, banned := range []string{"var x = 1", "color: red", "Navigation stuff", "Footer stuff", "Site banner", "tracking pixel", "Enable JS"} {
		if strings.Contains(content, banned) {
			t.Errorf("content should not contain %q: %q", banned, content)
		}
	}
}

func TestExtractHTML_PageShape(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		wantTitle string
		want      string
	}{
		{
			name: "chrome and hidden stripped",
			html: `<html><head><meta property="og:title" content=" Banana Bread "></head><body>` +
				`<header>Site</header><nav>Menu</nav>` +
				`<h2>Ingredients</h2><ul><li>3 bananas</li><li>2 cups flour</li></ul>` +
				`<aside>Related recipes</aside><div hidden>Subscribe</div><p aria-hidden="true">Ad</p>` +
				`<template><p>Card</p></template><footer>Copyright</footer></body></html>`,
			wantTitle: "Banana Bread",
			want:      "## Ingredients\n\n- 3 bananas\n- 2 cups flour",
		},
		{
			name:      "single article preferred",
			html:      `<html><head><title>Post</title></head><body><p>Teaser</p><article><p>Body text</p></article></body></html>`,
			wantTitle: "Post",
			want:      "Body text",
		},
		{
			name: "many articles kept",
			html: `<html><body><article><p>First</p></article><article><p>Second</p></article></body></html>`,
			want: "First\n\nSecond",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, content := extractHTML(tt.html)
			if title != tt.wantTitle {
				t.Errorf("title = %q, want %q", title, tt.wantTitle)
			}
			if content != tt.want {
				t.Errorf("content = %q, want %q", content, tt.want)
			}
		})
	}
}

func TestFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "Hearth/") {
			t.Errorf("User-Agent = %q, want Hearth/ prefix", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server</p></body></html>`))
	}))
	defer ts.Close()

	result, err := New(Options{}).Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Title != "Test" {
		t.Errorf("Title = %q", result.Title)
	}
	if !strings.Contains(result.Content, "Hello from test server") {
		t.Errorf("Content = %q", result.Content)
	}
	if result.StatusCode != 200 || result.Truncated {
		t.Errorf("StatusCode = %d, Truncated = %v", result.StatusCode, result.Truncated)
	}
}

func TestFetchTruncation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("é", 1000)))
	}))
	defer ts.Close()

	tests := []struct {
		name      string
		opts      Options
		maxChars  int
		wantLen   int
		truncated bool
	}{
		{"explicit budget", Options{}, 100, 100, true},
		{"default budget", Options{DefaultMaxChars: 300}, 0, 300, true},
		{"capped by limit", Options{MaxCharsLimit: 50}, 500, 50, true},
		{"fits", Options{}, 2000, 1000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := New(tt.opts).Fetch(context.Background(), ts.URL, tt.maxChars)
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			if result.Truncated != tt.truncated {
				t.Errorf("Truncated = %v, want %v", result.Truncated, tt.truncated)
			}
			if result.Length != tt.wantLen {
				t.Errorf("Length = %d, want %d", result.Length, tt.wantLen)
			}
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	start := time.Now()
	_, err := New(Options{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), ts.URL, 0)
	if err == nil {
		t.Fatal("Fetch should time out")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Fetch took %v, timeout not enforced", time.Since(start))
	}
}

func TestFetchRejects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	f := New(Options{})
	for _, u := range []string{"", "file:///etc/passwd", "ftp://example.com/x", ts.URL} {
		if _, err := f.Fetch(context.Background(), u, 0); err == nil {
			t.Errorf("Fetch(%q) should fail", u)
		}
	}
}

func TestCleanWhitespace(t *testing.T) {
	got := cleanWhitespace("  Hello   world  \n\n\n\n  Second line  \n\n\n Third  ")
	want := "Hello world\n\nSecond line\n\nThird"
	if got != want {
		t.Errorf("cleanWhitespace = %q, want %q", got, want)
	}
}

func TestTruncateUTF8(t *testing.T) {
	got := truncateUTF8("Héllo wörld café", 5)
	if got != "Héllo" {
		t.Errorf("truncateUTF8 = %q, want %q", got, "Héllo")
	}
}

func TestTruncateBytes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"天気", 4, "天"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateBytes(tt.in, tt.n); got != tt.want {
			t.Errorf("TruncateBytes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
