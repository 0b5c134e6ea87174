package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockProvider struct {
	name    string
	results []Result
	err     error
	calls   int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	m.calls++
	return m.results, m.err
}

func TestManager_PrimaryFirst(t *testing.T) {
	first := &mockProvider{name: "brave", results: []Result{{Title: "Brave"}}}
	second := &mockProvider{name: "searxng", results: []Result{{Title: "SearXNG"}}}
	mgr := NewManager("searxng")
	mgr.Register(first)
	mgr.Register(second)

	got, err := mgr.Search(context.Background(), "oat milk", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "SearXNG" {
		t.Errorf("results = %+v, want the primary provider's", got)
	}
	if first.calls != 0 {
		t.Errorf("secondary called %d times", first.calls)
	}
}

func TestManager_FallsBack(t *testing.T) {
	primary := &mockProvider{name: "searxng", err: errors.New("HTTP 502")}
	backup := &mockProvider{name: "brave", results: []Result{{Title: "Backup"}}}
	mgr := NewManager("searxng")
	mgr.Register(primary)
	mgr.Register(backup)

	got, err := mgr.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "Backup" {
		t.Errorf("results = %+v", got)
	}
}

func TestManager_AllFail(t *testing.T) {
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "searxng", err: errors.New("down")})
	mgr.Register(&mockProvider{name: "brave", err: errors.New("quota")})

	_, err := mgr.Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "searxng: down") || !strings.Contains(err.Error(), "brave: quota") {
		t.Errorf("err = %v, want both provider errors", err)
	}
}

func TestManager_Errors(t *testing.T) {
	if _, err := NewManager("").Search(context.Background(), "q", Options{}); err == nil {
		t.Error("expected error with no providers")
	}
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "x"})
	if _, err := mgr.Search(context.Background(), "  ", Options{}); err == nil {
		t.Error("expected error for blank query")
	}
	var nilMgr *Manager
	if nilMgr.Configured() {
		t.Error("nil manager reports configured")
	}
}

func TestManager_TrimsToCount(t *testing.T) {
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "x", results: make([]Result, 8)})
	got, err := mgr.Search(context.Background(), "q", Options{Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestOptionsCount(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 5}, {-1, 5}, {3, 3}, {10, 10}, {50, 10},
	}
	for _, tt := range tests {
		if got := (Options{Count: tt.in}).count(); got != tt.want {
			t.Errorf("count(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSearXNG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			t.Errorf("request = %s", r.URL)
		}
		if r.URL.Query().Get("q") != "sourdough starter" || r.URL.Query().Get("language") != "en" {
			t.Errorf("query = %v", r.URL.Query())
		}
		w.Write([]byte(`{"results":[
			{"title":"One","url":"https://a.example","content":"first"},
			{"title":"Two","url":"https://b.example","content":"second"},
			{"title":"Three","url":"https://c.example"}]}`))
	}))
	defer srv.Close()

	got, err := NewSearXNG(srv.URL+"/").Search(context.Background(), "sourdough starter", Options{Count: 2, Language: "en"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != (Result{Title: "One", URL: "https://a.example", Snippet: "first"}) {
		t.Errorf("results = %+v", got)
	}
}

func TestSearXNG_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "json format disabled", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewSearXNG(srv.URL).Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "HTTP 403") {
		t.Errorf("err = %v, want HTTP 403", err)
	}
}

func TestBrave(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "key" {
			t.Errorf("token header = %q", r.Header.Get("X-Subscription-Token"))
		}
		if r.URL.Query().Get("count") != "5" {
			t.Errorf("count = %q", r.URL.Query().Get("count"))
		}
		w.Write([]byte(`{"web":{"results":[{"title":"Hit","url":"https://x.example","description":"about x"}]}}`))
	}))
	defer srv.Close()

	b := NewBrave("key")
	b.endpoint = srv.URL
	got, err := b.Search(context.Background(), "x", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Snippet != "about x" {
		t.Errorf("results = %+v", got)
	}
}
