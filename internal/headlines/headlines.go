// Package headlines aggregates recent entries from configured RSS and
// Atom feeds for the daily digest.
package headlines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/httpkit"
)

// Headline is one recent feed entry.
type Headline struct {
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"published_at"`
}

// Source is a named feed URL.
type Source struct {
	Name string
	URL  string
}

// Options tune aggregation.
type Options struct {
	Window     time.Duration // entries older than this are dropped; default 24h
	MaxPerFeed int           // newest entries kept per feed; default 15
}

// Aggregator fetches every source concurrently and merges the results.
type Aggregator struct {
	sources    []Source
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewAggregator creates an aggregator over sources.
func NewAggregator(sources []Source, opts Options, logger *slog.Logger) *Aggregator {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.MaxPerFeed <= 0 {
		opts.MaxPerFeed = 15
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sources:    sources,
		opts:       opts,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(20 * time.Second)),
		logger:     logger,
		now:        time.Now,
	}
}

// FetchAll returns recent headlines from every source, newest first,
// deduplicated by link and title. Feeds that fail are logged and
// skipped; an error is returned only when every feed failed.
func (a *Aggregator) FetchAll(ctx context.Context) ([]Headline, error) {
	if len(a.sources) == 0 {
		return nil, fmt.Errorf("no feeds configured")
	}

	type result struct {
		src  Source
		feed *feed
		err  error
	}
	results := make([]result, len(a.sources))

	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			f, err := fetchFeed(ctx, a.httpClient, src.URL)
			results[i] = result{src: src, feed: f, err: err}
		}(i, src)
	}
	wg.Wait()

	cutoff := a.now().Add(-a.opts.Window)
	seen := make(map[string]bool)
	var (
		out  []Headline
		errs []error
	)
	for _, r := range results {
		if r.err != nil {
			a.logger.Warn("feed fetch failed", "feed", r.src.Name, "url", r.src.URL, "error", r.err)
			errs = append(errs, fmt.Errorf("%s: %w", r.src.Name, r.err))
			continue
		}
		name := r.src.Name
		if name == "" {
			name = r.feed.Title
		}

		entries := recent(r.feed.Entries, cutoff)
		if len(entries) > a.opts.MaxPerFeed {
			entries = entries[:a.opts.MaxPerFeed]
		}
		for _, e := range entries {
			if e.Title == "" {
				continue
			}
			linkKey := "l:" + e.Link
			titleKey := "t:" + strings.ToLower(e.Title)
			if (e.Link != "" && seen[linkKey]) || seen[titleKey] {
				continue
			}
			seen[linkKey], seen[titleKey] = true, true
			out = append(out, Headline{Source: name, Title: e.Title, Link: e.Link, PublishedAt: e.Published})
		}
	}

	if len(errs) == len(a.sources) {
		return nil, fmt.Errorf("all feeds failed: %w", errors.Join(errs...))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	a.logger.Debug("headlines aggregated", "feeds", len(a.sources), "failed", len(errs), "headlines", len(out))
	return out, nil
}

// recent returns entries published after cutoff, newest first.
// Undated entries are kept since their age is unknown.
func recent(entries []entry, cutoff time.Time) []entry {
	var out []entry
	for _, e := range entries {
		if e.Published.IsZero() || e.Published.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Published.After(out[j].Published) })
	return out
}

// Format renders headlines as a numbered list for a model prompt.
func Format(items []Headline) string {
	var b strings.Builder
	for i, h := range items {
		fmt.Fprintf(&b, "%d. [%s] %s\n   %s\n", i+1, h.Source, h.Title, h.Link)
	}
	return b.String()
}
