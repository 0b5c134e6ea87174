package tools

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/nugget/hearth/internal/fetch"
	"github.com/nugget/hearth/internal/search"
)

const maxEventDays = 14

func serviceHandlers() map[string]handler {
	return map[string]handler{
		"list_events": tool[int]{decode: decodeEventDays, run: runListEvents},
		"web_fetch":   tool[fetchInput]{decode: decodeFetch, run: runWebFetch},
		"web_search":  tool[searchInput]{decode: decodeSearch, run: runWebSearch},
		"send_digest": tool[struct{}]{decode: none, run: runSendDigest},
	}
}

func decodeEventDays(a Args, _ time.Time) (int, error) {
	days := 1
	if a.Has("days") {
		n := a.Int("days")
		if n == nil || *n < 1 {
			return 0, &ArgError{Field: "days", Reason: "must be a positive integer"}
		}
		days = min(*n, maxEventDays)
	}
	return days, nil
}

func runListEvents(ctx context.Context, e *Executor, days int) (any, error) {
	if e.deps.Calendar == nil {
		return nil, errNotConfigured("calendar")
	}
	now, err := e.now(ctx)
	if err != nil {
		return nil, err
	}
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	events, err := e.deps.Calendar.Upcoming(ctx, from, days, now.Location())
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return map[string]any{"found": false, "days": days, "message": "No events scheduled."}, nil
	}
	return map[string]any{"found": true, "days": days, "events": events}, nil
}

type fetchInput struct {
	url      string
	maxChars int
}

func decodeFetch(a Args, _ time.Time) (fetchInput, error) {
	u, err := a.RequiredString("url")
	if err != nil {
		return fetchInput{}, err
	}
	in := fetchInput{url: u}
	if n := a.Int("max_chars"); n != nil && *n > 0 {
		in.maxChars = *n
	}
	return in, nil
}

func runWebFetch(ctx context.Context, e *Executor, in fetchInput) (any, error) {
	if e.deps.Fetcher == nil {
		return nil, errNotConfigured("web fetch")
	}
	res, err := e.deps.Fetcher.Fetch(ctx, in.url, in.maxChars)
	if err != nil {
		return nil, err
	}
	return fitFetch(res, e.deps.MaxResultBytes), nil
}

type fetchPayload struct {
	Success bool `json:"success"`
	*fetch.Result
}

// fitFetch shortens the page text until the encoded result fits limit
// bytes, marking it truncated. A character budget alone cannot
// guarantee this: multi-byte text and JSON escaping both inflate it.
func fitFetch(res *fetch.Result, limit int) fetchPayload {
	p := fetchPayload{Success: true, Result: res}
	for res.Content != "" {
		data, err := json.Marshal(p)
		if err != nil || len(data) <= limit {
			break
		}
		keep := len(res.Content) - (len(data) - limit)
		res.Content = fetch.TruncateBytes(res.Content, keep)
		res.Truncated = true
		res.Length = utf8.RuneCountInString(res.Content)
	}
	return p
}

type searchInput struct {
	query string
	opts  search.Options
}

func decodeSearch(a Args, _ time.Time) (searchInput, error) {
	q, err := a.RequiredString("query")
	if err != nil {
		return searchInput{}, err
	}
	in := searchInput{query: q, opts: search.Options{Language: a.String("language")}}
	if n := a.Int("count"); n != nil {
		if *n < 1 {
			return searchInput{}, &ArgError{Field: "count", Reason: "must be a positive integer"}
		}
		in.opts.Count = min(*n, search.MaxCount)
	}
	return in, nil
}

func runWebSearch(ctx context.Context, e *Executor, in searchInput) (any, error) {
	if e.deps.Search == nil {
		return nil, errNotConfigured("web search")
	}
	results, err := e.deps.Search.Search(ctx, in.query, in.opts)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return map[string]any{"found": false, "query": in.query, "message": "No results."}, nil
	}
	return map[string]any{"found": true, "query": in.query, "results": results}, nil
}

func runSendDigest(ctx context.Context, e *Executor, _ struct{}) (any, error) {
	if e.deps.Digest == nil {
		return nil, errNotConfigured("digest")
	}
	if err := e.deps.Digest.Send(ctx, e.chatID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "message": "Digest sent."}, nil
}
