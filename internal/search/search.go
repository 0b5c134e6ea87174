// Package search runs web searches for the web_search tool against a
// self-hosted SearXNG instance or the Brave Search API.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxCount caps the results any provider returns for one query.
const MaxCount = 10

const defaultCount = 5

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional query parameters.
type Options struct {
	// Count is the maximum number of results. Zero means 5.
	Count int

	// Language is an ISO 639-1 code such as "en" or "de".
	Language string
}

func (o Options) count() int {
	switch {
	case o.Count <= 0:
		return defaultCount
	case o.Count > MaxCount:
		return MaxCount
	}
	return o.Count
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes queries to a primary provider and falls back to the
// others, in registration order, when it fails.
type Manager struct {
	primary   string
	providers []Provider
}

// NewManager creates a manager preferring the provider named primary.
// An empty primary means the first registered provider.
func NewManager(primary string) *Manager {
	return &Manager{primary: primary}
}

// Register adds a provider.
func (m *Manager) Register(p Provider) {
	m.providers = append(m.providers, p)
}

// Configured reports whether any provider is registered.
func (m *Manager) Configured() bool {
	return m != nil && len(m.providers) > 0
}

// Search runs query and returns at most opts.Count results.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty search query")
	}
	if !m.Configured() {
		return nil, errors.New("no search provider configured")
	}

	var errs []error
	for _, p := range m.ordered() {
		results, err := p.Search(ctx, query, opts)
		if err == nil {
			if n := opts.count(); len(results) > n {
				results = results[:n]
			}
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// ordered returns the primary provider first.
func (m *Manager) ordered() []Provider {
	out := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if p.Name() == m.primary {
			out = append(out, p)
		}
	}
	for _, p := range m.providers {
		if p.Name() != m.primary {
			out = append(out, p)
		}
	}
	return out
}
