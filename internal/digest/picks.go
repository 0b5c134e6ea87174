package digest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Pick is one curated headline.
type Pick struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Source   string `json:"source"`
}

// parsePicks decodes the model's JSON array of picks. A surrounding
// markdown code fence is tolerated.
func parsePicks(text string) ([]Pick, error) {
	body := stripFence(strings.TrimSpace(text))
	var picks []Pick
	if err := json.Unmarshal([]byte(body), &picks); err != nil {
		return nil, fmt.Errorf("decode picks: %w", err)
	}
	out := picks[:0]
	for _, p := range picks {
		p.Title = strings.TrimSpace(p.Title)
		if p.Title == "" {
			continue
		}
		p.Category = strings.TrimSpace(p.Category)
		p.Link = strings.TrimSpace(p.Link)
		p.Source = strings.TrimSpace(p.Source)
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no picks with a title")
	}
	return out, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line, which may name a language.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func formatPicks(picks []Pick) string {
	var b strings.Builder
	for i, p := range picks {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		if p.Category != "" {
			b.WriteString(p.Category)
			b.WriteString(": ")
		}
		b.WriteString(p.Title)
		if p.Source != "" {
			fmt.Fprintf(&b, " (%s)", p.Source)
		}
		if p.Link != "" {
			b.WriteString("\n  ")
			b.WriteString(p.Link)
		}
	}
	return b.String()
}
