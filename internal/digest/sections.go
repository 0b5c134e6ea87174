package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/hearth/internal/agent"
	"github.com/nugget/hearth/internal/dav"
	"github.com/nugget/hearth/internal/headlines"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/usage"
)

// maxPromptHeadlines bounds how many entries the curation prompt lists.
const maxPromptHeadlines = 60

const noEventsToday = "Nothing on the calendar today."

var errNoHeadlines = errors.New("no recent headlines")

func (c *Composer) weatherSection(ctx context.Context, r *request) (string, error) {
	if !r.prefs.HasLocation() {
		return prompts.PlaceholderNoLocation, nil
	}
	if c.deps.Weather == nil {
		return "", fmt.Errorf("weather is not configured")
	}
	tz := r.prefs.Timezone
	if tz == "" {
		tz = r.now.Location().String()
	}
	forecast, err := c.deps.Weather.GetWeather(ctx, *r.prefs.Latitude, *r.prefs.Longitude, tz)
	if err != nil {
		return "", fmt.Errorf("fetch forecast: %w", err)
	}
	return c.generate(ctx, r, llm.TextRequest{
		Model:     c.cfg.Model,
		Prompt:    prompts.WeatherSummaryPrompt(r.prefs.LocationName, forecast.Summary()),
		MaxTokens: 300,
	})
}

func (c *Composer) calendarSection(ctx context.Context, r *request) (string, error) {
	loc := r.now.Location()
	midnight := time.Date(r.now.Year(), r.now.Month(), r.now.Day(), 0, 0, 0, 0, loc)
	evts, err := c.deps.Calendar.Upcoming(ctx, midnight, 1, loc)
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}
	if len(evts) == 0 {
		return noEventsToday, nil
	}
	return dav.FormatEvents(evts), nil
}

// healthSection runs a short tool loop restricted to the read-only
// range tools, so the advice is based on what was actually logged.
func (c *Composer) healthSection(ctx context.Context, r *request) (string, error) {
	defs := tools.DigestCatalog()
	exec := tools.Restrict(c.deps.Executors(r.chatID, r.log), defs, r.log)

	res, err := c.deps.Loop.Run(ctx, agent.RunConfig{
		Tools:         defs,
		MaxIterations: c.cfg.MaxIterations,
		SystemPrompt:  prompts.DigestHealthSystem(r.now),
		Model:         c.cfg.Model,
		MaxTokens:     c.cfg.MaxTokens,
		Role:          usage.RoleDigest,
		ChatID:        r.chatID,
	}, []llm.Message{{Role: llm.RoleUser, Content: prompts.DigestHealthRequest}}, exec)
	if err != nil {
		return "", err
	}
	if res.Text == prompts.EmptyResponseFallback {
		return "", fmt.Errorf("health loop produced no text")
	}
	return res.Text, nil
}

func (c *Composer) headlinesSection(ctx context.Context, r *request) (string, error) {
	if c.deps.Headlines == nil {
		return "", fmt.Errorf("headlines are not configured")
	}
	items, err := c.deps.Headlines.FetchAll(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch headlines: %w", err)
	}
	if len(items) == 0 {
		return "", errNoHeadlines
	}
	if len(items) > maxPromptHeadlines {
		items = items[:maxPromptHeadlines]
	}

	text, err := c.generate(ctx, r, llm.TextRequest{
		Model:     c.cfg.Model,
		Prompt:    prompts.HeadlinesPrompt(c.cfg.Picks, headlines.Format(items)),
		MaxTokens: 1200,
	})
	if err != nil {
		return "", err
	}
	picks, err := parsePicks(text)
	if err != nil {
		r.log.Debug("headline picks not parseable, using raw text", "error", err)
		return text, nil
	}
	return formatPicks(picks), nil
}

// generate makes one tool-less model call and records its usage.
func (c *Composer) generate(ctx context.Context, r *request, tr llm.TextRequest) (string, error) {
	resp, err := llm.GenerateText(ctx, c.deps.LLM, tr)
	if err != nil {
		return "", err
	}
	if c.deps.Usage != nil {
		rec := usage.Record{
			Timestamp:    time.Now(),
			RequestID:    r.runID,
			ChatID:       r.chatID,
			Model:        resp.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Role:         usage.RoleDigest,
		}
		if rec.Model == "" {
			rec.Model = tr.Model
		}
		if err := c.deps.Usage.Record(ctx, rec); err != nil {
			r.log.Warn("usage not recorded", "error", err)
		}
	}
	return resp.Message.Content, nil
}
