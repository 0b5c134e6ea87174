package prompts

import (
	"strings"
	"testing"
	"time"
)

func TestAssistantSystemPrompt(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skip("no tzdata")
	}
	got := AssistantSystemPrompt(time.Date(2026, 3, 14, 7, 5, 0, 0, loc))

	for _, phrase := range []string{
		"Saturday, March 14, 2026 07:05",
		"America/Chicago",
		"log_meal",
		"log_sleep",
	} {
		if !strings.Contains(got, phrase) {
			t.Errorf("prompt missing %q", phrase)
		}
	}
	if strings.Contains(got, "%!") {
		t.Errorf("prompt has a formatting error:\n%s", got)
	}
}

func TestDigestHealthSystem_Window(t *testing.T) {
	got := DigestHealthSystem(time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC))

	if !strings.Contains(got, "Today is 2026-03-14") {
		t.Error("missing today")
	}
	if !strings.Contains(got, "2026-03-08 through today") {
		t.Error("missing week window")
	}
	for _, tool := range []string{"get_meals_range", "get_sleep_range"} {
		if !strings.Contains(got, tool) {
			t.Errorf("prompt does not mention %s", tool)
		}
	}
}

func TestWeatherSummaryPrompt(t *testing.T) {
	got := WeatherSummaryPrompt("", "Sunny, 20-28°C")
	if !strings.Contains(got, "the user's location") || !strings.Contains(got, "Sunny, 20-28°C") {
		t.Errorf("prompt = %q", got)
	}
	if !strings.Contains(WeatherSummaryPrompt("Austin, TX", "x"), "Austin, TX") {
		t.Error("place name not interpolated")
	}
}

func TestHeadlinesPrompt(t *testing.T) {
	got := HeadlinesPrompt(5, "1. [BBC] Something happened")
	if !strings.Contains(got, "Pick the 5 most") {
		t.Error("pick count not interpolated")
	}
	if !strings.Contains(got, `"category"`) || !strings.Contains(got, "[BBC] Something happened") {
		t.Errorf("prompt = %q", got)
	}
}

func TestDigestTitle(t *testing.T) {
	got := DigestTitle(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))
	if !strings.HasSuffix(got, "Saturday, March 14") {
		t.Errorf("DigestTitle = %q", got)
	}
}
