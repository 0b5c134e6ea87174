package prompts

import (
	"fmt"
	"time"
)

// Digest section headers, in the order they appear.
const (
	DigestWeatherHeader   = "🌤️ Weather"
	DigestCalendarHeader  = "📅 Today"
	DigestHealthHeader    = "💪 Health"
	DigestHeadlinesHeader = "📰 Headlines"
)

// Placeholders replace a digest section that could not be produced.
const (
	PlaceholderNoLocation = "Set your location to get a weather forecast here. Just tell me where you live."
	PlaceholderWeather    = "Weather is unavailable right now."
	PlaceholderCalendar   = "Couldn't reach your calendar this morning."
	PlaceholderHealth     = "No health insights today."
	PlaceholderHeadlines  = "Headlines are unavailable right now."
)

// DigestTitle is the first line of a digest.
func DigestTitle(date time.Time) string {
	return "☀️ Good morning! Your digest for " + date.Format("Monday, January 2")
}

// weatherTemplate asks for a short forecast summary. Format verbs:
// 1: place name, 2: forecast text.
const weatherTemplate = `Summarize today's weather for %s in two or three short sentences for a morning message.
Mention the temperature range, whether to expect rain, and anything worth preparing for (an umbrella, a jacket, sunscreen).
Do not use headings or bullet points.

Forecast:
%s`

// WeatherSummaryPrompt returns the weather section prompt.
func WeatherSummaryPrompt(place, forecast string) string {
	if place == "" {
		place = "the user's location"
	}
	return fmt.Sprintf(weatherTemplate, place, forecast)
}

// healthTemplate is the system prompt for the digest health loop.
// Format verbs: 1: today's date, 2: the start of the review window.
const healthTemplate = `You write the health section of the user's morning digest. Today is %s.

Call get_meals_range and get_sleep_range for %s through today before writing anything.
Ground every observation in the numbers you retrieved: average sleep, calories and protein per day, gaps in logging.
Then give one or two specific, encouraging suggestions for today.

Keep it under 80 words, plain text, no headings. If there is no data at all, say so in one line and suggest logging meals and sleep.`

// DigestHealthSystem returns the health loop system prompt. The review
// window is the week ending today.
func DigestHealthSystem(today time.Time) string {
	return fmt.Sprintf(healthTemplate, today.Format(time.DateOnly), today.AddDate(0, 0, -6).Format(time.DateOnly))
}

// DigestHealthRequest is the user turn that starts the health loop.
const DigestHealthRequest = "Write my health section for this morning's digest."

// headlinesTemplate asks the model to curate headlines. Format verbs:
// 1: number of picks, 2: numbered headline list.
const headlinesTemplate = `Pick the %d most interesting and varied stories from these headlines for a morning digest.
Give each pick an inventive one- or two-word category label (for example "Space Oddity" or "Money Moves"). Do not repeat a label.

Respond with only a JSON array, no commentary:
[{"category": "...", "title": "...", "link": "...", "source": "..."}]

Headlines:
%s`

// HeadlinesPrompt returns the headline curation prompt.
func HeadlinesPrompt(picks int, headlines string) string {
	return fmt.Sprintf(headlinesTemplate, picks, headlines)
}
