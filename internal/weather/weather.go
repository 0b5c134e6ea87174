// Package weather fetches forecasts from the Open-Meteo API, which
// needs no API key.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/hearth/internal/httpkit"
)

// DefaultBaseURL is the Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// Forecast is current conditions plus today's outlook.
type Forecast struct {
	Timezone string     `json:"timezone"`
	Current  Conditions `json:"current"`
	Today    Outlook    `json:"today"`
	Units    Units      `json:"units"`
}

// Conditions are the observed values right now.
type Conditions struct {
	Time                string  `json:"time"`
	Temperature         float64 `json:"temperature"`
	ApparentTemperature float64 `json:"apparent_temperature"`
	Humidity            float64 `json:"humidity"`
	WindSpeed           float64 `json:"wind_speed"`
	Code                int     `json:"code"`
	Condition           string  `json:"condition"`
}

// Outlook summarizes the current day.
type Outlook struct {
	Date              string  `json:"date"`
	High              float64 `json:"high"`
	Low               float64 `json:"low"`
	PrecipProbability float64 `json:"precip_probability"`
	Code              int     `json:"code"`
	Condition         string  `json:"condition"`
	Sunrise           string  `json:"sunrise"`
	Sunset            string  `json:"sunset"`
}

// Units are the measurement units the API reported.
type Units struct {
	Temperature string `json:"temperature"`
	WindSpeed   string `json:"wind_speed"`
}

// Summary renders the forecast as compact text for a model prompt.
func (f *Forecast) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Now: %s, %.0f%s (feels like %.0f%s), humidity %.0f%%, wind %.0f %s.\n",
		f.Current.Condition, f.Current.Temperature, f.Units.Temperature,
		f.Current.ApparentTemperature, f.Units.Temperature,
		f.Current.Humidity, f.Current.WindSpeed, f.Units.WindSpeed)
	fmt.Fprintf(&b, "Today (%s): %s, high %.0f%s, low %.0f%s, %.0f%% chance of precipitation.",
		f.Today.Date, f.Today.Condition, f.Today.High, f.Units.Temperature,
		f.Today.Low, f.Units.Temperature, f.Today.PrecipProbability)
	if f.Today.Sunrise != "" {
		fmt.Fprintf(&b, " Sunrise %s, sunset %s.", clock(f.Today.Sunrise), clock(f.Today.Sunset))
	}
	return b.String()
}

// clock trims an ISO local time ("2026-03-14T07:31") to "07:31".
func clock(iso string) string {
	if _, t, ok := strings.Cut(iso, "T"); ok {
		return t
	}
	return iso
}

// Client queries Open-Meteo.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a weather client. An empty baseURL uses
// DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

type apiResponse struct {
	Timezone     string `json:"timezone"`
	CurrentUnits struct {
		Temperature string `json:"temperature_2m"`
		WindSpeed   string `json:"wind_speed_10m"`
	} `json:"current_units"`
	Current struct {
		Time                string  `json:"time"`
		Temperature         float64 `json:"temperature_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		Humidity            float64 `json:"relative_humidity_2m"`
		WindSpeed           float64 `json:"wind_speed_10m"`
		WeatherCode         int     `json:"weather_code"`
	} `json:"current"`
	Daily struct {
		Time              []string  `json:"time"`
		WeatherCode       []int     `json:"weather_code"`
		High              []float64 `json:"temperature_2m_max"`
		Low               []float64 `json:"temperature_2m_min"`
		PrecipProbability []float64 `json:"precipitation_probability_max"`
		Sunrise           []string  `json:"sunrise"`
		Sunset            []string  `json:"sunset"`
	} `json:"daily"`
}

// GetWeather returns the forecast for a coordinate. tz is an IANA zone
// name; empty lets the API pick from the coordinate.
func (c *Client) GetWeather(ctx context.Context, lat, lon float64, tz string) (*Forecast, error) {
	if tz == "" {
		tz = "auto"
	}
	params := url.Values{
		"latitude":      {strconv.FormatFloat(lat, 'f', 4, 64)},
		"longitude":     {strconv.FormatFloat(lon, 'f', 4, 64)},
		"current":       {"temperature_2m,apparent_temperature,relative_humidity_2m,weather_code,wind_speed_10m"},
		"daily":         {"weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max,sunrise,sunset"},
		"timezone":      {tz},
		"forecast_days": {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("weather: decode response: %w", err)
	}
	if len(ar.Daily.Time) == 0 {
		return nil, fmt.Errorf("weather: response has no daily forecast")
	}

	f := &Forecast{
		Timezone: ar.Timezone,
		Units:    Units{Temperature: ar.CurrentUnits.Temperature, WindSpeed: ar.CurrentUnits.WindSpeed},
		Current: Conditions{
			Time:                ar.Current.Time,
			Temperature:         ar.Current.Temperature,
			ApparentTemperature: ar.Current.ApparentTemperature,
			Humidity:            ar.Current.Humidity,
			WindSpeed:           ar.Current.WindSpeed,
			Code:                ar.Current.WeatherCode,
			Condition:           Describe(ar.Current.WeatherCode),
		},
		Today: Outlook{Date: ar.Daily.Time[0]},
	}
	d := ar.Daily
	if len(d.WeatherCode) > 0 {
		f.Today.Code = d.WeatherCode[0]
		f.Today.Condition = Describe(d.WeatherCode[0])
	}
	if len(d.High) > 0 {
		f.Today.High = d.High[0]
	}
	if len(d.Low) > 0 {
		f.Today.Low = d.Low[0]
	}
	if len(d.PrecipProbability) > 0 {
		f.Today.PrecipProbability = d.PrecipProbability[0]
	}
	if len(d.Sunrise) > 0 {
		f.Today.Sunrise = d.Sunrise[0]
	}
	if len(d.Sunset) > 0 {
		f.Today.Sunset = d.Sunset[0]
	}
	return f, nil
}

// Describe maps a WMO weather interpretation code to words.
func Describe(code int) string {
	switch code {
	case 0:
		return "clear sky"
	case 1:
		return "mainly clear"
	case 2:
		return "partly cloudy"
	case 3:
		return "overcast"
	case 45, 48:
		return "fog"
	case 51, 53, 55:
		return "drizzle"
	case 56, 57:
		return "freezing drizzle"
	case 61, 63, 65:
		return "rain"
	case 66, 67:
		return "freezing rain"
	case 71, 73, 75, 77:
		return "snow"
	case 80, 81, 82:
		return "rain showers"
	case 85, 86:
		return "snow showers"
	case 95:
		return "thunderstorm"
	case 96, 99:
		return "thunderstorm with hail"
	default:
		return fmt.Sprintf("weather code %d", code)
	}
}
