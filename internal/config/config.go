// Package config handles Hearth configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/hearth/internal/email"
	"github.com/nugget/hearth/internal/paths"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/hearth/config.yaml, /etc/hearth/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hearth", "config.yaml"))
	}

	paths = append(paths, "/etc/hearth/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Hearth configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Models    ModelsConfig    `yaml:"models"`
	Agent     AgentConfig     `yaml:"agent"`
	Digest    DigestConfig    `yaml:"digest"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Search    SearchConfig    `yaml:"search"`
	Notes     NotesConfig     `yaml:"notes"`
	Email     email.Config    `yaml:"email"`
	DAV       DAVConfig       `yaml:"dav"`
	Weather   WeatherConfig   `yaml:"weather"`
	Headlines HeadlinesConfig `yaml:"headlines"`
	Signal    SignalConfig    `yaml:"signal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`

	// Pricing maps model names to per-million-token costs. Models not
	// listed are treated as free.
	Pricing map[string]PricingEntry `yaml:"pricing"`

	DataDir   string `yaml:"data_dir"`
	Timezone  string `yaml:"timezone"` // IANA name; default for chats without a preference
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// APIConfig defines the HTTP API server.
type APIConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // 0 disables the server

	// TokenHash is a bcrypt hash of the bearer token clients must
	// present. Empty disables authentication, which is only sensible
	// on a loopback address.
	TokenHash string `yaml:"token_hash"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	Digest    string        `yaml:"digest"` // model for digest sections; defaults to Default
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // anthropic, ollama
}

// AgentConfig bounds the interactive tool loop.
type AgentConfig struct {
	MaxIterations  int `yaml:"max_iterations"`   // default 10
	MaxTokens      int `yaml:"max_tokens"`       // per model call, default 4096
	MaxResultBytes int `yaml:"max_result_bytes"` // per tool result, default 16384
}

// DigestConfig controls daily digest assembly.
type DigestConfig struct {
	MaxIterations     int    `yaml:"max_iterations"`      // health sub-loop ceiling, default 3
	SectionTimeoutSec int    `yaml:"section_timeout_sec"` // default 60
	DefaultTime       string `yaml:"default_time"`        // HH:MM, default 07:00
}

// FetchConfig controls the web_fetch tool.
type FetchConfig struct {
	TimeoutSec      int `yaml:"timeout_sec"`       // default 15
	DefaultMaxChars int `yaml:"default_max_chars"` // default 8000
	MaxCharsLimit   int `yaml:"max_chars_limit"`   // default 50000
}

// SearchConfig selects the web_search backends. Either or both may be
// set; with both, Provider is tried first.
type SearchConfig struct {
	Provider    string `yaml:"provider"` // searxng or brave
	SearXNGURL  string `yaml:"searxng_url"`
	BraveAPIKey string `yaml:"brave_api_key"`
}

// Configured reports whether any backend is set.
func (c SearchConfig) Configured() bool {
	return c.SearXNGURL != "" || c.BraveAPIKey != ""
}

// NotesConfig locates the markdown vault.
type NotesConfig struct {
	// Path is the vault root. Defaults to <data_dir>/notes.
	Path string `yaml:"path"`
	// Categories are the top-level folders offered to the model.
	Categories []string `yaml:"categories"`
}

// DAVConfig defines the CalDAV/CardDAV server. Both protocols share
// one endpoint and credentials, which is how Fastmail, Nextcloud and
// Radicale deploy them.
type DAVConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// CalendarPath and AddressBookPath skip discovery when set.
	CalendarPath    string `yaml:"calendar_path"`
	AddressBookPath string `yaml:"address_book_path"`
}

// Configured reports whether a DAV server is set up.
func (c DAVConfig) Configured() bool {
	return c.URL != ""
}

// WeatherConfig defines the forecast provider.
type WeatherConfig struct {
	BaseURL string `yaml:"base_url"` // default Open-Meteo forecast endpoint
}

// HeadlinesConfig lists the feeds aggregated for the digest.
type HeadlinesConfig struct {
	Feeds       []FeedConfig `yaml:"feeds"`
	WindowHours int          `yaml:"window_hours"` // default 24
	Picks       int          `yaml:"picks"`        // default 5
	MaxPerFeed  int          `yaml:"max_per_feed"` // default 15
}

// FeedConfig is a single RSS or Atom source.
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// SignalConfig configures the signal-cli transport.
type SignalConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"` // default signal-cli
	Args    []string `yaml:"args"`
	Account string   `yaml:"account"` // E.164 phone number

	// AttachmentsDir is where signal-cli stores received attachments.
	// Default: ~/.local/share/signal-cli/attachments.
	AttachmentsDir string `yaml:"attachments_dir"`

	// RateLimitPerMinute caps inbound messages per sender. 0 = unlimited.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// AllowedSenders restricts who may talk to the assistant. Empty
	// allows everyone who can reach the account.
	AllowedSenders []string `yaml:"allowed_senders"`
}

// MQTTConfig defines the optional event mirror.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtts://broker.local:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // default hearth
	ClientID    string `yaml:"client_id"`

	// DiscoveryPrefix is the Home Assistant discovery prefix; default
	// homeassistant.
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"` // sensor refresh, default 60
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// PricingEntry is the cost of a model per million tokens, in USD.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// optional integrations.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Models.Default == "" {
		c.Models.Default = "claude-sonnet-4-20250514"
	}
	if c.Models.Digest == "" {
		c.Models.Digest = c.Models.Default
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.MaxResultBytes <= 0 {
		c.Agent.MaxResultBytes = 16 * 1024
	}

	if c.Digest.MaxIterations <= 0 {
		c.Digest.MaxIterations = 3
	}
	if c.Digest.SectionTimeoutSec <= 0 {
		c.Digest.SectionTimeoutSec = 60
	}
	if c.Digest.DefaultTime == "" {
		c.Digest.DefaultTime = "07:00"
	}

	if c.Fetch.TimeoutSec <= 0 {
		c.Fetch.TimeoutSec = 15
	}
	if c.Fetch.DefaultMaxChars <= 0 {
		c.Fetch.DefaultMaxChars = 8000
	}
	if c.Fetch.MaxCharsLimit <= 0 {
		c.Fetch.MaxCharsLimit = 50000
	}

	c.DataDir = paths.ExpandHome(c.DataDir)
	if c.Notes.Path == "" {
		c.Notes.Path = filepath.Join(c.DataDir, "notes")
	}
	c.Notes.Path = paths.ExpandHome(c.Notes.Path)
	if len(c.Notes.Categories) == 0 {
		c.Notes.Categories = []string{"journal", "projects", "reference", "ideas"}
	}

	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.open-meteo.com/v1/forecast"
	}

	if c.Headlines.WindowHours <= 0 {
		c.Headlines.WindowHours = 24
	}
	if c.Headlines.Picks <= 0 {
		c.Headlines.Picks = 5
	}
	if c.Headlines.MaxPerFeed <= 0 {
		c.Headlines.MaxPerFeed = 15
	}

	if c.Signal.Command == "" {
		c.Signal.Command = "signal-cli"
	}
	if c.Signal.AttachmentsDir == "" {
		c.Signal.AttachmentsDir = "~/.local/share/signal-cli/attachments"
	}
	c.Signal.AttachmentsDir = paths.ExpandHome(c.Signal.AttachmentsDir)

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "hearth"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "hearth"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}

	c.Email.ApplyDefaults()
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first problem found.
func (c *Config) Validate() error {
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range (0-65535)", c.API.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q must be text or json", c.LogFormat)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
	}
	if !clockPattern.MatchString(c.Digest.DefaultTime) {
		return fmt.Errorf("digest.default_time %q must be HH:MM", c.Digest.DefaultTime)
	}
	for i, m := range c.Models.Available {
		switch m.Provider {
		case "anthropic", "ollama":
		default:
			return fmt.Errorf("models.available[%d] (%s): unknown provider %q", i, m.Name, m.Provider)
		}
	}
	for i, f := range c.Headlines.Feeds {
		if f.URL == "" {
			return fmt.Errorf("headlines.feeds[%d] (%s): url is required", i, f.Name)
		}
	}
	switch c.Search.Provider {
	case "", "searxng", "brave":
	default:
		return fmt.Errorf("search.provider %q must be searxng or brave", c.Search.Provider)
	}
	if c.Signal.Enabled && c.Signal.Account == "" {
		return fmt.Errorf("signal.account is required when signal is enabled")
	}
	if c.Email.Configured() {
		if err := c.Email.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the configured default time zone, or the process
// local zone when none is set.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ProviderFor returns the provider name for a model, or "" when the
// model is not listed.
func (c ModelsConfig) ProviderFor(model string) string {
	for _, m := range c.Available {
		if m.Name == model {
			return m.Provider
		}
	}
	return ""
}
