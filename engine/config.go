package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/invincible-jha/agent-session-linker/storage"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "15m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BackendConfig selects the storage backend the engine builds on its
// own. Backends needing a live client (redis, postgres, s3, etcd,
// mongo) are injected through New instead.
type BackendConfig struct {
	// Kind is one of "memory", "filesystem", or "sqlite".
	Kind string `yaml:"kind"`
	// Path is the directory (filesystem) or database file (sqlite).
	Path string `yaml:"path"`
}

// TokenConfig keys the resumption token issuer.
type TokenConfig struct {
	Secret string   `yaml:"secret"`
	TTL    Duration `yaml:"ttl"`
}

// RetryConfig bounds storage retries.
type RetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
}

// WindowConfig caps session growth before compaction.
type WindowConfig struct {
	MaxTokens     int `yaml:"max_tokens"`
	MaxSegments   int `yaml:"max_segments"`
	SummaryTokens int `yaml:"summary_tokens"`
}

// CheckpointConfig tunes snapshot cadence and retention.
type CheckpointConfig struct {
	Max    int      `yaml:"max"`
	Turns  int      `yaml:"turns"`
	Period Duration `yaml:"period"`
}

// InjectionConfig carries the hot-reloadable context-injection tunables.
type InjectionConfig struct {
	TokenBudget     int     `yaml:"token_budget"`
	MaxSegments     int     `yaml:"max_segments"`
	RelevanceWeight float64 `yaml:"relevance_weight"`
	FreshnessWeight float64 `yaml:"freshness_weight"`
	TypeWeight      float64 `yaml:"type_weight"`
	EntityBoost     float64 `yaml:"entity_boost"`
	MaxAgeHours     float64 `yaml:"max_age_hours"`
}

// SummarizerConfig selects how window compaction summarizes history.
// An empty model keeps the extractive summarizer; a model string such
// as "claude-sonnet-4-20250514" or "openai/gpt-4o" routes compaction
// through that provider, with credentials from the environment and the
// extractive path as fallback. TokenBudget caps cumulative model spend
// across compactions; 0 means unlimited.
type SummarizerConfig struct {
	Model       string `yaml:"model"`
	TokenBudget int    `yaml:"token_budget"`
}

// JanitorConfig schedules the optional checkpoint retention sweep. An
// empty schedule disables it.
type JanitorConfig struct {
	Schedule string   `yaml:"schedule"`
	MaxAge   Duration `yaml:"max_age"`
}

// Config is the engine's full configuration. Zero values fall back to
// the component defaults, so Config{} with a token secret is usable.
type Config struct {
	Backend      BackendConfig    `yaml:"backend"`
	DefaultAgent string           `yaml:"default_agent"`
	Token        TokenConfig      `yaml:"token"`
	Retry        RetryConfig      `yaml:"retry"`
	Window       WindowConfig     `yaml:"window"`
	Checkpoint   CheckpointConfig `yaml:"checkpoint"`
	Injection    InjectionConfig  `yaml:"injection"`
	Summarizer   SummarizerConfig `yaml:"summarizer"`
	Janitor      JanitorConfig    `yaml:"janitor"`
}

// DefaultTokenTTL is how long resumption tokens remain valid when the
// config does not say.
const DefaultTokenTTL = 24 * time.Hour

// DefaultConfig returns the configuration the engine runs with when no
// file is given. The token secret is intentionally absent; callers must
// supply one.
func DefaultConfig() Config {
	return Config{
		Backend:      BackendConfig{Kind: "memory"},
		DefaultAgent: "default",
		Token:        TokenConfig{TTL: Duration(DefaultTokenTTL)},
	}
}

// LoadConfig parses a YAML config file and applies environment
// overrides on top of it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv lets deploy environments override file settings without
// editing the file. Secrets in particular should come from here.
func (c *Config) applyEnv() {
	if v := os.Getenv("SESSION_BACKEND_KIND"); v != "" {
		c.Backend.Kind = v
	}
	if v := os.Getenv("SESSION_BACKEND_PATH"); v != "" {
		c.Backend.Path = v
	}
	if v := os.Getenv("SESSION_TOKEN_SECRET"); v != "" {
		c.Token.Secret = v
	}
	if v := os.Getenv("SESSION_DEFAULT_AGENT"); v != "" {
		c.DefaultAgent = v
	}
	if v := os.Getenv("SESSION_SUMMARIZER_MODEL"); v != "" {
		c.Summarizer.Model = v
	}
	if v := os.Getenv("SESSION_JANITOR_SCHEDULE"); v != "" {
		c.Janitor.Schedule = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "", "memory":
	case "filesystem", "sqlite":
		if c.Backend.Path == "" {
			return fmt.Errorf("backend %s requires a path", c.Backend.Kind)
		}
	default:
		return fmt.Errorf("unknown backend kind %q (injected backends are passed to New)", c.Backend.Kind)
	}
	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}
	if c.Window.MaxTokens < 0 || c.Window.MaxSegments < 0 {
		return fmt.Errorf("window caps must not be negative")
	}
	w := c.Injection
	if w.RelevanceWeight < 0 || w.FreshnessWeight < 0 || w.TypeWeight < 0 {
		return fmt.Errorf("injection weights must not be negative")
	}
	if c.Summarizer.TokenBudget < 0 {
		return fmt.Errorf("summarizer token budget must not be negative")
	}
	if c.Janitor.Schedule != "" && c.Janitor.MaxAge <= 0 {
		return fmt.Errorf("janitor schedule requires a positive max_age")
	}
	return nil
}

// OpenBackend builds the storage backend the config names. Only
// self-contained kinds can be opened here; client-backed kinds must be
// constructed by the caller and injected.
func (c *Config) OpenBackend() (storage.Backend, error) {
	switch c.Backend.Kind {
	case "", "memory":
		return storage.NewMemoryBackend(), nil
	case "filesystem":
		return storage.NewFileBackend(c.Backend.Path)
	case "sqlite":
		return storage.NewSQLiteBackend(c.Backend.Path)
	}
	return nil, fmt.Errorf("backend kind %q must be injected", c.Backend.Kind)
}

// WatchConfig re-reads path whenever it changes and hands the parsed
// result to onChange. Files that fail to parse or validate are logged
// and skipped; the previous configuration stays in effect. The returned
// stop function releases the watcher.
func WatchConfig(path string, logger *slog.Logger, onChange func(Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config %s: %w", path, err)
	}
	// Watch the directory: editors replace files on save, which drops
	// a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					logger.Warn("config reload skipped", "path", path, "error", err)
					continue
				}
				logger.Info("config reloaded", "path", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "path", path, "error", err)
			}
		}
	}()
	return watcher.Close, nil
}
