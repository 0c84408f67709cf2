// Package config loads AREN's settings from an optional YAML file and
// AREN_-prefixed environment variables, on top of documented defaults.
//
//	history:
//	  window: 10
//	skills:
//	  timeout: 5s
//
// is overridden by AREN_HISTORY_WINDOW=20 or AREN_SKILLS_TIMEOUT=2s.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aren-assistant/aren/internal/aren/builtin"
	"github.com/aren-assistant/aren/internal/aren/dispatch"
	"github.com/aren-assistant/aren/internal/aren/memory"
	"github.com/aren-assistant/aren/internal/aren/nlp"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AREN"

// weightSlack absorbs float rounding in the classifier weight sum.
const weightSlack = 1e-9

// Persistence backends.
const (
	BackendSQLite   = "sqlite"
	BackendSupabase = "supabase"
	BackendNone     = "none"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	History     HistoryConfig     `mapstructure:"history"`
	Session     SessionConfig     `mapstructure:"session"`
	Classifier  nlp.Config        `mapstructure:"classifier"`
	Skills      SkillsConfig      `mapstructure:"skills"`
	Input       InputConfig       `mapstructure:"input"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Supabase    SupabaseConfig    `mapstructure:"supabase"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Matrix      MatrixConfig      `mapstructure:"matrix"`
	Weather     WeatherConfig     `mapstructure:"weather"`
	Translate   TranslateConfig   `mapstructure:"translate"`
	Search      SearchConfig      `mapstructure:"search"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Log         LogConfig         `mapstructure:"log"`
}

type HistoryConfig struct {
	Window int `mapstructure:"window"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SkillsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Table is an optional trigger table file replacing the built-in one.
	Table string `mapstructure:"table"`
	// Templates is an optional reply template file replacing the built-in
	// one.
	Templates string `mapstructure:"templates"`
}

type InputConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// HTTPConfig enables the HTTP API when Addr is set.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type PersistenceConfig struct {
	Backend string `mapstructure:"backend"`
}

type SupabaseConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// RedisConfig enables Redis session snapshots when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MatrixConfig enables the Matrix transport when Homeserver is set.
type MatrixConfig struct {
	Homeserver  string   `mapstructure:"homeserver"`
	UserID      string   `mapstructure:"user_id"`
	AccessToken string   `mapstructure:"access_token"`
	Rooms       []string `mapstructure:"rooms"`
}

type WeatherConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

type TranslateConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type IdentityConfig struct {
	Name    string `mapstructure:"name"`
	Creator string `mapstructure:"creator"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// defaults lists every key. Keys must be known to viper for environment
// overrides to reach Unmarshal, so keys without a default are set to "".
var defaults = map[string]any{
	"history.window":                 memory.DefaultTrackerConfig().Window,
	"session.idle_timeout":           memory.DefaultTrackerConfig().IdleTimeout,
	"session.sweep_interval":         time.Minute,
	"classifier.min_confidence":      nlp.DefaultMinConfidence,
	"classifier.ambiguity_epsilon":   nlp.DefaultAmbiguityEpsilon,
	"classifier.weights.base":        nlp.DefaultWeights.Base,
	"classifier.weights.specificity": nlp.DefaultWeights.Specificity,
	"classifier.weights.slots":       nlp.DefaultWeights.Slots,
	"skills.timeout":                 dispatch.DefaultSkillTimeout,
	"skills.table":                   "",
	"skills.templates":               "",
	"input.max_length":               dispatch.DefaultMaxInputLength,
	"http.addr":                      ":1906",
	"database.path":                  "./aren.db",
	"persistence.backend":            BackendSQLite,
	"supabase.url":                   "",
	"supabase.api_key":               "",
	"redis.addr":                     "",
	"redis.password":                 "",
	"redis.db":                       0,
	"redis.ttl":                      memory.DefaultSnapshotTTL,
	"matrix.homeserver":              "",
	"matrix.user_id":                 "",
	"matrix.access_token":            "",
	"matrix.rooms":                   []string{},
	"weather.api_key":                "",
	"weather.endpoint":               builtin.DefaultWeatherEndpoint,
	"translate.endpoint":             "",
	"translate.api_key":              "",
	"search.endpoint":                builtin.DefaultSearchEndpoint,
	"identity.name":                  builtin.DefaultIdentity.Name,
	"identity.creator":               builtin.DefaultIdentity.Creator,
	"log.level":                      "info",
	"log.format":                     "text",
}

// Default returns the configuration with no file and no environment.
func Default() Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

// Load reads path (when non-empty) and the environment. A missing file is
// an error only when path was given explicitly; otherwise ./aren.yaml and
// /etc/aren/aren.yaml are tried.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aren")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/aren")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the assistant cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.History.Window > 0, "history.window must be positive, got %d", c.History.Window)
	check(c.Session.IdleTimeout > 0, "session.idle_timeout must be positive")
	check(c.Session.SweepInterval > 0, "session.sweep_interval must be positive")
	check(c.Classifier.MinConfidence > 0 && c.Classifier.MinConfidence <= 1,
		"classifier.min_confidence must be in (0, 1], got %v", c.Classifier.MinConfidence)
	check(c.Classifier.AmbiguityEpsilon > 0, "classifier.ambiguity_epsilon must be positive, got %v", c.Classifier.AmbiguityEpsilon)
	w := c.Classifier.Weights
	check(w.Base >= 0 && w.Specificity >= 0 && w.Slots >= 0, "classifier.weights must not be negative")
	check(w.Sum() > 0 && w.Sum() <= 1+weightSlack, "classifier.weights must sum to a value in (0, 1], got %v", w.Sum())
	check(c.Skills.Timeout > 0, "skills.timeout must be positive")
	check(c.Input.MaxLength > 0, "input.max_length must be positive")

	switch c.Persistence.Backend {
	case BackendSQLite:
		check(c.Database.Path != "", "database.path is required for the sqlite backend")
	case BackendSupabase:
		check(c.Supabase.URL != "" && c.Supabase.APIKey != "", "supabase.url and supabase.api_key are required for the supabase backend")
	case BackendNone:
	default:
		check(false, "unknown persistence.backend %q", c.Persistence.Backend)
	}

	if c.Matrix.Homeserver != "" {
		check(c.Matrix.UserID != "" && c.Matrix.AccessToken != "", "matrix.user_id and matrix.access_token are required with matrix.homeserver")
	}

	_, err := parseLevel(c.Log.Level)
	check(err == nil, "unknown log.level %q", c.Log.Level)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)

	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Component settings
// ---------------------------------------------------------------------------

// Tracker returns the session tracker settings.
func (c Config) Tracker() memory.TrackerConfig {
	return memory.TrackerConfig{Window: c.History.Window, IdleTimeout: c.Session.IdleTimeout}
}

// Dispatch returns the dispatcher limits.
func (c Config) Dispatch() dispatch.Config {
	return dispatch.Config{SkillTimeout: c.Skills.Timeout, MaxInputLength: c.Input.MaxLength}
}

// Builtin returns the built-in skill settings.
func (c Config) Builtin() builtin.Config {
	return builtin.Config{
		Identity:  builtin.IdentityConfig{Name: c.Identity.Name, Creator: c.Identity.Creator},
		Weather:   builtin.WeatherConfig{APIKey: c.Weather.APIKey, Endpoint: c.Weather.Endpoint},
		Translate: builtin.TranslateConfig{Endpoint: c.Translate.Endpoint, APIKey: c.Translate.APIKey},
		Search:    builtin.SearchConfig{Endpoint: c.Search.Endpoint},
	}
}

// Summary lists the effective settings by their file keys. Credentials are
// included; pass the result through redact before logging it.
func (c Config) Summary() map[string]any {
	return map[string]any{
		"history.window":       c.History.Window,
		"session.idle_timeout": c.Session.IdleTimeout.String(),
		"skills.timeout":       c.Skills.Timeout.String(),
		"skills.table":         c.Skills.Table,
		"input.max_length":     c.Input.MaxLength,
		"http.addr":            c.HTTP.Addr,
		"persistence.backend":  c.Persistence.Backend,
		"database.path":        c.Database.Path,
		"supabase.url":         c.Supabase.URL,
		"supabase.api_key":     c.Supabase.APIKey,
		"redis.addr":           c.Redis.Addr,
		"redis.password":       c.Redis.Password,
		"matrix.homeserver":    c.Matrix.Homeserver,
		"matrix.user_id":       c.Matrix.UserID,
		"matrix.access_token":  c.Matrix.AccessToken,
		"weather.api_key":      c.Weather.APIKey,
		"translate.api_key":    c.Translate.APIKey,
		"log.level":            c.Log.Level,
	}
}

// Secrets returns every configured credential.
func (c Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Supabase.APIKey, c.Redis.Password, c.Matrix.AccessToken, c.Weather.APIKey, c.Translate.APIKey} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LogLevel returns the configured slog level.
func (c Config) LogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}
