package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aren-assistant/aren/internal/aren/config"
	"github.com/aren-assistant/aren/internal/aren/nlp"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aren.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 10, cfg.History.Window)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, 0.5, cfg.Classifier.MinConfidence)
	assert.Equal(t, 0.05, cfg.Classifier.AmbiguityEpsilon)
	assert.Equal(t, 0.55, cfg.Classifier.Weights.Base)
	assert.Equal(t, 5*time.Second, cfg.Skills.Timeout)
	assert.Equal(t, 1000, cfg.Input.MaxLength)
	assert.Equal(t, ":1906", cfg.HTTP.Addr)
	assert.Equal(t, config.BackendSQLite, cfg.Persistence.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "AREN", cfg.Identity.Name)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeFile(t, `
history:
  window: 4
skills:
  timeout: 2s
matrix:
  homeserver: https://matrix.example.org
  user_id: "@aren:example.org"
  access_token: secret
  rooms: ["!home:example.org"]
log:
  level: debug
  format: json
`)
	t.Setenv("AREN_HISTORY_WINDOW", "6")
	t.Setenv("AREN_WEATHER_API_KEY", "owm-key")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.History.Window, "environment beats file")
	assert.Equal(t, 2*time.Second, cfg.Skills.Timeout)
	assert.Equal(t, []string{"!home:example.org"}, cfg.Matrix.Rooms)
	assert.Equal(t, "owm-key", cfg.Weather.APIKey)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, 6, cfg.Tracker().Window)
	assert.Equal(t, 2*time.Second, cfg.Dispatch().SkillTimeout)
	assert.Equal(t, "owm-key", cfg.Builtin().Weather.APIKey)
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AREN_SKILLS_TIMEOUT", "750ms")
	t.Setenv("AREN_PERSISTENCE_BACKEND", "none")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Skills.Timeout)
	assert.Equal(t, config.BackendNone, cfg.Persistence.Backend)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero window", func(c *config.Config) { c.History.Window = 0 }},
		{"threshold above one", func(c *config.Config) { c.Classifier.MinConfidence = 1.5 }},
		{"negative epsilon", func(c *config.Config) { c.Classifier.AmbiguityEpsilon = -0.1 }},
		{"zero epsilon", func(c *config.Config) { c.Classifier.AmbiguityEpsilon = 0 }},
		{"negative weight", func(c *config.Config) { c.Classifier.Weights.Specificity = -0.1 }},
		{"weights above one", func(c *config.Config) {
			c.Classifier.Weights = nlp.Weights{Base: 0.9, Specificity: 0.5, Slots: 0.9}
		}},
		{"zero skill timeout", func(c *config.Config) { c.Skills.Timeout = 0 }},
		{"unknown backend", func(c *config.Config) { c.Persistence.Backend = "mongo" }},
		{"supabase without credentials", func(c *config.Config) { c.Persistence.Backend = config.BackendSupabase }},
		{"matrix without token", func(c *config.Config) { c.Matrix.Homeserver = "https://matrix.example.org" }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
		})
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := writeFile(t, "persistence:\n  backend: mongo\n")
	_, err := config.Load(path)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestSummaryAndSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Weather.APIKey = "owm-1234567"
	cfg.Matrix.AccessToken = "syt_abcdef"

	sum := cfg.Summary()
	assert.Equal(t, "owm-1234567", sum["weather.api_key"])
	assert.Equal(t, cfg.Persistence.Backend, sum["persistence.backend"])
	assert.ElementsMatch(t, []string{"syt_abcdef", "owm-1234567"}, cfg.Secrets())
}

func TestValidate_DefaultWeightsAccepted(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, nlp.DefaultWeights, cfg.Classifier.Weights)
	assert.NoError(t, cfg.Validate())
}
