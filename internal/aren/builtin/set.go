// Package builtin holds the assistant's skills. Each skill is a
// skills.Invoker returning result fields that the renderer turns into a
// reply; skills never produce reply text themselves except for content
// that is itself the answer (a joke, a search snippet).
package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

// ErrUnknownSkill is returned for a skill ID with no implementation.
var ErrUnknownSkill = errors.New("unknown skill")

// Config configures the built-in skills. Zero values select offline
// behaviour: a deterministic weather report, the phrasebook only, and
// predefined search answers only.
type Config struct {
	Identity  IdentityConfig
	Weather   WeatherConfig
	Translate TranslateConfig
	Search    SearchConfig
}

// Set routes invocations to registered skills by ID.
type Set struct {
	skills map[string]skills.Invoker
}

// Option configures New.
type Option func(*deps)

type deps struct {
	client   *http.Client
	now      func() time.Time
	launcher Launcher
	logger   *slog.Logger
}

// WithHTTPClient sets the client used by network-backed skills.
func WithHTTPClient(c *http.Client) Option {
	return func(d *deps) { d.client = c }
}

// WithClock sets the time source for clock and greeting skills.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

// WithLauncher sets how the automation skill starts programs.
func WithLauncher(l Launcher) Option {
	return func(d *deps) { d.launcher = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *deps) { d.logger = l }
}

// New returns a Set with every built-in skill registered.
func New(cfg Config, opts ...Option) *Set {
	d := &deps{
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		launcher: NewExecLauncher(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	s := &Set{skills: make(map[string]skills.Invoker)}
	s.Register("calculator", Calculator{})
	s.Register("time", NewClock(d.now, false))
	s.Register("date", NewClock(d.now, true))
	s.Register("weather", NewWeather(cfg.Weather, d.client, d.logger))
	s.Register("translate", NewTranslator(cfg.Translate, d.client, d.logger))
	s.Register("search", NewSearch(cfg.Search, d.client, d.logger))
	s.Register("automation", NewAutomation(d.launcher, d.logger))
	s.Register("remember", skills.InvokerFunc(remember))
	s.Register("whoami", skills.InvokerFunc(whoami))
	s.Register("identity", identity(cfg.Identity))
	s.Register("joke", skills.InvokerFunc(joke))
	s.Register("greeting", &greeting{now: d.now})
	s.Register("farewell", skills.InvokerFunc(farewell))
	return s
}

// Register adds or replaces a skill.
func (s *Set) Register(id string, inv skills.Invoker) {
	s.skills[id] = inv
}

// IDs returns the registered skill IDs, sorted.
func (s *Set) IDs() []string {
	out := make([]string, 0, len(s.skills))
	for id := range s.skills {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Invoke calls the skill named in req.
func (s *Set) Invoke(ctx context.Context, req skills.Request) (*skills.Result, error) {
	inv, ok := s.skills[req.Skill]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkill, req.Skill)
	}
	return inv.Invoke(ctx, req)
}

// fields builds a result from alternating keys and values.
func fields(kv ...string) *skills.Result {
	f := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[kv[i]] = kv[i+1]
	}
	return &skills.Result{Fields: f}
}
