// Package app assembles the assistant from configuration: skill registry,
// classifier, session tracker, persistence, built-in skills, dispatcher and
// the optional HTTP and Matrix transports.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/aren-assistant/aren/common/redact"
	"github.com/aren-assistant/aren/internal/aren/api"
	"github.com/aren-assistant/aren/internal/aren/builtin"
	"github.com/aren-assistant/aren/internal/aren/config"
	"github.com/aren-assistant/aren/internal/aren/dispatch"
	"github.com/aren-assistant/aren/internal/aren/matrix"
	"github.com/aren-assistant/aren/internal/aren/memory"
	"github.com/aren-assistant/aren/internal/aren/nlp"
	"github.com/aren-assistant/aren/internal/aren/render"
	"github.com/aren-assistant/aren/internal/aren/skills"
	"github.com/aren-assistant/aren/internal/aren/store"
	"github.com/aren-assistant/aren/internal/aren/supabase"
)

// persistence is what a backend provides to the tracker and dispatcher.
type persistence interface {
	memory.HistorySink
	memory.PreferenceStore
}

// App is one assembled assistant.
type App struct {
	cfg        config.Config
	logger     *slog.Logger
	registry   *skills.Registry
	classifier *nlp.Classifier
	tracker    *memory.Tracker
	dispatcher *dispatch.Dispatcher

	store    *store.Store
	redis    redis.UniversalClient
	api      *api.Server
	matrix   *matrix.Client
	closers  []func() error
	invoker  skills.Invoker
	launcher builtin.Launcher
}

// Option configures an App.
type Option func(*App)

// WithLogger replaces the logger built from the log settings.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithInvoker replaces the built-in skill set.
func WithInvoker(inv skills.Invoker) Option {
	return func(a *App) { a.invoker = inv }
}

// WithLauncher sets how the automation skill starts programs.
func WithLauncher(l builtin.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

// New builds the App. Nothing listens or syncs until Run.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = NewLogger(os.Stderr, cfg.Log)
	}

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	registry, err := loadRegistry(a.cfg.Skills.Table)
	if err != nil {
		return err
	}
	templates, err := loadTemplates(a.cfg.Skills.Templates)
	if err != nil {
		return err
	}
	a.registry = registry
	a.classifier = nlp.NewClassifier(registry, a.cfg.Classifier)

	backend, err := a.openPersistence()
	if err != nil {
		return err
	}

	a.tracker = memory.NewTracker(a.cfg.Tracker(),
		memory.WithPreferenceSource(backend),
		memory.WithSnapshotStore(a.openSnapshots()),
		memory.WithLogger(a.logger),
	)

	if a.invoker == nil {
		opts := []builtin.Option{builtin.WithLogger(a.logger)}
		if a.launcher != nil {
			opts = append(opts, builtin.WithLauncher(a.launcher))
		}
		a.invoker = builtin.New(a.cfg.Builtin(), opts...)
	}

	a.dispatcher = dispatch.New(a.cfg.Dispatch(), a.classifier, a.tracker, a.invoker,
		templates.WithLogger(a.logger),
		dispatch.WithHistorySink(backend),
		dispatch.WithPreferenceStore(backend),
		dispatch.WithLogger(a.logger),
	)

	if a.cfg.HTTP.Addr != "" {
		opts := []api.Option{api.WithLogger(a.logger)}
		if a.store != nil {
			opts = append(opts, api.WithHistory(a.store))
		}
		a.api = api.New(a.cfg.HTTP.Addr, a.dispatcher, a.tracker, opts...)
	}

	if a.cfg.Matrix.Homeserver != "" {
		mcfg := matrix.Config{
			Homeserver:  a.cfg.Matrix.Homeserver,
			UserID:      a.cfg.Matrix.UserID,
			AccessToken: a.cfg.Matrix.AccessToken,
			Rooms:       a.cfg.Matrix.Rooms,
		}
		if a.store != nil {
			mcfg.SyncState = a.store
		}
		client, err := matrix.New(mcfg, a.logger)
		if err != nil {
			return err
		}
		a.matrix = client
	}
	return nil
}

func (a *App) openPersistence() (persistence, error) {
	switch a.cfg.Persistence.Backend {
	case config.BackendSQLite:
		s, err := store.New(a.cfg.Database.Path, store.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
		a.logger.Info("app: using sqlite persistence", "path", a.cfg.Database.Path)
		return s, nil
	case config.BackendSupabase:
		c, err := supabase.New(supabase.Config{URL: a.cfg.Supabase.URL, APIKey: a.cfg.Supabase.APIKey})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		a.logger.Info("app: using supabase persistence", "url", a.cfg.Supabase.URL)
		return c, nil
	default:
		a.logger.Warn("app: persistence disabled; history and preferences are not kept")
		return memory.Noop{}, nil
	}
}

// openSnapshots archives sealed sessions in Redis when configured, in
// process memory otherwise.
func (a *App) openSnapshots() memory.SnapshotStore {
	if a.cfg.Redis.Addr == "" {
		return memory.NewMemorySnapshots(a.cfg.Redis.TTL)
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	snaps := memory.NewRedisSnapshots(a.redis, a.cfg.Redis.TTL)
	a.closers = append(a.closers, snaps.Close)
	a.logger.Info("app: archiving sessions in redis", "addr", a.cfg.Redis.Addr)
	return snaps
}

func loadRegistry(path string) (*skills.Registry, error) {
	if path == "" {
		return skills.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trigger table: %w", err)
	}
	return skills.Parse(data)
}

func loadTemplates(path string) (*render.Templates, error) {
	if path == "" {
		return render.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return render.Load(data)
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Dispatcher runs turns.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Classifier scores utterances.
func (a *App) Classifier() *nlp.Classifier { return a.classifier }

// Tracker owns the live sessions.
func (a *App) Tracker() *memory.Tracker { return a.tracker }

// Store is the SQLite store, nil with other backends.
func (a *App) Store() *store.Store { return a.store }

// Logger is the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Run starts the transports and the idle-session sweeper and blocks until
// ctx ends.
func (a *App) Run(ctx context.Context) error {
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn("app: redis unreachable; sealed sessions will not resume", "err", redact.Error(err, a.cfg.Secrets()...))
		}
	}

	if a.api != nil {
		if err := a.api.Start(ctx); err != nil {
			return err
		}
	}
	if a.matrix != nil {
		a.logger.Info("app: starting matrix sync", "user", a.matrix.UserID())
		if err := a.matrix.Start(ctx, a.dispatcher); err != nil {
			return fmt.Errorf("failed to start Matrix client: %w", err)
		}
	}

	go a.tracker.Run(ctx, a.cfg.Session.SweepInterval)

	a.logger.Info("app: running", redact.Args(a.cfg.Summary())...)
	<-ctx.Done()
	a.logger.Info("app: shutting down")
	return nil
}

// Close stops the transports and releases storage. Live sessions are sealed
// first so they can resume after a restart.
func (a *App) Close() error {
	if a.matrix != nil {
		a.matrix.Stop()
	}
	if a.api != nil {
		a.api.Stop()
	}
	if a.tracker != nil {
		a.tracker.SealAll(context.Background())
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the slog logger for the configured level and format.
func NewLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cfg.Level)); err != nil {
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
