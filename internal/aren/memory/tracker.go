package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrackerConfig holds configuration for the Tracker.
type TrackerConfig struct {
	// Window is the maximum number of turn records kept per session. When
	// exceeded, the oldest record is dropped.
	// Default: 10.
	Window int

	// IdleTimeout is the inactivity after which a session is sealed by the
	// next SealIdle call and handed to the snapshot store.
	// Default: 30 minutes.
	IdleTimeout time.Duration
}

// DefaultTrackerConfig returns a TrackerConfig with the documented defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Window:      10,
		IdleTimeout: 30 * time.Minute,
	}
}

// Tracker owns every live session. Sessions are independent: the tracker
// mutex only guards the session map, and each session has its own lock that
// a Handle holds for the length of one turn. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	config  TrackerConfig
	entries map[string]*entry
	// sealing holds sessions unlinked by a seal whose snapshot is not yet
	// saved. Closed once the save returns.
	sealing map[string]chan struct{}

	prefs   PreferenceSource
	archive SnapshotStore
	now     func() time.Time
	logger  *slog.Logger
}

// entry pairs a session with its lock. lock is a one-slot semaphore so that
// a caller waiting for a busy session can give up when its context ends.
type entry struct {
	lock chan struct{}
	sess *session
	// sealed is set, with lock held, when the entry leaves the map.
	sealed bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPreferenceSource seeds new sessions from src.
func WithPreferenceSource(src PreferenceSource) Option {
	return func(t *Tracker) { t.prefs = src }
}

// WithSnapshotStore archives sealed sessions to store and resumes them from
// it when the same session returns.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(t *Tracker) { t.archive = store }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger; the default slog logger is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a Tracker with the given configuration.
func NewTracker(cfg TrackerConfig, opts ...Option) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultTrackerConfig().Window
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultTrackerConfig().IdleTimeout
	}
	t := &Tracker{
		config:  cfg,
		entries: make(map[string]*entry),
		sealing: make(map[string]chan struct{}),
		prefs:   Noop{},
		archive: noopSnapshots{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Config returns the effective configuration.
func (t *Tracker) Config() TrackerConfig { return t.config }

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Acquire locks the session for one turn, creating it on first use. It
// blocks while another turn of the same session is running and returns
// ctx.Err() if ctx ends first. The caller must Release the handle.
func (t *Tracker) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	for {
		t.mu.Lock()
		e := t.entries[sessionID]
		if e == nil {
			e = &entry{lock: make(chan struct{}, 1)}
			t.entries[sessionID] = e
		}
		t.mu.Unlock()

		select {
		case e.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if e.sealed {
			// Sealed while we waited; start over with a fresh entry.
			<-e.lock
			continue
		}
		if e.sess == nil {
			if err := t.awaitSeal(ctx, sessionID); err != nil {
				<-e.lock
				return nil, err
			}
			e.sess = t.load(ctx, sessionID)
		}
		return &Handle{tracker: t, entry: e}, nil
	}
}

// awaitSeal waits until an in-flight seal of sessionID has saved its
// snapshot, so the session resumes instead of starting empty.
func (t *Tracker) awaitSeal(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	done := t.sealing[sessionID]
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load resumes an archived session or starts a new one seeded with the
// user's stored preferences. Lookup failures are logged and the session
// starts empty.
func (t *Tracker) load(ctx context.Context, sessionID string) *session {
	now := t.now()

	snap, ok, err := t.archive.Load(ctx, sessionID)
	if err != nil {
		t.logger.Warn("memory: snapshot lookup failed", "session_id", sessionID, "err", err)
	}
	if ok {
		t.logger.Debug("memory: session resumed", "session_id", sessionID, "turns", len(snap.Turns))
		s := restore(snap)
		s.enforceWindow(t.config.Window)
		return s
	}

	userID := UserID(sessionID)
	prefs, err := t.prefs.LoadPreferences(ctx, userID)
	if err != nil {
		t.logger.Warn("memory: preference lookup failed", "user_id", userID, "err", err)
	}
	if prefs == nil {
		prefs = make(map[string]string)
	}
	return &session{
		id:        sessionID,
		userID:    userID,
		prefs:     copyMap(prefs),
		startedAt: now,
		lastAt:    now,
	}
}

// Peek returns a snapshot of an existing session without creating one. It
// waits for an in-flight turn to finish.
func (t *Tracker) Peek(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	t.mu.Lock()
	e := t.entries[sessionID]
	t.mu.Unlock()
	if e == nil {
		return Snapshot{}, false, nil
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	}
	defer func() { <-e.lock }()

	if e.sealed || e.sess == nil {
		return Snapshot{}, false, nil
	}
	return e.sess.snapshot(), true, nil
}

// SealIdle seals every session idle for longer than IdleTimeout, archives it
// to the snapshot store and drops it from memory. Sessions busy with a turn
// are skipped. Returns the sealed snapshots.
func (t *Tracker) SealIdle(ctx context.Context) []Snapshot {
	return t.sealIdleAt(ctx, t.now())
}

// SealAll seals and archives every session not busy with a turn, as on
// shutdown.
func (t *Tracker) SealAll(ctx context.Context) []Snapshot {
	return t.sealIdleAt(ctx, t.now().Add(t.config.IdleTimeout+time.Nanosecond))
}

// sealIdleAt is the time-injectable core of SealIdle (for testing).
func (t *Tracker) sealIdleAt(ctx context.Context, now time.Time) []Snapshot {
	var sealed []Snapshot

	t.mu.Lock()
	for id, e := range t.entries {
		select {
		case e.lock <- struct{}{}:
		default:
			continue // mid-turn
		}
		switch {
		case e.sess == nil:
			// Left behind by an Acquire whose context ended.
			e.sealed = true
			delete(t.entries, id)
		case now.Sub(e.sess.lastAt) > t.config.IdleTimeout:
			e.sealed = true
			delete(t.entries, id)
			t.sealing[id] = make(chan struct{})
			sealed = append(sealed, e.sess.snapshot())
		}
		<-e.lock
	}
	t.mu.Unlock()

	for _, snap := range sealed {
		err := t.archive.Save(ctx, snap)

		t.mu.Lock()
		done := t.sealing[snap.SessionID]
		delete(t.sealing, snap.SessionID)
		t.mu.Unlock()
		close(done)

		if err != nil {
			t.logger.Warn("memory: archiving sealed session failed", "session_id", snap.SessionID, "err", err)
			continue
		}
		t.logger.Info("memory: session sealed", "session_id", snap.SessionID, "turns", len(snap.Turns))
	}
	return sealed
}

// Run calls SealIdle every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SealIdle(ctx)
		}
	}
}

// Handle is exclusive access to one session for the duration of a turn.
type Handle struct {
	tracker *Tracker
	entry   *entry
	once    sync.Once
}

// SessionID returns the session's ID.
func (h *Handle) SessionID() string { return h.entry.sess.id }

// UserID returns the user the session belongs to.
func (h *Handle) UserID() string { return h.entry.sess.userID }

// Snapshot returns a copy of the session state.
func (h *Handle) Snapshot() Snapshot { return h.entry.sess.snapshot() }

// Append records a finished turn. It assigns the record's ID, session ID,
// index and timestamp when unset, applies PrefUpdates, and evicts the oldest
// records beyond the window. The stored record is returned.
func (h *Handle) Append(rec TurnRecord) TurnRecord {
	s := h.entry.sess
	now := h.tracker.now()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.At.IsZero() {
		rec.At = now
	}
	rec.SessionID = s.id
	rec.Index = s.nextIndex
	s.nextIndex++

	rec = copyTurn(rec)
	for k, v := range rec.PrefUpdates {
		s.prefs[k] = v
	}
	s.turns = append(s.turns, rec)
	s.lastAt = now
	s.enforceWindow(h.tracker.config.Window)

	return copyTurn(rec)
}

// Release gives the session back. It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() { <-h.entry.lock })
}

// enforceWindow drops the oldest turns beyond limit.
func (s *session) enforceWindow(limit int) {
	if len(s.turns) > limit {
		excess := len(s.turns) - limit
		kept := make([]TurnRecord, limit)
		copy(kept, s.turns[excess:])
		s.turns = kept
	}
}
