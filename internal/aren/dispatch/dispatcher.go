// Package dispatch runs one utterance through the turn state machine:
// normalise, classify, resolve against session context, invoke a skill or
// ask for clarification, and record the turn.
//
// A session's turns are serialised by the tracker's per-session lock, held
// for the whole run. Turns of different sessions run in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aren-assistant/aren/common/retry"
	"github.com/aren-assistant/aren/common/trace"
	"github.com/aren-assistant/aren/internal/aren/memory"
	"github.com/aren-assistant/aren/internal/aren/nlp"
	"github.com/aren-assistant/aren/internal/aren/normalize"
	"github.com/aren-assistant/aren/internal/aren/render"
	"github.com/aren-assistant/aren/internal/aren/resolver"
	"github.com/aren-assistant/aren/internal/aren/skills"
)

const (
	// DefaultSkillTimeout bounds a single skill invocation.
	DefaultSkillTimeout = 5 * time.Second
	// DefaultMaxInputLength is the longest accepted utterance, in runes.
	DefaultMaxInputLength = 1000
	// persistTimeout bounds history and preference writes after a turn.
	persistTimeout = 10 * time.Second
)

// Config holds dispatcher limits.
type Config struct {
	SkillTimeout   time.Duration
	MaxInputLength int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{SkillTimeout: DefaultSkillTimeout, MaxInputLength: DefaultMaxInputLength}
}

func (c Config) withDefaults() Config {
	if c.SkillTimeout <= 0 {
		c.SkillTimeout = DefaultSkillTimeout
	}
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = DefaultMaxInputLength
	}
	return c
}

// Renderer produces reply text. render.Templates implements it.
type Renderer interface {
	Render(lang normalize.Lang, o render.Outcome) string
}

// Dispatcher owns no session state itself; everything per session lives in
// the tracker.
type Dispatcher struct {
	cfg        Config
	classifier *nlp.Classifier
	resolver   *resolver.Resolver
	tracker    *memory.Tracker
	invoker    skills.Invoker
	renderer   Renderer

	history memory.HistorySink
	prefs   memory.PreferenceStore
	retry   retry.Config
	hook    func(Transition)
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHistorySink sends every recorded turn to sink.
func WithHistorySink(sink memory.HistorySink) Option {
	return func(d *Dispatcher) { d.history = sink }
}

// WithPreferenceStore persists preference changes made by skills.
func WithPreferenceStore(store memory.PreferenceStore) Option {
	return func(d *Dispatcher) { d.prefs = store }
}

// WithRetry sets the backoff used for persistence writes.
func WithRetry(cfg retry.Config) Option {
	return func(d *Dispatcher) { d.retry = cfg }
}

// WithTransitionHook observes every state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(d *Dispatcher) { d.hook = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New returns a Dispatcher.
func New(cfg Config, classifier *nlp.Classifier, tracker *memory.Tracker, invoker skills.Invoker, renderer Renderer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		resolver:   resolver.New(classifier),
		tracker:    tracker,
		invoker:    invoker,
		renderer:   renderer,
		history:    memory.Noop{},
		prefs:      memory.Noop{},
		retry:      retry.DefaultConfig,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the effective limits.
func (d *Dispatcher) Config() Config { return d.cfg }

// Turn is the result of one run.
type Turn struct {
	Record memory.TurnRecord
	// Err is the turn's error kind, nil on success.
	Err error
	// Path lists the states visited, starting at Received.
	Path []State
}

// HandleTurn runs text as the next turn of sessionID and returns the reply.
// It fails only when ctx ends before the session becomes available.
func (d *Dispatcher) HandleTurn(ctx context.Context, sessionID, text string) (string, error) {
	t, err := d.Run(ctx, sessionID, text)
	if err != nil {
		return "", err
	}
	return t.Record.Reply, nil
}

// Run is HandleTurn returning the full turn.
func (d *Dispatcher) Run(ctx context.Context, sessionID, text string) (Turn, error) {
	ctx, turnID := trace.Ensure(ctx)

	h, err := d.tracker.Acquire(ctx, sessionID)
	if err != nil {
		return Turn{}, fmt.Errorf("acquire session %s: %w", sessionID, err)
	}
	defer h.Release()

	t := &turnState{
		id:    turnID,
		raw:   text,
		snap:  h.Snapshot(),
		state: StateReceived,
		lang:  normalize.English,
	}
	path := []State{StateReceived}
	for !t.state.Terminal() {
		next := d.step(ctx, t)
		if !t.state.CanTransition(next) {
			return Turn{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.state, next)
		}
		if d.hook != nil {
			d.hook(Transition{TurnID: turnID, From: t.state, To: next})
		}
		t.state = next
		path = append(path, next)
	}

	rec := h.Append(t.record())
	d.logger.Info("dispatch: turn recorded",
		trace.Attr(ctx),
		"session", sessionID,
		"index", rec.Index,
		"lang", rec.Lang,
		"skill", rec.Skill,
		"outcome", rec.Outcome,
		"confidence", rec.Confidence,
	)
	d.persist(ctx, h.UserID(), rec)

	return Turn{Record: rec, Err: t.err, Path: path}, nil
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

// turnState is the working data of one run.
type turnState struct {
	id     string
	raw    string
	snap   memory.Snapshot
	state  State
	stream normalize.Stream
	lang   normalize.Lang
	result nlp.Result
	res    resolver.Resolution
	// resErr is why the resolver produced nothing usable.
	resErr error
	out    render.Outcome
	err    error
	prefs  map[string]string
	reply  string
}

// step performs the work of the current state and names the next one.
func (d *Dispatcher) step(ctx context.Context, t *turnState) State {
	switch t.state {
	case StateReceived:
		return d.receive(t)

	case StateNormalized:
		t.result = d.classifier.Classify(t.stream, t.lang)
		return StateClassified

	case StateClassified:
		t.res, t.resErr = d.resolver.Resolve(t.result, t.snap)
		return StateResolved

	case StateResolved:
		if t.resErr != nil {
			d.clarify(t, t.resErr)
			return StateClarifying
		}
		desc, ok := d.classifier.Registry().Get(t.res.Skill)
		if !ok {
			d.clarify(t, fmt.Errorf("%w: unknown skill %q", ErrNoIntent, t.res.Skill))
			return StateClarifying
		}
		if err := desc.Validate(t.res.Slots); err != nil {
			d.logger.Warn("dispatch: slots fail schema", trace.Attr(ctx), "skill", t.res.Skill, "err", err)
			var serr *skills.SchemaError
			if errors.As(err, &serr) && len(serr.Missing) > 0 {
				d.clarify(t, &resolver.MissError{Skill: t.res.Skill, Slots: t.res.Slots, Missing: serr.Missing})
			} else {
				d.clarify(t, fmt.Errorf("%w: %v", ErrNoIntent, err))
			}
			return StateClarifying
		}
		d.dispatch(ctx, t)
		return StateDispatched

	case StateDispatched, StateClarifying, StateRejected:
		t.out.Prefs = copyMap(t.snap.Prefs)
		for k, v := range t.prefs {
			t.out.Prefs[k] = v
		}
		t.reply = d.renderer.Render(t.lang, t.out)
		return StateRecorded
	}
	return StateRecorded
}

func (d *Dispatcher) receive(t *turnState) State {
	trimmed := strings.TrimSpace(t.raw)
	if n := utf8.RuneCountInString(trimmed); n > d.cfg.MaxInputLength {
		t.reject(render.ReasonTooLong, d.cfg.MaxInputLength, fmt.Errorf("%w: %d runes exceeds %d", ErrInputRejected, n, d.cfg.MaxInputLength))
		return StateRejected
	}
	t.stream, t.lang = normalize.Normalize(trimmed)
	if len(t.stream) == 0 {
		t.reject(render.ReasonEmpty, 0, fmt.Errorf("%w: no words", ErrInputRejected))
		return StateRejected
	}
	return StateNormalized
}

func (t *turnState) reject(reason string, limit int, err error) {
	t.err = err
	t.out = render.Outcome{
		Status: memory.OutcomeRejected,
		Kind:   memory.KindInputRejected,
		Skill:  memory.NoSkill,
		Reason: reason,
		Limit:  limit,
	}
}

// clarify turns a resolver error into an unresolved or ambiguous outcome.
func (d *Dispatcher) clarify(t *turnState, err error) {
	t.err = err
	t.out = render.Outcome{Status: memory.OutcomeUnresolved, Kind: memory.KindNoIntent, Skill: memory.NoSkill}

	var (
		amb  *resolver.AmbiguityError
		miss *resolver.MissError
	)
	switch {
	case errors.As(err, &amb):
		t.out.Status = memory.OutcomeAmbiguous
		t.out.Kind = memory.KindAmbiguous
		t.out.Options = amb.Options
	case errors.As(err, &miss):
		t.out.Kind = memory.KindContextMiss
		if len(miss.Missing) > 0 {
			t.out.Skill = miss.Skill
			t.out.Slots = miss.Slots
			t.out.Missing = miss.Missing
		}
	}
}

// dispatch invokes the resolved skill under the skill timeout.
func (d *Dispatcher) dispatch(ctx context.Context, t *turnState) {
	t.out = render.Outcome{
		Status: memory.OutcomeOK,
		Skill:  t.res.Skill,
		Slots:  t.res.Slots,
	}

	req := skills.Request{
		Skill: t.res.Skill,
		Slots: copyMap(t.res.Slots),
		Lang:  t.lang,
		Turn:  t.snap.NextIndex,
		Prefs: copyMap(t.snap.Prefs),
	}
	started := time.Now()
	res, err := d.invoke(ctx, req)
	if err != nil {
		serr := &SkillError{Skill: t.res.Skill, Err: err}
		t.err = serr
		t.out.Status = memory.OutcomeSkillError
		t.out.Kind = memory.KindSkillError
		t.out.Timeout = serr.Timeout()
		d.logger.Warn("dispatch: skill failed",
			trace.Attr(ctx),
			"skill", t.res.Skill,
			"timeout", serr.Timeout(),
			"elapsed", time.Since(started),
			"err", err,
		)
		return
	}
	if res != nil {
		t.out.Fields = res.Fields
		t.prefs = res.Prefs
	}
}

// invoke runs the skill in its own goroutine so a skill that ignores its
// context cannot hold the turn past the timeout. A panicking skill is
// reported as an error.
func (d *Dispatcher) invoke(ctx context.Context, req skills.Request) (*skills.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SkillTimeout)
	defer cancel()

	type reply struct {
		res *skills.Result
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := d.invoker.Invoke(ctx, req)
		ch <- reply{res: res, err: err}
	}()

	select {
	case r := <-ch:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// record builds the turn record once the run is terminal.
func (t *turnState) record() memory.TurnRecord {
	rec := memory.TurnRecord{
		ID:           t.id,
		Utterance:    t.raw,
		Reply:        t.reply,
		Lang:         t.lang,
		Skill:        t.out.Skill,
		Slots:        t.out.Slots,
		Outcome:      t.out.Status,
		Kind:         t.out.Kind,
		Alternatives: t.out.Options,
		PrefUpdates:  t.prefs,
	}
	if rec.Skill == "" {
		rec.Skill = memory.NoSkill
	}
	switch rec.Outcome {
	case memory.OutcomeOK, memory.OutcomeSkillError:
		rec.Confidence = t.res.Confidence
	default:
		if top, ok := t.result.Top(); ok {
			rec.Confidence = top.Confidence
		}
	}
	return rec
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// persist writes the turn and any preference changes. Failures are logged;
// the turn itself is already recorded in the session.
func (d *Dispatcher) persist(ctx context.Context, userID string, rec memory.TurnRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	cfg := d.retry
	cfg.Label = "history"
	if err := retry.Do(ctx, cfg, func() error {
		return d.history.AppendHistory(ctx, rec.SessionID, rec)
	}); err != nil {
		d.logger.Error("dispatch: history write failed", trace.Attr(ctx), "session", rec.SessionID, "err", err)
	}

	if len(rec.PrefUpdates) == 0 {
		return
	}
	cfg.Label = "preferences"
	if err := retry.Do(ctx, cfg, func() error {
		return d.prefs.SavePreferences(ctx, userID, rec.PrefUpdates)
	}); err != nil {
		d.logger.Error("dispatch: preference write failed", trace.Attr(ctx), "user", userID, "err", err)
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
