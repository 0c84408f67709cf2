package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/aren-assistant/aren/common/retry"
	"github.com/aren-assistant/aren/internal/aren/builtin"
	"github.com/aren-assistant/aren/internal/aren/memory"
	"github.com/aren-assistant/aren/internal/aren/nlp"
	"github.com/aren-assistant/aren/internal/aren/render"
	"github.com/aren-assistant/aren/internal/aren/skills"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, time.October, 15, 9, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return epoch }

type nopLauncher struct{}

func (nopLauncher) Launch(context.Context, builtin.App) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	d       *Dispatcher
	tracker *memory.Tracker
}

type harnessOpts struct {
	registry *skills.Registry
	invoker  skills.Invoker
	window   int
	cfg      Config
	opts     []Option
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	reg := o.registry
	if reg == nil {
		var err error
		if reg, err = skills.Default(); err != nil {
			t.Fatalf("skills.Default: %v", err)
		}
	}
	tmpl, err := render.Default()
	if err != nil {
		t.Fatalf("render.Default: %v", err)
	}
	inv := o.invoker
	if inv == nil {
		inv = builtin.New(builtin.Config{}, builtin.WithClock(fixedNow), builtin.WithLauncher(nopLauncher{}), builtin.WithLogger(discardLogger()))
	}
	window := o.window
	if window == 0 {
		window = 10
	}
	tracker := memory.NewTracker(
		memory.TrackerConfig{Window: window, IdleTimeout: time.Hour},
		memory.WithClock(fixedNow),
		memory.WithLogger(discardLogger()),
	)
	opts := append([]Option{WithLogger(discardLogger())}, o.opts...)
	d := New(o.cfg, nlp.NewClassifier(reg, nlp.Config{}), tracker, inv, tmpl.WithLogger(discardLogger()), opts...)
	return &harness{d: d, tracker: tracker}
}

func (h *harness) run(t *testing.T, session, text string) Turn {
	t.Helper()
	turn, err := h.d.Run(context.Background(), session, text)
	if err != nil {
		t.Fatalf("Run(%q): %v", text, err)
	}
	return turn
}

func (h *harness) snapshot(t *testing.T, session string) memory.Snapshot {
	t.Helper()
	snap, ok, err := h.tracker.Peek(context.Background(), session)
	if err != nil || !ok {
		t.Fatalf("Peek(%s) = %v, %v", session, ok, err)
	}
	return snap
}

// ---------------------------------------------------------------------------
// Outcomes
// ---------------------------------------------------------------------------

func TestRun_SpacedSubtraction(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	for _, text := range []string{"what is 10 - 4", "calculate 10 - 4"} {
		rec := h.run(t, "cli|asha", text).Record
		if rec.Skill != "calculator" || rec.Outcome != memory.OutcomeOK {
			t.Fatalf("%q: record = %+v, want calculator ok", text, rec)
		}
		if rec.Reply != "The answer is 6." {
			t.Errorf("%q: reply = %q", text, rec.Reply)
		}
	}
}

func TestRun_PercentageInHinglish(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	turn := h.run(t, "cli|asha", "15% of 850 kitna hota hai")

	rec := turn.Record
	if rec.Skill != "calculator" || rec.Outcome != memory.OutcomeOK {
		t.Fatalf("record = %+v, want calculator ok", rec)
	}
	if rec.Reply != "Jawab hai 127.5." {
		t.Fatalf("reply = %q", rec.Reply)
	}
	if turn.Err != nil {
		t.Fatalf("Err = %v", turn.Err)
	}
}

func TestRun_OpenApplication(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	rec := h.run(t, "cli|asha", "kholo chrome").Record

	if rec.Skill != "automation" || rec.Slots["application"] != "chrome" {
		t.Fatalf("record = %+v, want automation/chrome", rec)
	}
	if rec.Reply != "Chrome khol raha hoon." {
		t.Fatalf("reply = %q", rec.Reply)
	}
}

func TestRun_WeatherFollowUp(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	first := h.run(t, "cli|asha", "What's the weather in Mumbai?").Record
	if first.Skill != "weather" || first.Slots["location"] != "Mumbai" {
		t.Fatalf("first = %+v", first)
	}

	second := h.run(t, "cli|asha", "and tomorrow?").Record
	want := map[string]string{"location": "Mumbai", "day": skills.DayTomorrow}
	if second.Skill != "weather" || second.Outcome != memory.OutcomeOK {
		t.Fatalf("second = %+v, want weather ok", second)
	}
	if diff := cmp.Diff(want, second.Slots); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(second.Reply, "Mumbai tomorrow:") {
		t.Fatalf("reply = %q", second.Reply)
	}
}

func TestRun_AmbiguityThenChoice(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	turn := h.run(t, "cli|asha", "time and weather in Delhi")

	rec := turn.Record
	if rec.Outcome != memory.OutcomeAmbiguous || rec.Kind != memory.KindAmbiguous {
		t.Fatalf("record = %+v, want ambiguous", rec)
	}
	if !errors.Is(turn.Err, ErrAmbiguous) {
		t.Fatalf("Err = %v, want ErrAmbiguous", turn.Err)
	}
	if rec.Reply != "Did you mean the time or the weather?" {
		t.Fatalf("reply = %q", rec.Reply)
	}
	if len(rec.Alternatives) != 2 {
		t.Fatalf("alternatives = %+v", rec.Alternatives)
	}

	choice := h.run(t, "cli|asha", "weather").Record
	if choice.Skill != "weather" || choice.Slots["location"] != "Delhi" {
		t.Fatalf("choice = %+v, want weather in Delhi", choice)
	}
}

func TestRun_ClarifyThenAnswer(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ask := h.run(t, "cli|asha", "weather")

	if ask.Record.Outcome != memory.OutcomeUnresolved || ask.Record.Kind != memory.KindContextMiss {
		t.Fatalf("record = %+v, want unresolved context miss", ask.Record)
	}
	if !errors.Is(ask.Err, ErrContextMiss) {
		t.Fatalf("Err = %v", ask.Err)
	}
	if ask.Record.Reply != "Which city should I check?" {
		t.Fatalf("reply = %q", ask.Record.Reply)
	}

	answer := h.run(t, "cli|asha", "in Pune").Record
	if answer.Outcome != memory.OutcomeOK || answer.Slots["location"] != "Pune" {
		t.Fatalf("answer = %+v, want weather in Pune", answer)
	}
}

func TestRun_NoIntent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	turn := h.run(t, "cli|asha", "blorp fizzle wumpus")

	if turn.Record.Outcome != memory.OutcomeUnresolved || turn.Record.Skill != memory.NoSkill {
		t.Fatalf("record = %+v", turn.Record)
	}
	if !errors.Is(turn.Err, ErrNoIntent) {
		t.Fatalf("Err = %v", turn.Err)
	}
	wantPath := []State{StateReceived, StateNormalized, StateClassified, StateResolved, StateClarifying, StateRecorded}
	if diff := cmp.Diff(wantPath, turn.Path); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Rejections(t *testing.T) {
	h := newHarness(t, harnessOpts{cfg: Config{MaxInputLength: 20}})
	tests := []struct {
		text  string
		reply string
	}{
		{"", "I didn't catch that. Could you say it again?"},
		{"   ", "I didn't catch that. Could you say it again?"},
		{"?!", "I didn't catch that. Could you say it again?"},
		{strings.Repeat("a", 21), "That's too long for me. Please keep it under 20 characters."},
	}
	for _, tt := range tests {
		turn := h.run(t, "cli|asha", tt.text)
		if turn.Record.Outcome != memory.OutcomeRejected || !errors.Is(turn.Err, ErrInputRejected) {
			t.Errorf("%q: record = %+v, err = %v", tt.text, turn.Record, turn.Err)
		}
		if turn.Record.Reply != tt.reply {
			t.Errorf("%q: reply = %q", tt.text, turn.Record.Reply)
		}
		wantPath := []State{StateReceived, StateRejected, StateRecorded}
		if diff := cmp.Diff(wantPath, turn.Path); diff != "" {
			t.Errorf("%q: path mismatch (-want +got):\n%s", tt.text, diff)
		}
	}
	if got := h.snapshot(t, "cli|asha").NextIndex; got != len(tests) {
		t.Fatalf("NextIndex = %d, want every rejection recorded", got)
	}
}

func TestRun_SchemaViolationFailsClosed(t *testing.T) {
	reg, err := skills.Parse([]byte(`
version: 1
skills:
  - id: count
    extract: [after_trigger]
    slots: [{name: query, type: number, required: true}]
    triggers: [{phrase: "count to", lang: en}]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	called := false
	inv := skills.InvokerFunc(func(context.Context, skills.Request) (*skills.Result, error) {
		called = true
		return &skills.Result{}, nil
	})
	h := newHarness(t, harnessOpts{registry: reg, invoker: inv})

	turn := h.run(t, "cli|asha", "count to ten")
	if called {
		t.Fatal("skill invoked with slots that fail the schema")
	}
	if turn.Record.Outcome != memory.OutcomeUnresolved || !errors.Is(turn.Err, ErrNoIntent) {
		t.Fatalf("record = %+v, err = %v", turn.Record, turn.Err)
	}
	wantPath := []State{StateReceived, StateNormalized, StateClassified, StateResolved, StateClarifying, StateRecorded}
	if diff := cmp.Diff(wantPath, turn.Path); diff != "" {
		t.Fatalf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Preferences(t *testing.T) {
	store := &fakeStore{}
	h := newHarness(t, harnessOpts{opts: []Option{WithPreferenceStore(store), WithHistorySink(store)}})

	rec := h.run(t, "matrix|!room|@asha:example.org", "my name is Dev").Record
	if rec.Skill != "remember" || rec.PrefUpdates[skills.PrefName] != "Dev" {
		t.Fatalf("record = %+v", rec)
	}

	rec = h.run(t, "matrix|!room|@asha:example.org", "what is my name").Record
	if rec.Reply != "Your name is Dev." {
		t.Fatalf("reply = %q", rec.Reply)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if got := store.prefs["@asha:example.org"][skills.PrefName]; got != "Dev" {
		t.Fatalf("saved prefs = %+v", store.prefs)
	}
	if len(store.history) != 2 {
		t.Fatalf("history = %d records, want 2", len(store.history))
	}
}

// ---------------------------------------------------------------------------
// Skill failures
// ---------------------------------------------------------------------------

// wrapInvoker overrides single skills of the builtin set.
func wrapInvoker(overrides map[string]skills.InvokerFunc) skills.Invoker {
	base := builtin.New(builtin.Config{}, builtin.WithClock(fixedNow), builtin.WithLauncher(nopLauncher{}), builtin.WithLogger(discardLogger()))
	for id, fn := range overrides {
		base.Register(id, fn)
	}
	return base
}

func TestRun_SkillTimeoutIsIsolated(t *testing.T) {
	inv := wrapInvoker(map[string]skills.InvokerFunc{
		"weather": func(ctx context.Context, _ skills.Request) (*skills.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	h := newHarness(t, harnessOpts{invoker: inv, cfg: Config{SkillTimeout: 50 * time.Millisecond}})

	turn := h.run(t, "cli|asha", "weather in Mumbai")
	if turn.Record.Outcome != memory.OutcomeSkillError || turn.Record.Kind != memory.KindSkillError {
		t.Fatalf("record = %+v, want skill_error", turn.Record)
	}
	var serr *SkillError
	if !errors.As(turn.Err, &serr) || !serr.Timeout() || serr.Skill != "weather" {
		t.Fatalf("Err = %v, want weather timeout", turn.Err)
	}
	if turn.Record.Reply != "Sorry, the weather is taking too long. Please try again." {
		t.Fatalf("reply = %q", turn.Record.Reply)
	}

	next := h.run(t, "cli|asha", "what time is it").Record
	if next.Outcome != memory.OutcomeOK || next.Reply != "It's 9:30 AM." {
		t.Fatalf("next = %+v, want the session to keep working", next)
	}
}

func TestRun_SkillErrorAndPanic(t *testing.T) {
	boom := errors.New("upstream unavailable")
	inv := wrapInvoker(map[string]skills.InvokerFunc{
		"search": func(context.Context, skills.Request) (*skills.Result, error) { return nil, boom },
		"joke":   func(context.Context, skills.Request) (*skills.Result, error) { panic("no jokes today") },
	})
	h := newHarness(t, harnessOpts{invoker: inv})

	turn := h.run(t, "cli|asha", "search for rob pike")
	if turn.Record.Outcome != memory.OutcomeSkillError || !errors.Is(turn.Err, boom) {
		t.Fatalf("record = %+v, err = %v", turn.Record, turn.Err)
	}

	turn = h.run(t, "cli|asha", "tell me a joke")
	if turn.Record.Outcome != memory.OutcomeSkillError {
		t.Fatalf("record = %+v, want skill_error after panic", turn.Record)
	}

	if next := h.run(t, "cli|asha", "hello").Record; next.Outcome != memory.OutcomeOK {
		t.Fatalf("next = %+v", next)
	}
}

// ---------------------------------------------------------------------------
// Session behaviour
// ---------------------------------------------------------------------------

func TestRun_HistoryBound(t *testing.T) {
	h := newHarness(t, harnessOpts{window: 3})
	for i := 0; i < 10; i++ {
		h.run(t, "cli|asha", fmt.Sprintf("%d + %d", i, i))
	}
	snap := h.snapshot(t, "cli|asha")
	if len(snap.Turns) != 3 {
		t.Fatalf("len(Turns) = %d, want 3", len(snap.Turns))
	}
	var idx []int
	for _, rec := range snap.Turns {
		idx = append(idx, rec.Index)
	}
	if diff := cmp.Diff([]int{7, 8, 9}, idx); diff != "" {
		t.Fatalf("indices mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_TransitionHook(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []State
	)
	hook := func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr.To)
	}
	h := newHarness(t, harnessOpts{opts: []Option{WithTransitionHook(hook)}})
	h.run(t, "cli|asha", "what time is it")

	want := []State{StateNormalized, StateClassified, StateResolved, StateDispatched, StateRecorded}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleTurn_ContextEndsWhileSessionBusy(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	busy, err := h.tracker.Acquire(context.Background(), "cli|asha")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer busy.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.d.HandleTurn(ctx, "cli|asha", "hello"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("HandleTurn err = %v, want DeadlineExceeded", err)
	}
}

func TestRun_SessionsRunConcurrently(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	script := []string{"hello", "weather in Pune", "and tomorrow?", "15% of 850", "bye"}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		session := fmt.Sprintf("cli|user%d", i)
		g.Go(func() error {
			for _, text := range script {
				if _, err := h.d.HandleTurn(context.Background(), session, text); err != nil {
					return err
				}
			}
			return nil
		})
	}
	// Same-session turns from many goroutines are serialised.
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := h.d.HandleTurn(context.Background(), "cli|shared", "what time is it")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	for i := 0; i < 8; i++ {
		snap := h.snapshot(t, fmt.Sprintf("cli|user%d", i))
		if len(snap.Turns) != len(script) {
			t.Fatalf("user%d: %d turns", i, len(snap.Turns))
		}
		if got := snap.Turns[2]; got.Slots["location"] != "Pune" || got.Slots["day"] != skills.DayTomorrow {
			t.Fatalf("user%d: follow-up = %+v", i, got)
		}
	}
	shared := h.snapshot(t, "cli|shared")
	for i, rec := range shared.Turns {
		if rec.Index != i {
			t.Fatalf("shared turn %d has index %d", i, rec.Index)
		}
	}
	if shared.NextIndex != 10 {
		t.Fatalf("shared NextIndex = %d, want 10", shared.NextIndex)
	}
}

func TestRun_ReplayIsDeterministic(t *testing.T) {
	script := []string{
		"namaste",
		"What's the weather in Mumbai?",
		"and tomorrow?",
		"time and weather in Delhi",
		"weather",
		"15% of 850 kitna hota hai",
		"translate thank you to hindi",
		"kholo chrome",
		"mera naam Asha hai",
		"tell me a joke",
		"blorp",
		"",
	}
	replay := func() []memory.TurnRecord {
		h := newHarness(t, harnessOpts{})
		var out []memory.TurnRecord
		for _, text := range script {
			out = append(out, h.run(t, "replay|asha", text).Record)
		}
		return out
	}

	first, second := replay(), replay()
	opts := cmpopts.IgnoreFields(memory.TurnRecord{}, "ID")
	if diff := cmp.Diff(first, second, opts); diff != "" {
		t.Fatalf("replay differs (-first +second):\n%s", diff)
	}
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu      sync.Mutex
	failN     int
	permanent bool
	calls     int
	history []memory.TurnRecord
	prefs   map[string]map[string]string
}

func (f *fakeStore) AppendHistory(_ context.Context, _ string, rec memory.TurnRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		if f.permanent {
			return retry.Permanent(errors.New("constraint failed"))
		}
		return errors.New("database is locked")
	}
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeStore) LoadPreferences(context.Context, string) (map[string]string, error) {
	return nil, nil
}

func (f *fakeStore) SavePreferences(_ context.Context, userID string, prefs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefs == nil {
		f.prefs = make(map[string]map[string]string)
	}
	if f.prefs[userID] == nil {
		f.prefs[userID] = make(map[string]string)
	}
	for k, v := range prefs {
		f.prefs[userID][k] = v
	}
	return nil
}

func TestRun_HistoryWritesAreRetried(t *testing.T) {
	store := &fakeStore{failN: 2}
	h := newHarness(t, harnessOpts{opts: []Option{
		WithHistorySink(store),
		WithRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	}})

	h.run(t, "cli|asha", "hello")

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 3 || len(store.history) != 1 {
		t.Fatalf("calls = %d, stored = %d; want 3 attempts and one record", store.calls, len(store.history))
	}
}

func TestRun_PermanentHistoryErrorIsNotRetried(t *testing.T) {
	store := &fakeStore{failN: 100, permanent: true}
	h := newHarness(t, harnessOpts{opts: []Option{
		WithHistorySink(store),
		WithRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	}})

	h.run(t, "cli|asha", "hello")

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 1 || len(store.history) != 0 {
		t.Fatalf("calls = %d, stored = %d; want a single attempt", store.calls, len(store.history))
	}
}

func TestRun_HistoryFailureDoesNotFailTurn(t *testing.T) {
	store := &fakeStore{failN: 100}
	h := newHarness(t, harnessOpts{opts: []Option{
		WithHistorySink(store),
		WithRetry(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	}})

	turn := h.run(t, "cli|asha", "hello")
	if turn.Record.Outcome != memory.OutcomeOK {
		t.Fatalf("record = %+v", turn.Record)
	}
	if got := h.snapshot(t, "cli|asha").NextIndex; got != 1 {
		t.Fatalf("NextIndex = %d, want the turn recorded in the session", got)
	}
}
