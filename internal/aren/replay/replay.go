// Package replay runs scripted conversations against a dispatcher and
// checks each turn's outcome. Scripts are YAML:
//
//	name: weather follow-up
//	turns:
//	  - say: What's the weather in Mumbai?
//	    expect: {skill: weather, slots: {location: Mumbai}}
//	  - say: and tomorrow?
//	    expect: {skill: weather, slots: {location: Mumbai, day: tomorrow}}
package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"gopkg.in/yaml.v3"

	"github.com/aren-assistant/aren/internal/aren/dispatch"
	"github.com/aren-assistant/aren/internal/aren/memory"
)

// ErrInvalidScript is returned for scripts that cannot be run.
var ErrInvalidScript = errors.New("invalid replay script")

// Script is one scripted conversation.
type Script struct {
	Name string `yaml:"name"`
	// Session is the session ID to run under. Scripts without one get
	// "replay|<name>".
	Session string `yaml:"session"`
	Turns   []Step `yaml:"turns"`
}

// Step is one utterance and what it should produce.
type Step struct {
	Say    string `yaml:"say"`
	Expect Expect `yaml:"expect"`
}

// Expect lists the checks for a turn. Empty fields are not checked; Slots
// must match exactly when given.
type Expect struct {
	Skill         string            `yaml:"skill"`
	Outcome       memory.Outcome    `yaml:"outcome"`
	Lang          string            `yaml:"lang"`
	Slots         map[string]string `yaml:"slots"`
	Reply         string            `yaml:"reply"`
	ReplyContains string            `yaml:"reply_contains"`
}

// Load parses a script.
func Load(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if s.Name == "" {
		return Script{}, fmt.Errorf("%w: name is required", ErrInvalidScript)
	}
	if len(s.Turns) == 0 {
		return Script{}, fmt.Errorf("%w: %s has no turns", ErrInvalidScript, s.Name)
	}
	if s.Session == "" {
		s.Session = memory.SessionKey("replay", s.Name)
	}
	return s, nil
}

// Runner runs one turn. *dispatch.Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, sessionID, text string) (dispatch.Turn, error)
}

// TurnResult is the outcome of one step.
type TurnResult struct {
	Say      string
	Record   memory.TurnRecord
	Failures []string
}

// Result is the outcome of one script.
type Result struct {
	Name  string
	Turns []TurnResult
	// Err is set when a turn could not run at all.
	Err error
}

// Passed reports whether every check held.
func (r Result) Passed() bool {
	if r.Err != nil {
		return false
	}
	for _, t := range r.Turns {
		if len(t.Failures) > 0 {
			return false
		}
	}
	return true
}

// Run plays s turn by turn. It stops at the first turn that fails to run;
// failed checks do not stop it.
func Run(ctx context.Context, runner Runner, s Script) Result {
	res := Result{Name: s.Name}
	for _, step := range s.Turns {
		turn, err := runner.Run(ctx, s.Session, step.Say)
		if err != nil {
			res.Err = fmt.Errorf("turn %q: %w", step.Say, err)
			return res
		}
		res.Turns = append(res.Turns, TurnResult{
			Say:      step.Say,
			Record:   turn.Record,
			Failures: check(step.Expect, turn.Record),
		})
	}
	return res
}

// RunAll plays scripts concurrently, at most parallel at a time, and returns
// the results in script order. Scripts must use distinct sessions.
func RunAll(ctx context.Context, runner Runner, scripts []Script, parallel int) []Result {
	if parallel <= 0 {
		parallel = 1
	}
	type indexed struct {
		i   int
		res Result
	}
	p := pool.NewWithResults[indexed]().WithMaxGoroutines(parallel)
	for i, s := range scripts {
		p.Go(func() indexed {
			return indexed{i: i, res: Run(ctx, runner, s)}
		})
	}
	got := p.Wait()
	sort.Slice(got, func(a, b int) bool { return got[a].i < got[b].i })

	out := make([]Result, len(got))
	for i, r := range got {
		out[i] = r.res
	}
	return out
}

func check(want Expect, rec memory.TurnRecord) []string {
	var fails []string
	if want.Skill != "" && rec.Skill != want.Skill {
		fails = append(fails, fmt.Sprintf("skill: got %s, want %s", rec.Skill, want.Skill))
	}
	if want.Outcome != "" && rec.Outcome != want.Outcome {
		fails = append(fails, fmt.Sprintf("outcome: got %s, want %s", rec.Outcome, want.Outcome))
	}
	if want.Lang != "" && string(rec.Lang) != want.Lang {
		fails = append(fails, fmt.Sprintf("lang: got %s, want %s", rec.Lang, want.Lang))
	}
	if want.Slots != nil && !sameSlots(want.Slots, rec.Slots) {
		fails = append(fails, fmt.Sprintf("slots: got %v, want %v", rec.Slots, want.Slots))
	}
	if want.Reply != "" && rec.Reply != want.Reply {
		fails = append(fails, fmt.Sprintf("reply: got %q, want %q", rec.Reply, want.Reply))
	}
	if want.ReplyContains != "" && !strings.Contains(rec.Reply, want.ReplyContains) {
		fails = append(fails, fmt.Sprintf("reply: %q does not contain %q", rec.Reply, want.ReplyContains))
	}
	return fails
}

func sameSlots(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
