// Package nlp scores registry hits into a ranked classification result.
//
// Classification is deterministic: the same token stream against the same
// registry and Config always yields the same Result, which is what lets a
// replayed conversation reproduce its turn records exactly.
package nlp

import (
	"math"
	"sort"

	"github.com/aren-assistant/aren/internal/aren/normalize"
	"github.com/aren-assistant/aren/internal/aren/skills"
)

// Default policy values.
//
//   - Candidates scoring below DefaultMinConfidence are dropped.
//   - Two top candidates closer than DefaultAmbiguityEpsilon, from different
//     families and with different slot sets, are reported as ambiguous.
const (
	DefaultMinConfidence    = 0.5
	DefaultAmbiguityEpsilon = 0.05
	// FollowUpConfidence is the fixed score of a follow-up hit. It sits
	// below any threshold on purpose: a follow-up only means something once
	// the resolver finds the turn it continues.
	FollowUpConfidence = 0.25
)

// Weights split a full-coverage score between a constant base, phrase
// specificity and slot completeness. They should sum to 1.
type Weights struct {
	Base        float64 `mapstructure:"base"`
	Specificity float64 `mapstructure:"specificity"`
	Slots       float64 `mapstructure:"slots"`
}

// DefaultWeights are the tuned defaults.
var DefaultWeights = Weights{Base: 0.55, Specificity: 0.15, Slots: 0.30}

// Sum is the largest factor the weights can contribute.
func (w Weights) Sum() float64 { return w.Base + w.Specificity + w.Slots }

// Config is the classifier policy.
type Config struct {
	MinConfidence    float64 `mapstructure:"min_confidence"`
	AmbiguityEpsilon float64 `mapstructure:"ambiguity_epsilon"`
	Weights          Weights `mapstructure:"weights"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		MinConfidence:    DefaultMinConfidence,
		AmbiguityEpsilon: DefaultAmbiguityEpsilon,
		Weights:          DefaultWeights,
	}
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.AmbiguityEpsilon <= 0 {
		c.AmbiguityEpsilon = DefaultAmbiguityEpsilon
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights
	}
	return c
}

// Candidate is one scored skill for a turn.
type Candidate struct {
	Skill      string
	Family     string
	Priority   int
	Confidence float64
	Slots      map[string]string
	// Missing lists required slots that are absent or placeholders.
	Missing []string
	// Coverage and PhraseLen describe the trigger match and let the
	// resolver rescore the candidate after borrowing slots.
	Coverage  float64
	Weight    float64
	PhraseLen int
}

// Result is the classification of one utterance.
type Result struct {
	Lang normalize.Lang
	// Candidates are above threshold, sorted by confidence then priority.
	Candidates []Candidate
	// FollowUps are skills that only matched through follow-up rules.
	FollowUps []Candidate
	// Cue is set when the utterance carries an ellipsis or pronoun cue
	// ("and ...", "what about ...", "usko").
	Cue bool
	// Rivals holds the top candidates when they are too close to call.
	Rivals []Candidate
	// Tokens is the utterance length, used by the follow-up policy.
	Tokens int
}

// Top returns the best candidate.
func (r Result) Top() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// Empty reports whether nothing was recognised.
func (r Result) Empty() bool { return len(r.Candidates) == 0 }

// Ambiguous reports whether the top candidates could not be separated.
func (r Result) Ambiguous() bool { return len(r.Rivals) > 1 }

// Classifier scores registry hits. It holds no mutable state and is safe
// for concurrent use.
type Classifier struct {
	registry *skills.Registry
	cfg      Config
}

// NewClassifier returns a Classifier over registry. Zero config fields fall
// back to the defaults.
func NewClassifier(registry *skills.Registry, cfg Config) *Classifier {
	return &Classifier{registry: registry, cfg: cfg.withDefaults()}
}

// Config returns the effective policy.
func (c *Classifier) Config() Config { return c.cfg }

// Registry returns the registry the classifier scores against.
func (c *Classifier) Registry() *skills.Registry { return c.registry }

// Classify scores every registry hit for the stream.
//
// Confidence for a trigger hit is
//
//	weight · coverage² · (Base + Specificity·min(1, phraseLen/3) + Slots·slotScore)
//
// where slotScore is 1 when every required slot is filled and
// 0.5·filled/required otherwise, so a full-slot match always scores above a
// partial one. Squaring coverage keeps half-matched phrases below the
// default threshold. Candidates under MinConfidence are dropped; one whose
// skill's follow-up rules still extracted slots is kept as a follow-up.
func (c *Classifier) Classify(s normalize.Stream, lang normalize.Lang) Result {
	res := Result{Lang: lang, Cue: hasCue(s), Tokens: len(s)}

	for _, h := range c.registry.Match(s, lang) {
		cand := Candidate{
			Skill:     h.Skill.ID,
			Family:    h.Skill.Family,
			Priority:  h.Skill.Priority,
			Slots:     h.Slots,
			Missing:   h.Skill.Missing(h.Slots),
			Coverage:  h.Coverage,
			Weight:    h.Trigger.Weight,
			PhraseLen: h.PhraseLen(),
		}
		if h.FollowUp {
			cand.Confidence = FollowUpConfidence
			res.FollowUps = append(res.FollowUps, cand)
			continue
		}
		cand.Confidence = c.Score(cand, len(h.Skill.Required()))
		if cand.Confidence < c.cfg.MinConfidence {
			if len(h.Continuation) > 0 {
				res.FollowUps = append(res.FollowUps, Candidate{
					Skill:      h.Skill.ID,
					Family:     h.Skill.Family,
					Priority:   h.Skill.Priority,
					Confidence: FollowUpConfidence,
					Slots:      h.Continuation,
					Missing:    h.Skill.Missing(h.Continuation),
				})
			}
			continue
		}
		res.Candidates = append(res.Candidates, cand)
	}

	sortCandidates(res.Candidates)
	res.Rivals = c.rivals(res.Candidates)
	return res
}

// Score computes the confidence of cand given how many slots its skill
// requires. The resolver calls it again after borrowing slots.
func (c *Classifier) Score(cand Candidate, required int) float64 {
	w := c.cfg.Weights
	specificity := math.Min(1, float64(cand.PhraseLen)/3)

	slotScore := 1.0
	if required > 0 && len(cand.Missing) > 0 {
		filled := required - len(cand.Missing)
		slotScore = 0.5 * float64(filled) / float64(required)
	}

	score := cand.Weight * cand.Coverage * cand.Coverage *
		(w.Base + w.Specificity*specificity + w.Slots*slotScore)
	score = math.Max(0, math.Min(1, score))
	return round(score)
}

// round trims float noise so equal scores compare equal and replays
// produce identical records.
func round(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Confidence != cs[j].Confidence {
			return cs[i].Confidence > cs[j].Confidence
		}
		return cs[i].Priority < cs[j].Priority
	})
}

// rivals returns the top candidate plus every other candidate within
// epsilon of it whose family and slot set both differ, in registry order so
// the question put to the user does not depend on score noise. A single
// element result means there is no ambiguity.
func (c *Classifier) rivals(cs []Candidate) []Candidate {
	if len(cs) < 2 {
		return nil
	}
	top := cs[0]
	out := []Candidate{top}
	for _, other := range cs[1:] {
		if round(top.Confidence-other.Confidence) > c.cfg.AmbiguityEpsilon {
			break
		}
		if other.Family == top.Family || sameSlotNames(top.Slots, other.Slots) {
			continue
		}
		out = append(out, other)
	}
	if len(out) < 2 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func sameSlotNames(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
