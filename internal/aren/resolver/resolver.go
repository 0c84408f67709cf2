// Package resolver completes a classification with context from earlier
// turns: it borrows slots the utterance left out ("and tomorrow?"), replaces
// pronoun placeholders ("translate that"), falls back to stored preferences,
// and decides when there is nothing usable to act on.
//
// Resolve is a pure function of its inputs. It reads a session snapshot and
// never changes the session.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aren-assistant/aren/internal/aren/memory"
	"github.com/aren-assistant/aren/internal/aren/nlp"
	"github.com/aren-assistant/aren/internal/aren/skills"
)

var (
	// ErrNoIntent means nothing cleared the confidence threshold.
	ErrNoIntent = errors.New("no intent recognised")
	// ErrAmbiguous means two candidates from different families scored too
	// close to pick one.
	ErrAmbiguous = errors.New("ambiguous intent")
	// ErrContextMiss means the turn needed an earlier turn that does not
	// exist. It degrades to no intent.
	ErrContextMiss = errors.New("no earlier turn to resolve against")
)

// AmbiguityError carries the options to offer the user.
type AmbiguityError struct {
	Options []memory.Alternative
}

func (e *AmbiguityError) Error() string {
	names := make([]string, len(e.Options))
	for i, o := range e.Options {
		names[i] = o.Skill
	}
	return fmt.Sprintf("%v: %s", ErrAmbiguous, strings.Join(names, " or "))
}

func (e *AmbiguityError) Unwrap() error { return ErrAmbiguous }

// MissError names the skill and the slots that could not be filled.
type MissError struct {
	Skill   string
	Slots   map[string]string
	Missing []string
}

func (e *MissError) Error() string {
	return fmt.Sprintf("%v: %s needs %s", ErrContextMiss, e.Skill, strings.Join(e.Missing, ","))
}

func (e *MissError) Unwrap() error { return ErrContextMiss }

// Resolution is the skill to invoke and its complete slots.
type Resolution struct {
	Skill      string
	Family     string
	Slots      map[string]string
	Confidence float64
	// Borrowed lists the slots filled from history or preferences.
	Borrowed []string
	// FromTurn is the index of the turn slots were borrowed from, or -1.
	FromTurn int
	// FollowUp is set when the utterance only continued an earlier turn.
	FollowUp bool
}

// followUpMaxTokens is the longest utterance read as a bare follow-up
// ("tomorrow?", "in spanish") without an explicit cue word.
const followUpMaxTokens = 3

// prefFallback maps slot types to the preference that can fill them.
var prefFallback = map[skills.SlotType]string{
	skills.TypeLocation: skills.PrefCity,
	skills.TypeLanguage: skills.PrefLanguage,
}

// Resolver resolves classifications against session context.
type Resolver struct {
	classifier *nlp.Classifier
	registry   *skills.Registry
}

// New returns a Resolver that rescores with c.
func New(c *nlp.Classifier) *Resolver {
	return &Resolver{classifier: c, registry: c.Registry()}
}

// Resolve applies the resolution policy:
//  1. An ambiguous result is refused with an *AmbiguityError.
//  2. A top candidate with every required slot is accepted unchanged.
//  3. Missing or placeholder slots are borrowed from the most recent
//     compatible turn (same skill, same family, or an ambiguous turn that
//     offered this skill), then from preferences.
//  4. With no candidate, a follow-up hit continues the most recent turn of
//     its skill.
//
// Anything that cannot be completed yields a *MissError (ErrContextMiss);
// a candidate still under threshold after borrowing yields ErrNoIntent.
func (r *Resolver) Resolve(res nlp.Result, snap memory.Snapshot) (Resolution, error) {
	if res.Ambiguous() {
		opts := make([]memory.Alternative, len(res.Rivals))
		for i, c := range res.Rivals {
			opts[i] = memory.Alternative{Skill: c.Skill, Slots: copyMap(c.Slots)}
		}
		return Resolution{}, &AmbiguityError{Options: opts}
	}

	recent := snap.Recent()
	top, ok := res.Top()
	if !ok {
		return r.followUp(res, recent)
	}

	desc, ok := r.registry.Get(top.Skill)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: unknown skill %q", ErrNoIntent, top.Skill)
	}

	out := Resolution{
		Skill:      top.Skill,
		Family:     top.Family,
		Slots:      copyMap(top.Slots),
		Confidence: top.Confidence,
		FromTurn:   -1,
	}
	if len(top.Missing) == 0 {
		return out, nil
	}

	pointed := make(map[string]bool)
	for k, v := range out.Slots {
		if skills.IsPlaceholder(v) {
			pointed[k] = true
			delete(out.Slots, k)
		}
	}

	for _, turn := range recent {
		src, ok := r.compatible(top.Skill, top.Family, turn)
		if !ok {
			continue
		}
		out.Borrowed = r.borrow(desc, out.Slots, turn.Skill, src)
		out.FromTurn = turn.Index
		break
	}

	// "translate that" with nothing compatible to borrow from points at the
	// previous reply.
	if out.FromTurn < 0 && len(recent) > 0 && recent[0].Reply != "" {
		for _, spec := range desc.Slots {
			if pointed[spec.Name] && spec.Type == skills.TypeFreeText {
				out.Slots[spec.Name] = recent[0].Reply
				out.Borrowed = append(out.Borrowed, spec.Name)
				out.FromTurn = recent[0].Index
			}
		}
	}

	for _, spec := range desc.Slots {
		if _, have := out.Slots[spec.Name]; have || !spec.Required {
			continue
		}
		if key, ok := prefFallback[spec.Type]; ok && snap.Prefs[key] != "" {
			out.Slots[spec.Name] = snap.Prefs[key]
			out.Borrowed = append(out.Borrowed, spec.Name)
		}
	}

	if missing := desc.Missing(out.Slots); len(missing) > 0 {
		return Resolution{}, &MissError{Skill: top.Skill, Slots: out.Slots, Missing: missing}
	}

	rescored := top
	rescored.Missing = nil
	out.Confidence = r.classifier.Score(rescored, len(desc.Required()))
	if out.Confidence < r.classifier.Config().MinConfidence {
		return Resolution{}, ErrNoIntent
	}
	return out, nil
}

// followUp continues an earlier turn when the utterance only carried
// follow-up material.
func (r *Resolver) followUp(res nlp.Result, recent []memory.TurnRecord) (Resolution, error) {
	if len(res.FollowUps) == 0 || !(res.Cue || res.Tokens <= followUpMaxTokens) {
		return Resolution{}, ErrNoIntent
	}

	for _, turn := range recent {
		for _, fu := range res.FollowUps {
			src, ok := r.compatible(fu.Skill, fu.Family, turn)
			if !ok {
				continue
			}
			desc, _ := r.registry.Get(fu.Skill)
			slots := make(map[string]string)
			r.borrow(desc, slots, turn.Skill, src)
			for k, v := range fu.Slots {
				slots[k] = v
			}
			if missing := desc.Missing(slots); len(missing) > 0 {
				return Resolution{}, &MissError{Skill: fu.Skill, Slots: slots, Missing: missing}
			}
			cand := nlp.Candidate{Coverage: 1, Weight: 1}
			return Resolution{
				Skill:      fu.Skill,
				Family:     fu.Family,
				Slots:      slots,
				Confidence: r.classifier.Score(cand, len(desc.Required())),
				Borrowed:   diffKeys(slots, fu.Slots),
				FromTurn:   turn.Index,
				FollowUp:   true,
			}, nil
		}
	}
	return Resolution{}, &MissError{Skill: res.FollowUps[0].Skill}
}

// compatible returns the slots of turn that skill may borrow from.
func (r *Resolver) compatible(skill, family string, turn memory.TurnRecord) (map[string]string, bool) {
	switch turn.Outcome {
	case memory.OutcomeRejected:
		return nil, false
	case memory.OutcomeAmbiguous:
		for _, alt := range turn.Alternatives {
			if alt.Skill == skill {
				return alt.Slots, true
			}
		}
		return nil, false
	}
	if turn.Skill == "" || turn.Skill == memory.NoSkill {
		return nil, false
	}
	if turn.Skill == skill {
		return turn.Slots, true
	}
	if d, ok := r.registry.Get(turn.Skill); ok && d.Family == family {
		return turn.Slots, true
	}
	return nil, false
}

// borrow fills dst's missing slots from src: by name first, then by type
// when src came from another skill of the family. Returns the names filled.
func (r *Resolver) borrow(desc *skills.Descriptor, dst map[string]string, srcSkill string, src map[string]string) []string {
	srcDesc, _ := r.registry.Get(srcSkill)

	var filled []string
	for _, spec := range desc.Slots {
		if _, have := dst[spec.Name]; have {
			continue
		}
		if v, ok := src[spec.Name]; ok && !skills.IsPlaceholder(v) {
			dst[spec.Name] = v
			filled = append(filled, spec.Name)
			continue
		}
		if srcDesc == nil {
			continue
		}
		for _, other := range srcDesc.Slots {
			v, ok := src[other.Name]
			if ok && other.Type == spec.Type && !skills.IsPlaceholder(v) {
				dst[spec.Name] = v
				filled = append(filled, spec.Name)
				break
			}
		}
	}
	return filled
}

func diffKeys(all, own map[string]string) []string {
	var out []string
	for _, k := range skills.SlotNames(all) {
		if _, ok := own[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
