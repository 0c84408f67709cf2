package skills

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/aren-assistant/aren/internal/aren/normalize"
)

//go:embed triggers.yaml
var defaultTable []byte

//go:embed schema.json
var tableSchema string

// ErrInvalidTable is returned when a trigger table fails validation.
var ErrInvalidTable = errors.New("invalid trigger table")

type table struct {
	Version int          `yaml:"version"`
	Skills  []Descriptor `yaml:"skills"`
}

// Registry is the immutable set of skill descriptors, in priority order.
type Registry struct {
	skills []*Descriptor
	byID   map[string]*Descriptor
}

// Default parses the embedded trigger table.
func Default() (*Registry, error) {
	return Parse(defaultTable)
}

// Parse validates a YAML trigger table against the table schema, normalises
// every trigger phrase and builds a registry. Table order is priority order.
func Parse(data []byte) (*Registry, error) {
	if err := validateTable(data); err != nil {
		return nil, err
	}

	var tbl table
	if err := yaml.Unmarshal(data, &tbl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	r := &Registry{byID: make(map[string]*Descriptor, len(tbl.Skills))}
	for i := range tbl.Skills {
		d := tbl.Skills[i]
		d.Priority = i
		if d.Family == "" {
			d.Family = d.ID
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate skill id %q", ErrInvalidTable, d.ID)
		}
		if err := prepare(&d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		r.skills = append(r.skills, &d)
		r.byID[d.ID] = &d
	}
	return r, nil
}

func validateTable(data []byte) error {
	schema, err := jsonschema.CompileString("triggers.schema.json", tableSchema)
	if err != nil {
		return fmt.Errorf("compile trigger schema: %w", err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	// Round-trip through JSON so the validator sees plain JSON values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return nil
}

func prepare(d *Descriptor) error {
	slotNames := make(map[string]bool, len(d.Slots))
	for _, s := range d.Slots {
		if slotNames[s.Name] {
			return fmt.Errorf("skill %s: duplicate slot %q", d.ID, s.Name)
		}
		slotNames[s.Name] = true
	}
	for _, name := range append(append([]string{}, d.Extract...), d.FollowUp...) {
		if _, ok := rules[name]; !ok {
			return fmt.Errorf("skill %s: unknown rule %q", d.ID, name)
		}
	}
	for i := range d.Triggers {
		t := &d.Triggers[i]
		t.tokens = normalize.Tokens(t.Phrase)
		if len(t.tokens) == 0 {
			return fmt.Errorf("skill %s: trigger %q normalises to nothing", d.ID, t.Phrase)
		}
		if t.Weight == 0 {
			t.Weight = 1
		}
		for _, req := range t.Requires {
			if !slotNames[req] {
				return fmt.Errorf("skill %s: trigger %q requires undeclared slot %q", d.ID, t.Phrase, req)
			}
		}
	}
	return nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// All returns the descriptors in priority order.
func (r *Registry) All() []*Descriptor {
	return append([]*Descriptor(nil), r.skills...)
}

// IDs returns the skill IDs in priority order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.skills))
	for i, d := range r.skills {
		out[i] = d.ID
	}
	return out
}

// Hit is one skill's best match against an utterance.
type Hit struct {
	Skill *Descriptor
	// Trigger is the phrase that matched; zero for follow-up hits.
	Trigger Trigger
	// Coverage is the aligned share of the phrase, in [0,1].
	Coverage float64
	Span     Span
	Slots    map[string]string
	// FollowUp marks a hit produced only by follow-up rules.
	FollowUp bool
	// Continuation is the follow-up rule output of a trigger hit. The
	// classifier falls back to it when the trigger scores under threshold,
	// as "in Pune" does against "weather in".
	Continuation map[string]string
}

// PhraseLen is the number of tokens in the matched phrase.
func (h Hit) PhraseLen() int { return len(h.Trigger.tokens) }

// Match runs every skill's matcher over the stream and returns at most one
// hit per skill, in priority order. Skills with no trigger hit but with
// follow-up output are returned with FollowUp set.
func (r *Registry) Match(s normalize.Stream, lang normalize.Lang) []Hit {
	var hits []Hit
	for _, d := range r.skills {
		if h, ok := d.match(s, lang); ok {
			if len(d.FollowUp) > 0 {
				if slots := d.apply(d.FollowUp, s, NoSpan); len(slots) > 0 {
					h.Continuation = slots
				}
			}
			hits = append(hits, h)
			continue
		}
		if slots := d.apply(d.FollowUp, s, NoSpan); len(slots) > 0 {
			hits = append(hits, Hit{Skill: d, Span: NoSpan, Slots: slots, FollowUp: true})
		}
	}
	return hits
}

func (d *Descriptor) match(s normalize.Stream, lang normalize.Lang) (Hit, bool) {
	var (
		best  Hit
		found bool
	)
	for _, t := range d.Triggers {
		a := align(t.tokens, s)
		if a.coverage < minCoverage {
			continue
		}
		slots := d.apply(d.Extract, s, a.span)
		if !hasAll(slots, t.Requires) {
			continue
		}
		h := Hit{Skill: d, Trigger: t, Coverage: a.coverage, Span: a.span, Slots: slots}
		if !found || better(h, best, lang) {
			best, found = h, true
		}
	}
	return best, found
}

// better orders two hits of the same skill: weighted coverage, then phrase
// length, then a phrase tagged with the utterance language. Earlier
// triggers win remaining ties because they are seen first.
func better(a, b Hit, lang normalize.Lang) bool {
	wa, wb := a.Coverage*a.Trigger.Weight, b.Coverage*b.Trigger.Weight
	if wa != wb {
		return wa > wb
	}
	if a.PhraseLen() != b.PhraseLen() {
		return a.PhraseLen() > b.PhraseLen()
	}
	return a.Trigger.Lang == string(lang) && b.Trigger.Lang != string(lang)
}

// apply runs the named rules in order. The first rule to produce a slot
// wins it, and only slots declared by the skill are kept.
func (d *Descriptor) apply(names []string, s normalize.Stream, span Span) map[string]string {
	out := make(map[string]string)
	for _, name := range names {
		for k, v := range rules[name](s, span) {
			if _, declared := d.Slot(k); !declared {
				continue
			}
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
	}
	return out
}

func hasAll(slots map[string]string, names []string) bool {
	for _, n := range names {
		if _, ok := slots[n]; !ok {
			return false
		}
	}
	return true
}

// SlotNames returns the sorted keys of slots.
func SlotNames(slots map[string]string) []string {
	out := make([]string, 0, len(slots))
	for k := range slots {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
