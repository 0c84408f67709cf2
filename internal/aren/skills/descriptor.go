// Package skills holds the static skill registry: which phrases trigger
// which capability, which slots each capability needs, and the pure
// extraction rules that pull slot values out of a normalised token stream.
//
// The table lives in triggers.yaml, is validated against schema.json when
// loaded, and is read-only afterwards, so a *Registry can be shared by any
// number of goroutines without locking.
package skills

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SlotType is the expected type of a slot value.
type SlotType string

const (
	TypeLocation    SlotType = "location"
	TypeNumber      SlotType = "number"
	TypeLanguage    SlotType = "language"
	TypeFreeText    SlotType = "free_text"
	TypeApplication SlotType = "application"
	TypeOperation   SlotType = "operation"
	TypeDay         SlotType = "day"
	TypePrefKey     SlotType = "pref_key"
)

// Day slot values.
const (
	DayToday    = "today"
	DayTomorrow = "tomorrow"
	DayAfter    = "day_after"
)

// Calculator operations.
const (
	OpPercentage = "percentage"
	OpArithmetic = "arithmetic"
)

// SlotSpec declares one slot of a skill.
type SlotSpec struct {
	Name     string   `yaml:"name"`
	Type     SlotType `yaml:"type"`
	Required bool     `yaml:"required"`
}

// Trigger is one language-tagged phrase that selects a skill.
type Trigger struct {
	Phrase string `yaml:"phrase"`
	Lang   string `yaml:"lang"`
	// Weight scales the confidence of this phrase. Generic phrases shared
	// with small talk carry less than 1.
	Weight float64 `yaml:"weight"`
	// Requires lists slots that must be extracted for the phrase to count.
	Requires []string `yaml:"requires"`

	tokens []string
}

// Tokens returns the normalised phrase tokens.
func (t Trigger) Tokens() []string { return t.tokens }

// Descriptor describes one registered skill. Descriptors are immutable once
// the registry is built.
type Descriptor struct {
	ID     string `yaml:"id"`
	Family string `yaml:"family"`
	// Priority is the skill's position in the table; lower wins ties.
	Priority int        `yaml:"-"`
	Triggers []Trigger  `yaml:"triggers"`
	Slots    []SlotSpec `yaml:"slots"`
	// Extract names the slot rules run on every utterance.
	Extract []string `yaml:"extract"`
	// FollowUp names the rules whose output alone can continue a previous
	// turn of this skill ("and tomorrow?").
	FollowUp []string `yaml:"follow_up"`
}

// Slot returns the slot declaration for name.
func (d *Descriptor) Slot(name string) (SlotSpec, bool) {
	for _, s := range d.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return SlotSpec{}, false
}

// Required returns the names of the required slots, in table order.
func (d *Descriptor) Required() []string {
	var out []string
	for _, s := range d.Slots {
		if s.Required {
			out = append(out, s.Name)
		}
	}
	return out
}

// Missing returns the required slots absent from slots or holding only a
// placeholder ("that", "usko").
func (d *Descriptor) Missing(slots map[string]string) []string {
	var out []string
	for _, name := range d.Required() {
		v, ok := slots[name]
		if !ok || strings.TrimSpace(v) == "" || IsPlaceholder(v) {
			out = append(out, name)
		}
	}
	return out
}

// SchemaError reports slot values that do not satisfy a skill's schema.
type SchemaError struct {
	Skill   string
	Missing []string
	Invalid []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ","))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ","))
	}
	return fmt.Sprintf("skill %s: %s", e.Skill, strings.Join(parts, "; "))
}

// Validate checks slots against the schema. Unknown slot names are
// rejected so that nothing outside the schema reaches a skill.
func (d *Descriptor) Validate(slots map[string]string) error {
	e := &SchemaError{Skill: d.ID, Missing: d.Missing(slots)}

	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec, ok := d.Slot(name)
		if !ok || !validValue(spec.Type, slots[name]) {
			e.Invalid = append(e.Invalid, name)
		}
	}
	if len(e.Missing) == 0 && len(e.Invalid) == 0 {
		return nil
	}
	return e
}

func validValue(t SlotType, v string) bool {
	if strings.TrimSpace(v) == "" {
		return false
	}
	switch t {
	case TypeNumber:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	case TypeLanguage:
		_, ok := languageNames[v]
		return ok
	case TypeDay:
		return v == DayToday || v == DayTomorrow || v == DayAfter
	case TypeOperation:
		return v == OpPercentage || v == OpArithmetic
	case TypePrefKey:
		return v == PrefName || v == PrefCity || v == PrefLanguage
	default:
		return true
	}
}
