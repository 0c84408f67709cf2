package skills

import (
	"errors"
	"strings"
	"testing"

	"github.com/aren-assistant/aren/internal/aren/normalize"
)

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return r
}

func TestDefault_Loads(t *testing.T) {
	r := mustDefault(t)
	want := []string{
		"calculator", "time", "date", "weather", "translate", "automation",
		"search", "remember", "whoami", "identity", "joke", "greeting", "farewell",
	}
	got := r.IDs()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("IDs = %v, want %v", got, want)
	}
	for i, d := range r.All() {
		if d.Priority != i {
			t.Errorf("%s: priority %d, want %d", d.ID, d.Priority, i)
		}
		if d.Family == "" {
			t.Errorf("%s: empty family", d.ID)
		}
		for _, tr := range d.Triggers {
			if len(tr.Tokens()) == 0 || tr.Weight <= 0 {
				t.Errorf("%s: trigger %q not prepared", d.ID, tr.Phrase)
			}
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		table string
	}{
		{"schema: unknown rule", `
version: 1
skills:
  - id: a
    extract: [telepathy]
    triggers: [{phrase: "x", lang: en}]
`},
		{"schema: bad lang", `
version: 1
skills:
  - id: a
    triggers: [{phrase: "x", lang: fr}]
`},
		{"schema: missing triggers", `
version: 1
skills:
  - id: a
`},
		{"duplicate id", `
version: 1
skills:
  - id: a
    triggers: [{phrase: "x", lang: en}]
  - id: a
    triggers: [{phrase: "y", lang: en}]
`},
		{"requires undeclared slot", `
version: 1
skills:
  - id: a
    triggers: [{phrase: "x", lang: en, requires: [location]}]
`},
		{"schema: weight above one", `
version: 1
skills:
  - id: a
    triggers: [{phrase: "x", lang: en, weight: 1.5}]
`},
		{"phrase of punctuation only", `
version: 1
skills:
  - id: a
    triggers: [{phrase: "?!", lang: en}]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.table))
			if !errors.Is(err, ErrInvalidTable) {
				t.Fatalf("Parse error = %v, want ErrInvalidTable", err)
			}
		})
	}
}

func TestParse_NumericFields(t *testing.T) {
	r, err := Parse([]byte(`
version: 1
skills:
  - id: a
    triggers: [{phrase: "x", lang: en, weight: 0.8}]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := r.All()[0].Triggers[0].Weight; got != 0.8 {
		t.Fatalf("weight = %v, want 0.8", got)
	}
}

func TestMatch_FollowUpOnly(t *testing.T) {
	r := mustDefault(t)
	s, lang := normalize.Normalize("and tomorrow?")
	hits := r.Match(s, lang)
	if len(hits) != 1 {
		t.Fatalf("hits = %+v, want one weather follow-up", hits)
	}
	h := hits[0]
	if h.Skill.ID != "weather" || !h.FollowUp || h.Slots["day"] != DayTomorrow {
		t.Fatalf("unexpected hit %+v", h)
	}
}

func TestMatch_FuzzyTolerance(t *testing.T) {
	r := mustDefault(t)
	s, lang := normalize.Normalize("wether in Pune")
	var found bool
	for _, h := range r.Match(s, lang) {
		if h.Skill.ID == "weather" && !h.FollowUp {
			found = true
			if h.Coverage >= 1 || h.Coverage < 0.5 {
				t.Errorf("coverage = %v, want fuzzy credit below 1", h.Coverage)
			}
			if h.Slots["location"] != "Pune" {
				t.Errorf("location = %q", h.Slots["location"])
			}
		}
	}
	if !found {
		t.Fatal("misspelt weather did not match")
	}
}

func TestMatch_RequiresGatesTrigger(t *testing.T) {
	r := mustDefault(t)
	s, lang := normalize.Normalize("what is python")
	for _, h := range r.Match(s, lang) {
		if h.Skill.ID == "calculator" {
			t.Fatalf("calculator matched without an expression: %+v", h)
		}
	}
}

func TestDescriptor_Validate(t *testing.T) {
	r := mustDefault(t)
	calc, _ := r.Get("calculator")
	weather, _ := r.Get("weather")
	translate, _ := r.Get("translate")

	tests := []struct {
		name    string
		d       *Descriptor
		slots   map[string]string
		missing []string
		invalid []string
	}{
		{"complete percentage", calc, map[string]string{"operation": "percentage", "value": "15", "of": "850"}, nil, nil},
		{"bad number", calc, map[string]string{"operation": "percentage", "value": "fifteen"}, nil, []string{"value"}},
		{"missing location", weather, map[string]string{"day": "tomorrow"}, []string{"location"}, nil},
		{"placeholder location", weather, map[string]string{"location": "there"}, []string{"location"}, nil},
		{"unknown slot", weather, map[string]string{"location": "Pune", "colour": "red"}, nil, []string{"colour"}},
		{"bad language", translate, map[string]string{"text": "hi", "target": "klingon"}, nil, []string{"target"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate(tt.slots)
			if tt.missing == nil && tt.invalid == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("Validate error = %v, want *SchemaError", err)
			}
			if strings.Join(se.Missing, ",") != strings.Join(tt.missing, ",") {
				t.Errorf("missing = %v, want %v", se.Missing, tt.missing)
			}
			if strings.Join(se.Invalid, ",") != strings.Join(tt.invalid, ",") {
				t.Errorf("invalid = %v, want %v", se.Invalid, tt.invalid)
			}
		})
	}
}

func TestWithinOneEdit(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"weather", "wether", true},
		{"weather", "weathr", true},
		{"mausam", "mosam", false},
		{"kholo", "kolo", true},
		{"chrome", "chrome", true},
		{"samay", "sanay", true},
		{"abc", "abcde", false},
	}
	for _, tt := range tests {
		if got := withinOneEdit([]rune(tt.a), []rune(tt.b)); got != tt.want {
			t.Errorf("withinOneEdit(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
