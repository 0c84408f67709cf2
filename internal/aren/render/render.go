// Package render turns turn outcomes into reply text. Replies are produced
// from text/template sets, one per language, loaded from a YAML table. The
// same outcome and language always render the same text.
package render

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/aren-assistant/aren/internal/aren/memory"
	"github.com/aren-assistant/aren/internal/aren/normalize"
	"github.com/aren-assistant/aren/internal/aren/skills"
)

//go:embed templates.yaml
var defaultTable []byte

// ErrInvalidTemplates is returned when a template table cannot be loaded.
var ErrInvalidTemplates = errors.New("invalid template table")

// Rejection reasons.
const (
	ReasonEmpty   = "empty"
	ReasonTooLong = "too_long"
)

// Outcome is everything the renderer may say about one turn.
type Outcome struct {
	Status memory.Outcome
	Kind   memory.Kind
	Skill  string
	Slots  map[string]string
	// Fields are the skill's result values.
	Fields map[string]string
	// Missing lists slots a clarification should ask for.
	Missing []string
	// Options are offered when the intent was ambiguous.
	Options []memory.Alternative
	Prefs   map[string]string
	// Reason and Limit explain a rejection.
	Reason string
	Limit  int
	// Timeout marks a skill error caused by the skill timeout.
	Timeout bool
}

// table is the on-disk layout of templates.yaml.
type table struct {
	Languages map[string]struct {
		Labels    map[string]string `yaml:"labels"`
		Templates map[string]string `yaml:"templates"`
	} `yaml:"languages"`
}

type set struct {
	tmpl   *template.Template
	labels map[string]string
}

// Templates renders outcomes per language. It is immutable once loaded and
// safe for concurrent use.
type Templates struct {
	sets   map[normalize.Lang]*set
	logger *slog.Logger
}

// Default loads the built-in template table.
func Default() (*Templates, error) {
	return Load(defaultTable)
}

// Load parses a template table. English is required and is the fallback
// for templates and labels another language leaves out.
func Load(data []byte) (*Templates, error) {
	var tbl table
	if err := yaml.Unmarshal(data, &tbl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplates, err)
	}
	if _, ok := tbl.Languages[string(normalize.English)]; !ok {
		return nil, fmt.Errorf("%w: no %q section", ErrInvalidTemplates, normalize.English)
	}

	t := &Templates{sets: make(map[normalize.Lang]*set), logger: slog.Default()}
	for code, sec := range tbl.Languages {
		lang := normalize.Lang(code)
		if !lang.Valid() {
			return nil, fmt.Errorf("%w: unknown language %q", ErrInvalidTemplates, code)
		}
		s := &set{labels: sec.Labels}
		s.tmpl = template.New(code).Option("missingkey=zero").Funcs(t.funcs(lang))

		keys := make([]string, 0, len(sec.Templates))
		for k := range sec.Templates {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := s.tmpl.New(k).Parse(sec.Templates[k]); err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %v", ErrInvalidTemplates, code, k, err)
			}
		}
		t.sets[lang] = s
	}
	return t, nil
}

// WithLogger returns a copy of t that logs render failures to l.
func (t *Templates) WithLogger(l *slog.Logger) *Templates {
	cp := *t
	cp.logger = l
	return &cp
}

// Render produces the reply for o in lang.
func (t *Templates) Render(lang normalize.Lang, o Outcome) string {
	for _, key := range keys(o) {
		if out, ok := t.execute(lang, key, o); ok {
			return out
		}
	}
	t.logger.Warn("render: no template", "lang", lang, "status", o.Status, "skill", o.Skill)
	return t.Label(lang, "fallback")
}

// keys lists template names for o, most specific first.
func keys(o Outcome) []string {
	switch o.Status {
	case memory.OutcomeOK:
		if v := o.Fields["variant"]; v != "" {
			return []string{o.Skill + "." + v, o.Skill}
		}
		return []string{o.Skill}
	case memory.OutcomeAmbiguous:
		return []string{"ambiguous"}
	case memory.OutcomeSkillError:
		if o.Timeout {
			return []string{"error.timeout", "error"}
		}
		return []string{"error." + o.Skill, "error"}
	case memory.OutcomeRejected:
		return []string{"rejected." + o.Reason, "rejected"}
	default:
		if o.Kind == memory.KindContextMiss && len(o.Missing) > 0 {
			return []string{"ask." + o.Skill + "." + o.Missing[0], "ask." + o.Missing[0], "ask", "no_intent"}
		}
		return []string{"no_intent"}
	}
}

// execute renders key from lang's set, then from English.
func (t *Templates) execute(lang normalize.Lang, key string, o Outcome) (string, bool) {
	for _, l := range fallbackChain(lang) {
		s, ok := t.sets[l]
		if !ok {
			continue
		}
		tmpl := s.tmpl.Lookup(key)
		if tmpl == nil {
			continue
		}
		var b strings.Builder
		if err := tmpl.Execute(&b, o); err != nil {
			t.logger.Warn("render: template failed", "lang", l, "template", key, "err", err)
			continue
		}
		return strings.TrimSpace(b.String()), true
	}
	return "", false
}

// Label returns a translated label, falling back to English and then to
// the key itself.
func (t *Templates) Label(lang normalize.Lang, key string) string {
	for _, l := range fallbackChain(lang) {
		if s, ok := t.sets[l]; ok {
			if v, ok := s.labels[key]; ok {
				return v
			}
		}
	}
	return key
}

func fallbackChain(lang normalize.Lang) []normalize.Lang {
	if lang == normalize.English || !lang.Valid() {
		return []normalize.Lang{normalize.English}
	}
	return []normalize.Lang{lang, normalize.English}
}

func (t *Templates) funcs(lang normalize.Lang) template.FuncMap {
	return template.FuncMap{
		"label": func(parts ...string) string {
			return t.Label(lang, strings.Join(parts, "."))
		},
		"language": func(code string) string {
			if v := t.Label(lang, "lang."+code); v != "lang."+code {
				return v
			}
			return skills.LanguageName(code)
		},
		"options": func(opts []memory.Alternative) string {
			names := make([]string, len(opts))
			for i, o := range opts {
				names[i] = t.Label(lang, "skill."+o.Skill)
			}
			return joinOr(names, t.Label(lang, "or"))
		},
	}
}

// joinOr joins "a", "b", "c" as "a, b or c".
func joinOr(items []string, or string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " " + or + " " + items[len(items)-1]
}
