package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aren-assistant/aren/internal/aren/memory"
	"github.com/aren-assistant/aren/internal/aren/normalize"
)

func mustDefault(t *testing.T) *Templates {
	t.Helper()
	tmpl, err := Default()
	require.NoError(t, err)
	return tmpl
}

func TestRender_SkillReplies(t *testing.T) {
	tmpl := mustDefault(t)
	tests := []struct {
		name string
		lang normalize.Lang
		out  Outcome
		want string
	}{
		{
			name: "calculator en",
			lang: normalize.English,
			out:  Outcome{Status: memory.OutcomeOK, Skill: "calculator", Fields: map[string]string{"result": "127.5"}},
			want: "The answer is 127.5.",
		},
		{
			name: "calculator mixed",
			lang: normalize.Mixed,
			out:  Outcome{Status: memory.OutcomeOK, Skill: "calculator", Fields: map[string]string{"result": "127.5"}},
			want: "Jawab hai 127.5.",
		},
		{
			name: "weather en",
			lang: normalize.English,
			out: Outcome{Status: memory.OutcomeOK, Skill: "weather", Fields: map[string]string{
				"location": "Mumbai", "day": "tomorrow", "condition": "rain", "temp": "29", "humidity": "80",
			}},
			want: "Mumbai tomorrow: rain, 29°C with 80% humidity.",
		},
		{
			name: "weather hi",
			lang: normalize.Hindi,
			out: Outcome{Status: memory.OutcomeOK, Skill: "weather", Fields: map[string]string{
				"location": "Mumbai", "day": "today", "condition": "clear", "temp": "31", "humidity": "60",
			}},
			want: "Mumbai में आज आसमान साफ़, तापमान 31°C और नमी 60%।",
		},
		{
			name: "translate uses language label",
			lang: normalize.Hindi,
			out: Outcome{Status: memory.OutcomeOK, Skill: "translate", Fields: map[string]string{
				"text": "thank you", "target": "hi", "translation": "धन्यवाद",
			}},
			want: `"thank you" को हिंदी में "धन्यवाद" कहते हैं।`,
		},
		{
			name: "translate falls back to english language name",
			lang: normalize.English,
			out: Outcome{Status: memory.OutcomeOK, Skill: "translate", Fields: map[string]string{
				"text": "hello", "target": "es", "translation": "hola",
			}},
			want: `"hello" in Spanish is "hola".`,
		},
		{
			name: "variant template",
			lang: normalize.English,
			out:  Outcome{Status: memory.OutcomeOK, Skill: "whoami", Fields: map[string]string{"variant": "unknown"}},
			want: `I don't know your name yet. Tell me with "my name is ...".`,
		},
		{
			name: "greeting with name",
			lang: normalize.English,
			out:  Outcome{Status: memory.OutcomeOK, Skill: "greeting", Fields: map[string]string{"part": "morning", "name": "Dev"}},
			want: "Good morning, Dev! How can I help you?",
		},
		{
			name: "greeting without name",
			lang: normalize.Mixed,
			out:  Outcome{Status: memory.OutcomeOK, Skill: "greeting", Fields: map[string]string{"part": "evening"}},
			want: "Good evening! Main aapki kya madad kar sakta hoon?",
		},
		{
			name: "hindi falls back to english template",
			lang: normalize.Hindi,
			out:  Outcome{Status: memory.OutcomeOK, Skill: "search", Fields: map[string]string{"answer": "Go is a programming language."}},
			want: "Go is a programming language.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tmpl.Render(tt.lang, tt.out))
		})
	}
}

func TestRender_Clarifications(t *testing.T) {
	tmpl := mustDefault(t)

	ask := Outcome{Status: memory.OutcomeUnresolved, Kind: memory.KindContextMiss, Skill: "weather", Missing: []string{"location"}}
	assert.Equal(t, "Which city should I check?", tmpl.Render(normalize.English, ask))
	assert.Equal(t, "Kis sheher ka mausam bataun?", tmpl.Render(normalize.Mixed, ask))

	generic := Outcome{Status: memory.OutcomeUnresolved, Kind: memory.KindContextMiss, Skill: "remember", Missing: []string{"key"}}
	assert.Equal(t, "I need a little more detail to help with remembering something.", tmpl.Render(normalize.English, generic))

	none := Outcome{Status: memory.OutcomeUnresolved, Kind: memory.KindNoIntent}
	assert.Contains(t, tmpl.Render(normalize.English, none), "didn't understand")
	assert.Contains(t, tmpl.Render(normalize.Hindi, none), "समझ नहीं पाया")

	amb := Outcome{Status: memory.OutcomeAmbiguous, Options: []memory.Alternative{{Skill: "time"}, {Skill: "weather"}}}
	assert.Equal(t, "Did you mean the time or the weather?", tmpl.Render(normalize.English, amb))
	assert.Equal(t, "Aapka matlab time ya mausam tha?", tmpl.Render(normalize.Mixed, amb))
}

func TestRender_ErrorsAndRejections(t *testing.T) {
	tmpl := mustDefault(t)

	assert.Equal(t,
		"Sorry, the weather is taking too long. Please try again.",
		tmpl.Render(normalize.English, Outcome{Status: memory.OutcomeSkillError, Skill: "weather", Timeout: true}))
	assert.Equal(t,
		"Sorry, I couldn't calculate that.",
		tmpl.Render(normalize.English, Outcome{Status: memory.OutcomeSkillError, Skill: "calculator"}))
	assert.Equal(t,
		"Sorry, I couldn't get a search right now. Please try again.",
		tmpl.Render(normalize.English, Outcome{Status: memory.OutcomeSkillError, Skill: "search"}))
	assert.Equal(t,
		"That's too long for me. Please keep it under 1000 characters.",
		tmpl.Render(normalize.English, Outcome{Status: memory.OutcomeRejected, Reason: ReasonTooLong, Limit: 1000}))
	assert.Equal(t,
		"I didn't catch that. Could you say it again?",
		tmpl.Render(normalize.English, Outcome{Status: memory.OutcomeRejected, Reason: ReasonEmpty}))
}

func TestRender_Deterministic(t *testing.T) {
	tmpl := mustDefault(t)
	out := Outcome{Status: memory.OutcomeOK, Skill: "farewell", Fields: map[string]string{"name": "Asha"}}
	first := tmpl.Render(normalize.Hindi, out)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, tmpl.Render(normalize.Hindi, out))
	}
}

func TestRender_UnknownSkillUsesFallbackLabel(t *testing.T) {
	tmpl := mustDefault(t)
	got := tmpl.Render(normalize.Hindi, Outcome{Status: memory.OutcomeOK, Skill: "teleport"})
	assert.Equal(t, "माफ़ कीजिए, कुछ गड़बड़ हो गई।", got)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"not yaml":         "languages: [",
		"no english":       "languages:\n  hi:\n    templates: {a: 'x'}\n",
		"unknown language": "languages:\n  en:\n    templates: {a: 'x'}\n  fr:\n    templates: {a: 'y'}\n",
		"bad template":     "languages:\n  en:\n    templates: {a: '{{.Fields.x'}\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidTemplates)
		})
	}
}

func TestJoinOr(t *testing.T) {
	assert.Equal(t, "", joinOr(nil, "or"))
	assert.Equal(t, "a", joinOr([]string{"a"}, "or"))
	assert.Equal(t, "a or b", joinOr([]string{"a", "b"}, "or"))
	assert.Equal(t, "a, b या c", joinOr([]string{"a", "b", "c"}, "या"))
}
