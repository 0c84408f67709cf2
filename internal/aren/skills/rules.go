package skills

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aren-assistant/aren/internal/aren/normalize"
)

// Rule extracts slot values from a token stream. span is the range of the
// trigger phrase that selected the skill, or NoSpan when the rule runs for a
// follow-up. Rules are pure and return nil when they find nothing.
type Rule func(s normalize.Stream, span Span) map[string]string

// rules is the fixed rule set the trigger table may name.
var rules = map[string]Rule{
	"after_preposition": locationRule,
	"day":               dayRule,
	"percentage":        percentageRule,
	"arithmetic":        arithmeticRule,
	"application":       applicationRule,
	"translate_target":  translateTargetRule,
	"translate_text":    translateTextRule,
	"after_trigger":     afterTriggerRule,
	"preference":        preferenceRule,
}

// RuleNames returns the names a trigger table may reference.
func RuleNames() []string {
	out := make([]string, 0, len(rules))
	for name := range rules {
		out = append(out, name)
	}
	return out
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var (
	prepositions  = set("in", "at", "for", "of", "near", "about")
	postpositions = set("mein", "me", "ka", "ki", "ke", "में", "का", "की", "के")
	// locationStop ends a location phrase or disqualifies a token before a
	// postposition.
	locationStop = set(
		"today", "tomorrow", "tonight", "now", "day", "after", "the", "please",
		"aaj", "kal", "parso", "abhi", "weather", "mausam", "temperature",
		"forecast", "rain", "barish", "baarish", "hai", "kya", "kaisa", "kaisi",
		"hoga", "hogi", "is", "will", "be", "it", "and", "aur", "what", "how",
		"आज", "कल", "मौसम", "है", "क्या", "कैसा",
	)
	deictic = set("there", "wahan", "wahi", "vahan", "वहाँ", "वहां", "वही")

	titleCaser = cases.Title(language.Und)
)

func isWord(tok string) bool {
	for _, r := range tok {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.M, r) {
			return false
		}
	}
	return tok != ""
}

func title(words []string) string {
	return titleCaser.String(strings.Join(words, " "))
}

// locationRule finds a place name after an English preposition ("in
// Mumbai") or before a Hindi postposition ("Mumbai mein", "Delhi ka").
// A bare "there"/"wahan" yields a placeholder location.
func locationRule(s normalize.Stream, _ Span) map[string]string {
	for i, t := range s {
		if !prepositions[t.Text] {
			continue
		}
		var words []string
		for j := i + 1; j < len(s) && len(words) < 3; j++ {
			w := s[j].Text
			if !isWord(w) || locationStop[w] || prepositions[w] || postpositions[w] {
				break
			}
			if _, isLang := LanguageCode(w); isLang {
				break
			}
			words = append(words, w)
		}
		if len(words) > 0 {
			return map[string]string{"location": title(words)}
		}
	}
	for i, t := range s {
		if i == 0 || !postpositions[t.Text] {
			continue
		}
		w := s[i-1].Text
		if !isWord(w) || locationStop[w] || deictic[w] {
			continue
		}
		if _, isLang := LanguageCode(w); isLang {
			continue
		}
		return map[string]string{"location": title([]string{w})}
	}
	for _, t := range s {
		if deictic[t.Text] {
			return map[string]string{"location": t.Text}
		}
	}
	return nil
}

// dayRule maps relative day words to today/tomorrow/day_after. "kal" is
// read as tomorrow; every skill that uses days looks forward.
func dayRule(s normalize.Stream, _ Span) map[string]string {
	texts := s.Texts()
	for i := 0; i+2 < len(texts); i++ {
		if texts[i] == "day" && texts[i+1] == "after" && texts[i+2] == "tomorrow" {
			return map[string]string{"day": DayAfter}
		}
	}
	for _, t := range texts {
		switch t {
		case "parso", "परसों":
			return map[string]string{"day": DayAfter}
		case "tomorrow", "kal", "कल":
			return map[string]string{"day": DayTomorrow}
		case "today", "aaj", "आज", "tonight":
			return map[string]string{"day": DayToday}
		}
	}
	return nil
}

// parseNumber accepts plain decimals, with an optional leading currency
// symbol.
func parseNumber(tok string) (float64, bool) {
	tok = strings.TrimLeftFunc(tok, func(r rune) bool { return unicode.Is(unicode.Sc, r) })
	if tok == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(tok, 64)
	return f, err == nil
}

func formatNumber(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

var (
	percentWords = set("percent", "percentage", "pratishat", "प्रतिशत")
	ofWords      = set("of", "ka", "ki", "ke", "का", "की", "के")
)

// percentageRule recognises "15% of 850", "15 percent of 850" and the Hindi
// order "850 ka 15%".
func percentageRule(s normalize.Stream, _ Span) map[string]string {
	texts := s.Texts()
	out := func(value, of float64) map[string]string {
		return map[string]string{
			"operation": OpPercentage,
			"value":     formatNumber(value),
			"of":        formatNumber(of),
		}
	}
	for i, t := range texts {
		var (
			value float64
			ok    bool
			next  int
		)
		switch {
		case strings.HasSuffix(t, "%"):
			value, ok = parseNumber(strings.TrimSuffix(t, "%"))
			next = i + 1
		case i+1 < len(texts) && (texts[i+1] == "%" || percentWords[texts[i+1]]):
			value, ok = parseNumber(t)
			next = i + 2
		}
		if !ok {
			continue
		}
		if next+1 < len(texts) && ofWords[texts[next]] {
			if of, ok := parseNumber(texts[next+1]); ok {
				return out(value, of)
			}
		}
		if i >= 2 && ofWords[texts[i-1]] {
			if of, ok := parseNumber(texts[i-2]); ok {
				return out(value, of)
			}
		}
	}
	return nil
}

var (
	wordOperators = map[string]string{
		"plus": "+", "add": "+",
		"minus": "-", "ghatao": "-", "less": "-",
		"times": "*", "into": "*", "x": "*", "guna": "*", "multiplied": "*",
		"divided": "/", "over": "/", "bhag": "/",
		"mod": "%",
	}
	symbolOperators = map[string]string{
		"+": "+", "-": "-", "*": "*", "/": "/", "^": "^",
		"×": "*", "÷": "/", "(": "(", ")": ")",
	}
	operatorGlue = set("by")
)

// arithmeticRule finds the longest run of numbers and operators, spoken or
// written, and returns it as a canonical expression. "square root of N" and
// "sqrt N" become sqrt(N).
func arithmeticRule(s normalize.Stream, _ Span) map[string]string {
	texts := s.Texts()
	var (
		best, cur         []string
		bestNums, curNums int
		bestOps, curOps   int
	)
	commit := func() {
		if curNums >= 1 && (curOps >= 1 || containsSqrt(cur)) && len(cur) > len(best) {
			best, bestNums, bestOps = cur, curNums, curOps
		}
		cur, curNums, curOps = nil, 0, 0
	}

	for i := 0; i < len(texts); i++ {
		t := texts[i]
		if i+2 < len(texts) && t == "square" && texts[i+1] == "root" && texts[i+2] == "of" {
			if i+3 < len(texts) {
				if n, ok := parseNumber(texts[i+3]); ok {
					cur = append(cur, "sqrt("+formatNumber(n)+")")
					curNums++
					i += 3
					continue
				}
			}
		}
		if (t == "sqrt" || t == "root") && i+1 < len(texts) {
			if n, ok := parseNumber(texts[i+1]); ok {
				cur = append(cur, "sqrt("+formatNumber(n)+")")
				curNums++
				i++
				continue
			}
		}
		if n, ok := parseNumber(t); ok {
			cur = append(cur, formatNumber(n))
			curNums++
			continue
		}
		if op, ok := symbolOperators[t]; ok {
			cur = append(cur, op)
			if op != "(" && op != ")" {
				curOps++
			}
			continue
		}
		if op, ok := wordOperators[t]; ok && len(cur) > 0 {
			cur = append(cur, op)
			curOps++
			if i+1 < len(texts) && operatorGlue[texts[i+1]] {
				i++
			}
			continue
		}
		commit()
	}
	commit()

	if len(best) == 0 || (bestNums < 2 && !containsSqrt(best)) || (bestOps == 0 && !containsSqrt(best)) {
		return nil
	}
	return map[string]string{"operation": OpArithmetic, "expression": strings.Join(best, " ")}
}

func containsSqrt(parts []string) bool {
	for _, p := range parts {
		if strings.HasPrefix(p, "sqrt(") {
			return true
		}
	}
	return false
}

var applicationGlue = set(
	"the", "a", "an", "app", "application", "program", "please", "karo",
	"kar", "do", "ko", "for", "me", "mere", "liye", "my", "up", "new",
	"को", "करो", "दो",
)

// applicationRule takes what is left of the utterance once the trigger and
// filler words are removed: "kholo chrome" -> chrome.
func applicationRule(s normalize.Stream, span Span) map[string]string {
	var words []string
	for i, t := range s {
		if span.Covers(i) || applicationGlue[t.Text] || !isWord(t.Text) {
			continue
		}
		words = append(words, t.Text)
	}
	if len(words) == 0 {
		return nil
	}
	return map[string]string{"application": strings.Join(words, " ")}
}

var targetMarkers = set("to", "into", "in", "mein", "me", "में")

// translateTargetRule finds the target language: after "to"/"into"/"in",
// before "mein", or failing that the last language name in the utterance.
func translateTargetRule(s normalize.Stream, _ Span) map[string]string {
	texts := s.Texts()
	for i, t := range texts {
		code, ok := LanguageCode(t)
		if !ok {
			continue
		}
		if (i > 0 && targetMarkers[texts[i-1]]) || (i+1 < len(texts) && targetMarkers[texts[i+1]]) {
			return map[string]string{"target": code}
		}
	}
	for i := len(texts) - 1; i >= 0; i-- {
		if code, ok := LanguageCode(texts[i]); ok {
			return map[string]string{"target": code}
		}
	}
	return nil
}

var translateGlue = set(
	"translate", "to", "into", "in", "mein", "me", "ko", "karo", "kya", "hai",
	"please", "the", "word", "phrase", "kaise",
	"kahenge", "kehte", "bolte", "hain", "from", "anuvad", "anuvaad",
	"में", "को", "करो", "का", "अनुवाद",
)

// translateTextRule is the utterance minus the trigger, the target language
// and connective words: "translate thank you to hindi" -> "thank you".
func translateTextRule(s normalize.Stream, span Span) map[string]string {
	var words []string
	for i, t := range s {
		if span.Covers(i) || translateGlue[t.Text] {
			continue
		}
		if _, isLang := LanguageCode(t.Text); isLang {
			continue
		}
		words = append(words, t.Text)
	}
	if len(words) == 0 {
		return nil
	}
	return map[string]string{"text": strings.Join(words, " ")}
}

var (
	queryLeadGlue  = set("for", "about", "on", "the", "me", "up")
	queryTrailGlue = set("ke", "baare", "bare", "mein", "me", "ko", "par", "karo", "के", "बारे", "में")
)

// afterTriggerRule returns the tokens after the trigger as a free-text
// query, or the tokens before it when the trigger ends the utterance
// ("golang khojo").
func afterTriggerRule(s normalize.Stream, span Span) map[string]string {
	if span.Start < 0 {
		return nil
	}
	texts := s.Texts()

	after := texts[span.End+1:]
	for len(after) > 0 && queryLeadGlue[after[0]] {
		after = after[1:]
	}
	if len(after) > 0 {
		return map[string]string{"query": strings.Join(after, " ")}
	}

	before := texts[:span.Start]
	for len(before) > 0 && queryTrailGlue[before[len(before)-1]] {
		before = before[:len(before)-1]
	}
	if len(before) > 0 {
		return map[string]string{"query": strings.Join(before, " ")}
	}
	return nil
}

type prefPattern struct {
	lead []string
	key  string
}

var (
	prefPatterns = []prefPattern{
		{[]string{"my", "name", "is"}, PrefName},
		{[]string{"call", "me"}, PrefName},
		{[]string{"mera", "naam"}, PrefName},
		{[]string{"मेरा", "नाम"}, PrefName},
		{[]string{"i", "live", "in"}, PrefCity},
		{[]string{"my", "city", "is"}, PrefCity},
		{[]string{"mera", "sheher"}, PrefCity},
		{[]string{"mera", "shahar"}, PrefCity},
		{[]string{"मेरा", "शहर"}, PrefCity},
		{[]string{"my", "language", "is"}, PrefLanguage},
	}
	prefTrailGlue = set("hai", "he", "है", "please", "now", "ab")
	// questionWords turn "mera naam kya hai" into a question, not a fact.
	questionWords = set("what", "kya", "क्या", "who", "kaun", "कौन")
)

// preferenceRule recognises self-descriptions ("my name is Dev", "mera
// sheher Pune hai") and returns the preference key and value.
func preferenceRule(s normalize.Stream, _ Span) map[string]string {
	texts := s.Texts()
	for _, p := range prefPatterns {
		for i := 0; i+len(p.lead) <= len(texts); i++ {
			if !hasPrefix(texts[i:], p.lead) {
				continue
			}
			rest := texts[i+len(p.lead):]
			for len(rest) > 0 && prefTrailGlue[rest[len(rest)-1]] {
				rest = rest[:len(rest)-1]
			}
			if len(rest) == 0 || len(rest) > 3 || questionWords[rest[0]] {
				continue
			}
			value := title(rest)
			if p.key == PrefLanguage {
				code, ok := LanguageCode(rest[0])
				if !ok {
					continue
				}
				value = code
			}
			return map[string]string{"key": p.key, "value": value}
		}
	}
	return nil
}

func hasPrefix(texts, lead []string) bool {
	if len(texts) < len(lead) {
		return false
	}
	for i, w := range lead {
		if texts[i] != w {
			return false
		}
	}
	return true
}
