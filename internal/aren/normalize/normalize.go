// Package normalize turns raw utterance text into the token stream consumed
// by the skill registry, and tags the utterance as English, Hindi or mixed
// (Hinglish).
//
// Normalisation is a pure function: NFC composition, Unicode case folding,
// punctuation stripping and whitespace splitting. A handful of symbols
// survive because the calculator needs them: a decimal point between two
// digits, percent and currency signs (kept attached to their number), and
// the arithmetic operators, which become standalone tokens.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Lang is the utterance-level language tag.
type Lang string

const (
	English Lang = "en"
	Hindi   Lang = "hi"
	Mixed   Lang = "mixed"
)

// Valid reports whether l is one of the three known tags.
func (l Lang) Valid() bool {
	switch l {
	case English, Hindi, Mixed:
		return true
	}
	return false
}

// majority is the share of scored tokens a script needs for a pure tag.
const majority = 0.9

// Token is one normalised token and its script class.
type Token struct {
	Text   string
	Script Script
}

// Stream is the ordered token sequence for a single utterance.
type Stream []Token

// Texts returns the token texts in order.
func (s Stream) Texts() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = t.Text
	}
	return out
}

// String joins the token texts with single spaces.
func (s Stream) String() string {
	return strings.Join(s.Texts(), " ")
}

// Index returns the position of the first token equal to text, or -1.
func (s Stream) Index(text string) int {
	for i, t := range s {
		if t.Text == text {
			return i
		}
	}
	return -1
}

// Contains reports whether any token equals text.
func (s Stream) Contains(text string) bool { return s.Index(text) >= 0 }

// Normalize tokenises raw and returns the stream with its language tag.
// It never fails; characters it does not understand stay inside opaque
// tokens.
func Normalize(raw string) (Stream, Lang) {
	folded := cases.Fold().String(norm.NFC.String(raw))
	words := split(folded)

	stream := make(Stream, 0, len(words))
	for _, w := range words {
		stream = append(stream, Token{Text: w, Script: Classify(w)})
	}
	return stream, Tag(stream)
}

// Tokens is Normalize without the language tag; the registry uses it to
// normalise trigger phrases so they line up with user input.
func Tokens(raw string) []string {
	s, _ := Normalize(raw)
	return s.Texts()
}

// Tag derives the utterance language from token scripts. Neutral tokens
// (numbers, symbols) do not count; an utterance made only of them is
// English. Romanised Hindi counts against both pure tags, so Hinglish ends
// up as mixed.
func Tag(s Stream) Lang {
	var latin, deva, scored int
	for _, t := range s {
		switch t.Script {
		case Neutral:
			continue
		case Latin:
			latin++
		case Devanagari:
			deva++
		}
		scored++
	}
	if scored == 0 {
		return English
	}
	switch {
	case float64(latin)/float64(scored) >= majority:
		return English
	case float64(deva)/float64(scored) >= majority:
		return Hindi
	default:
		return Mixed
	}
}

// operators become standalone tokens. '-' is handled separately because it
// is also a word joiner.
var operators = map[rune]bool{
	'+': true, '*': true, '/': true, '^': true, '=': true,
	'×': true, '÷': true, '(': true, ')': true,
}

func split(s string) []string {
	runes := []rune(s)
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	digitAt := func(i int) bool {
		return i >= 0 && i < len(runes) && unicode.IsDigit(runes[i])
	}
	// digitNear reports whether the first non-space rune from i in
	// direction step is a digit, so "10 - 4" keeps its operator.
	digitNear := func(i, step int) bool {
		for i += step; i >= 0 && i < len(runes) && unicode.IsSpace(runes[i]); i += step {
		}
		return digitAt(i)
	}

	for i, r := range runes {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.Is(unicode.M, r):
			cur.WriteRune(r)
		case r == '.' && digitAt(i-1) && digitAt(i+1):
			cur.WriteRune(r)
		case r == ',' && digitAt(i-1) && digitAt(i+1):
			// thousands separator, dropped without splitting
		case r == '\'' || r == '’':
			// "what's" -> "whats"
		case r == '%' || unicode.Is(unicode.Sc, r):
			cur.WriteRune(r)
		case r == '-' && (digitAt(i-1) || digitAt(i+1) || (digitNear(i, -1) && digitNear(i, 1))):
			flush()
			out = append(out, "-")
		case operators[r]:
			flush()
			out = append(out, string(r))
		case unicode.IsPunct(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
