package skills

import (
	"unicode/utf8"

	"github.com/aren-assistant/aren/internal/aren/normalize"
)

const (
	// minCoverage is the share of a phrase that must align for a hit.
	minCoverage = 0.5
	// fuzzyCredit is what a token one edit away contributes, so an exact
	// spelling always outranks a near miss.
	fuzzyCredit = 0.9
	// fuzzyMinLen keeps short words ("is", "in", "hai") out of fuzzy
	// matching, where one edit changes the word entirely.
	fuzzyMinLen = 4
)

// Span records which tokens a trigger aligned to. Start and End bound the
// aligned positions (inclusive) and are -1 when nothing aligned.
type Span struct {
	Start, End int
	positions  []int
}

// NoSpan is the empty span.
var NoSpan = Span{Start: -1, End: -1}

// Covers reports whether token i was consumed by the trigger. Tokens that
// sit between two aligned words but were not matched are not covered.
func (s Span) Covers(i int) bool {
	for _, p := range s.positions {
		if p == i {
			return true
		}
	}
	return false
}

// alignment is the result of aligning one phrase to a stream.
type alignment struct {
	coverage float64
	span     Span
	used     map[int]bool
}

// align matches each phrase token to the first unused stream token that is
// equal to it, falling back to a token one edit away. Word order is not
// enforced because Hindi and English order the same request differently.
func align(phrase []string, s normalize.Stream) alignment {
	a := alignment{span: NoSpan, used: make(map[int]bool, len(phrase))}
	if len(phrase) == 0 {
		return a
	}

	var credit float64
	for _, p := range phrase {
		idx := -1
		for i, tok := range s {
			if !a.used[i] && tok.Text == p {
				idx = i
				break
			}
		}
		score := 1.0
		if idx < 0 {
			for i, tok := range s {
				if !a.used[i] && fuzzyEqual(tok.Text, p) {
					idx = i
					score = fuzzyCredit
					break
				}
			}
		}
		if idx < 0 {
			continue
		}
		a.used[idx] = true
		a.span.positions = append(a.span.positions, idx)
		credit += score
		if a.span.Start < 0 || idx < a.span.Start {
			a.span.Start = idx
		}
		if idx > a.span.End {
			a.span.End = idx
		}
	}
	a.coverage = credit / float64(len(phrase))
	return a
}

// fuzzyEqual reports whether a and b are within edit distance one, both
// being long enough for that to be meaningful.
func fuzzyEqual(a, b string) bool {
	if utf8.RuneCountInString(a) < fuzzyMinLen || utf8.RuneCountInString(b) < fuzzyMinLen {
		return false
	}
	return withinOneEdit([]rune(a), []rune(b))
}

// withinOneEdit is a linear check for Levenshtein distance <= 1.
func withinOneEdit(a, b []rune) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(b)-len(a) > 1 {
		return false
	}
	i, j, edits := 0, 0, 0
	for i < len(a) && j < len(b) {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		edits++
		if edits > 1 {
			return false
		}
		if len(a) == len(b) {
			i++
		}
		j++
	}
	return edits+(len(b)-j)+(len(a)-i) <= 1
}
