package nlp

import (
	"github.com/aren-assistant/aren/internal/aren/normalize"
	"github.com/aren-assistant/aren/internal/aren/skills"
)

// cueWords signal that an utterance continues the previous one.
var cueWords = map[string]bool{
	"and": true, "also": true, "about": true, "then": true,
	"aur": true, "phir": true, "bhi": true,
	"और": true, "फिर": true, "तो": true,
}

func hasCue(s normalize.Stream) bool {
	for _, t := range s {
		if cueWords[t.Text] || skills.IsPlaceholder(t.Text) {
			return true
		}
	}
	return false
}
