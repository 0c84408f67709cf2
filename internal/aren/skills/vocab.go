package skills

import "strings"

// Preference keys a user can set by talking to the assistant.
const (
	PrefName     = "name"
	PrefCity     = "city"
	PrefLanguage = "language"
)

// placeholders are pronouns and deictic words that stand in for a value
// mentioned in an earlier turn.
var placeholders = map[string]bool{
	"that": true, "it": true, "this": true, "there": true, "same": true,
	"usko": true, "isko": true, "ise": true, "wahi": true,
	"wahan": true, "woh": true, "yeh": true, "vahi": true, "vahan": true,
	"उसको": true, "इसे": true, "वही": true, "वहाँ": true, "वहां": true, "वो": true,
}

// IsPlaceholder reports whether every token of v is a placeholder word.
func IsPlaceholder(v string) bool {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !placeholders[strings.ToLower(f)] {
			return false
		}
	}
	return true
}

// languageNames maps ISO 639-1 codes to English display names.
var languageNames = map[string]string{
	"en": "English", "hi": "Hindi", "es": "Spanish", "fr": "French",
	"de": "German", "it": "Italian", "pt": "Portuguese", "ru": "Russian",
	"ja": "Japanese", "ko": "Korean", "zh": "Chinese", "ar": "Arabic",
	"bn": "Bengali", "ta": "Tamil", "te": "Telugu", "mr": "Marathi",
	"gu": "Gujarati", "pa": "Punjabi", "ur": "Urdu",
}

// languageWords maps spoken language names, in English, Hinglish and
// Devanagari, to codes.
var languageWords = map[string]string{
	"english": "en", "angrezi": "en", "अंग्रेज़ी": "en", "अंग्रेजी": "en",
	"hindi": "hi", "हिंदी": "hi", "हिन्दी": "hi",
	"spanish": "es", "french": "fr", "german": "de", "italian": "it",
	"portuguese": "pt", "russian": "ru", "japanese": "ja", "korean": "ko",
	"chinese": "zh", "mandarin": "zh", "arabic": "ar",
	"bengali": "bn", "bangla": "bn", "tamil": "ta", "telugu": "te",
	"marathi": "mr", "gujarati": "gu", "punjabi": "pa", "urdu": "ur",
}

// LanguageCode returns the code for a spoken language name.
func LanguageCode(word string) (string, bool) {
	c, ok := languageWords[strings.ToLower(word)]
	return c, ok
}

// LanguageName returns the English display name for a code.
func LanguageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return code
}
