package normalize

import "unicode"

// Script classifies the writing system of a single token.
type Script int

const (
	// Neutral tokens carry no letters: numbers, operators, symbols.
	Neutral Script = iota
	Latin
	Devanagari
	// Roman is Latin-script Hindi ("kitna", "kholo").
	Roman
	Other
)

func (s Script) String() string {
	switch s {
	case Neutral:
		return "neutral"
	case Latin:
		return "latin"
	case Devanagari:
		return "devanagari"
	case Roman:
		return "roman"
	default:
		return "other"
	}
}

// IsDevanagari reports whether r is in the Devanagari block.
func IsDevanagari(r rune) bool { return r >= 0x0900 && r <= 0x097F }

// Classify returns the script of a normalised token. The dominant letter
// script wins; ties go to Devanagari.
func Classify(tok string) Script {
	var latin, deva, other int
	for _, r := range tok {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.M, r) {
			continue
		}
		switch {
		case IsDevanagari(r):
			deva++
		case unicode.Is(unicode.Latin, r):
			latin++
		default:
			other++
		}
	}
	switch {
	case latin == 0 && deva == 0 && other == 0:
		return Neutral
	case deva > 0 && deva >= latin && deva >= other:
		return Devanagari
	case latin > other:
		if romanHindi[tok] {
			return Roman
		}
		return Latin
	default:
		return Other
	}
}

// IsRomanHindi reports whether tok is in the romanised Hindi lexicon.
func IsRomanHindi(tok string) bool { return romanHindi[tok] }

// romanHindi lists common Hinglish function and content words. Words that
// are also everyday English ("me", "to", "main") are left out so that plain
// English is not misread as mixed.
var romanHindi = map[string]bool{
	"aaj": true, "aap": true, "abhi": true, "accha": true, "achha": true,
	"alvida": true, "angrezi": true, "anuvad": true, "anuvaad": true,
	"aur": true, "baj": true, "baje": true, "barish": true, "baarish": true,
	"bata": true, "batao": true, "bataiye": true, "bhag": true, "bolo": true,
	"chalao": true, "chalo": true, "chutkula": true, "dhanyavad": true,
	"dhanyawad": true, "dhundo": true, "din": true, "gaya": true,
	"garmi": true, "ghatao": true, "guna": true, "haan": true, "hai": true,
	"hain": true, "ho": true, "hoga": true, "hogi": true,
	"hota": true, "hoti": true, "ise": true, "isko": true, "jod": true,
	"jodo": true, "kab": true, "kahan": true, "kaho": true, "kaisa": true,
	"kaise": true, "kal": true, "karo": true, "kaun": true, "ke": true,
	"khojo": true, "kholo": true, "ki": true, "kitna": true, "kitne": true,
	"kitni": true, "ko": true, "kya": true, "mausam": true, "mein": true,
	"mera": true, "meri": true, "mujhe": true, "naam": true, "namaskar": true,
	"namaste": true, "nahi": true, "nahin": true, "parso": true,
	"phir": true, "pratishat": true, "raat": true, "samay": true, "se": true,
	"shaam": true, "shahar": true, "sheher": true, "shukriya": true,
	"shuru": true, "subah": true, "sunao": true, "tareekh": true,
	"tarikh": true, "theek": true, "thand": true, "tum": true, "usko": true,
	"wahan": true, "wahi": true, "woh": true, "yeh": true, "ka": true,
	"milenge": true, "hua": true, "tha": true, "bahut": true, "kuch": true,
}
