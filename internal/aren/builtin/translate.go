package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

// ErrNoTranslation is returned when neither the phrasebook nor the
// configured service can translate the text.
var ErrNoTranslation = errors.New("no translation available")

// TranslateConfig points the translate skill at a LibreTranslate-compatible
// service. Without an endpoint only the phrasebook is used.
type TranslateConfig struct {
	Endpoint string
	APIKey   string
}

// phrasebook holds common phrases, keyed by lower-case source text and
// then by target language code.
var phrasebook = map[string]map[string]string{
	"hello": {
		"hi": "नमस्ते", "es": "hola", "fr": "bonjour", "de": "hallo", "it": "ciao",
	},
	"thank you": {
		"hi": "धन्यवाद", "es": "gracias", "fr": "merci", "de": "danke", "it": "grazie",
	},
	"thanks": {
		"hi": "शुक्रिया", "es": "gracias", "fr": "merci", "de": "danke", "it": "grazie",
	},
	"good morning": {
		"hi": "सुप्रभात", "es": "buenos días", "fr": "bonjour", "de": "guten Morgen", "it": "buongiorno",
	},
	"good night": {
		"hi": "शुभ रात्रि", "es": "buenas noches", "fr": "bonne nuit", "de": "gute Nacht", "it": "buonanotte",
	},
	"how are you": {
		"hi": "आप कैसे हैं", "es": "¿cómo estás?", "fr": "comment ça va ?", "de": "wie geht es dir?", "it": "come stai?",
	},
	"goodbye": {
		"hi": "अलविदा", "es": "adiós", "fr": "au revoir", "de": "auf Wiedersehen", "it": "arrivederci",
	},
	"yes": {
		"hi": "हाँ", "es": "sí", "fr": "oui", "de": "ja", "it": "sì",
	},
	"no": {
		"hi": "नहीं", "es": "no", "fr": "non", "de": "nein", "it": "no",
	},
	"please": {
		"hi": "कृपया", "es": "por favor", "fr": "s'il vous plaît", "de": "bitte", "it": "per favore",
	},
	"sorry": {
		"hi": "माफ़ कीजिए", "es": "lo siento", "fr": "désolé", "de": "entschuldigung", "it": "scusa",
	},
	"welcome": {
		"hi": "स्वागत है", "es": "bienvenido", "fr": "bienvenue", "de": "willkommen", "it": "benvenuto",
	},
	"i love you": {
		"hi": "मैं तुमसे प्यार करता हूँ", "es": "te quiero", "fr": "je t'aime", "de": "ich liebe dich", "it": "ti amo",
	},
	"water": {
		"hi": "पानी", "es": "agua", "fr": "eau", "de": "Wasser", "it": "acqua",
	},
	"friend": {
		"hi": "दोस्त", "es": "amigo", "fr": "ami", "de": "Freund", "it": "amico",
	},
	"नमस्ते": {
		"en": "hello",
	},
	"धन्यवाद": {
		"en": "thank you",
	},
	"namaste": {
		"en": "hello",
	},
	"dhanyavad": {
		"en": "thank you",
	},
	"shukriya": {
		"en": "thanks",
	},
}

// Translator is the translate skill.
type Translator struct {
	cfg    TranslateConfig
	client *http.Client
	logger *slog.Logger
}

// NewTranslator returns the translate skill.
func NewTranslator(cfg TranslateConfig, client *http.Client, logger *slog.Logger) *Translator {
	return &Translator{cfg: cfg, client: client, logger: logger}
}

// Invoke implements skills.Invoker.
func (t *Translator) Invoke(ctx context.Context, req skills.Request) (*skills.Result, error) {
	text := strings.TrimSpace(req.Slots["text"])
	target := req.Slots["target"]

	translation, err := t.Translate(ctx, text, target)
	if err != nil {
		return nil, err
	}
	return fields("text", text, "target", target, "translation", translation), nil
}

// Translate consults the phrasebook and then the remote service.
func (t *Translator) Translate(ctx context.Context, text, target string) (string, error) {
	key := strings.ToLower(strings.Trim(text, " ?!.,"))
	if tr, ok := phrasebook[key][target]; ok {
		return tr, nil
	}
	if t.cfg.Endpoint == "" {
		return "", fmt.Errorf("%w: %q to %s", ErrNoTranslation, text, target)
	}

	tr, err := t.remote(ctx, text, target)
	if err != nil {
		t.logger.Warn("translate: service failed", "endpoint", t.cfg.Endpoint, "err", err)
		return "", fmt.Errorf("%w: %v", ErrNoTranslation, err)
	}
	return tr, nil
}

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func (t *Translator) remote(ctx context.Context, text, target string) (string, error) {
	body, err := json.Marshal(libreRequest{Q: text, Source: "auto", Target: target, Format: "text", APIKey: t.cfg.APIKey})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out libreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
	}
	if out.TranslatedText == "" {
		return "", errors.New("empty translation")
	}
	return out.TranslatedText, nil
}
