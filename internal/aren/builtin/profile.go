package builtin

import (
	"context"
	"fmt"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

// remember stores a preference the user stated about themselves. The
// update travels in Result.Prefs and is applied when the turn is recorded.
func remember(_ context.Context, req skills.Request) (*skills.Result, error) {
	key, value := req.Slots["key"], req.Slots["value"]
	if key == "" || value == "" {
		return nil, fmt.Errorf("remember: missing key or value")
	}
	res := fields("key", key, "value", value)
	if key == skills.PrefLanguage {
		res.Fields["value"] = skills.LanguageName(value)
	}
	res.Prefs = map[string]string{key: value}
	return res, nil
}

func whoami(_ context.Context, req skills.Request) (*skills.Result, error) {
	name := req.Prefs[skills.PrefName]
	if name == "" {
		return fields("variant", "unknown"), nil
	}
	return fields("name", name), nil
}
