package builtin

import (
	"context"
	"time"

	"github.com/aren-assistant/aren/internal/aren/normalize"
	"github.com/aren-assistant/aren/internal/aren/skills"
)

// IdentityConfig is what the assistant says about itself.
type IdentityConfig struct {
	Name    string
	Creator string
}

// DefaultIdentity is used for empty IdentityConfig fields.
var DefaultIdentity = IdentityConfig{Name: "AREN", Creator: "the AREN developers"}

func identity(cfg IdentityConfig) skills.Invoker {
	if cfg.Name == "" {
		cfg.Name = DefaultIdentity.Name
	}
	if cfg.Creator == "" {
		cfg.Creator = DefaultIdentity.Creator
	}
	return skills.InvokerFunc(func(context.Context, skills.Request) (*skills.Result, error) {
		return fields("name", cfg.Name, "creator", cfg.Creator), nil
	})
}

// jokes are picked by turn index so a replayed conversation tells the same
// jokes.
var jokes = map[normalize.Lang][]string{
	normalize.English: {
		"Why did the computer go to the doctor? Because it had a virus!",
		"Why was the computer cold? It left its Windows open!",
		"Why do programmers prefer dark mode? Because light attracts bugs!",
		"What's a computer's favourite snack? Microchips!",
		"Computers make very fast, very accurate mistakes.",
	},
	normalize.Hindi: {
		"मैं AI हूँ, मुझे नींद नहीं आती!",
		"रोबोट डरते क्यों नहीं? क्योंकि उनके पास दिल नहीं होता!",
		"कंप्यूटर डॉक्टर के पास क्यों गया? क्योंकि उसे वायरस हो गया था!",
	},
	normalize.Mixed: {
		"Main AI hoon, mujhe neend nahi aati!",
		"Robots darte kyun nahi? Kyunki unke paas dil nahi hota!",
		"Computer doctor ke paas kyun gaya? Kyunki usse virus ho gaya tha!",
	},
}

func joke(_ context.Context, req skills.Request) (*skills.Result, error) {
	list, ok := jokes[req.Lang]
	if !ok {
		list = jokes[normalize.English]
	}
	return fields("joke", list[req.Turn%len(list)]), nil
}

type greeting struct {
	now func() time.Time
}

func (g *greeting) Invoke(_ context.Context, req skills.Request) (*skills.Result, error) {
	return fields("part", PartOfDay(g.now()), "name", req.Prefs[skills.PrefName]), nil
}

func farewell(_ context.Context, req skills.Request) (*skills.Result, error) {
	return fields("name", req.Prefs[skills.PrefName]), nil
}
