package memory

import "context"

// HistorySink durably records finished turns. The in-memory session is the
// source of truth for resolution; the sink is a write-only archive.
type HistorySink interface {
	AppendHistory(ctx context.Context, sessionID string, rec TurnRecord) error
}

// PreferenceSource seeds a new session's preferences.
type PreferenceSource interface {
	LoadPreferences(ctx context.Context, userID string) (map[string]string, error)
}

// PreferenceStore is a PreferenceSource that can also persist updates.
type PreferenceStore interface {
	PreferenceSource
	SavePreferences(ctx context.Context, userID string, prefs map[string]string) error
}

// Noop discards history and has no stored preferences.
type Noop struct{}

func (Noop) AppendHistory(context.Context, string, TurnRecord) error { return nil }

func (Noop) LoadPreferences(context.Context, string) (map[string]string, error) { return nil, nil }

func (Noop) SavePreferences(context.Context, string, map[string]string) error { return nil }
