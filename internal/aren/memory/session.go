// Package memory keeps per-session conversational context: a bounded FIFO of
// turn records plus long-lived user preferences.
//
// Sessions are owned by a Tracker and reached through a Handle that holds
// the session's lock for one full turn. Appending a turn record through the
// handle is the only way session state changes; eviction of the oldest
// record happens inside that append.
package memory

import (
	"strings"
	"time"

	"github.com/aren-assistant/aren/internal/aren/normalize"
)

// Outcome is the terminal status of a turn.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeAmbiguous  Outcome = "ambiguous"
	OutcomeSkillError Outcome = "skill_error"
	OutcomeRejected   Outcome = "rejected"
)

// Kind narrows an unsuccessful outcome to the error that produced it.
type Kind string

const (
	KindNone          Kind = ""
	KindInputRejected Kind = "input_rejected"
	KindNoIntent      Kind = "no_intent"
	KindAmbiguous     Kind = "ambiguous_intent"
	KindSkillError    Kind = "skill_error"
	KindContextMiss   Kind = "context_miss"
)

// NoSkill is the skill ID recorded when no skill was chosen.
const NoSkill = "none"

// Alternative is a candidate offered to the user in a disambiguating reply.
type Alternative struct {
	Skill string            `json:"skill"`
	Slots map[string]string `json:"slots,omitempty"`
}

// TurnRecord is the immutable record of one utterance and its reply.
type TurnRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	// Index is the turn's position in the session, counting evicted turns.
	Index      int               `json:"index"`
	Utterance  string            `json:"utterance"`
	Lang       normalize.Lang    `json:"lang"`
	Skill      string            `json:"skill"`
	Slots      map[string]string `json:"slots,omitempty"`
	Confidence float64           `json:"confidence"`
	Reply      string            `json:"reply"`
	Outcome    Outcome           `json:"outcome"`
	Kind       Kind              `json:"kind,omitempty"`
	// Alternatives is set on ambiguous turns.
	Alternatives []Alternative `json:"alternatives,omitempty"`
	// PrefUpdates are preference changes applied when the record is
	// appended.
	PrefUpdates map[string]string `json:"pref_updates,omitempty"`
	At          time.Time         `json:"at"`
}

// Snapshot is a copy of a session's state. Mutating it does not affect the
// session.
type Snapshot struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Turns     []TurnRecord      `json:"turns"`
	Prefs     map[string]string `json:"prefs"`
	NextIndex int               `json:"next_index"`
	StartedAt time.Time         `json:"started_at"`
	LastAt    time.Time         `json:"last_at"`
}

// Recent returns the turns newest first.
func (s Snapshot) Recent() []TurnRecord {
	out := make([]TurnRecord, len(s.Turns))
	for i, t := range s.Turns {
		out[len(s.Turns)-1-i] = t
	}
	return out
}

// session is the tracker's private, mutable session state.
type session struct {
	id        string
	userID    string
	turns     []TurnRecord
	prefs     map[string]string
	nextIndex int
	startedAt time.Time
	lastAt    time.Time
}

func (s *session) snapshot() Snapshot {
	turns := make([]TurnRecord, len(s.turns))
	for i, t := range s.turns {
		turns[i] = copyTurn(t)
	}
	return Snapshot{
		SessionID: s.id,
		UserID:    s.userID,
		Turns:     turns,
		Prefs:     copyMap(s.prefs),
		NextIndex: s.nextIndex,
		StartedAt: s.startedAt,
		LastAt:    s.lastAt,
	}
}

func restore(snap Snapshot) *session {
	s := &session{
		id:        snap.SessionID,
		userID:    snap.UserID,
		prefs:     copyMap(snap.Prefs),
		nextIndex: snap.NextIndex,
		startedAt: snap.StartedAt,
		lastAt:    snap.LastAt,
	}
	for _, t := range snap.Turns {
		s.turns = append(s.turns, copyTurn(t))
	}
	if s.prefs == nil {
		s.prefs = make(map[string]string)
	}
	return s
}

func copyTurn(t TurnRecord) TurnRecord {
	t.Slots = copyMap(t.Slots)
	t.PrefUpdates = copyMap(t.PrefUpdates)
	if t.Alternatives != nil {
		alts := make([]Alternative, len(t.Alternatives))
		for i, a := range t.Alternatives {
			alts[i] = Alternative{Skill: a.Skill, Slots: copyMap(a.Slots)}
		}
		t.Alternatives = alts
	}
	return t
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sessionSeparator joins a transport scope and a user in a session ID, as
// in "!room:example.org|@dev:example.org".
const sessionSeparator = "|"

// SessionKey builds a session ID from a transport scope and a user ID.
func SessionKey(scope, userID string) string {
	if scope == "" {
		return userID
	}
	return scope + sessionSeparator + userID
}

// UserID returns the user part of a session ID. Preferences are keyed by
// user, so the same person shares them across rooms.
func UserID(sessionID string) string {
	if i := strings.LastIndex(sessionID, sessionSeparator); i >= 0 {
		return sessionID[i+len(sessionSeparator):]
	}
	return sessionID
}
