// Package supabase stores turn history and user preferences in Supabase
// tables through PostgREST. It is the hosted alternative to the SQLite
// store and expects tables shaped like the store's migrations.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/aren-assistant/aren/common/retry"
	"github.com/aren-assistant/aren/internal/aren/memory"
)

const (
	turnsTable       = "turns"
	preferencesTable = "preferences"
)

// Config holds Supabase connection configuration.
type Config struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration // Default: 5 minutes
}

// Client implements memory.HistorySink and memory.PreferenceStore.
type Client struct {
	client *supabase.Client
	cache  *prefCache
	now    func() time.Time
}

var (
	_ memory.HistorySink     = (*Client)(nil)
	_ memory.PreferenceStore = (*Client)(nil)
)

// New creates a Supabase client. Nothing is sent until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("supabase API key is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &Client{
		client: client,
		cache:  newPrefCache(cfg.CacheTTL, time.Now),
		now:    time.Now,
	}, nil
}

// AppendHistory inserts one turn. A repeated ID overwrites the same row,
// so retried writes are safe.
func (c *Client) AppendHistory(_ context.Context, sessionID string, rec memory.TurnRecord) error {
	row := toTurnRow(sessionID, rec)
	_, _, err := c.client.From(turnsTable).
		Insert(row, true, "id", "minimal", "").
		Execute()
	if err != nil {
		return classify(fmt.Errorf("failed to append turn %s: %w", rec.ID, err))
	}
	return nil
}

// LoadPreferences returns the user's preferences, served from a short-lived
// cache when possible.
func (c *Client) LoadPreferences(_ context.Context, userID string) (map[string]string, error) {
	if prefs, ok := c.cache.get(userID); ok {
		return prefs, nil
	}

	var rows []preferenceRow
	_, err := c.client.From(preferencesTable).
		Select("user_id,key,value", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	prefs := make(map[string]string, len(rows))
	for _, r := range rows {
		prefs[r.Key] = r.Value
	}
	c.cache.put(userID, prefs)
	return copyPrefs(prefs), nil
}

// SavePreferences upserts prefs and drops the cached copy.
func (c *Client) SavePreferences(_ context.Context, userID string, prefs map[string]string) error {
	if len(prefs) == 0 {
		return nil
	}
	rows := toPreferenceRows(userID, prefs, c.now())
	_, _, err := c.client.From(preferencesTable).
		Insert(rows, true, "user_id,key", "minimal", "").
		Execute()
	c.cache.drop(userID)
	if err != nil {
		return classify(fmt.Errorf("failed to save preferences: %w", err))
	}
	return nil
}

// permanentClasses are the SQLSTATE classes PostgREST reports for requests
// the database rejected outright: data exceptions, integrity violations and
// undefined tables or columns. Sending the same row again cannot succeed.
var permanentClasses = []string{"(22", "(23", "(42"}

// classify marks err permanent when the PostgREST error code falls in one of
// permanentClasses. postgrest-go formats those errors as "(code) message".
func classify(err error) error {
	msg := errors.Unwrap(err)
	if msg == nil {
		return err
	}
	for _, class := range permanentClasses {
		if strings.HasPrefix(msg.Error(), class) {
			return retry.Permanent(err)
		}
	}
	return err
}

// Close is a no-op; the client holds no connections of its own.
func (c *Client) Close() error {
	return nil
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

type turnRow struct {
	ID           string               `json:"id"`
	SessionID    string               `json:"session_id"`
	TurnIndex    int                  `json:"turn_index"`
	Utterance    string               `json:"utterance"`
	Lang         string               `json:"lang"`
	Skill        string               `json:"skill"`
	Slots        map[string]string    `json:"slots_json,omitempty"`
	Confidence   float64              `json:"confidence"`
	Reply        string               `json:"reply"`
	Outcome      string               `json:"outcome"`
	Kind         string               `json:"kind,omitempty"`
	Alternatives []memory.Alternative `json:"alternatives_json,omitempty"`
	At           time.Time            `json:"at"`
}

type preferenceRow struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toTurnRow(sessionID string, rec memory.TurnRecord) turnRow {
	return turnRow{
		ID:           rec.ID,
		SessionID:    sessionID,
		TurnIndex:    rec.Index,
		Utterance:    rec.Utterance,
		Lang:         string(rec.Lang),
		Skill:        rec.Skill,
		Slots:        rec.Slots,
		Confidence:   rec.Confidence,
		Reply:        rec.Reply,
		Outcome:      string(rec.Outcome),
		Kind:         string(rec.Kind),
		Alternatives: rec.Alternatives,
		At:           rec.At.UTC(),
	}
}

// toPreferenceRows orders rows by key so the request body is stable.
func toPreferenceRows(userID string, prefs map[string]string, now time.Time) []preferenceRow {
	rows := make([]preferenceRow, 0, len(prefs))
	for k, v := range prefs {
		rows = append(rows, preferenceRow{UserID: userID, Key: k, Value: v, UpdatedAt: now.UTC()})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

type prefCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]prefEntry
}

type prefEntry struct {
	prefs     map[string]string
	expiresAt time.Time
}

func newPrefCache(ttl time.Duration, now func() time.Time) *prefCache {
	return &prefCache{ttl: ttl, now: now, entries: make(map[string]prefEntry)}
}

func (c *prefCache) get(userID string) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return copyPrefs(e.prefs), true
}

func (c *prefCache) put(userID string, prefs map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = prefEntry{prefs: copyPrefs(prefs), expiresAt: c.now().Add(c.ttl)}
}

func (c *prefCache) drop(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func copyPrefs(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
