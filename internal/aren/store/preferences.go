package store

import (
	"context"
	"fmt"

	"github.com/aren-assistant/aren/common/retry"
	"github.com/aren-assistant/aren/internal/aren/memory"
)

var _ memory.PreferenceStore = (*Store)(nil)

// LoadPreferences returns every stored preference of userID. A user with no
// preferences gets an empty map.
func (s *Store) LoadPreferences(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM preferences WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}

// SavePreferences upserts prefs for userID. Keys not in prefs are kept.
func (s *Store) SavePreferences(ctx context.Context, userID string, prefs map[string]string) error {
	if len(prefs) == 0 {
		return nil
	}
	if userID == "" {
		return retry.Permanent(fmt.Errorf("%w: preferences need a user", ErrInvalidRecord))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin preference update: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	for k, v := range prefs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO preferences (user_id, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, userID, k, v, now); err != nil {
			return permanentIfConstraint(fmt.Errorf("failed to save preference %s: %w", k, err))
		}
	}
	return tx.Commit()
}

// DeletePreferences forgets everything stored for userID.
func (s *Store) DeletePreferences(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM preferences WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	return nil
}
