package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aren-assistant/aren/common/retry"
	"github.com/aren-assistant/aren/internal/aren/memory"
	"github.com/aren-assistant/aren/internal/aren/normalize"
)

var _ memory.HistorySink = (*Store)(nil)

// ErrInvalidRecord is returned for rows that can never be written.
var ErrInvalidRecord = errors.New("invalid record")

// AppendHistory stores one recorded turn. Writing the same turn twice is a
// no-op, so retried writes are safe. Errors that a retry cannot fix are
// marked retry.Permanent.
func (s *Store) AppendHistory(ctx context.Context, sessionID string, rec memory.TurnRecord) error {
	if sessionID == "" || rec.ID == "" {
		return retry.Permanent(fmt.Errorf("%w: turn needs an ID and a session", ErrInvalidRecord))
	}
	slots, err := marshalOptional(rec.Slots, len(rec.Slots) > 0)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal slots: %w", err))
	}
	alts, err := marshalOptional(rec.Alternatives, len(rec.Alternatives) > 0)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal alternatives: %w", err))
	}

	var kind sql.NullString
	if rec.Kind != memory.KindNone {
		kind = sql.NullString{String: string(rec.Kind), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, turn_index, utterance, lang, skill, slots_json,
			confidence, reply, outcome, kind, alternatives_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, sessionID, rec.Index, rec.Utterance, string(rec.Lang), rec.Skill, slots,
		rec.Confidence, rec.Reply, string(rec.Outcome), kind, alts, rec.At.UTC())
	if err != nil {
		return permanentIfConstraint(fmt.Errorf("failed to append turn %s: %w", rec.ID, err))
	}
	return nil
}

// permanentIfConstraint marks constraint violations as permanent; busy and
// locked databases stay retryable.
func permanentIfConstraint(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return retry.Permanent(err)
	}
	return err
}

// History returns the latest limit turns of a session, oldest first. A
// limit of zero or less returns every turn.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]memory.TurnRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, turn_index, utterance, lang, skill, slots_json,
			confidence, reply, outcome, kind, alternatives_json, at
		FROM (
			SELECT * FROM turns WHERE session_id = ?
			ORDER BY turn_index DESC
			LIMIT ?
		)
		ORDER BY turn_index ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []memory.TurnRecord
	for rows.Next() {
		var (
			rec               memory.TurnRecord
			lang, outcome     string
			slots, kind, alts sql.NullString
			at                time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Index, &rec.Utterance, &lang, &rec.Skill,
			&slots, &rec.Confidence, &rec.Reply, &outcome, &kind, &alts, &at); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		rec.Lang = normalize.Lang(lang)
		rec.Outcome = memory.Outcome(outcome)
		rec.Kind = memory.Kind(kind.String)
		rec.At = at.UTC()
		if slots.Valid {
			if err := json.Unmarshal([]byte(slots.String), &rec.Slots); err != nil {
				return nil, fmt.Errorf("failed to decode slots of turn %s: %w", rec.ID, err)
			}
		}
		if alts.Valid {
			if err := json.Unmarshal([]byte(alts.String), &rec.Alternatives); err != nil {
				return nil, fmt.Errorf("failed to decode alternatives of turn %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneHistory deletes turns recorded before cutoff and returns how many
// were removed.
func (s *Store) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

func marshalOptional(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
