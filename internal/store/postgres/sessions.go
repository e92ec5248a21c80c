package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/knowledgehunter6/main-line/internal/store"
	"github.com/knowledgehunter6/main-line/internal/transcript"
)

// InsertSession implements [store.SessionStore].
func (s *Store) InsertSession(ctx context.Context, sess *store.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	turnsJSON, err := marshalTurns(sess.Transcript)
	if err != nil {
		return fmt.Errorf("session store: encode transcript: %w", err)
	}

	const q = `
		INSERT INTO call_sessions
		    (id, trainee_id, scenario, transcript, recording_url, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, q,
		sess.ID,
		sess.TraineeID,
		sess.Scenario,
		turnsJSON,
		sess.RecordingURL,
		sess.DurationSeconds,
		sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("session store: insert: %w", err)
	}
	return nil
}

// FinishSession implements [store.SessionStore].
func (s *Store) FinishSession(ctx context.Context, id string, durationSeconds int, turns []transcript.Turn) error {
	turnsJSON, err := marshalTurns(turns)
	if err != nil {
		return fmt.Errorf("session store: encode transcript: %w", err)
	}

	const q = `
		UPDATE call_sessions
		SET    duration_seconds = $2, transcript = $3
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, durationSeconds, turnsJSON)
	if err != nil {
		return fmt.Errorf("session store: finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(ctx context.Context, id string) (store.SessionWithFeedback, error) {
	const q = `
		SELECT id, trainee_id, scenario, transcript, recording_url, duration_seconds, created_at
		FROM   call_sessions
		WHERE  id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SessionWithFeedback{}, store.ErrNotFound
		}
		return store.SessionWithFeedback{}, fmt.Errorf("session store: get: %w", err)
	}

	fb, err := s.feedbackForSessions(ctx, []string{sess.ID})
	if err != nil {
		return store.SessionWithFeedback{}, err
	}
	return joinFeedback(sess, fb[sess.ID]), nil
}

// ListSessions implements [store.SessionStore]. Sessions are returned most
// recent first.
func (s *Store) ListSessions(ctx context.Context, traineeID string, page store.Page) ([]store.SessionWithFeedback, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = store.DefaultPageLimit
	}

	const q = `
		SELECT id, trainee_id, scenario, transcript, recording_url, duration_seconds, created_at
		FROM   call_sessions
		WHERE  trainee_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, q, traineeID, limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Session, error) {
		return scanSession(row)
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if len(sessions) == 0 {
		return []store.SessionWithFeedback{}, nil
	}

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	fb, err := s.feedbackForSessions(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]store.SessionWithFeedback, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, joinFeedback(sess, fb[sess.ID]))
	}
	return out, nil
}

// scanRow is the common subset of pgx.Row and pgx.CollectableRow.
type scanRow interface {
	Scan(dest ...any) error
}

// scanSession scans one call_sessions row.
func scanSession(row scanRow) (store.Session, error) {
	var (
		sess       store.Session
		transcript []byte
	)
	if err := row.Scan(
		&sess.ID,
		&sess.TraineeID,
		&sess.Scenario,
		&transcript,
		&sess.RecordingURL,
		&sess.DurationSeconds,
		&sess.CreatedAt,
	); err != nil {
		return store.Session{}, err
	}
	if err := unmarshalTurns(transcript, &sess.Transcript); err != nil {
		return store.Session{}, err
	}
	return sess, nil
}

// joinFeedback attaches feedback records to a session.
func joinFeedback(sess store.Session, records []store.Feedback) store.SessionWithFeedback {
	swf := store.SessionWithFeedback{Session: sess}
	for _, f := range records {
		f := f
		if f.IsAutomated {
			swf.Automated = &f
		} else {
			swf.Human = &f
		}
	}
	return swf
}

// marshalTurns encodes a turn slice as the JSONB storage shape. A nil
// slice encodes as an empty array so the column never holds SQL NULL.
func marshalTurns(turns []transcript.Turn) ([]byte, error) {
	if turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(turns)
}

// unmarshalTurns decodes the JSONB transcript column.
func unmarshalTurns(data []byte, turns *[]transcript.Turn) error {
	if len(data) == 0 {
		*turns = nil
		return nil
	}
	return json.Unmarshal(data, turns)
}
