package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/knowledgehunter6/main-line/internal/store"
	"github.com/knowledgehunter6/main-line/pkg/score"
)

// Postgres error codes relevant to feedback inserts.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// InsertFeedback implements [store.FeedbackStore]. The unique index on
// (call_session_id, is_automated) enforces the one-record-per-kind rule;
// the foreign key enforces session existence.
func (s *Store) InsertFeedback(ctx context.Context, f *store.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	scoresJSON, err := json.Marshal(f.Scores)
	if err != nil {
		return fmt.Errorf("feedback store: encode scores: %w", err)
	}

	const q = `
		INSERT INTO call_feedback
		    (id, call_session_id, scores, comments, is_automated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.pool.Exec(ctx, q,
		f.ID,
		f.SessionID,
		scoresJSON,
		f.Comments,
		f.IsAutomated,
		f.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return store.ErrDuplicateFeedback
			case pgForeignKeyViolation:
				return store.ErrNotFound
			}
		}
		return fmt.Errorf("feedback store: insert: %w", err)
	}
	return nil
}

// feedbackForSessions returns all feedback records for the given session
// ids, grouped by session id.
func (s *Store) feedbackForSessions(ctx context.Context, ids []string) (map[string][]store.Feedback, error) {
	const q = `
		SELECT id, call_session_id, scores, comments, is_automated, created_at
		FROM   call_feedback
		WHERE  call_session_id = ANY($1)`

	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("feedback store: query: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Feedback, error) {
		var (
			f          store.Feedback
			scoresJSON []byte
		)
		if err := row.Scan(
			&f.ID,
			&f.SessionID,
			&scoresJSON,
			&f.Comments,
			&f.IsAutomated,
			&f.CreatedAt,
		); err != nil {
			return store.Feedback{}, err
		}
		if len(scoresJSON) > 0 {
			var scores score.Set
			if err := json.Unmarshal(scoresJSON, &scores); err != nil {
				return store.Feedback{}, err
			}
			f.Scores = scores
		}
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("feedback store: scan rows: %w", err)
	}

	out := make(map[string][]store.Feedback, len(ids))
	for _, f := range records {
		out[f.SessionID] = append(out[f.SessionID], f)
	}
	return out, nil
}
