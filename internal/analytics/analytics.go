// Package analytics derives trainee progress summaries from persisted
// sessions and their feedback. Snapshots are recomputed on demand and
// never stored.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/knowledgehunter6/main-line/internal/store"
	"github.com/knowledgehunter6/main-line/pkg/score"
)

// TrendEntries caps how many recent scored sessions appear in the trend.
const TrendEntries = 10

// TrendPoint is one scored session's overall average, ordered most
// recent first in Snapshot.Trend.
type TrendPoint struct {
	SessionID string    `json:"sessionId"`
	Date      time.Time `json:"date"`
	Average   float64   `json:"average"`
}

// Snapshot summarises a trainee's training history.
type Snapshot struct {
	TotalCalls  int `json:"totalCalls"`
	ScoredCalls int `json:"scoredCalls"`

	// Averages holds the per-category mean over scored sessions. Zero
	// values when no session has feedback.
	Averages score.Set `json:"averages"`

	// OverallAverage is the mean of the five category averages.
	OverallAverage float64 `json:"overallAverage"`

	Tier        score.Tier        `json:"tier"`
	Performance score.Performance `json:"performance"`

	// NextMilestone is the next cumulative call-count milestone, zero
	// once every milestone has been passed. CallsToMilestone is how many
	// more calls reach it.
	NextMilestone    int `json:"nextMilestone"`
	CallsToMilestone int `json:"callsToMilestone"`

	Trend []TrendPoint `json:"trend"`
}

// Aggregate computes a snapshot from the given sessions. Sessions
// without feedback count toward TotalCalls but are excluded from score
// averages; each scored session contributes its displayed feedback
// (human when present, otherwise automated). Aggregate is pure: equal
// inputs yield equal snapshots.
func Aggregate(sessions []store.SessionWithFeedback) Snapshot {
	snap := Snapshot{TotalCalls: len(sessions)}

	var sum score.Set
	for _, s := range sessions {
		fb := s.Display()
		if fb == nil {
			continue
		}
		snap.ScoredCalls++
		sum.Clarity += fb.Scores.Clarity
		sum.ProblemSolving += fb.Scores.ProblemSolving
		sum.Empathy += fb.Scores.Empathy
		sum.Control += fb.Scores.Control
		sum.Speed += fb.Scores.Speed

		if len(snap.Trend) < TrendEntries {
			snap.Trend = append(snap.Trend, TrendPoint{
				SessionID: s.Session.ID,
				Date:      s.Session.CreatedAt,
				Average:   fb.Scores.Average(),
			})
		}
	}

	if snap.ScoredCalls > 0 {
		n := float64(snap.ScoredCalls)
		snap.Averages = score.Set{
			Clarity:        sum.Clarity / n,
			ProblemSolving: sum.ProblemSolving / n,
			Empathy:        sum.Empathy / n,
			Control:        sum.Control / n,
			Speed:          sum.Speed / n,
		}
		snap.OverallAverage = snap.Averages.Average()
	}

	snap.Tier = score.TierFor(snap.OverallAverage)
	snap.Performance = score.CategorizePerformance(snap.OverallAverage)
	snap.NextMilestone = score.NextMilestone(snap.TotalCalls)
	if snap.NextMilestone > 0 {
		snap.CallsToMilestone = snap.NextMilestone - snap.TotalCalls
	}
	return snap
}

// Service answers snapshot queries against a session store.
type Service struct {
	sessions store.SessionStore
}

// NewService wraps a session store.
func NewService(sessions store.SessionStore) *Service {
	return &Service{sessions: sessions}
}

// snapshotPageLimit bounds how much history feeds a snapshot. Averages
// over the most recent page approximate the all-time figures closely
// enough for the dashboard while keeping the query cheap.
const snapshotPageLimit = 500

// Snapshot loads the trainee's recent history and aggregates it. Store
// results arrive most recent first, so the trend covers the latest
// scored sessions.
func (s *Service) Snapshot(ctx context.Context, traineeID string) (Snapshot, error) {
	sessions, err := s.sessions.ListSessions(ctx, traineeID, store.Page{Limit: snapshotPageLimit})
	if err != nil {
		return Snapshot{}, fmt.Errorf("analytics: list sessions: %w", err)
	}
	return Aggregate(sessions), nil
}
