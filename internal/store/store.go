// Package store defines the persistence contracts for sessions, feedback
// and users, together with the record types they exchange. The postgres
// subpackage provides the production implementation; Memory is an
// in-process implementation for tests and local development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/knowledgehunter6/main-line/internal/transcript"
	"github.com/knowledgehunter6/main-line/pkg/score"
)

// Sentinel errors returned by store implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateFeedback indicates a session already has a feedback
	// record of the same kind (automated or human).
	ErrDuplicateFeedback = errors.New("store: feedback of this kind already exists for session")
)

// Role classifies a user's permissions.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainer Role = "trainer"
	RoleTrainee Role = "trainee"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleTrainer || r == RoleTrainee
}

// CanOverrideScenario reports whether users with this role may supply a
// custom caller scenario when starting a call.
func (r Role) CanOverrideScenario() bool {
	return r == RoleAdmin || r == RoleTrainer
}

// CanReview reports whether users with this role may submit human
// feedback on a session.
func (r Role) CanReview() bool {
	return r == RoleAdmin || r == RoleTrainer
}

// User is an account record.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      Role
	CreatedAt time.Time
}

// Session is one persisted simulated call. A record is inserted with an
// empty transcript the moment the call starts and updated once with the
// final duration and transcript when the call ends; it is never mutated
// afterward.
type Session struct {
	ID              string
	TraineeID       string
	Scenario        string
	Transcript      []transcript.Turn
	RecordingURL    string
	DurationSeconds int
	CreatedAt       time.Time
}

// Feedback is a scored evaluation of one session, produced either by the
// automated evaluator at call end or later by a human reviewer. At most
// one record of each kind may exist per session; the human record, when
// present, is authoritative for display.
type Feedback struct {
	ID          string
	SessionID   string
	Scores      score.Set
	Comments    string
	IsAutomated bool
	CreatedAt   time.Time
}

// SessionWithFeedback joins a session with its feedback records.
type SessionWithFeedback struct {
	Session   Session
	Automated *Feedback
	Human     *Feedback
}

// Display returns the feedback record that should be shown for this
// session: the human record when present, otherwise the automated one.
// Returns nil when the session has no feedback.
func (s SessionWithFeedback) Display() *Feedback {
	if s.Human != nil {
		return s.Human
	}
	return s.Automated
}

// Page bounds a list query. A zero Limit means the implementation default.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPageLimit applies when Page.Limit is zero.
const DefaultPageLimit = 50

// SessionStore persists call sessions.
type SessionStore interface {
	// InsertSession creates a new session record. A missing ID is
	// assigned; CreatedAt is stamped when zero.
	InsertSession(ctx context.Context, s *Session) error

	// FinishSession writes the final duration and transcript onto an
	// existing session. Returns ErrNotFound for an unknown id.
	FinishSession(ctx context.Context, id string, durationSeconds int, turns []transcript.Turn) error

	// GetSession returns one session by id with its feedback records.
	GetSession(ctx context.Context, id string) (SessionWithFeedback, error)

	// ListSessions returns the trainee's sessions joined with feedback,
	// most recent first.
	ListSessions(ctx context.Context, traineeID string, page Page) ([]SessionWithFeedback, error)
}

// FeedbackStore persists feedback records.
type FeedbackStore interface {
	// InsertFeedback creates a feedback record. A missing ID is assigned;
	// CreatedAt is stamped when zero. Returns ErrDuplicateFeedback when
	// the session already has a record of the same kind and ErrNotFound
	// when the session does not exist.
	InsertFeedback(ctx context.Context, f *Feedback) error
}

// UserStore persists user accounts.
type UserStore interface {
	// CreateUser inserts a new account. A missing ID is assigned.
	CreateUser(ctx context.Context, u *User) error

	// GetUser returns one account by id. Returns ErrNotFound when absent.
	GetUser(ctx context.Context, id string) (User, error)

	// GetUserByEmail returns one account by email. Returns ErrNotFound
	// when absent.
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// Store bundles all persistence concerns behind one handle.
type Store interface {
	SessionStore
	FeedbackStore
	UserStore
}
