package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knowledgehunter6/main-line/internal/transcript"
)

// Memory is an in-process Store implementation backed by maps. It is the
// storage for unit tests and local development without a database.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]Session
	feedback map[string][]Feedback // keyed by session id
	users    map[string]User
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]Session),
		feedback: make(map[string][]Feedback),
		users:    make(map[string]User),
	}
}

// InsertSession implements SessionStore.
func (m *Memory) InsertSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	stored := *s
	stored.Transcript = append([]transcript.Turn(nil), s.Transcript...)
	m.sessions[s.ID] = stored
	return nil
}

// FinishSession implements SessionStore.
func (m *Memory) FinishSession(_ context.Context, id string, durationSeconds int, turns []transcript.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.DurationSeconds = durationSeconds
	s.Transcript = append([]transcript.Turn(nil), turns...)
	m.sessions[id] = s
	return nil
}

// GetSession implements SessionStore.
func (m *Memory) GetSession(_ context.Context, id string) (SessionWithFeedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return SessionWithFeedback{}, ErrNotFound
	}
	return m.joinLocked(s), nil
}

// ListSessions implements SessionStore.
func (m *Memory) ListSessions(_ context.Context, traineeID string, page Page) ([]SessionWithFeedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []Session
	for _, s := range m.sessions {
		if s.TraineeID == traineeID {
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	offset := page.Offset
	if offset >= len(all) {
		return []SessionWithFeedback{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	out := make([]SessionWithFeedback, 0, end-offset)
	for _, s := range all[offset:end] {
		out = append(out, m.joinLocked(s))
	}
	return out, nil
}

// InsertFeedback implements FeedbackStore.
func (m *Memory) InsertFeedback(_ context.Context, f *Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[f.SessionID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.feedback[f.SessionID] {
		if existing.IsAutomated == f.IsAutomated {
			return ErrDuplicateFeedback
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	m.feedback[f.SessionID] = append(m.feedback[f.SessionID], *f)
	return nil
}

// CreateUser implements UserStore.
func (m *Memory) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = *u
	return nil
}

// GetUser implements UserStore.
func (m *Memory) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// GetUserByEmail implements UserStore.
func (m *Memory) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

// joinLocked attaches feedback records to a session. Callers hold m.mu.
func (m *Memory) joinLocked(s Session) SessionWithFeedback {
	swf := SessionWithFeedback{Session: s}
	swf.Session.Transcript = append([]transcript.Turn(nil), s.Transcript...)
	for _, f := range m.feedback[s.ID] {
		f := f
		if f.IsAutomated {
			swf.Automated = &f
		} else {
			swf.Human = &f
		}
	}
	return swf
}
