package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/knowledgehunter6/main-line/internal/transcript"
	"github.com/knowledgehunter6/main-line/pkg/score"
)

func TestMemorySessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s := &Session{TraineeID: "trainee-1", Scenario: "billing dispute"}
	if err := m.InsertSession(ctx, s); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	if s.ID == "" {
		t.Fatal("InsertSession did not assign an ID")
	}
	if s.CreatedAt.IsZero() {
		t.Fatal("InsertSession did not stamp CreatedAt")
	}

	turns := []transcript.Turn{
		transcript.NewTurn(transcript.RoleAgent, "Hi, my claim was denied."),
		transcript.NewTurn(transcript.RoleCaller, "Let me look into that."),
	}
	if err := m.FinishSession(ctx, s.ID, 95, turns); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}

	got, err := m.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Session.DurationSeconds != 95 {
		t.Errorf("duration = %d, want 95", got.Session.DurationSeconds)
	}
	if len(got.Session.Transcript) != 2 {
		t.Errorf("transcript turns = %d, want 2", len(got.Session.Transcript))
	}
	if got.Display() != nil {
		t.Error("expected no feedback yet")
	}
}

func TestMemoryFinishUnknownSession(t *testing.T) {
	m := NewMemory()
	err := m.FinishSession(context.Background(), "missing", 10, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishSession = %v, want ErrNotFound", err)
	}
}

func TestMemoryFeedbackKinds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s := &Session{TraineeID: "trainee-1"}
	if err := m.InsertSession(ctx, s); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	auto := &Feedback{SessionID: s.ID, Scores: score.Set{Clarity: 7, ProblemSolving: 7, Empathy: 7, Control: 7, Speed: 7}, IsAutomated: true}
	if err := m.InsertFeedback(ctx, auto); err != nil {
		t.Fatalf("InsertFeedback automated: %v", err)
	}

	// A second automated record must be rejected.
	dup := &Feedback{SessionID: s.ID, IsAutomated: true}
	if err := m.InsertFeedback(ctx, dup); !errors.Is(err, ErrDuplicateFeedback) {
		t.Errorf("duplicate automated = %v, want ErrDuplicateFeedback", err)
	}

	// A human record is allowed alongside the automated one and wins for
	// display.
	human := &Feedback{SessionID: s.ID, Scores: score.Set{Clarity: 9, ProblemSolving: 9, Empathy: 9, Control: 9, Speed: 9}, IsAutomated: false}
	if err := m.InsertFeedback(ctx, human); err != nil {
		t.Fatalf("InsertFeedback human: %v", err)
	}

	got, err := m.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Automated == nil || got.Human == nil {
		t.Fatalf("expected both feedback kinds, got %+v", got)
	}
	if got.Display().Scores.Clarity != 9 {
		t.Errorf("Display() should prefer the human record, got %+v", got.Display())
	}
}

func TestMemoryFeedbackUnknownSession(t *testing.T) {
	m := NewMemory()
	err := m.InsertFeedback(context.Background(), &Feedback{SessionID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("InsertFeedback = %v, want ErrNotFound", err)
	}
}

func TestMemoryListSessionsOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s := &Session{TraineeID: "trainee-1", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := m.InsertSession(ctx, s); err != nil {
			t.Fatalf("InsertSession: %v", err)
		}
	}
	// A different trainee must not leak in.
	if err := m.InsertSession(ctx, &Session{TraineeID: "trainee-2"}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	got, err := m.ListSessions(ctx, "trainee-1", Page{Limit: 3})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("page size = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Session.CreatedAt.After(got[i-1].Session.CreatedAt) {
			t.Error("sessions not ordered most recent first")
		}
	}

	rest, err := m.ListSessions(ctx, "trainee-1", Page{Limit: 3, Offset: 3})
	if err != nil {
		t.Fatalf("ListSessions offset: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("remaining = %d, want 2", len(rest))
	}

	empty, err := m.ListSessions(ctx, "trainee-1", Page{Offset: 100})
	if err != nil {
		t.Fatalf("ListSessions big offset: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty page, got %d", len(empty))
	}
}

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	u := &User{Email: "pat@example.com", FirstName: "Pat", Role: RoleTrainer}
	if err := m.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	byID, err := m.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if byID.Email != "pat@example.com" {
		t.Errorf("unexpected user: %+v", byID)
	}

	byEmail, err := m.GetUserByEmail(ctx, "pat@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != u.ID {
		t.Errorf("lookup mismatch: %q vs %q", byEmail.ID, u.ID)
	}

	if _, err := m.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser missing = %v, want ErrNotFound", err)
	}
}

func TestRolePermissions(t *testing.T) {
	if !RoleTrainer.CanOverrideScenario() || !RoleAdmin.CanOverrideScenario() {
		t.Error("trainer and admin should be able to override the scenario")
	}
	if RoleTrainee.CanOverrideScenario() {
		t.Error("trainee should not be able to override the scenario")
	}
	if Role("guest").Valid() {
		t.Error("unknown role should not be valid")
	}
}
