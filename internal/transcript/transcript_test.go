package transcript

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAppendOrdering(t *testing.T) {
	tr := New()
	tr.Append(NewTurn(RoleAgent, "Hi, I have a question about my bill."))
	tr.Append(NewTurn(RoleCaller, "Of course, let me pull that up."))
	tr.Append(NewTurn(RoleAgent, "Thank you."))

	turns := tr.Turns()
	if len(turns) != 3 {
		t.Fatalf("Len = %d, want 3", len(turns))
	}
	if turns[0].Role != RoleAgent || turns[1].Role != RoleCaller {
		t.Errorf("unexpected role order: %q, %q", turns[0].Role, turns[1].Role)
	}
	if tr.Count(RoleAgent) != 2 || tr.Count(RoleCaller) != 1 {
		t.Errorf("Count = agent %d / caller %d, want 2 / 1", tr.Count(RoleAgent), tr.Count(RoleCaller))
	}
}

func TestTurnsReturnsCopy(t *testing.T) {
	tr := New()
	tr.Append(NewTurn(RoleCaller, "hello"))
	turns := tr.Turns()
	turns[0].Content = "mutated"
	if tr.Turns()[0].Content != "hello" {
		t.Error("Turns() exposed internal slice")
	}
}

func TestRender(t *testing.T) {
	tr := New()
	tr.Append(NewTurn(RoleAgent, "My card was declined."))
	tr.Append(NewTurn(RoleCaller, "I'm sorry to hear that."))

	got := tr.Render()
	want := "Agent: My card was declined.\nTrainee: I'm sorry to hear that.\n"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := FromTurns([]Turn{
		{Role: RoleCaller, Content: "hello", Timestamp: ts},
		{Role: RoleAgent, Content: "hi there", Timestamp: ts.Add(2 * time.Second)},
	})

	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back Transcript
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Len() != 2 {
		t.Fatalf("Len after round trip = %d, want 2", back.Len())
	}
	if back.Turns()[1].Content != "hi there" {
		t.Errorf("turn content lost: %+v", back.Turns()[1])
	}
}

func TestEmptyTranscriptMarshalsAsArray(t *testing.T) {
	data, err := json.Marshal(New())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("empty transcript = %s, want []", data)
	}
}

func TestUnmarshalRejectsUnknownRole(t *testing.T) {
	var tr Transcript
	err := json.Unmarshal([]byte(`[{"role":"narrator","content":"x","timestamp":"2026-03-01T10:00:00Z"}]`), &tr)
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
	if !strings.Contains(err.Error(), "narrator") {
		t.Errorf("error should name the bad role: %v", err)
	}
}
