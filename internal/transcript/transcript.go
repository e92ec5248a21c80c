// Package transcript holds the conversation model for a simulated call:
// an append-only sequence of turns attributed to the caller (the trainee
// typing or speaking) or the agent (the generative backend playing the
// customer). It also provides phonetic correction of transcribed speech
// against a domain vocabulary.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	// RoleCaller is the trainee's side of the conversation.
	RoleCaller Role = "caller"
	// RoleAgent is the conversational backend's side.
	RoleAgent Role = "agent"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleCaller || r == RoleAgent
}

// Turn is a single utterance. Turns are immutable once created; ordering
// within a transcript is insertion order.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn stamps a turn with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Transcript is an append-only ordered sequence of turns. It is owned by
// exactly one active session while the call runs and becomes an immutable
// record once persisted. Transcript is not safe for concurrent use; the
// session controller serializes access.
type Transcript struct {
	turns []Turn
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// FromTurns builds a transcript from an existing turn slice, e.g. when
// loading a persisted session. The slice is copied.
func FromTurns(turns []Turn) *Transcript {
	t := &Transcript{turns: make([]Turn, len(turns))}
	copy(t.turns, turns)
	return t
}

// Append adds a turn to the end of the transcript.
func (t *Transcript) Append(turn Turn) {
	t.turns = append(t.turns, turn)
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Turns returns a copy of the turn sequence.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Count returns how many turns the given role produced.
func (t *Transcript) Count(role Role) int {
	n := 0
	for _, turn := range t.turns {
		if turn.Role == role {
			n++
		}
	}
	return n
}

// Render formats the transcript as plain text for inclusion in an
// evaluation prompt, one line per turn.
func (t *Transcript) Render() string {
	var b strings.Builder
	for _, turn := range t.turns {
		label := "Agent"
		if turn.Role == RoleCaller {
			label = "Trainee"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, turn.Content)
	}
	return b.String()
}

// MarshalJSON encodes the transcript as a flat JSON array of turns. This
// array is the durable storage shape.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	if t.turns == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.turns)
}

// UnmarshalJSON decodes a flat JSON array of turns.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return fmt.Errorf("transcript: decode turns: %w", err)
	}
	for i, turn := range turns {
		if !turn.Role.Valid() {
			return fmt.Errorf("transcript: turn %d has unknown role %q", i, turn.Role)
		}
	}
	t.turns = turns
	return nil
}
