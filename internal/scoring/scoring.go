// Package scoring evaluates finished calls. It renders the transcript into
// a rubric prompt, asks the LLM for JSON-constrained category scores, and
// repairs whatever comes back into a complete, in-range score set.
//
// Evaluation is best effort: a malformed category falls back to the scale
// midpoint and missing comments get a stock line. Only a completely failed
// request surfaces as an [*EvaluationError].
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knowledgehunter6/main-line/internal/observe"
	"github.com/knowledgehunter6/main-line/internal/transcript"
	"github.com/knowledgehunter6/main-line/pkg/provider/llm"
	"github.com/knowledgehunter6/main-line/pkg/score"
	"github.com/knowledgehunter6/main-line/pkg/types"
)

// DefaultComments is substituted when the evaluator returns no usable
// comment text.
const DefaultComments = "No specific feedback provided."

// rubricPrompt instructs the model to grade the trainee's side of the call.
const rubricPrompt = `You are a quality assurance reviewer for a health insurance call center.
You will be given the transcript of a training call between a trainee agent and a simulated member.
Grade the TRAINEE's performance only.

Score each category from 1 (poor) to 10 (excellent):
- clarity: how clearly the trainee communicated
- problemSolving: how effectively the trainee diagnosed and resolved the member's issue
- empathy: how well the trainee acknowledged the member's feelings
- control: how well the trainee guided the conversation
- speed: how efficiently the trainee moved the call toward resolution

Respond with a single JSON object and nothing else, in this exact shape:
{"clarity": 0, "problemSolving": 0, "empathy": 0, "control": 0, "speed": 0, "comments": "two or three sentences of concrete coaching feedback"}`

// evaluateTimeout bounds the grading request, which runs outside the
// gateway's retry machinery and would otherwise hang Ending indefinitely.
const evaluateTimeout = 60 * time.Second

// EvaluationError indicates the evaluator produced nothing usable: the
// request failed outright or the response contained no parseable scores.
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("scoring: evaluate call: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Result is a completed evaluation.
type Result struct {
	Scores   score.Set
	Comments string
}

// Evaluator grades call transcripts with an LLM.
type Evaluator struct {
	llm     llm.Provider
	metrics *observe.Metrics
}

// New creates an [Evaluator]. The provider must not be nil. A nil metrics
// falls back to the package-level default instruments.
func New(provider llm.Provider, metrics *observe.Metrics) (*Evaluator, error) {
	if provider == nil {
		return nil, errors.New("scoring: provider must not be nil")
	}
	return &Evaluator{llm: provider, metrics: metrics}, nil
}

// Evaluate grades the transcript and returns repaired, in-range scores.
// The scenario, when non-empty, is handed to the rubric as context so the
// trainee is judged against the situation the trainer actually set up.
// The transcript must contain at least one turn; callers skip scoring for
// empty calls rather than asking the rubric to grade silence.
func (e *Evaluator) Evaluate(ctx context.Context, turns []transcript.Turn, scenario string) (Result, error) {
	if len(turns) == 0 {
		return Result{}, &EvaluationError{Err: errors.New("empty transcript")}
	}

	prompt := rubricPrompt
	if scenario != "" {
		prompt += "\n\nContext: " + scenario
	}
	req := llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages:     []types.Message{userMessage(turns)},
		Temperature:  0.2,
		JSONOnly:     true,
	}

	ctx, cancel := context.WithTimeout(ctx, evaluateTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.llm.Complete(ctx, req)
	e.mets().ScoringDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		e.mets().ScoringFailures.Add(ctx, 1)
		return Result{}, &EvaluationError{Err: err}
	}

	result, err := parseEvaluation(resp.Content)
	if err != nil {
		e.mets().ScoringFailures.Add(ctx, 1)
		return Result{}, &EvaluationError{Err: err}
	}
	return result, nil
}

func (e *Evaluator) mets() *observe.Metrics {
	if e.metrics != nil {
		return e.metrics
	}
	return observe.DefaultMetrics()
}

func userMessage(turns []transcript.Turn) types.Message {
	return types.Message{
		Role:    types.RoleUser,
		Content: "Transcript:\n\n" + transcript.FromTurns(turns).Render(),
	}
}

// rawEvaluation mirrors the JSON shape the rubric asks for. Pointers
// distinguish absent categories from legitimate low scores.
type rawEvaluation struct {
	Clarity        *float64 `json:"clarity"`
	ProblemSolving *float64 `json:"problemSolving"`
	Empathy        *float64 `json:"empathy"`
	Control        *float64 `json:"control"`
	Speed          *float64 `json:"speed"`
	Comments       string   `json:"comments"`
}

// parseEvaluation turns the model's reply into a [Result], repairing what
// it can. Markdown fences are stripped, missing categories fall back to
// the midpoint, and out-of-range values are clamped.
func parseEvaluation(content string) (Result, error) {
	text := stripMarkdownFences(content)
	if text == "" {
		return Result{}, errors.New("empty evaluation response")
	}

	var raw rawEvaluation
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Result{}, fmt.Errorf("parse evaluation JSON: %w", err)
	}

	scores := score.Set{
		Clarity:        categoryOrMidpoint(raw.Clarity),
		ProblemSolving: categoryOrMidpoint(raw.ProblemSolving),
		Empathy:        categoryOrMidpoint(raw.Empathy),
		Control:        categoryOrMidpoint(raw.Control),
		Speed:          categoryOrMidpoint(raw.Speed),
	}.Clamp()

	comments := strings.TrimSpace(raw.Comments)
	if comments == "" {
		comments = DefaultComments
	}
	return Result{Scores: scores, Comments: comments}, nil
}

func categoryOrMidpoint(v *float64) float64 {
	if v == nil {
		return score.Midpoint
	}
	return *v
}

// stripMarkdownFences removes a surrounding ```json ... ``` block that some
// models emit despite the JSON-only instruction.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
