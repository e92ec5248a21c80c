// Package call implements the session controller: the state machine that
// drives one simulated training call from start through turn exchange to
// scoring and persistence.
//
// A controller cycles Idle -> Active -> Ending -> Idle. It exclusively
// owns the active session's transcript; turn exchanges are serialized and
// a second exchange arriving while one is in flight is rejected with
// [ErrTurnInFlight]. Results of provider calls that complete after the
// session they belong to has ended are discarded.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/knowledgehunter6/main-line/internal/gateway"
	"github.com/knowledgehunter6/main-line/internal/observe"
	"github.com/knowledgehunter6/main-line/internal/scoring"
	"github.com/knowledgehunter6/main-line/internal/store"
	"github.com/knowledgehunter6/main-line/internal/transcript"
	"github.com/knowledgehunter6/main-line/pkg/audio"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
	StateEnding State = "ending"
)

var (
	// ErrCallActive is returned by StartCall while a call is running.
	ErrCallActive = errors.New("call: a call is already active")

	// ErrNoActiveCall is returned by operations that need a running call.
	ErrNoActiveCall = errors.New("call: no active call")

	// ErrTurnInFlight is returned when a turn exchange arrives while the
	// previous one has not completed. The client retries after the current
	// exchange finishes.
	ErrTurnInFlight = errors.New("call: turn exchange in flight")

	// ErrEmptyMessage is returned for blank or whitespace-only input.
	ErrEmptyMessage = errors.New("call: empty message")

	// ErrVoiceUnavailable is returned by voice capture operations when no
	// recorder is attached or the gateway cannot transcribe.
	ErrVoiceUnavailable = errors.New("call: voice capture unavailable")
)

// Store is the persistence surface the controller needs.
type Store interface {
	store.SessionStore
	store.FeedbackStore
}

// Config holds a controller's dependencies. Gateway and Store are
// required; Evaluator is optional (calls end unscored without one), and
// Recorder/Player may be attached later by the audio transport.
type Config struct {
	TraineeID string
	Store     Store
	Gateway   *gateway.Gateway
	Evaluator *scoring.Evaluator
	Recorder  audio.Recorder
	Player    audio.Player
	Metrics   *observe.Metrics
}

// Controller runs the call state machine for one trainee. All exported
// methods are safe for concurrent use.
type Controller struct {
	traineeID string
	st        Store
	gw        *gateway.Gateway
	eval      *scoring.Evaluator
	metrics   *observe.Metrics

	mu           sync.Mutex
	state        State
	sessionID    string
	scenario     string
	tr           *transcript.Transcript
	duration     int
	turnInFlight bool
	capturing    bool
	feedback     *store.Feedback
	recorder     audio.Recorder
	player       audio.Player
	playerGen    uint64
	timerCancel  context.CancelFunc
}

// Result is what EndCall hands back for display. Feedback is nil when the
// call had no turns or scoring failed; non-fatal failures are carried in
// ScoringErr and PersistErr rather than aborting the call teardown.
type Result struct {
	SessionID       string
	DurationSeconds int
	Turns           []transcript.Turn
	Feedback        *store.Feedback
	ScoringErr      error
	PersistErr      error
}

// Status is a read-only snapshot of the controller.
type Status struct {
	State           State
	SessionID       string
	Scenario        string
	DurationSeconds int
	Turns           []transcript.Turn
	Capturing       bool
	Feedback        *store.Feedback
}

// NewController validates the required dependencies and returns an idle
// controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.TraineeID == "" {
		return nil, fmt.Errorf("call: trainee id is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("call: store is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("call: gateway is required")
	}
	return &Controller{
		traineeID: cfg.TraineeID,
		st:        cfg.Store,
		gw:        cfg.Gateway,
		eval:      cfg.Evaluator,
		metrics:   cfg.Metrics,
		state:     StateIdle,
		tr:        transcript.New(),
		recorder:  cfg.Recorder,
		player:    cfg.Player,
	}, nil
}

// AttachRecorder hands the controller a capture device, typically when a
// client's audio stream connects. Replacing the recorder mid-capture
// closes the old one.
func (c *Controller) AttachRecorder(r audio.Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorder != nil && c.capturing {
		_ = c.recorder.Close()
		c.capturing = false
	}
	c.recorder = r
}

// AttachPlayer sets the playback sink for synthesized agent speech. The
// returned detach func resets the sink to [audio.Discard], but only while
// p is still the attached player, so a stale transport tearing down cannot
// mute a replacement that connected in the meantime.
func (c *Controller) AttachPlayer(p audio.Player) (detach func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerGen++
	gen := c.playerGen
	c.player = p
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.playerGen == gen {
			c.player = audio.Discard
		}
	}
}

// StartCall begins a new session. The scenario, when non-empty, overrides
// the gateway's default caller persona. The session record is persisted
// immediately with an empty transcript so that a crash mid-call still
// leaves a trace, and the caller's opening line is generated from the
// greeting seed so the persona states their actual concern first. When
// opening generation fails the fixed clarification line stands in and the
// call proceeds. Any feedback surfaced by a previous call is cleared.
//
// Returns ErrCallActive while a call is running.
func (c *Controller) StartCall(ctx context.Context, scenario string) (Status, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return Status{}, ErrCallActive
	}
	// Reserve the transition so competing starts and exchanges are
	// rejected while the session insert and opening generation run
	// unlocked. The empty session id marks the reservation.
	c.state = StateActive
	c.sessionID = ""
	c.scenario = scenario
	c.tr = transcript.New()
	c.duration = 0
	c.feedback = nil
	c.turnInFlight = true
	c.mu.Unlock()

	sess := &store.Session{TraineeID: c.traineeID, Scenario: scenario}
	if err := c.st.InsertSession(ctx, sess); err != nil {
		c.abandonStart()
		return Status{}, fmt.Errorf("call: persist session: %w", err)
	}

	line, err := c.gw.OpeningTurn(ctx, scenario)
	if err != nil {
		var genErr *gateway.GenerationError
		if !errors.As(err, &genErr) {
			c.abandonStart()
			return Status{}, fmt.Errorf("call: opening turn: %w", err)
		}
		slog.Warn("call: opening generation failed, substituting clarification",
			"session_id", sess.ID, "err", err)
		line = gateway.ClarificationReply
	}
	opening := transcript.NewTurn(transcript.RoleAgent, line)

	c.mu.Lock()
	if c.state != StateActive || c.sessionID != "" {
		// The reservation was torn down while the start was in flight.
		c.mu.Unlock()
		return Status{}, ErrNoActiveCall
	}
	c.sessionID = sess.ID
	c.tr.Append(opening)
	c.turnInFlight = false

	timerCtx, cancel := context.WithCancel(context.Background())
	c.timerCancel = cancel
	go c.runTimer(timerCtx, sess.ID)

	status := c.statusLocked()
	c.mu.Unlock()

	c.mets().CallsStarted.Add(ctx, 1)
	c.mets().ActiveCalls.Add(ctx, 1)
	c.mets().RecordTurn(ctx, string(transcript.RoleAgent))
	slog.Info("call started", "session_id", sess.ID, "trainee_id", c.traineeID, "scenario", scenario)

	c.speak(ctx, sess.ID, opening.Content)
	return status, nil
}

// abandonStart rolls a reserved start back to idle after a failure, unless
// something else already moved the state on.
func (c *Controller) abandonStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive && c.sessionID == "" {
		c.state = StateIdle
		c.turnInFlight = false
	}
}

// SendMessage appends the trainee's turn, requests the agent's reply with
// the full history and appends that too. When the generative backend
// yields no usable reply the agent turn falls back to a fixed
// clarification line instead of failing the call.
//
// Exchanges are strictly serialized: a call arriving while another
// exchange is in flight returns ErrTurnInFlight.
func (c *Controller) SendMessage(ctx context.Context, text string) (transcript.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return transcript.Turn{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return transcript.Turn{}, ErrNoActiveCall
	}
	if c.turnInFlight {
		c.mu.Unlock()
		return transcript.Turn{}, ErrTurnInFlight
	}
	c.turnInFlight = true
	sid := c.sessionID
	scenario := c.scenario
	c.tr.Append(transcript.NewTurn(transcript.RoleCaller, text))
	history := c.tr.Turns()
	c.mu.Unlock()

	c.mets().RecordTurn(ctx, string(transcript.RoleCaller))

	start := time.Now()
	reply, err := c.gw.NextTurn(ctx, scenario, history)
	c.mets().TurnDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		var genErr *gateway.GenerationError
		if !errors.As(err, &genErr) {
			c.clearInFlight(sid)
			return transcript.Turn{}, fmt.Errorf("call: next turn: %w", err)
		}
		slog.Warn("call: generation failed, substituting clarification",
			"session_id", sid, "err", err)
		reply = gateway.ClarificationReply
	}

	agentTurn := transcript.NewTurn(transcript.RoleAgent, reply)

	c.mu.Lock()
	if c.sessionID != sid || c.state != StateActive {
		// The call ended while the exchange was in flight; the reply
		// belongs to a superseded session and is dropped.
		c.mu.Unlock()
		return transcript.Turn{}, ErrNoActiveCall
	}
	c.tr.Append(agentTurn)
	c.turnInFlight = false
	c.mu.Unlock()

	c.mets().RecordTurn(ctx, string(transcript.RoleAgent))
	c.speak(ctx, sid, agentTurn.Content)
	return agentTurn, nil
}

// StartVoiceCapture acquires the microphone for one utterance. A denied
// permission leaves the call running in text-only mode; the error is
// surfaced so the client can tell the trainee.
func (c *Controller) StartVoiceCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNoActiveCall
	}
	rec := c.recorder
	if rec == nil || !c.gw.CanTranscribe() {
		c.mu.Unlock()
		return ErrVoiceUnavailable
	}
	if c.capturing {
		c.mu.Unlock()
		return audio.ErrAlreadyCapturing
	}
	c.mu.Unlock()

	if err := rec.Start(ctx); err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			slog.Warn("call: microphone denied, continuing text-only",
				"session_id", c.SessionID(), "trainee_id", c.traineeID)
		}
		return fmt.Errorf("call: start capture: %w", err)
	}

	c.mu.Lock()
	c.capturing = true
	c.mu.Unlock()
	return nil
}

// StopVoiceCapture releases the microphone, transcribes the captured
// utterance and feeds the text through SendMessage. Transcription
// failures end the capture but not the call.
func (c *Controller) StopVoiceCapture(ctx context.Context) (transcript.Turn, error) {
	c.mu.Lock()
	rec := c.recorder
	if !c.capturing || rec == nil {
		c.mu.Unlock()
		return transcript.Turn{}, audio.ErrNotCapturing
	}
	c.capturing = false
	sid := c.sessionID
	c.mu.Unlock()

	clip, err := rec.Stop()
	if err != nil {
		return transcript.Turn{}, fmt.Errorf("call: stop capture: %w", err)
	}

	text, err := c.gw.SpeechToText(ctx, clip)
	if err != nil {
		return transcript.Turn{}, fmt.Errorf("call: transcribe: %w", err)
	}

	c.mu.Lock()
	superseded := c.sessionID != sid || c.state != StateActive
	c.mu.Unlock()
	if superseded {
		return transcript.Turn{}, ErrNoActiveCall
	}
	return c.SendMessage(ctx, text)
}

// EndCall stops the timer and any capture in progress, scores the
// transcript when it has at least one trainee turn beyond the caller's
// opening, persists the final session state and returns to Idle. The
// active scenario rides along to the evaluator.
// Scoring and persistence failures are reported in the Result, never
// fatal: the controller always converges to Idle and the microphone is
// released on every path.
func (c *Controller) EndCall(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateEnding {
		c.mu.Unlock()
		return Result{}, ErrNoActiveCall
	}
	c.state = StateEnding
	if c.timerCancel != nil {
		c.timerCancel()
		c.timerCancel = nil
	}
	if c.capturing && c.recorder != nil {
		if _, err := c.recorder.Stop(); err != nil && !errors.Is(err, audio.ErrNotCapturing) {
			slog.Warn("call: release capture on end", "session_id", c.sessionID, "err", err)
		}
		c.capturing = false
	}
	sid := c.sessionID
	scenario := c.scenario
	turns := c.tr.Turns()
	duration := c.duration
	c.mu.Unlock()

	res := Result{SessionID: sid, DurationSeconds: duration, Turns: turns}

	// The caller's opening alone is not a conversation; scoring needs at
	// least one trainee turn.
	var fb *store.Feedback
	if transcript.FromTurns(turns).Count(transcript.RoleCaller) > 0 && c.eval != nil {
		eval, err := c.eval.Evaluate(ctx, turns, scenario)
		if err != nil {
			res.ScoringErr = err
			slog.Warn("call: scoring failed, ending unscored", "session_id", sid, "err", err)
		} else {
			fb = &store.Feedback{
				SessionID:   sid,
				Scores:      eval.Scores,
				Comments:    eval.Comments,
				IsAutomated: true,
			}
			if err := c.st.InsertFeedback(ctx, fb); err != nil {
				res.PersistErr = errors.Join(res.PersistErr, fmt.Errorf("persist feedback: %w", err))
				slog.Warn("call: persist feedback", "session_id", sid, "err", err)
			}
		}
	}
	res.Feedback = fb

	if err := c.st.FinishSession(ctx, sid, duration, turns); err != nil {
		res.PersistErr = errors.Join(res.PersistErr, fmt.Errorf("finish session: %w", err))
		slog.Warn("call: finish session", "session_id", sid, "err", err)
	}

	c.mu.Lock()
	c.state = StateIdle
	c.sessionID = ""
	c.turnInFlight = false
	c.feedback = fb
	c.mu.Unlock()

	c.mets().ActiveCalls.Add(ctx, -1)
	c.mets().RecordCallCompleted(ctx, fb != nil)
	slog.Info("call ended",
		"session_id", sid,
		"trainee_id", c.traineeID,
		"duration_s", duration,
		"turns", len(turns),
		"scored", fb != nil,
	)
	return res, nil
}

// DismissFeedback clears the surfaced feedback and resets the controller
// for the next call.
func (c *Controller) DismissFeedback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedback = nil
	c.scenario = ""
	c.duration = 0
	c.tr = transcript.New()
}

// Close tears the controller down, ending any active call and releasing
// the capture device.
func (c *Controller) Close() error {
	c.mu.Lock()
	active := c.state != StateIdle
	rec := c.recorder
	c.mu.Unlock()

	if active {
		if _, err := c.EndCall(context.Background()); err != nil && !errors.Is(err, ErrNoActiveCall) {
			return err
		}
	}
	if rec != nil {
		return rec.Close()
	}
	return nil
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the active session's id, empty when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Status returns a snapshot of the controller for display.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		State:           c.state,
		SessionID:       c.sessionID,
		Scenario:        c.scenario,
		DurationSeconds: c.duration,
		Turns:           c.tr.Turns(),
		Capturing:       c.capturing,
		Feedback:        c.feedback,
	}
}

// runTimer ticks the call duration at one-second resolution until the
// session ends. The session id guard keeps a stale timer from touching a
// later call.
func (c *Controller) runTimer(ctx context.Context, sid string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.sessionID == sid && c.state == StateActive {
				c.duration++
			}
			c.mu.Unlock()
		}
	}
}

// speak synthesizes and plays an agent line. Best-effort: synthesis or
// playback failure leaves the text turn in place.
func (c *Controller) speak(ctx context.Context, sid string, text string) {
	c.mu.Lock()
	player := c.player
	c.mu.Unlock()
	if player == nil || !c.gw.CanSynthesize() {
		return
	}

	clip, err := c.gw.TextToSpeech(ctx, text)
	if err != nil {
		slog.Warn("call: synthesis failed, text turn stands", "session_id", sid, "err", err)
		return
	}
	if err := player.Play(ctx, clip); err != nil {
		slog.Warn("call: playback failed", "session_id", sid, "err", err)
	}
}

// clearInFlight drops the in-flight marker if the session is still the
// one that set it.
func (c *Controller) clearInFlight(sid string) {
	c.mu.Lock()
	if c.sessionID == sid {
		c.turnInFlight = false
	}
	c.mu.Unlock()
}

func (c *Controller) mets() *observe.Metrics {
	if c.metrics != nil {
		return c.metrics
	}
	return observe.DefaultMetrics()
}
