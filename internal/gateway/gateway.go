// Package gateway is the bridge between a live call and the generative
// providers behind it. It turns conversation history into the simulated
// caller's next line, captured speech into corrected text, and reply text
// into audio.
//
// Provider failures are retried with exponential backoff before being
// reported as typed errors ([GenerationError], [TranscriptionError],
// [SynthesisError]) so the call controller can decide how much of the turn
// survives.
package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/knowledgehunter6/main-line/internal/observe"
	"github.com/knowledgehunter6/main-line/internal/transcript"
	"github.com/knowledgehunter6/main-line/pkg/audio"
	"github.com/knowledgehunter6/main-line/pkg/provider/llm"
	"github.com/knowledgehunter6/main-line/pkg/provider/stt"
	"github.com/knowledgehunter6/main-line/pkg/provider/tts"
	"github.com/knowledgehunter6/main-line/pkg/types"
)

// DefaultGreeting is the caller's opening line when the configuration does
// not supply one.
const DefaultGreeting = "Hello, how can I help you today?"

// ClarificationReply is spoken by the simulated caller when reply generation
// fails entirely, so the call keeps moving instead of going silent.
const ClarificationReply = "I'm sorry, could you repeat that?"

// DefaultPersona describes the simulated caller injected into the system
// prompt when no scenario override is given.
const DefaultPersona = "You are a health insurance member calling the support line. " +
	"You have a question about a recent claim that was processed differently than you expected. " +
	"You are polite but somewhat confused about insurance terminology. " +
	"Stay in character as the caller at all times; never reveal that you are an AI or break the fourth wall. " +
	"Keep each reply short and conversational, the way a real person speaks on the phone."

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 150
	defaultMaxRetries  = 2
	defaultCallTimeout = 30 * time.Second
)

// Config holds the dependencies and tuning for a [Gateway].
//
// LLM is required. STT, TTS, and Corrector are optional: a nil STT disables
// voice input, a nil TTS disables spoken replies, and a nil Corrector skips
// domain-vocabulary correction.
type Config struct {
	// LLM generates the simulated caller's replies. Must not be nil.
	LLM llm.Provider

	// STT transcribes captured trainee speech. May be nil.
	STT stt.Provider

	// TTS renders caller replies to audio. May be nil.
	TTS tts.Provider

	// Corrector fixes domain terms the transcriber tends to mangle.
	Corrector *transcript.Corrector

	// Greeting overrides [DefaultGreeting] when non-empty.
	Greeting string

	// Persona overrides [DefaultPersona] when non-empty. A scenario passed
	// to NextTurn takes precedence over both.
	Persona string

	// Temperature for reply generation. Zero means 0.7.
	Temperature float64

	// MaxTokens caps each generated reply. Zero means 150.
	MaxTokens int

	// Voice is the TTS voice profile used for the caller.
	Voice types.VoiceProfile

	// VocabularyHint is passed to the transcriber as a prompt to bias it
	// toward domain terms. Usually the joined vocabulary list.
	VocabularyHint string

	// MaxRetries bounds backoff retries per provider call. Zero means 2.
	MaxRetries int

	// Timeout bounds each individual provider attempt so a hanging request
	// cannot stall a call indefinitely. Zero means 30 seconds.
	Timeout time.Duration

	// Metrics records provider latency and outcomes. When nil the
	// package-level default instruments are used.
	Metrics *observe.Metrics
}

// Gateway mediates all generative provider traffic for calls. It is safe
// for concurrent use; each call serialises its own turns at the controller
// level, and the gateway itself keeps no per-call state.
type Gateway struct {
	llm llm.Provider
	stt stt.Provider
	tts tts.Provider

	// mu guards the hot-reloadable vocabulary fields.
	mu        sync.Mutex
	corrector *transcript.Corrector

	greeting    string
	persona     string
	temperature float64
	maxTokens   int
	voice       types.VoiceProfile
	vocabHint   string
	maxRetries  int
	timeout     time.Duration
	metrics     *observe.Metrics
}

// New creates a [Gateway] from cfg. Returns an error when required
// dependencies are missing.
func New(cfg Config) (*Gateway, error) {
	if cfg.LLM == nil {
		return nil, errors.New("gateway: LLM must not be nil")
	}
	g := &Gateway{
		llm:         cfg.LLM,
		stt:         cfg.STT,
		tts:         cfg.TTS,
		corrector:   cfg.Corrector,
		greeting:    cfg.Greeting,
		persona:     cfg.Persona,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		voice:       cfg.Voice,
		vocabHint:   cfg.VocabularyHint,
		maxRetries:  cfg.MaxRetries,
		timeout:     cfg.Timeout,
		metrics:     cfg.Metrics,
	}
	if g.greeting == "" {
		g.greeting = DefaultGreeting
	}
	if g.persona == "" {
		g.persona = DefaultPersona
	}
	if g.temperature == 0 {
		g.temperature = defaultTemperature
	}
	if g.maxTokens == 0 {
		g.maxTokens = defaultMaxTokens
	}
	if g.maxRetries == 0 {
		g.maxRetries = defaultMaxRetries
	}
	if g.timeout == 0 {
		g.timeout = defaultCallTimeout
	}
	return g, nil
}

// Greeting returns the caller's opening line.
func (g *Gateway) Greeting() string { return g.greeting }

// CanTranscribe reports whether voice input is available.
func (g *Gateway) CanTranscribe() bool { return g.stt != nil }

// CanSynthesize reports whether spoken replies are available.
func (g *Gateway) CanSynthesize() bool { return g.tts != nil }

// SetVocabulary replaces the transcription domain vocabulary at runtime,
// e.g. after a configuration reload. An empty list disables correction.
func (g *Gateway) SetVocabulary(terms []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(terms) == 0 {
		g.corrector = nil
		g.vocabHint = ""
		return
	}
	g.corrector = transcript.NewCorrector(terms)
	g.vocabHint = strings.Join(terms, ", ")
}

// OpeningTurn generates the simulated caller's first line of a new call.
// The configured greeting is fed to the model as the seed prompt so the
// caller opens with their actual concern, shaped by the scenario when one
// is given, instead of a canned line.
func (g *Gateway) OpeningTurn(ctx context.Context, scenario string) (string, error) {
	seed := []transcript.Turn{transcript.NewTurn(transcript.RoleCaller, g.greeting)}
	return g.NextTurn(ctx, scenario, seed)
}

// NextTurn generates the simulated caller's reply to the conversation so
// far. The scenario, when non-empty, replaces the default persona in the
// system prompt. History turns map onto chat roles: the trainee's lines
// become user messages and the caller's lines become assistant messages.
//
// On total failure a [*GenerationError] is returned; callers typically
// substitute [ClarificationReply] to keep the call alive.
func (g *Gateway) NextTurn(ctx context.Context, scenario string, history []transcript.Turn) (string, error) {
	persona := g.persona
	if scenario != "" {
		persona = scenario
	}

	req := llm.CompletionRequest{
		Messages:     historyToMessages(history),
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
		SystemPrompt: persona,
	}

	start := time.Now()
	var resp *llm.CompletionResponse
	err := g.retry(ctx, func(ctx context.Context) error {
		var innerErr error
		resp, innerErr = g.llm.Complete(ctx, req)
		return innerErr
	})
	g.mets().LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		g.mets().RecordProviderRequest(ctx, "llm", "complete", "error")
		return "", &GenerationError{Err: err}
	}
	g.mets().RecordProviderRequest(ctx, "llm", "complete", "ok")

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", &GenerationError{Err: errors.New("empty completion")}
	}
	return reply, nil
}

// SpeechToText transcribes a captured clip and applies domain-vocabulary
// correction. Returns a [*TranscriptionError] when the transcriber fails or
// no STT provider is configured.
func (g *Gateway) SpeechToText(ctx context.Context, clip audio.Clip) (string, error) {
	if g.stt == nil {
		return "", &TranscriptionError{Err: errors.New("no STT provider configured")}
	}

	g.mu.Lock()
	corrector := g.corrector
	opts := stt.Options{Prompt: g.vocabHint}
	g.mu.Unlock()

	start := time.Now()
	var text string
	err := g.retry(ctx, func(ctx context.Context) error {
		var innerErr error
		text, innerErr = g.stt.Transcribe(ctx, clip, opts)
		return innerErr
	})
	g.mets().STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		g.mets().RecordProviderRequest(ctx, "stt", "transcribe", "error")
		return "", &TranscriptionError{Err: err}
	}
	g.mets().RecordProviderRequest(ctx, "stt", "transcribe", "ok")

	if corrector != nil {
		text, _ = corrector.Correct(text)
	}
	return strings.TrimSpace(text), nil
}

// TextToSpeech renders reply text to an audio clip using the configured
// caller voice. Returns a [*SynthesisError] when synthesis fails or no TTS
// provider is configured; the caller's text reply remains valid either way.
func (g *Gateway) TextToSpeech(ctx context.Context, text string) (audio.Clip, error) {
	if g.tts == nil {
		return audio.Clip{}, &SynthesisError{Err: errors.New("no TTS provider configured")}
	}

	start := time.Now()
	var clip audio.Clip
	err := g.retry(ctx, func(ctx context.Context) error {
		var innerErr error
		clip, innerErr = g.tts.Synthesize(ctx, text, g.voice)
		return innerErr
	})
	g.mets().TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		g.mets().RecordProviderRequest(ctx, "tts", "synthesize", "error")
		return audio.Clip{}, &SynthesisError{Err: err}
	}
	g.mets().RecordProviderRequest(ctx, "tts", "synthesize", "ok")
	return clip, nil
}

// retry runs op with exponential backoff, honouring ctx cancellation. Each
// attempt gets its own deadline so one hanging request cannot exhaust the
// whole retry budget.
func (g *Gateway) retry(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	attempt := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return op(attemptCtx)
	}
	return backoff.Retry(attempt,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.maxRetries)), ctx))
}

func (g *Gateway) mets() *observe.Metrics {
	if g.metrics != nil {
		return g.metrics
	}
	return observe.DefaultMetrics()
}

// historyToMessages maps transcript turns onto chat roles. Unknown roles
// are skipped rather than failing the whole request.
func historyToMessages(history []transcript.Turn) []types.Message {
	msgs := make([]types.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case transcript.RoleCaller:
			msgs = append(msgs, types.Message{Role: types.RoleUser, Content: turn.Content})
		case transcript.RoleAgent:
			msgs = append(msgs, types.Message{Role: types.RoleAssistant, Content: turn.Content})
		}
	}
	return msgs
}
