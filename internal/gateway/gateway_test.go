package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/knowledgehunter6/main-line/internal/transcript"
	"github.com/knowledgehunter6/main-line/pkg/audio"
	"github.com/knowledgehunter6/main-line/pkg/provider/llm"
	llmmock "github.com/knowledgehunter6/main-line/pkg/provider/llm/mock"
	sttmock "github.com/knowledgehunter6/main-line/pkg/provider/stt/mock"
	ttsmock "github.com/knowledgehunter6/main-line/pkg/provider/tts/mock"
	"github.com/knowledgehunter6/main-line/pkg/types"
)

func newTestGateway(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	if cfg.LLM == nil {
		cfg.LLM = &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "Sure, let me explain."},
		}
	}
	cfg.MaxRetries = 1
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNewRequiresLLM(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for nil LLM")
	}
}

func TestGreetingDefault(t *testing.T) {
	g := newTestGateway(t, Config{})
	if g.Greeting() != DefaultGreeting {
		t.Errorf("Greeting = %q", g.Greeting())
	}

	g = newTestGateway(t, Config{Greeting: "Hi, I got a letter about my claim?"})
	if g.Greeting() != "Hi, I got a letter about my claim?" {
		t.Errorf("Greeting = %q", g.Greeting())
	}
}

func TestOpeningTurnSeedsGreeting(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Hi, my MRI claim was denied and I don't understand why."},
	}
	g := newTestGateway(t, Config{LLM: mock})

	scenario := "You are Maria, whose MRI claim was denied."
	line, err := g.OpeningTurn(context.Background(), scenario)
	if err != nil {
		t.Fatalf("OpeningTurn: %v", err)
	}
	if line != "Hi, my MRI claim was denied and I don't understand why." {
		t.Errorf("opening = %q", line)
	}

	req := mock.CompleteCalls[0].Req
	if req.SystemPrompt != scenario {
		t.Errorf("system prompt = %q, want scenario override", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != types.RoleUser {
		t.Fatalf("messages = %+v, want one user seed", req.Messages)
	}
	if req.Messages[0].Content != DefaultGreeting {
		t.Errorf("seed = %q, want the greeting", req.Messages[0].Content)
	}
}

func TestNextTurnMapsHistoryToRoles(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "My member ID is 12345."},
	}
	g := newTestGateway(t, Config{LLM: mock})

	history := []transcript.Turn{
		transcript.NewTurn(transcript.RoleAgent, "Hello, how can I help you today?"),
		transcript.NewTurn(transcript.RoleCaller, "Can I get your member ID?"),
	}
	reply, err := g.NextTurn(context.Background(), "", history)
	if err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	if reply != "My member ID is 12345." {
		t.Errorf("reply = %q", reply)
	}

	req := mock.CompleteCalls[0].Req
	if req.SystemPrompt != DefaultPersona {
		t.Errorf("system prompt = %q, want default persona", req.SystemPrompt)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != types.RoleAssistant {
		t.Errorf("first message role = %q, want assistant", req.Messages[0].Role)
	}
	if req.Messages[1].Role != types.RoleUser {
		t.Errorf("second message role = %q, want user", req.Messages[1].Role)
	}
	if req.Temperature != defaultTemperature {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if req.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d", req.MaxTokens)
	}
}

func TestNextTurnScenarioOverridesPersona(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "This is outrageous!"},
	}
	g := newTestGateway(t, Config{LLM: mock})

	scenario := "You are an angry caller whose surgery claim was denied."
	if _, err := g.NextTurn(context.Background(), scenario, nil); err != nil {
		t.Fatalf("NextTurn: %v", err)
	}
	if got := mock.CompleteCalls[0].Req.SystemPrompt; got != scenario {
		t.Errorf("system prompt = %q, want scenario override", got)
	}
}

func TestNextTurnRetriesThenFails(t *testing.T) {
	mock := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	g := newTestGateway(t, Config{LLM: mock})

	_, err := g.NextTurn(context.Background(), "", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *GenerationError", err)
	}
	if mock.CallCount() < 2 {
		t.Errorf("Complete called %d times, want at least 2 (retry)", mock.CallCount())
	}
}

func TestNextTurnDeadlinesHangingProvider(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	g := newTestGateway(t, Config{LLM: mock, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := g.NextTurn(context.Background(), "", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *GenerationError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want a deadline to cut off the hanging request", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("NextTurn took %v, want a bounded failure", elapsed)
	}
}

func TestNextTurnEmptyCompletion(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "   "},
	}
	g := newTestGateway(t, Config{LLM: mock})

	_, err := g.NextTurn(context.Background(), "", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *GenerationError for blank completion", err)
	}
}

func TestSpeechToTextCorrectsVocabulary(t *testing.T) {
	stt := &sttmock.Provider{Text: "I called humanna about my claim"}
	corrector := transcript.NewCorrector([]string{"Humana"})
	g := newTestGateway(t, Config{
		STT:            stt,
		Corrector:      corrector,
		VocabularyHint: "Humana",
	})

	text, err := g.SpeechToText(context.Background(), audio.Clip{Data: []byte{1}, MIME: "audio/webm"})
	if err != nil {
		t.Fatalf("SpeechToText: %v", err)
	}
	if !strings.Contains(text, "Humana") {
		t.Errorf("text = %q, want corrected vocabulary", text)
	}
	if got := stt.Calls[0].Opts.Prompt; got != "Humana" {
		t.Errorf("transcriber prompt = %q, want vocabulary hint", got)
	}
}

func TestSpeechToTextNoProvider(t *testing.T) {
	g := newTestGateway(t, Config{})
	_, err := g.SpeechToText(context.Background(), audio.Clip{Data: []byte{1}})
	var trErr *TranscriptionError
	if !errors.As(err, &trErr) {
		t.Fatalf("err = %v, want *TranscriptionError", err)
	}
}

func TestSpeechToTextProviderFailure(t *testing.T) {
	g := newTestGateway(t, Config{
		STT: &sttmock.Provider{Err: errors.New("upstream 500")},
	})
	_, err := g.SpeechToText(context.Background(), audio.Clip{Data: []byte{1}})
	var trErr *TranscriptionError
	if !errors.As(err, &trErr) {
		t.Fatalf("err = %v, want *TranscriptionError", err)
	}
}

func TestTextToSpeechUsesConfiguredVoice(t *testing.T) {
	tts := &ttsmock.Provider{Clip: audio.Clip{Data: []byte{1, 2}, MIME: "audio/mpeg"}}
	voice := types.VoiceProfile{ID: "caller-v1", Provider: "elevenlabs"}
	g := newTestGateway(t, Config{TTS: tts, Voice: voice})

	clip, err := g.TextToSpeech(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("TextToSpeech: %v", err)
	}
	if clip.Empty() {
		t.Error("clip is empty")
	}
	if got := tts.SynthesizeCalls[0].Voice.ID; got != "caller-v1" {
		t.Errorf("voice = %q", got)
	}
}

func TestTextToSpeechFailureIsTyped(t *testing.T) {
	g := newTestGateway(t, Config{
		TTS: &ttsmock.Provider{SynthesizeErr: errors.New("voice not found")},
	})
	_, err := g.TextToSpeech(context.Background(), "Hello")
	var synErr *SynthesisError
	if !errors.As(err, &synErr) {
		t.Fatalf("err = %v, want *SynthesisError", err)
	}
}

func TestCapabilityFlags(t *testing.T) {
	g := newTestGateway(t, Config{})
	if g.CanTranscribe() || g.CanSynthesize() {
		t.Error("expected no voice capabilities without STT/TTS providers")
	}
	g = newTestGateway(t, Config{STT: &sttmock.Provider{}, TTS: &ttsmock.Provider{}})
	if !g.CanTranscribe() || !g.CanSynthesize() {
		t.Error("expected voice capabilities with STT/TTS providers")
	}
}

func TestSetVocabularyReloads(t *testing.T) {
	stt := &sttmock.Provider{Text: "my deductable question"}
	g := newTestGateway(t, Config{STT: stt})

	g.SetVocabulary([]string{"deductible", "coinsurance"})
	text, err := g.SpeechToText(context.Background(), audio.Clip{Data: []byte{1}, MIME: "audio/webm"})
	if err != nil {
		t.Fatalf("SpeechToText: %v", err)
	}
	if !strings.Contains(text, "deductible") {
		t.Errorf("text = %q, want corrected vocabulary", text)
	}
	if got := stt.Calls[0].Opts.Prompt; got != "deductible, coinsurance" {
		t.Errorf("transcriber prompt = %q, want joined vocabulary", got)
	}

	g.SetVocabulary(nil)
	text, err = g.SpeechToText(context.Background(), audio.Clip{Data: []byte{1}, MIME: "audio/webm"})
	if err != nil {
		t.Fatalf("SpeechToText: %v", err)
	}
	if text != "my deductable question" {
		t.Errorf("text = %q, want uncorrected after clearing vocabulary", text)
	}
	if got := stt.Calls[1].Opts.Prompt; got != "" {
		t.Errorf("transcriber prompt = %q, want empty after clearing vocabulary", got)
	}
}
