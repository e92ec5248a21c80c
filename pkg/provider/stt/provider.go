// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., OpenAI Whisper) and
// exposes a uniform batch interface: one captured utterance in, transcribed
// text out. Streaming recognition is deliberately out of scope; the session
// controller captures a complete utterance before asking for text.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/knowledgehunter6/main-line/pkg/audio"
)

// Options carries optional recognition hints for a transcription request.
type Options struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de"). An empty string lets the provider auto-detect the language,
	// if supported.
	Language string

	// Prompt is a free-text vocabulary hint. Providers that support it
	// bias recognition toward the terms it contains (product names, plan
	// tiers), which matters for domain jargon the base model mangles.
	Prompt string
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple utterances may
// be transcribed simultaneously by different sessions.
type Provider interface {
	// Transcribe converts one captured utterance to text. The clip must
	// carry a MIME type the provider understands.
	//
	// Returns an error for empty or undecodable audio and for backend
	// failures; an empty transcription of valid silence is not an error.
	Transcribe(ctx context.Context, clip audio.Clip, opts Options) (string, error)
}
