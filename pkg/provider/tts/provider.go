// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI speech,
// ElevenLabs) and presents a uniform batch interface: one agent turn in,
// one playable audio clip out. The clip is handed to the session's player
// as a unit; sub-sentence streaming is not needed at conversation pace.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/knowledgehunter6/main-line/pkg/audio"
	"github.com/knowledgehunter6/main-line/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel.
type Provider interface {
	// Synthesize converts text into a playable audio clip using the given
	// voice profile. Providers should return an error if the requested
	// voice is not available or if text is empty.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (audio.Clip, error)

	// ListVoices returns all voice profiles available from this provider.
	// The list reflects the provider's current catalogue and may change
	// between calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
