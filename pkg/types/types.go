// Package types defines the shared types used across all provider packages.
//
// They form the lingua franca between the conversational gateway, the
// scoring engine and the provider implementations. Each package defines its
// own domain types; only cross-cutting data structures live here to avoid
// circular imports.
package types

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Conversation roles understood by every LLM backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// VoiceProfile describes a TTS voice configuration for the simulated
// customer.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "alloy" for
	// OpenAI, an ElevenLabs voice UUID).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, age,
	// accent, etc.).
	Metadata map[string]string
}
