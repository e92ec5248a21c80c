package gateway

import "fmt"

// GenerationError indicates the caller reply could not be generated after
// exhausting retries and fallbacks.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("gateway: generate reply: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// TranscriptionError indicates captured speech could not be transcribed.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("gateway: transcribe speech: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// SynthesisError indicates a caller reply could not be rendered to audio.
// Synthesis failures are non-fatal to a call; the text reply still stands.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("gateway: synthesize speech: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
