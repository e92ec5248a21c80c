// Package audio defines the capture and playback abstractions for a call
// session.
//
// The two primary abstractions are:
//
//   - [Recorder] — exclusive ownership of a capture device for the duration
//     of one voice utterance; Start acquires, Stop releases and yields the
//     captured clip.
//   - [Player] — plays a synthesized clip back to the trainee.
//
// Implementations are transport-specific: the in-process [Buffer] is fed by
// whatever is streaming microphone chunks (typically a WebSocket handler),
// and mock implementations live in the mock subpackage. The interfaces are
// intentionally narrow to keep the session controller decoupled from the
// transport.
package audio

import (
	"context"
	"errors"
)

// Sentinel errors returned by [Recorder] implementations.
var (
	// ErrPermissionDenied indicates the capture device is unavailable
	// because the user denied access. Callers degrade to text-only mode.
	ErrPermissionDenied = errors.New("audio: capture permission denied")

	// ErrAlreadyCapturing indicates Start was called while a capture is
	// in progress.
	ErrAlreadyCapturing = errors.New("audio: capture already in progress")

	// ErrNotCapturing indicates Stop was called with no capture active.
	ErrNotCapturing = errors.New("audio: no capture in progress")
)

// Clip is a finished audio recording or a synthesized utterance.
type Clip struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// MIME is the container/codec type, e.g. "audio/webm" for browser
	// capture or "audio/mpeg" for synthesized speech.
	MIME string
}

// Empty reports whether the clip carries no audio data.
func (c Clip) Empty() bool {
	return len(c.Data) == 0
}

// Recorder captures one utterance at a time from an audio source.
//
// The device is exclusively owned between Start and Stop. Implementations
// must release the device on Stop AND on Close, whichever comes first, so
// that every controller exit path frees the microphone.
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	// Start begins capturing. Returns [ErrPermissionDenied] when the
	// device cannot be acquired and [ErrAlreadyCapturing] when a capture
	// is already running.
	Start(ctx context.Context) error

	// Stop ends the capture and returns everything recorded since Start.
	// Returns [ErrNotCapturing] when no capture is active. The device is
	// released even when an error is returned.
	Stop() (Clip, error)

	// Close releases the device unconditionally, discarding any capture
	// in progress. Safe to call multiple times.
	Close() error
}

// Player plays a synthesized clip to the trainee. Play blocks until the
// clip has been handed off to the output transport or ctx is done.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// PlayerFunc adapts a function to the [Player] interface.
type PlayerFunc func(ctx context.Context, clip Clip) error

// Play implements [Player].
func (f PlayerFunc) Play(ctx context.Context, clip Clip) error {
	return f(ctx, clip)
}

// Discard is a [Player] that drops every clip. It is the playback sink
// when audio output is disabled.
var Discard Player = PlayerFunc(func(context.Context, Clip) error { return nil })
