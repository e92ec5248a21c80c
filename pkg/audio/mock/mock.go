// Package mock provides in-memory mock implementations of the
// [audio.Recorder] and [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test can set to control return values.
package mock

import (
	"context"
	"sync"

	"github.com/knowledgehunter6/main-line/pkg/audio"
)

// Recorder is a mock implementation of [audio.Recorder].
// Set the exported Result/Error fields before use; inspect the CallCount
// fields after.
type Recorder struct {
	mu sync.Mutex

	// StartError is returned by Start. Set to audio.ErrPermissionDenied
	// to simulate a denied microphone.
	StartError error

	// StopClip is the clip returned by Stop.
	StopClip audio.Clip

	// StopError is returned by Stop.
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	capturing bool
}

var _ audio.Recorder = (*Recorder)(nil)

// Start implements [audio.Recorder]. Returns StartError.
func (r *Recorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStart++
	if r.StartError != nil {
		return r.StartError
	}
	if r.capturing {
		return audio.ErrAlreadyCapturing
	}
	r.capturing = true
	return nil
}

// Stop implements [audio.Recorder]. Returns StopClip / StopError.
func (r *Recorder) Stop() (audio.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStop++
	if !r.capturing {
		return audio.Clip{}, audio.ErrNotCapturing
	}
	r.capturing = false
	return r.StopClip, r.StopError
}

// Close implements [audio.Recorder].
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountClose++
	r.capturing = false
	return nil
}

// Capturing reports whether the mock currently considers a capture active.
// Use this to assert the microphone was released on every exit path.
func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// Player is a mock implementation of [audio.Player] that records every
// clip played.
type Player struct {
	mu sync.Mutex

	// PlayError is returned by Play.
	PlayError error

	// Played holds every clip passed to Play, in order.
	Played []audio.Clip
}

var _ audio.Player = (*Player)(nil)

// Play implements [audio.Player]. Records the clip and returns PlayError.
func (p *Player) Play(_ context.Context, clip audio.Clip) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Played = append(p.Played, clip)
	return p.PlayError
}

// PlayedCount returns how many clips have been played.
func (p *Player) PlayedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}
