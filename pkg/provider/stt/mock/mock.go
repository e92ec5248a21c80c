// Package mock provides a test double for the stt.Provider interface.
//
// Set the exported fields before use; inspect the recorded calls after.
// Safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/knowledgehunter6/main-line/pkg/audio"
	"github.com/knowledgehunter6/main-line/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Clip is the audio clip passed to Transcribe.
	Clip audio.Clip
	// Opts are the recognition options passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every Transcribe invocation in order.
	Calls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(_ context.Context, clip audio.Clip, opts stt.Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Clip: clip, Opts: opts})
	return p.Text, p.Err
}

// CallCount returns how many times Transcribe was invoked. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
