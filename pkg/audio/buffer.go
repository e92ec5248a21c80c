package audio

import (
	"context"
	"sync"
)

// Buffer is a push-fed [Recorder]. The transport layer (e.g. a WebSocket
// handler receiving microphone chunks from the browser) calls [Buffer.Push]
// for every chunk that arrives; Start and Stop bracket one utterance.
//
// Chunks pushed while no capture is active are dropped, so a client that
// keeps streaming after the controller stopped capturing cannot grow the
// buffer unboundedly.
//
// Buffer is safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	mime      string
	capturing bool
	closed    bool
	data      []byte
}

var _ Recorder = (*Buffer)(nil)

// NewBuffer returns a Buffer whose captured clips carry the given MIME type.
func NewBuffer(mime string) *Buffer {
	return &Buffer{mime: mime}
}

// Start implements [Recorder]. A closed buffer reports
// [ErrPermissionDenied] since the underlying source is gone.
func (b *Buffer) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrPermissionDenied
	}
	if b.capturing {
		return ErrAlreadyCapturing
	}
	b.capturing = true
	b.data = nil
	return nil
}

// Push appends a chunk to the capture in progress. Chunks arriving outside
// a Start/Stop window are dropped.
func (b *Buffer) Push(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.capturing || b.closed {
		return
	}
	b.data = append(b.data, chunk...)
}

// Stop implements [Recorder].
func (b *Buffer) Stop() (Clip, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.capturing {
		return Clip{}, ErrNotCapturing
	}
	b.capturing = false
	clip := Clip{Data: b.data, MIME: b.mime}
	b.data = nil
	return clip, nil
}

// Close implements [Recorder]. Any capture in progress is discarded.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capturing = false
	b.closed = true
	b.data = nil
	return nil
}

// Capturing reports whether a capture is currently active.
func (b *Buffer) Capturing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capturing
}
