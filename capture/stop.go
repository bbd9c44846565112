// Package capture runs the short-lived device workers that feed enrollment
// and login: a camera loop that keeps the most recent single-face frame and
// a microphone recorder stopped cooperatively through a [StopToken].
//
// Devices are reached only through [FrameSource] and [AudioSource]; this
// package never opens hardware itself.
package capture

import (
	"errors"
	"sync"
)

var (
	// ErrCancelled is returned when a capture is abandoned through its context.
	ErrCancelled = errors.New("capture cancelled")
	// ErrNoFrame is returned when no single-face frame has been seen yet.
	ErrNoFrame = errors.New("no face frame available")
)

// StopToken asks a running recorder to finish. It is safe for concurrent use
// and Stop may be called any number of times.
type StopToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopToken returns an unsignalled token.
func NewStopToken() *StopToken {
	return &StopToken{ch: make(chan struct{})}
}

// Stop signals the token.
func (t *StopToken) Stop() {
	t.once.Do(func() { close(t.ch) })
}

// Stopped reports whether Stop has been called.
func (t *StopToken) Stopped() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed by Stop.
func (t *StopToken) Done() <-chan struct{} {
	return t.ch
}
