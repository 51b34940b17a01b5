package audioio

import (
	"context"
	"time"
)

// Capturer acquires microphone streams.
type Capturer interface {
	// Acquire opens the microphone and starts delivering mono float32
	// samples to onData. onData runs on the device thread and must not
	// block. Errors match ErrPermissionDenied or ErrDeviceUnavailable.
	Acquire(ctx context.Context, c Constraints, onData func(samples []float32)) (CaptureStream, error)
}

// CaptureStream is an acquired microphone.
type CaptureStream interface {
	// SampleRate is the rate of the samples passed to onData.
	SampleRate() int

	// Release stops the device. It is safe to call Release multiple times.
	Release() error
}

// Renderer opens speaker outputs.
type Renderer interface {
	Open(cfg Config) (Output, error)
}

// Output is a speaker with a monotonic audio clock.
type Output interface {
	// Now returns the current audio clock position. It starts at zero when
	// the output is opened and never decreases.
	Now() time.Duration

	// SampleRate is the rate Schedule expects samples in.
	SampleRate() int

	// Schedule plays samples starting at clock time at. If at is already
	// in the past the buffer starts as soon as possible.
	Schedule(samples []float32, at time.Duration) Voice

	// Close stops the device and cancels everything scheduled.
	Close() error
}

// Voice is one scheduled buffer.
type Voice interface {
	// Start is the clock time the buffer was scheduled at.
	Start() time.Duration

	// Duration is the playback length of the buffer.
	Duration() time.Duration

	// Cancel stops the buffer whether or not it has started. Idempotent.
	Cancel()
}
