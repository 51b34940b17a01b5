// Package audioio provides microphone capture and clock-scheduled speaker
// output.
//
// Two backends are available:
//   - malgo (miniaudio) - real devices on Linux, macOS and Windows
//   - Mock - CI/Testing without hardware, with a manually advanced clock
//
// Capture delivers float32 samples in [-1, 1] through a callback. Output
// exposes a monotonic audio clock and lets callers schedule sample buffers
// to start at an exact clock time, so consecutive buffers play back to back
// without gaps.
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects malgo.
	BackendAuto Backend = "auto"
	// BackendMalgo uses miniaudio through github.com/gen2brain/malgo.
	BackendMalgo Backend = "malgo"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Sentinel errors reported by capturers and outputs.
var (
	// ErrPermissionDenied indicates the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("audioio: permission denied")

	// ErrDeviceUnavailable indicates no usable device could be opened.
	ErrDeviceUnavailable = errors.New("audioio: device unavailable")

	// ErrClosed indicates the output has been closed.
	ErrClosed = errors.New("audioio: closed")
)

// Config holds device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the device sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels. Only mono is delivered to
	// callers; multichannel input is downmixed.
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the device period size.
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`
}

// DefaultCaptureConfig returns the microphone defaults (16 kHz mono).
func DefaultCaptureConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 32 * time.Millisecond,
	}
}

// DefaultOutputConfig returns the speaker defaults (24 kHz mono).
func DefaultOutputConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     24000,
		Channels:       1,
		BufferDuration: 10 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per device period.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// Constraints describe what a caller wants from a microphone stream.
// EchoCancellation and NoiseSuppression are requests; backends without
// the processing log and ignore them.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// DurationOf returns the playback length of n samples at rate.
func DurationOf(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
