// Package capture turns microphone input into fixed-size PCM16 frames.
//
// A Pipeline acquires the microphone through an audioio.Capturer,
// accumulates samples into blocks of a fixed size, converts each block to
// 16-bit little-endian PCM and hands it to a frame callback. A LevelMonitor
// observes the same signal for UI loudness feedback.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-livevoice/pkg/audioio"
)

// Defaults for the outbound stream.
const (
	DefaultSampleRate = 16000
	DefaultBlockSize  = 2048
)

// Errors returned by Start.
var (
	// ErrMicrophoneDenied indicates microphone permission was refused.
	ErrMicrophoneDenied = errors.New("capture: microphone permission denied")

	// ErrMicrophoneUnavailable indicates no microphone could be opened.
	ErrMicrophoneUnavailable = errors.New("capture: microphone unavailable")
)

// Config holds pipeline settings.
type Config struct {
	// SampleRate of outbound frames.
	SampleRate int

	// BlockSize is the number of samples per frame.
	BlockSize int

	// EchoCancellation and NoiseSuppression are passed to the device as hints.
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConfig returns 16 kHz mono with 2048-sample blocks.
func DefaultConfig() Config {
	return Config{
		SampleRate:       DefaultSampleRate,
		BlockSize:        DefaultBlockSize,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// FrameBytes returns the encoded size of one frame.
func (c Config) FrameBytes() int {
	return c.BlockSize * 2
}

// Pipeline captures microphone audio and emits PCM16 frames.
type Pipeline struct {
	capturer audioio.Capturer
	cfg      Config
	onFrame  func([]byte)
	level    *LevelMonitor
	logger   *slog.Logger

	mu     sync.Mutex
	stream audioio.CaptureStream

	// read on the device thread
	gen  atomic.Uint64
	rate atomic.Int64

	bufMu   sync.Mutex
	pending []float32
}

// New creates a pipeline. onFrame receives each encoded block on the device
// thread and must not block. level may be nil.
func New(capturer audioio.Capturer, cfg Config, onFrame func([]byte), level *LevelMonitor, logger *slog.Logger) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		capturer: capturer,
		cfg:      cfg,
		onFrame:  onFrame,
		level:    level,
		logger:   logger,
	}
}

// Start acquires the microphone. It is a no-op if already running.
// Errors match ErrMicrophoneDenied or ErrMicrophoneUnavailable.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}

	gen := p.gen.Add(1)
	p.rate.Store(0)
	p.resetPending()

	stream, err := p.capturer.Acquire(ctx, audioio.Constraints{
		SampleRate:       p.cfg.SampleRate,
		Channels:         1,
		EchoCancellation: p.cfg.EchoCancellation,
		NoiseSuppression: p.cfg.NoiseSuppression,
	}, func(samples []float32) {
		p.process(gen, samples)
	})
	if err != nil {
		if errors.Is(err, audioio.ErrPermissionDenied) {
			return fmt.Errorf("%w: %v", ErrMicrophoneDenied, err)
		}
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	p.stream = stream
	p.rate.Store(int64(stream.SampleRate()))

	if p.level != nil {
		p.level.Start(context.WithoutCancel(ctx))
	}

	p.logger.Info("capture started",
		"sample_rate", p.cfg.SampleRate,
		"device_rate", stream.SampleRate(),
		"block_size", p.cfg.BlockSize,
	)
	return nil
}

// Stop releases the microphone and stops the level monitor. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.gen.Add(1)
	p.mu.Unlock()

	if stream == nil {
		return nil
	}
	if p.level != nil {
		p.level.Stop()
	}
	err := stream.Release()
	p.resetPending()

	p.logger.Info("capture stopped")
	return err
}

// Running reports whether the microphone is held.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

func (p *Pipeline) resetPending() {
	p.bufMu.Lock()
	p.pending = p.pending[:0]
	p.bufMu.Unlock()
}

// process runs on the device thread.
func (p *Pipeline) process(gen uint64, samples []float32) {
	if p.gen.Load() != gen {
		return
	}

	if rate := int(p.rate.Load()); rate > 0 && rate != p.cfg.SampleRate {
		samples = audioio.Resample(samples, rate, p.cfg.SampleRate)
	}
	if p.level != nil {
		p.level.Observe(samples)
	}

	p.bufMu.Lock()
	p.pending = append(p.pending, samples...)
	var blocks [][]float32
	for len(p.pending) >= p.cfg.BlockSize {
		block := make([]float32, p.cfg.BlockSize)
		copy(block, p.pending[:p.cfg.BlockSize])
		blocks = append(blocks, block)
		p.pending = append(p.pending[:0], p.pending[p.cfg.BlockSize:]...)
	}
	p.bufMu.Unlock()

	for _, block := range blocks {
		p.onFrame(audioio.EncodePCM16(block))
	}
}
