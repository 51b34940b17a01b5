package audioio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockCapturer is a microphone for tests. Samples are pushed with Emit or
// generated by a sine option.
type MockCapturer struct {
	logger *slog.Logger

	// DenyErr, when set, is returned by Acquire.
	DenyErr error

	mu     sync.Mutex
	active *mockStream

	acquisitions atomic.Int64
	releases     atomic.Int64

	rate      int
	frequency float64
	amplitude float64
	phase     float64
}

// MockCapturerOption configures a MockCapturer.
type MockCapturerOption func(*MockCapturer)

// WithSineWave makes EmitBlock produce a sine wave instead of silence.
func WithSineWave(frequency, amplitude float64) MockCapturerOption {
	return func(m *MockCapturer) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithDeviceRate makes the stream report a rate other than the requested one.
func WithDeviceRate(rate int) MockCapturerOption {
	return func(m *MockCapturer) {
		m.rate = rate
	}
}

// NewMockCapturer creates a mock microphone.
func NewMockCapturer(logger *slog.Logger, opts ...MockCapturerOption) *MockCapturer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockCapturer{logger: logger, amplitude: 0.5}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire implements Capturer.
func (m *MockCapturer) Acquire(ctx context.Context, c Constraints, onData func([]float32)) (CaptureStream, error) {
	if m.DenyErr != nil {
		return nil, m.DenyErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rate := c.SampleRate
	if m.rate > 0 {
		rate = m.rate
	}

	s := &mockStream{owner: m, rate: rate, onData: onData}
	m.mu.Lock()
	m.active = s
	m.mu.Unlock()
	m.acquisitions.Add(1)

	m.logger.Debug("mock microphone acquired", "sample_rate", rate)
	return s, nil
}

// Emit delivers samples to the active stream as if the device produced them.
// Returns false if no stream is active.
func (m *MockCapturer) Emit(samples []float32) bool {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s == nil || s.released.Load() {
		return false
	}
	s.onData(samples)
	return true
}

// EmitBlock delivers n generated samples (silence or sine).
func (m *MockCapturer) EmitBlock(n int) bool {
	m.mu.Lock()
	s := m.active
	samples := make([]float32, n)
	if m.frequency > 0 && s != nil {
		for i := range samples {
			samples[i] = float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(s.rate)))
			m.phase++
		}
	}
	m.mu.Unlock()
	return m.Emit(samples)
}

// Active reports whether a stream is currently acquired.
func (m *MockCapturer) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && !m.active.released.Load()
}

// Acquisitions returns how many times Acquire succeeded.
func (m *MockCapturer) Acquisitions() int64 {
	return m.acquisitions.Load()
}

// Releases returns how many streams were released.
func (m *MockCapturer) Releases() int64 {
	return m.releases.Load()
}

type mockStream struct {
	owner    *MockCapturer
	rate     int
	onData   func([]float32)
	released atomic.Bool
}

func (s *mockStream) SampleRate() int { return s.rate }

func (s *mockStream) Release() error {
	if s.released.Swap(true) {
		return nil
	}
	s.owner.releases.Add(1)
	s.owner.mu.Lock()
	if s.owner.active == s {
		s.owner.active = nil
	}
	s.owner.mu.Unlock()
	return nil
}

// MockRenderer hands out MockOutputs.
type MockRenderer struct {
	mu      sync.Mutex
	outputs []*MockOutput
	OpenErr error
}

// Open implements Renderer.
func (r *MockRenderer) Open(cfg Config) (Output, error) {
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	o := NewMockOutput(cfg.SampleRate)
	r.mu.Lock()
	r.outputs = append(r.outputs, o)
	r.mu.Unlock()
	return o, nil
}

// Last returns the most recently opened output, or nil.
func (r *MockRenderer) Last() *MockOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outputs) == 0 {
		return nil
	}
	return r.outputs[len(r.outputs)-1]
}

// MockOutput is a speaker whose clock only moves when Advance is called.
type MockOutput struct {
	rate int

	mu     sync.Mutex
	now    time.Duration
	voices []*MockVoice
	closed bool
}

// NewMockOutput creates a mock output at the given rate.
func NewMockOutput(rate int) *MockOutput {
	return &MockOutput{rate: rate}
}

// Now implements Output.
func (o *MockOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SampleRate implements Output.
func (o *MockOutput) SampleRate() int { return o.rate }

// Advance moves the clock forward.
func (o *MockOutput) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	o.mu.Unlock()
}

// Schedule implements Output.
func (o *MockOutput) Schedule(samples []float32, at time.Duration) Voice {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := at
	if start < o.now {
		start = o.now
	}
	v := &MockVoice{
		Samples:  append([]float32(nil), samples...),
		start:    start,
		duration: DurationOf(len(samples), o.rate),
	}
	if o.closed {
		v.cancelled.Store(true)
	}
	o.voices = append(o.voices, v)
	return v
}

// Scheduled returns every voice ever scheduled, in order.
func (o *MockOutput) Scheduled() []*MockVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*MockVoice(nil), o.voices...)
}

// Live returns voices that were not cancelled.
func (o *MockOutput) Live() []*MockVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	var live []*MockVoice
	for _, v := range o.voices {
		if !v.Cancelled() {
			live = append(live, v)
		}
	}
	return live
}

// Closed reports whether Close was called.
func (o *MockOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Close implements Output.
func (o *MockOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for _, v := range o.voices {
		v.Cancel()
	}
	return nil
}

// MockVoice records one scheduled buffer.
type MockVoice struct {
	Samples   []float32
	start     time.Duration
	duration  time.Duration
	cancelled atomic.Bool
}

func (v *MockVoice) Start() time.Duration    { return v.start }
func (v *MockVoice) Duration() time.Duration { return v.duration }
func (v *MockVoice) End() time.Duration      { return v.start + v.duration }
func (v *MockVoice) Cancel()                 { v.cancelled.Store(true) }
func (v *MockVoice) Cancelled() bool         { return v.cancelled.Load() }

var (
	_ Capturer = (*MockCapturer)(nil)
	_ Renderer = (*MockRenderer)(nil)
	_ Output   = (*MockOutput)(nil)
	_ Voice    = (*MockVoice)(nil)
)
