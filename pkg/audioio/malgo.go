package audioio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// MalgoCapturer opens the default microphone through miniaudio.
type MalgoCapturer struct {
	cfg    Config
	logger *slog.Logger
}

// NewMalgoCapturer creates a malgo-based capturer.
func NewMalgoCapturer(cfg Config, logger *slog.Logger) *MalgoCapturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoCapturer{cfg: cfg, logger: logger}
}

// Acquire implements Capturer.
func (m *MalgoCapturer) Acquire(ctx context.Context, c Constraints, onData func([]float32)) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.EchoCancellation || c.NoiseSuppression {
		m.logger.Debug("malgo capture has no voice processing, constraints ignored",
			"echo_cancellation", c.EchoCancellation,
			"noise_suppression", c.NoiseSuppression,
		)
	}

	rate := c.SampleRate
	if rate <= 0 {
		rate = m.cfg.SampleRate
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("init context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(rate)
	deviceConfig.PeriodSizeInFrames = uint32(m.cfg.BufferSize())

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onData(Downmix(decodeF32(input), channels))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classifyDeviceError("init device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classifyDeviceError("start device", err)
	}

	m.logger.Info("microphone acquired", "sample_rate", rate, "channels", channels)
	return &malgoStream{ctx: mctx, device: device, rate: rate, logger: m.logger}, nil
}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rate   int
	logger *slog.Logger
	once   sync.Once
}

func (s *malgoStream) SampleRate() int { return s.rate }

func (s *malgoStream) Release() error {
	var err error
	s.once.Do(func() {
		err = s.device.Stop()
		s.device.Uninit()
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.logger.Info("microphone released")
	})
	return err
}

// MalgoRenderer opens the default speaker through miniaudio.
type MalgoRenderer struct {
	logger *slog.Logger
}

// NewMalgoRenderer creates a malgo-based renderer.
func NewMalgoRenderer(logger *slog.Logger) *MalgoRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoRenderer{logger: logger}
}

// Open implements Renderer. The returned output's clock counts frames
// consumed by the device.
func (r *MalgoRenderer) Open(cfg Config) (Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &malgoOutput{rate: cfg.SampleRate, logger: r.logger}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("init context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.BufferSize())

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: o.render})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classifyDeviceError("init device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classifyDeviceError("start device", err)
	}

	o.ctx = mctx
	o.device = device
	r.logger.Info("speaker opened", "sample_rate", cfg.SampleRate)
	return o, nil
}

type malgoOutput struct {
	rate   int
	logger *slog.Logger
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	played atomic.Int64 // frames consumed by the device

	mu     sync.Mutex
	voices []*malgoVoice // sorted by start frame
	closed bool
}

func (o *malgoOutput) Now() time.Duration {
	return DurationOf(int(o.played.Load()), o.rate)
}

func (o *malgoOutput) SampleRate() int { return o.rate }

func (o *malgoOutput) Schedule(samples []float32, at time.Duration) Voice {
	startFrame := int64(math.Round(at.Seconds() * float64(o.rate)))
	if played := o.played.Load(); startFrame < played {
		startFrame = played
	}
	v := &malgoVoice{
		samples:    samples,
		startFrame: startFrame,
		start:      DurationOf(int(startFrame), o.rate),
		duration:   DurationOf(len(samples), o.rate),
	}

	o.mu.Lock()
	if o.closed {
		v.cancelled.Store(true)
	} else {
		i := sort.Search(len(o.voices), func(i int) bool { return o.voices[i].startFrame > startFrame })
		o.voices = append(o.voices, nil)
		copy(o.voices[i+1:], o.voices[i:])
		o.voices[i] = v
	}
	o.mu.Unlock()
	return v
}

// render mixes every voice overlapping the device period into out.
func (o *malgoOutput) render(out, _ []byte, frames uint32) {
	base := o.played.Load()
	end := base + int64(frames)
	mix := make([]float32, frames)

	o.mu.Lock()
	kept := o.voices[:0]
	for _, v := range o.voices {
		if v.cancelled.Load() || v.endFrame() <= base {
			continue
		}
		kept = append(kept, v)
		if v.startFrame >= end {
			continue
		}
		from := max(v.startFrame, base)
		to := min(v.endFrame(), end)
		for f := from; f < to; f++ {
			mix[f-base] += v.samples[f-v.startFrame]
		}
	}
	o.voices = kept
	o.mu.Unlock()

	for i, s := range mix {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	o.played.Store(end)
}

func (o *malgoOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for _, v := range o.voices {
		v.Cancel()
	}
	o.voices = nil
	o.mu.Unlock()

	err := o.device.Stop()
	o.device.Uninit()
	_ = o.ctx.Uninit()
	o.ctx.Free()
	o.logger.Info("speaker closed")
	return err
}

type malgoVoice struct {
	samples    []float32
	startFrame int64
	start      time.Duration
	duration   time.Duration
	cancelled  atomic.Bool
}

func (v *malgoVoice) endFrame() int64         { return v.startFrame + int64(len(v.samples)) }
func (v *malgoVoice) Start() time.Duration    { return v.start }
func (v *malgoVoice) Duration() time.Duration { return v.duration }
func (v *malgoVoice) Cancel()                 { v.cancelled.Store(true) }

func decodeF32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// classifyDeviceError maps miniaudio failures onto the package sentinels.
// miniaudio reports OS access refusals as MA_ACCESS_DENIED.
func classifyDeviceError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%s: %w: %v", op, ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrDeviceUnavailable, err)
}

var (
	_ Capturer = (*MalgoCapturer)(nil)
	_ Renderer = (*MalgoRenderer)(nil)
)
