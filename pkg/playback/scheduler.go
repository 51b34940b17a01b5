// Package playback schedules inbound speech audio against an output clock.
//
// Incoming PCM16 chunks are split into short sub-buffers and queued. On each
// pump the scheduler hands buffers to the output while the next start time
// falls inside a short look-ahead window, so a late interrupt only ever has
// a small amount of audio already committed to the device. Each buffer starts
// exactly where the previous one ended, or at the current clock if playback
// fell behind.
package playback

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-livevoice/pkg/audioio"
)

// Default timing parameters.
const (
	DefaultSampleRate        = 24000
	DefaultSubBufferDuration = 160 * time.Millisecond
	DefaultInitialDelay      = 100 * time.Millisecond
	DefaultScheduleAhead     = 200 * time.Millisecond
	DefaultPollInterval      = 100 * time.Millisecond
)

// Config holds scheduler timing.
type Config struct {
	// SampleRate of queued audio. New replaces it with the output's rate
	// when the output reports one.
	SampleRate int

	// SubBufferDuration is the length of each scheduled buffer.
	SubBufferDuration time.Duration

	// InitialDelay is added before the first buffer when playback is idle,
	// giving the network a head start.
	InitialDelay time.Duration

	// ScheduleAhead bounds how far past the clock buffers are committed.
	ScheduleAhead time.Duration
}

// DefaultConfig returns the standard 24 kHz timing.
func DefaultConfig() Config {
	return Config{
		SampleRate:        DefaultSampleRate,
		SubBufferDuration: DefaultSubBufferDuration,
		InitialDelay:      DefaultInitialDelay,
		ScheduleAhead:     DefaultScheduleAhead,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.SubBufferDuration <= 0 {
		c.SubBufferDuration = d.SubBufferDuration
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.ScheduleAhead <= 0 {
		c.ScheduleAhead = d.ScheduleAhead
	}
	return c
}

// SubBufferSamples returns the sample count of one sub-buffer.
func (c Config) SubBufferSamples() int {
	n := int(int64(c.SampleRate) * int64(c.SubBufferDuration) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	return n
}

// Scheduler queues and schedules audio on an Output.
//
// A Scheduler is not safe for concurrent use. The owning session drives it
// from a single goroutine.
type Scheduler struct {
	out    audioio.Output
	cfg    Config
	logger *slog.Logger

	queue         [][]float32
	scheduledTime time.Duration
	inflight      []audioio.Voice
	turnOpen      bool
}

// New creates a scheduler playing into out. Enqueued audio must already be
// at the output's sample rate.
func New(out audioio.Output, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if rate := out.SampleRate(); rate > 0 {
		cfg.SampleRate = rate
	}
	return &Scheduler{
		out:    out,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Enqueue appends a PCM16 little-endian chunk. It is split into sub-buffers
// and scheduling starts immediately. Returns the number of buffers handed to
// the output by this call.
func (s *Scheduler) Enqueue(pcm []byte) int {
	samples := audioio.DecodePCM16(pcm)
	if len(samples) == 0 {
		return 0
	}

	now := s.out.Now()
	if s.idle(now) {
		s.scheduledTime = now + s.cfg.InitialDelay
	}

	size := s.cfg.SubBufferSamples()
	for off := 0; off < len(samples); off += size {
		end := min(off+size, len(samples))
		s.queue = append(s.queue, samples[off:end])
	}
	s.turnOpen = true

	return s.pump(now)
}

// idle is true when nothing is queued and nothing scheduled is still ahead
// of the clock.
func (s *Scheduler) idle(now time.Duration) bool {
	return len(s.queue) == 0 && (s.scheduledTime == 0 || s.scheduledTime <= now)
}

// Pump schedules queued buffers whose start falls inside the look-ahead
// window. Call it periodically while NeedsPolling reports true.
func (s *Scheduler) Pump() int {
	return s.pump(s.out.Now())
}

func (s *Scheduler) pump(now time.Duration) int {
	s.prune(now)

	n := 0
	horizon := now + s.cfg.ScheduleAhead
	for len(s.queue) > 0 && s.scheduledTime <= horizon {
		buf := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		start := max(s.scheduledTime, now)
		v := s.out.Schedule(buf, start)
		s.inflight = append(s.inflight, v)
		s.scheduledTime = start + audioio.DurationOf(len(buf), s.cfg.SampleRate)
		n++
	}
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return n
}

// prune drops handles of buffers that already finished.
func (s *Scheduler) prune(now time.Duration) {
	kept := s.inflight[:0]
	for _, v := range s.inflight {
		if v.Start()+v.Duration() > now {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(s.inflight); i++ {
		s.inflight[i] = nil
	}
	s.inflight = kept
}

// Interrupt discards queued audio, cancels every scheduled buffer and resets
// the timeline so the next chunk starts fresh. Returns the number of buffers
// cancelled.
func (s *Scheduler) Interrupt() int {
	cancelled := len(s.inflight)
	for _, v := range s.inflight {
		v.Cancel()
	}
	dropped := len(s.queue)

	s.inflight = nil
	s.queue = nil
	s.scheduledTime = 0
	s.turnOpen = false

	if cancelled > 0 || dropped > 0 {
		s.logger.Debug("playback interrupted", "cancelled", cancelled, "dropped", dropped)
	}
	return cancelled
}

// MarkTurnComplete records that no more audio is coming for this turn.
// Polling stops once the queue drains.
func (s *Scheduler) MarkTurnComplete() {
	s.turnOpen = false
}

// NeedsPolling reports whether Pump still has work to do.
func (s *Scheduler) NeedsPolling() bool {
	return len(s.queue) > 0 || s.turnOpen
}

// Pending returns the number of queued, unscheduled buffers.
func (s *Scheduler) Pending() int {
	return len(s.queue)
}

// ScheduledTime returns the clock time where the next buffer would start.
func (s *Scheduler) ScheduledTime() time.Duration {
	return s.scheduledTime
}

// Buffered returns how much audio is queued or scheduled ahead of the clock.
func (s *Scheduler) Buffered() time.Duration {
	now := s.out.Now()
	var d time.Duration
	if s.scheduledTime > now {
		d = s.scheduledTime - now
	}
	for _, buf := range s.queue {
		d += audioio.DurationOf(len(buf), s.cfg.SampleRate)
	}
	return d
}
