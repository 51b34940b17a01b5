package playback

import (
	"testing"
	"time"

	"github.com/teslashibe/go-livevoice/pkg/audioio"
)

// pcm returns d worth of 24 kHz PCM16 filled with value v.
func pcm(d time.Duration, v int16) []byte {
	n := int(int64(DefaultSampleRate) * int64(d) / int64(time.Second))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return audioio.SamplesToBytes(samples)
}

// drain advances the clock in poll steps until nothing is left to schedule.
func drain(s *Scheduler, out *audioio.MockOutput) {
	for i := 0; i < 1000 && s.Pending() > 0; i++ {
		out.Advance(DefaultPollInterval)
		s.Pump()
	}
}

func TestScheduler_InitialDelay(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	out.Advance(time.Second)
	s := New(out, DefaultConfig(), nil)

	n := s.Enqueue(pcm(100*time.Millisecond, 1000))
	if n != 1 {
		t.Fatalf("Expected 1 buffer scheduled, got %d", n)
	}

	v := out.Scheduled()[0]
	if v.Start() != time.Second+DefaultInitialDelay {
		t.Errorf("Expected start %v, got %v", time.Second+DefaultInitialDelay, v.Start())
	}
}

func TestScheduler_SplitsIntoSubBuffers(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	s := New(out, DefaultConfig(), nil)

	s.Enqueue(pcm(500*time.Millisecond, 1))
	drain(s, out)

	got := out.Scheduled()
	if len(got) != 4 {
		t.Fatalf("Expected 4 sub-buffers, got %d", len(got))
	}
	for i, v := range got[:3] {
		if len(v.Samples) != 3840 {
			t.Errorf("Buffer %d: expected 3840 samples, got %d", i, len(v.Samples))
		}
	}
	if len(got[3].Samples) != 480 {
		t.Errorf("Tail buffer: expected 480 samples, got %d", len(got[3].Samples))
	}
}

func TestScheduler_GaplessMonotonic(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	s := New(out, DefaultConfig(), nil)

	// Two chunks arriving back to back continue the same timeline.
	s.Enqueue(pcm(300*time.Millisecond, 1))
	out.Advance(50 * time.Millisecond)
	s.Enqueue(pcm(200*time.Millisecond, 2))
	drain(s, out)

	voices := out.Scheduled()
	var total time.Duration
	for i, v := range voices {
		total += v.Duration()
		if i == 0 {
			continue
		}
		prev := voices[i-1]
		if v.Start() < prev.Start() {
			t.Fatalf("Buffer %d starts before buffer %d", i, i-1)
		}
		if v.Start() != prev.End() {
			t.Errorf("Gap between buffer %d and %d: %v -> %v", i-1, i, prev.End(), v.Start())
		}
	}
	want := 500 * time.Millisecond
	if diff := total - want; diff < -DefaultSubBufferDuration || diff > DefaultSubBufferDuration {
		t.Errorf("Expected ~%v scheduled, got %v", want, total)
	}
}

func TestScheduler_LookAheadWindow(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	s := New(out, DefaultConfig(), nil)

	n := s.Enqueue(pcm(time.Second, 1))
	if n != 1 {
		t.Errorf("Expected only 1 buffer inside the window, got %d", n)
	}
	for _, v := range out.Scheduled() {
		if v.Start() > out.Now()+DefaultScheduleAhead {
			t.Errorf("Buffer at %v scheduled beyond window", v.Start())
		}
	}
	if s.Pending() == 0 {
		t.Error("Expected queued buffers beyond the window")
	}
	if !s.NeedsPolling() {
		t.Error("Expected polling while buffers are queued")
	}
}

func TestScheduler_LateStartClampsToClock(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	s := New(out, DefaultConfig(), nil)

	s.Enqueue(pcm(time.Second, 1))
	// Stall far past every scheduled start.
	out.Advance(2 * time.Second)
	s.Pump()

	for _, v := range out.Scheduled()[1:] {
		if v.Start() < 2*time.Second {
			t.Errorf("Buffer scheduled in the past at %v", v.Start())
		}
	}
}

func TestScheduler_Interrupt(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	s := New(out, DefaultConfig(), nil)

	s.Enqueue(pcm(time.Second, 111))
	out.Advance(100 * time.Millisecond)
	s.Pump()

	cancelled := s.Interrupt()
	if cancelled == 0 {
		t.Fatal("Expected scheduled buffers to be cancelled")
	}
	if s.Pending() != 0 {
		t.Errorf("Expected empty queue, got %d", s.Pending())
	}
	if s.ScheduledTime() != 0 {
		t.Errorf("Expected timeline reset to 0, got %v", s.ScheduledTime())
	}
	if s.NeedsPolling() {
		t.Error("Expected polling to stop after interrupt")
	}

	before := len(out.Scheduled())
	s.Enqueue(pcm(200*time.Millisecond, 222))
	drain(s, out)

	live := out.Live()
	if len(live) == 0 {
		t.Fatal("Expected new audio after interrupt")
	}
	for _, v := range live {
		if v.Samples[0] != audioio.PCM16ToFloat([]int16{222})[0] {
			t.Errorf("Old audio still live: %v", v.Samples[0])
		}
	}
	first := out.Scheduled()[before]
	if first.Start() != 100*time.Millisecond+DefaultInitialDelay {
		t.Errorf("Expected new audio to restart with initial delay, got %v", first.Start())
	}
}

func TestScheduler_TurnComplete(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	s := New(out, DefaultConfig(), nil)

	s.Enqueue(pcm(100*time.Millisecond, 1))
	if !s.NeedsPolling() {
		t.Fatal("Expected polling while turn is open")
	}
	s.MarkTurnComplete()
	if s.NeedsPolling() {
		t.Error("Expected polling to stop after turn complete with empty queue")
	}
}

func TestScheduler_EmptyChunk(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	s := New(out, DefaultConfig(), nil)

	if n := s.Enqueue(nil); n != 0 {
		t.Errorf("Expected nothing scheduled, got %d", n)
	}
	if n := s.Enqueue([]byte{0x01}); n != 0 {
		t.Errorf("Expected odd byte ignored, got %d", n)
	}
	if s.ScheduledTime() != 0 {
		t.Errorf("Empty chunks must not move the timeline")
	}
}

func TestScheduler_Buffered(t *testing.T) {
	out := audioio.NewMockOutput(DefaultSampleRate)
	s := New(out, DefaultConfig(), nil)

	s.Enqueue(pcm(480*time.Millisecond, 1))
	// 100ms delay plus 480ms of audio ahead of the clock.
	if got := s.Buffered(); got != 580*time.Millisecond {
		t.Errorf("Expected 580ms buffered, got %v", got)
	}
}

func TestScheduler_OutputRateDrivesTimeline(t *testing.T) {
	out := audioio.NewMockOutput(48000)
	s := New(out, DefaultConfig(), nil)

	// 320ms of audio already at the output's 48 kHz.
	s.Enqueue(audioio.SamplesToBytes(make([]int16, 15360)))
	drain(s, out)

	voices := out.Scheduled()
	if len(voices) != 2 {
		t.Fatalf("Expected 2 sub-buffers, got %d", len(voices))
	}
	for i, v := range voices {
		if len(v.Samples) != 7680 {
			t.Errorf("Buffer %d: expected 7680 samples, got %d", i, len(v.Samples))
		}
		if v.Duration() != DefaultSubBufferDuration {
			t.Errorf("Buffer %d: expected %v, got %v", i, DefaultSubBufferDuration, v.Duration())
		}
	}
	if voices[1].Start() != voices[0].End() {
		t.Errorf("Expected gapless start at %v, got %v", voices[0].End(), voices[1].Start())
	}
	if s.ScheduledTime() != voices[1].End() {
		t.Errorf("Timeline at %v, expected %v", s.ScheduledTime(), voices[1].End())
	}
}
