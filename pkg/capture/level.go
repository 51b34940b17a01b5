package capture

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-livevoice/pkg/audioio"
)

// DefaultLevelInterval gives roughly 20 updates per second.
const DefaultLevelInterval = 50 * time.Millisecond

// floorDB is the loudness mapped to level 0.
const floorDB = -60.0

// LevelMonitor tracks the loudness of the most recent capture block and
// reports it as a value in [0, 1] at a fixed rate.
type LevelMonitor struct {
	interval time.Duration
	onLevel  func(float64)

	latest atomic.Uint64 // math.Float64bits of the normalized level

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLevelMonitor creates a monitor that calls onLevel every interval while
// running. onLevel may be nil, in which case only Level is useful. onLevel
// runs on the sampler goroutine and must not call Stop.
func NewLevelMonitor(interval time.Duration, onLevel func(float64)) *LevelMonitor {
	if interval <= 0 {
		interval = DefaultLevelInterval
	}
	return &LevelMonitor{interval: interval, onLevel: onLevel}
}

// Observe records the loudness of samples. Safe to call from the device
// callback.
func (m *LevelMonitor) Observe(samples []float32) {
	m.latest.Store(math.Float64bits(NormalizeLevel(audioio.RMS(samples))))
}

// Level returns the most recently observed level.
func (m *LevelMonitor) Level() float64 {
	return math.Float64frombits(m.latest.Load())
}

// Start begins periodic sampling. Calling Start while running is a no-op.
func (m *LevelMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

func (m *LevelMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.onLevel != nil {
				m.onLevel(m.Level())
			}
		}
	}
}

// Stop halts sampling, waits for the sampler goroutine to exit and resets
// the level to zero. Idempotent.
func (m *LevelMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.latest.Store(0)
}

// NormalizeLevel maps an RMS amplitude onto [0, 1] using a -60 dBFS floor.
func NormalizeLevel(rms float64) float64 {
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	level := (db - floorDB) / -floorDB
	return math.Max(0, math.Min(1, level))
}
