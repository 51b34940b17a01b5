//go:build integration

package conversation

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-livevoice/internal/log"
	"github.com/teslashibe/go-livevoice/pkg/audioio"
)

// These tests require a real API key and make actual API calls.
// Run with: go test -tags=integration -v ./pkg/conversation/...

func liveSession(t *testing.T, opts ...Option) (*Session, *audioio.MockRenderer) {
	t.Helper()
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		t.Skip("GOOGLE_API_KEY required")
	}

	speaker := &audioio.MockRenderer{}
	base := []Option{
		WithAPIKey(apiKey),
		WithSystemInstruction("You are a test assistant. Answer in one short sentence."),
		WithCapturer(audioio.NewMockCapturer(log.Discard())),
		WithRenderer(speaker),
		WithMetrics(false),
	}
	if model := os.Getenv("LIVEVOICE_MODEL"); model != "" {
		base = append(base, WithModel(model))
	}

	s, err := NewSession(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, speaker
}

func TestLiveIntegration(t *testing.T) {
	t.Run("connect and disconnect", func(t *testing.T) {
		s, _ := liveSession(t)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if s.State() != StateReady {
			t.Errorf("expected ready, got %s", s.State())
		}
		if err := s.Disconnect(); err != nil {
			t.Errorf("Disconnect: %v", err)
		}
		if s.State() != StateDisconnected {
			t.Errorf("expected disconnected, got %s", s.State())
		}
	})

	t.Run("unknown model is rejected", func(t *testing.T) {
		s, _ := liveSession(t)
		// Bypass validation to reach the service with a bad name.
		s.cfg.Model = "gemini-does-not-exist"
		msg := buildSetup(s.cfg)
		data, err := encode(msg)
		if err != nil {
			t.Fatal(err)
		}
		s.setup = data

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		err = s.Connect(ctx)
		if !IsModelUnavailable(err) {
			t.Errorf("expected model unavailable, got %v", err)
		}
	})

	t.Run("text turn produces audio and transcript", func(t *testing.T) {
		var mu sync.Mutex
		var transcripts []Transcript
		turnDone := make(chan struct{}, 1)

		s, speaker := liveSession(t,
			WithTranscriptHandler(func(tr Transcript) {
				mu.Lock()
				transcripts = append(transcripts, tr)
				mu.Unlock()
			}),
			WithStatusHandler(func(st State) {
				if st == StateReady {
					select {
					case turnDone <- struct{}{}:
					default:
					}
				}
			}),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.Connect(ctx); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		<-turnDone

		if err := s.SendText("Say hello."); err != nil {
			t.Fatalf("SendText: %v", err)
		}

		select {
		case <-turnDone:
		case <-ctx.Done():
			t.Fatal("no complete turn")
		}

		if out := speaker.Last(); out == nil || len(out.Scheduled()) == 0 {
			t.Error("expected scheduled audio")
		}
		mu.Lock()
		defer mu.Unlock()
		if len(transcripts) == 0 {
			t.Error("expected an output transcript")
		}
	})
}
