// Command livevoice holds a spoken conversation with a Gemini Live model
// through the default microphone and speaker.
//
// Usage:
//
//	GOOGLE_API_KEY=... go run ./cmd/livevoice
//	go run ./cmd/livevoice --config ./livevoice.yaml --voice Kore
//	go run ./cmd/livevoice --monitor "" --metrics ""  # no HTTP servers
//
// While running, type a line to send it as text, or use /interrupt,
// /mute, /unmute and /quit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-livevoice/internal/config"
	"github.com/teslashibe/go-livevoice/internal/log"
	"github.com/teslashibe/go-livevoice/pkg/audioio"
	"github.com/teslashibe/go-livevoice/pkg/conversation"
	"github.com/teslashibe/go-livevoice/pkg/metrics"
	"github.com/teslashibe/go-livevoice/pkg/monitor"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default ~/.livevoice.yaml)")
	model := flag.String("model", "", "Model id")
	voice := flag.String("voice", "", "Prebuilt voice name")
	instruction := flag.String("instruction", "", "System instruction")
	monitorAddr := flag.String("monitor", "", "Monitor listen address, empty string disables")
	metricsAddr := flag.String("metrics", "", "Metrics listen address, empty string disables")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	noListen := flag.Bool("no-listen", false, "Do not open the microphone after connecting")
	mockAudio := flag.Bool("mock-audio", false, "Use silent mock audio devices")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config error: %v\n", err)
		os.Exit(1)
	}

	// Flags only override what was explicitly passed.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model = *model
		case "voice":
			cfg.Voice = *voice
		case "instruction":
			cfg.SystemInstruction = *instruction
		case "monitor":
			cfg.Monitor.Addr = *monitorAddr
			cfg.Monitor.Enabled = *monitorAddr != ""
		case "metrics":
			cfg.Metrics.Addr = *metricsAddr
			cfg.Metrics.Enabled = *metricsAddr != ""
		case "log-level":
			cfg.Log.Level = *logLevel
		case "no-listen":
			cfg.AutoListen = !*noListen
		case "mock-audio":
			if *mockAudio {
				cfg.Audio.Backend = audioio.BackendMock
			}
		}
	})

	logger := log.Init(cfg.Log.Level)

	if cfg.APIKey == "" {
		fmt.Fprintf(os.Stderr, "❌ %s is required\n", config.EnvAPIKey)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		if sugg := conversation.Suggestions(err); len(sugg) > 0 {
			fmt.Fprintf(os.Stderr, "   Try one of: %v\n", sugg)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon = monitor.NewServer(cfg.Monitor.Addr, logger)
	}

	opts := append(cfg.SessionOptions(),
		conversation.WithLogger(logger),
		conversation.WithStatusHandler(func(s conversation.State) {
			fmt.Printf("● %s\n", s)
			if mon != nil {
				mon.ObserveState(s)
			}
		}),
		conversation.WithTranscriptHandler(func(t conversation.Transcript) {
			if t.Origin == conversation.OriginUser {
				fmt.Printf("🗣️  %s\n", t.Text)
			} else {
				fmt.Printf("🤖 %s\n", t.Text)
			}
			if mon != nil {
				mon.ObserveTranscript(t)
			}
		}),
		conversation.WithErrorHandler(func(err error) {
			fmt.Printf("⚠️  %v\n", err)
			if mon != nil {
				mon.ObserveError(err)
			}
		}),
		conversation.WithConfigAdjustedHandler(func(adj []conversation.Adjustment) {
			for _, a := range adj {
				fmt.Printf("⚠️  %s: %q replaced with %q (%s)\n", a.Field, a.Given, a.Applied, a.Reason)
			}
		}),
	)
	if mon != nil {
		opts = append(opts, conversation.WithLevelHandler(mon.ObserveLevel))
	}

	session, err := conversation.NewSession(opts...)
	if err != nil {
		return err
	}
	defer session.Close()
	if mon != nil {
		mon.SetController(session)
	}

	g, gctx := errgroup.WithContext(ctx)

	if mon != nil {
		g.Go(func() error { return mon.Run(gctx) })
	}

	if cfg.Metrics.Enabled {
		exporter := metrics.NewExporter(cfg.Metrics.Addr)
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return exporter.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := session.Connect(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Println("✅ Connected. Type to chat, /help for commands.")

		if cfg.AutoListen {
			if err := session.StartListening(gctx); err != nil {
				fmt.Printf("⚠️  Microphone: %v\n", err)
			}
		}

		lines := readLines(os.Stdin)
		for {
			select {
			case <-gctx.Done():
				return session.Disconnect()
			case line, ok := <-lines:
				if !ok {
					// Stdin closed: keep talking until a signal arrives.
					lines = nil
					continue
				}
				quit, err := handleLine(gctx, session, line)
				if err != nil {
					fmt.Printf("⚠️  %v\n", err)
				}
				if quit {
					cancel()
				}
			}
		}
	})

	return g.Wait()
}
