package audioio

import (
	"fmt"
	"log/slog"
)

// NewCapturer creates a microphone capturer for cfg.Backend.
func NewCapturer(cfg Config, logger *slog.Logger) (Capturer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend)
	logger.Info("creating audio capturer",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockCapturer(logger), nil
	case BackendMalgo:
		return NewMalgoCapturer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewRenderer creates a speaker renderer for the backend.
func NewRenderer(backend Backend, logger *slog.Logger) (Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend = resolveBackend(backend)
	logger.Info("creating audio renderer", "backend", backend)

	switch backend {
	case BackendMock:
		return &MockRenderer{}, nil
	case BackendMalgo:
		return NewMalgoRenderer(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

func resolveBackend(b Backend) Backend {
	if b == BackendAuto || b == "" {
		return BackendMalgo
	}
	return b
}

// AvailableBackends returns the backends compiled into this binary.
func AvailableBackends() []Backend {
	return []Backend{BackendMalgo, BackendMock}
}
