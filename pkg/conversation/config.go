package conversation

import (
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-livevoice/pkg/audioio"
	"github.com/teslashibe/go-livevoice/pkg/capture"
	"github.com/teslashibe/go-livevoice/pkg/playback"
	"github.com/teslashibe/go-livevoice/pkg/transport"
)

// DefaultEndpoint is the Gemini Live bidirectional streaming endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// DefaultHandshakeTimeout bounds the wait for setup acknowledgement.
const DefaultHandshakeTimeout = 10 * time.Second

// Generation holds sampling parameters.
type Generation struct {
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	TopP            float64 `yaml:"top_p" json:"top_p"`
	TopK            int     `yaml:"top_k" json:"top_k"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// VAD configures server-side voice activity detection.
type VAD struct {
	// StartSensitivity is "high" or "low".
	StartSensitivity string `yaml:"start_sensitivity" json:"start_sensitivity"`

	// EndSensitivity is "high" or "low".
	EndSensitivity string `yaml:"end_sensitivity" json:"end_sensitivity"`

	// SilenceDurationMs is how long the user must be quiet before the turn ends.
	SilenceDurationMs int `yaml:"silence_duration_ms" json:"silence_duration_ms"`

	// PrefixPaddingMs is audio kept from before speech was detected.
	PrefixPaddingMs int `yaml:"prefix_padding_ms" json:"prefix_padding_ms"`
}

// Config holds configuration for a Session.
type Config struct {
	// APIKey authenticates with the service. Ignored when TokenSource is set.
	APIKey string

	// TokenSource supplies OAuth2 bearer tokens instead of an API key.
	TokenSource oauth2.TokenSource

	// Endpoint is the WebSocket URL.
	Endpoint string

	// Model is the model id, with or without the "models/" prefix.
	Model string

	// Voice is the prebuilt voice name.
	Voice string

	// SystemInstruction is sent with the handshake.
	SystemInstruction string

	// ResponseModalities lists requested output modalities.
	ResponseModalities []string

	Generation Generation
	VAD        VAD

	// InputTranscription asks the service to transcribe user audio.
	InputTranscription bool

	// OutputTranscription asks the service to transcribe model audio.
	OutputTranscription bool

	// HandshakeTimeout bounds the wait for setup acknowledgement.
	HandshakeTimeout time.Duration

	// PollInterval is how often queued playback audio is re-examined.
	PollInterval time.Duration

	// LevelInterval is how often the audio level callback fires.
	LevelInterval time.Duration

	Capture  capture.Config
	Playback playback.Config

	// Input and Output configure the microphone and speaker devices used
	// when no Capturer or Renderer is supplied.
	Input  audioio.Config
	Output audioio.Config

	Dialer   transport.Dialer
	Capturer audioio.Capturer
	Renderer audioio.Renderer

	// EnableMetrics records Prometheus metrics.
	EnableMetrics bool

	// Logger is the structured logger to use.
	Logger *slog.Logger

	OnStatus         func(State)
	OnTranscript     func(Transcript)
	OnLevel          func(float64)
	OnError          func(error)
	OnConfigAdjusted func([]Adjustment)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:           DefaultEndpoint,
		Model:              DefaultModel,
		Voice:              DefaultVoice,
		ResponseModalities: []string{"AUDIO"},
		Generation: Generation{
			Temperature:     DefaultTemperature,
			TopP:            DefaultTopP,
			TopK:            DefaultTopK,
			MaxOutputTokens: DefaultMaxOutputTokens,
		},
		VAD: VAD{
			StartSensitivity:  SensitivityHigh,
			EndSensitivity:    SensitivityLow,
			SilenceDurationMs: DefaultSilenceDurationMs,
			PrefixPaddingMs:   DefaultPrefixPaddingMs,
		},
		InputTranscription:  true,
		OutputTranscription: true,
		HandshakeTimeout:    DefaultHandshakeTimeout,
		PollInterval:        playback.DefaultPollInterval,
		LevelInterval:       capture.DefaultLevelInterval,
		Capture:             capture.DefaultConfig(),
		Playback:            playback.DefaultConfig(),
		Input:               audioio.DefaultCaptureConfig(),
		Output:              audioio.DefaultOutputConfig(),
		EnableMetrics:       true,
		Logger:              slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option is a functional option for configuring sessions.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithTokenSource authenticates with OAuth2 bearer tokens.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) {
		c.TokenSource = ts
	}
}

// WithEndpoint overrides the WebSocket URL.
func WithEndpoint(url string) Option {
	return func(c *Config) {
		c.Endpoint = url
	}
}

// WithModel sets the model id.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithVoice sets the voice name.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithSystemInstruction sets the system instruction.
func WithSystemInstruction(text string) Option {
	return func(c *Config) {
		c.SystemInstruction = text
	}
}

// WithResponseModalities sets the requested output modalities.
func WithResponseModalities(m ...string) Option {
	return func(c *Config) {
		c.ResponseModalities = m
	}
}

// WithGeneration sets sampling parameters.
func WithGeneration(g Generation) Option {
	return func(c *Config) {
		c.Generation = g
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(c *Config) {
		c.Generation.Temperature = temp
	}
}

// WithVAD configures voice activity detection.
func WithVAD(v VAD) Option {
	return func(c *Config) {
		c.VAD = v
	}
}

// WithTranscription toggles input and output transcription.
func WithTranscription(input, output bool) Option {
	return func(c *Config) {
		c.InputTranscription = input
		c.OutputTranscription = output
	}
}

// WithHandshakeTimeout sets the handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithPollInterval sets the playback poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithLevelInterval sets the audio level callback interval.
func WithLevelInterval(d time.Duration) Option {
	return func(c *Config) {
		c.LevelInterval = d
	}
}

// WithCapture sets capture block parameters.
func WithCapture(cc capture.Config) Option {
	return func(c *Config) {
		c.Capture = cc
	}
}

// WithPlayback sets playback scheduling parameters.
func WithPlayback(pc playback.Config) Option {
	return func(c *Config) {
		c.Playback = pc
	}
}

// WithOutput sets the speaker device configuration. Inbound audio is
// resampled to its rate.
func WithOutput(oc audioio.Config) Option {
	return func(c *Config) {
		c.Output = oc
	}
}

// WithAudioBackend selects the device backend used when no Capturer or
// Renderer is supplied.
func WithAudioBackend(b audioio.Backend) Option {
	return func(c *Config) {
		c.Input.Backend = b
		c.Output.Backend = b
	}
}

// WithDialer sets the connection dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithCapturer sets the microphone backend.
func WithCapturer(cp audioio.Capturer) Option {
	return func(c *Config) {
		c.Capturer = cp
	}
}

// WithRenderer sets the speaker backend.
func WithRenderer(r audioio.Renderer) Option {
	return func(c *Config) {
		c.Renderer = r
	}
}

// WithMetrics enables or disables metrics collection.
func WithMetrics(enabled bool) Option {
	return func(c *Config) {
		c.EnableMetrics = enabled
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithStatusHandler sets the state change callback.
func WithStatusHandler(fn func(State)) Option {
	return func(c *Config) {
		c.OnStatus = fn
	}
}

// WithTranscriptHandler sets the transcript callback.
func WithTranscriptHandler(fn func(Transcript)) Option {
	return func(c *Config) {
		c.OnTranscript = fn
	}
}

// WithLevelHandler sets the audio level callback.
func WithLevelHandler(fn func(float64)) Option {
	return func(c *Config) {
		c.OnLevel = fn
	}
}

// WithErrorHandler sets the error callback.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Config) {
		c.OnError = fn
	}
}

// WithConfigAdjustedHandler sets the callback fired when validation
// replaced configuration values with defaults.
func WithConfigAdjustedHandler(fn func([]Adjustment)) Option {
	return func(c *Config) {
		c.OnConfigAdjusted = fn
	}
}
