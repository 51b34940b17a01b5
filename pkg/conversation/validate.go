package conversation

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"
)

// ModelPrefix is the namespace every model reference on the wire carries.
const ModelPrefix = "models/"

// Defaults applied when a configured value is missing or invalid.
const (
	DefaultModel = "gemini-2.0-flash-live-001"
	DefaultVoice = "Puck"

	DefaultTemperature     = 1.0
	DefaultTopP            = 0.95
	DefaultTopK            = 40
	DefaultMaxOutputTokens = 8192

	SensitivityHigh = "high"
	SensitivityLow  = "low"

	DefaultSilenceDurationMs = 500
	DefaultPrefixPaddingMs   = 300

	// MinCredentialLength is the shortest accepted credential.
	MinCredentialLength = 20

	// MaxInstructionLength is the longest accepted system instruction, in
	// characters.
	MaxInstructionLength = 10000
)

// Bounds for clamped values.
const (
	minSilenceDurationMs = 100
	maxSilenceDurationMs = 5000
	maxPrefixPaddingMs   = 2000
)

// KnownModels lists model ids known to support live audio sessions.
var KnownModels = []string{
	"gemini-2.0-flash-live-001",
	"gemini-2.0-flash-exp",
	"gemini-live-2.5-flash-preview",
	"gemini-2.5-flash-native-audio-preview-09-2025",
}

// Voices lists the prebuilt voice names.
var Voices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede"}

// Adjustment records a configuration value that was replaced.
type Adjustment struct {
	Field   string `json:"field"`
	Given   string `json:"given"`
	Applied string `json:"applied"`
	Reason  string `json:"reason"`
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s: %q -> %q (%s)", a.Field, a.Given, a.Applied, a.Reason)
}

// ValidateCredential rejects empty or implausibly short credentials.
func ValidateCredential(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCredential)
	}
	if len(token) < MinCredentialLength {
		return fmt.Errorf("%w: shorter than %d characters", ErrInvalidCredential, MinCredentialLength)
	}
	return nil
}

// ValidateModel returns id if it is a known live model, otherwise the
// default model and an adjustment describing the substitution. A leading
// "models/" is accepted.
func ValidateModel(id string) (string, *Adjustment) {
	bare := strings.TrimPrefix(strings.TrimSpace(id), ModelPrefix)
	for _, m := range KnownModels {
		if bare == m {
			return m, nil
		}
	}
	return DefaultModel, &Adjustment{
		Field:   "model",
		Given:   id,
		Applied: DefaultModel,
		Reason:  "not a known live model",
	}
}

// ValidateVoice returns the canonical voice name, or the default voice and
// an adjustment.
func ValidateVoice(id string) (string, *Adjustment) {
	for _, v := range Voices {
		if strings.EqualFold(strings.TrimSpace(id), v) {
			return v, nil
		}
	}
	return DefaultVoice, &Adjustment{
		Field:   "voice",
		Given:   id,
		Applied: DefaultVoice,
		Reason:  "not a prebuilt voice",
	}
}

// ValidateSystemInstruction rejects empty, oversized or non-UTF-8 text.
func ValidateSystemInstruction(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidInstruction)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidInstruction)
	}
	if n := utf8.RuneCountInString(text); n > MaxInstructionLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidInstruction, n, MaxInstructionLength)
	}
	return nil
}

// ValidateGeneration replaces out-of-range sampling parameters with defaults.
func ValidateGeneration(g Generation) (Generation, []Adjustment) {
	var adj []Adjustment
	if g.Temperature < 0 || g.Temperature > 2 {
		adj = append(adj, floatAdjustment("generation.temperature", g.Temperature, DefaultTemperature, "must be within [0, 2]"))
		g.Temperature = DefaultTemperature
	}
	if g.TopP <= 0 || g.TopP > 1 {
		adj = append(adj, floatAdjustment("generation.top_p", g.TopP, DefaultTopP, "must be within (0, 1]"))
		g.TopP = DefaultTopP
	}
	if g.TopK < 1 {
		adj = append(adj, intAdjustment("generation.top_k", g.TopK, DefaultTopK, "must be at least 1"))
		g.TopK = DefaultTopK
	}
	if g.MaxOutputTokens < 1 || g.MaxOutputTokens > DefaultMaxOutputTokens {
		adj = append(adj, intAdjustment("generation.max_output_tokens", g.MaxOutputTokens, DefaultMaxOutputTokens, "must be within [1, 8192]"))
		g.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return g, adj
}

// ValidateVAD replaces invalid detection parameters with defaults.
func ValidateVAD(v VAD) (VAD, []Adjustment) {
	var adj []Adjustment
	if s, ok := normalizeSensitivity(v.StartSensitivity); ok {
		v.StartSensitivity = s
	} else {
		adj = append(adj, Adjustment{Field: "vad.start_sensitivity", Given: v.StartSensitivity, Applied: SensitivityHigh, Reason: "must be high or low"})
		v.StartSensitivity = SensitivityHigh
	}
	if s, ok := normalizeSensitivity(v.EndSensitivity); ok {
		v.EndSensitivity = s
	} else {
		adj = append(adj, Adjustment{Field: "vad.end_sensitivity", Given: v.EndSensitivity, Applied: SensitivityLow, Reason: "must be high or low"})
		v.EndSensitivity = SensitivityLow
	}
	if v.SilenceDurationMs < minSilenceDurationMs || v.SilenceDurationMs > maxSilenceDurationMs {
		adj = append(adj, intAdjustment("vad.silence_duration_ms", v.SilenceDurationMs, DefaultSilenceDurationMs, "must be within [100, 5000]"))
		v.SilenceDurationMs = DefaultSilenceDurationMs
	}
	if v.PrefixPaddingMs < 0 || v.PrefixPaddingMs > maxPrefixPaddingMs {
		adj = append(adj, intAdjustment("vad.prefix_padding_ms", v.PrefixPaddingMs, DefaultPrefixPaddingMs, "must be within [0, 2000]"))
		v.PrefixPaddingMs = DefaultPrefixPaddingMs
	}
	return v, adj
}

func normalizeSensitivity(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SensitivityHigh:
		return SensitivityHigh, true
	case SensitivityLow:
		return SensitivityLow, true
	default:
		return "", false
	}
}

// validateModalities uppercases known modalities and drops the rest. An
// empty result falls back to AUDIO.
func validateModalities(in []string) ([]string, []Adjustment) {
	var out []string
	var adj []Adjustment
	for _, m := range in {
		switch u := strings.ToUpper(strings.TrimSpace(m)); u {
		case string(genai.ModalityAudio), string(genai.ModalityText):
			out = append(out, u)
		default:
			adj = append(adj, Adjustment{Field: "response_modalities", Given: m, Reason: "unsupported modality dropped"})
		}
	}
	if len(out) == 0 {
		out = []string{string(genai.ModalityAudio)}
		adj = append(adj, Adjustment{Field: "response_modalities", Given: strings.Join(in, ","), Applied: "AUDIO", Reason: "no supported modality"})
	}
	return out, adj
}

// ValidateHandshake checks that a setup message carries everything the
// service requires. The service answers a malformed setup with an opaque
// close, so this runs before anything is sent.
func ValidateHandshake(msg *genai.LiveClientMessage) error {
	if msg == nil || msg.Setup == nil {
		return fmt.Errorf("%w: missing setup", ErrMalformedHandshake)
	}
	model := msg.Setup.Model
	if model == "" {
		return fmt.Errorf("%w: missing model", ErrMalformedHandshake)
	}
	if !strings.HasPrefix(model, ModelPrefix) || len(model) == len(ModelPrefix) {
		return fmt.Errorf("%w: model %q must look like %s<id>", ErrMalformedHandshake, model, ModelPrefix)
	}
	if msg.Setup.GenerationConfig == nil || len(msg.Setup.GenerationConfig.ResponseModalities) == 0 {
		return fmt.Errorf("%w: missing response modalities", ErrMalformedHandshake)
	}
	return nil
}

// normalize validates c in place. Credential and instruction problems are
// errors; everything else is replaced and reported.
func (c *Config) normalize(logger *slog.Logger) ([]Adjustment, error) {
	if c.TokenSource == nil {
		if err := ValidateCredential(c.APIKey); err != nil {
			return nil, err
		}
	}
	if err := ValidateSystemInstruction(c.SystemInstruction); err != nil {
		return nil, err
	}

	var adj []Adjustment
	var a *Adjustment
	if c.Model, a = ValidateModel(c.Model); a != nil {
		adj = append(adj, *a)
	}
	if c.Voice, a = ValidateVoice(c.Voice); a != nil {
		adj = append(adj, *a)
	}

	var more []Adjustment
	c.ResponseModalities, more = validateModalities(c.ResponseModalities)
	adj = append(adj, more...)
	c.Generation, more = ValidateGeneration(c.Generation)
	adj = append(adj, more...)
	c.VAD, more = ValidateVAD(c.VAD)
	adj = append(adj, more...)

	for _, a := range adj {
		logger.Warn("configuration adjusted",
			"field", a.Field,
			"given", a.Given,
			"applied", a.Applied,
			"reason", a.Reason,
		)
	}
	return adj, nil
}

func floatAdjustment(field string, given, applied float64, reason string) Adjustment {
	return Adjustment{
		Field:   field,
		Given:   strconv.FormatFloat(given, 'g', -1, 64),
		Applied: strconv.FormatFloat(applied, 'g', -1, 64),
		Reason:  reason,
	}
}

func intAdjustment(field string, given, applied int, reason string) Adjustment {
	return Adjustment{
		Field:   field,
		Given:   strconv.Itoa(given),
		Applied: strconv.Itoa(applied),
		Reason:  reason,
	}
}
