package conversation

import (
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/teslashibe/go-livevoice/internal/log"
)

func TestValidateCredential(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"too short", "abc123", true},
		{"short after trim", "  0123456789012345678  ", true},
		{"valid", "AIzaSyA-0123456789abcdefghij", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredential(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCredential) {
					t.Errorf("expected ErrInvalidCredential, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateModel(t *testing.T) {
	t.Run("unlisted model falls back", func(t *testing.T) {
		got, adj := ValidateModel("gpt-unlisted")
		if got != DefaultModel {
			t.Errorf("expected %s, got %s", DefaultModel, got)
		}
		if adj == nil {
			t.Fatal("expected an adjustment")
		}
		if adj.Field != "model" || adj.Given != "gpt-unlisted" || adj.Applied != DefaultModel {
			t.Errorf("unexpected adjustment: %+v", adj)
		}
	})

	t.Run("known models pass", func(t *testing.T) {
		for _, m := range KnownModels {
			got, adj := ValidateModel(m)
			if got != m || adj != nil {
				t.Errorf("ValidateModel(%q) = %q, %v", m, got, adj)
			}
		}
	})

	t.Run("prefix is stripped", func(t *testing.T) {
		got, adj := ValidateModel("models/gemini-2.0-flash-exp")
		if got != "gemini-2.0-flash-exp" || adj != nil {
			t.Errorf("got %q, %v", got, adj)
		}
	})

	t.Run("empty falls back", func(t *testing.T) {
		got, adj := ValidateModel("")
		if got != DefaultModel || adj == nil {
			t.Errorf("got %q, %v", got, adj)
		}
	})
}

func TestValidateVoice(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		adjusts bool
	}{
		{"Puck", "Puck", false},
		{"kore", "Kore", false},
		{" AOEDE ", "Aoede", false},
		{"alloy", DefaultVoice, true},
		{"", DefaultVoice, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, adj := ValidateVoice(tt.in)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if (adj != nil) != tt.adjusts {
				t.Errorf("adjustment = %v, want adjusted=%v", adj, tt.adjusts)
			}
		})
	}
}

func TestValidateSystemInstruction(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"valid", "You are a friendly assistant.", false},
		{"empty", "", true},
		{"whitespace", " \n\t ", true},
		{"at limit", strings.Repeat("a", MaxInstructionLength), false},
		{"over limit", strings.Repeat("a", MaxInstructionLength+1), true},
		{"multibyte at limit", strings.Repeat("é", MaxInstructionLength), false},
		{"invalid utf8", "hello \xff world", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSystemInstruction(tt.text)
			if tt.wantErr && !errors.Is(err, ErrInvalidInstruction) {
				t.Errorf("expected ErrInvalidInstruction, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateGeneration(t *testing.T) {
	t.Run("defaults are untouched", func(t *testing.T) {
		in := DefaultConfig().Generation
		got, adj := ValidateGeneration(in)
		if got != in || len(adj) != 0 {
			t.Errorf("got %+v, %v", got, adj)
		}
	})

	t.Run("out of range values reset", func(t *testing.T) {
		got, adj := ValidateGeneration(Generation{Temperature: 3, TopP: 0, TopK: 0, MaxOutputTokens: 100000})
		want := Generation{
			Temperature:     DefaultTemperature,
			TopP:            DefaultTopP,
			TopK:            DefaultTopK,
			MaxOutputTokens: DefaultMaxOutputTokens,
		}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
		if len(adj) != 4 {
			t.Errorf("expected 4 adjustments, got %d", len(adj))
		}
	})
}

func TestValidateVAD(t *testing.T) {
	got, adj := ValidateVAD(VAD{
		StartSensitivity:  "LOW",
		EndSensitivity:    "medium",
		SilenceDurationMs: 20,
		PrefixPaddingMs:   300,
	})
	if got.StartSensitivity != SensitivityLow {
		t.Errorf("start sensitivity = %q", got.StartSensitivity)
	}
	if got.EndSensitivity != SensitivityLow {
		t.Errorf("end sensitivity = %q", got.EndSensitivity)
	}
	if got.SilenceDurationMs != DefaultSilenceDurationMs {
		t.Errorf("silence = %d", got.SilenceDurationMs)
	}
	if got.PrefixPaddingMs != 300 {
		t.Errorf("prefix = %d", got.PrefixPaddingMs)
	}
	if len(adj) != 2 {
		t.Errorf("expected 2 adjustments, got %v", adj)
	}
}

func TestValidateHandshake(t *testing.T) {
	valid := func() *genai.LiveClientMessage {
		cfg := DefaultConfig()
		cfg.SystemInstruction = "Be brief."
		return buildSetup(cfg)
	}

	tests := []struct {
		name   string
		mutate func(*genai.LiveClientMessage) *genai.LiveClientMessage
		ok     bool
	}{
		{"valid", func(m *genai.LiveClientMessage) *genai.LiveClientMessage { return m }, true},
		{"nil message", func(*genai.LiveClientMessage) *genai.LiveClientMessage { return nil }, false},
		{"missing setup", func(*genai.LiveClientMessage) *genai.LiveClientMessage { return &genai.LiveClientMessage{} }, false},
		{"empty model", func(m *genai.LiveClientMessage) *genai.LiveClientMessage {
			m.Setup.Model = ""
			return m
		}, false},
		{"model without prefix", func(m *genai.LiveClientMessage) *genai.LiveClientMessage {
			m.Setup.Model = DefaultModel
			return m
		}, false},
		{"bare prefix", func(m *genai.LiveClientMessage) *genai.LiveClientMessage {
			m.Setup.Model = ModelPrefix
			return m
		}, false},
		{"missing modalities", func(m *genai.LiveClientMessage) *genai.LiveClientMessage {
			m.Setup.GenerationConfig.ResponseModalities = nil
			return m
		}, false},
		{"missing generation config", func(m *genai.LiveClientMessage) *genai.LiveClientMessage {
			m.Setup.GenerationConfig = nil
			return m
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHandshake(tt.mutate(valid()))
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrMalformedHandshake) {
				t.Errorf("expected ErrMalformedHandshake, got %v", err)
			}
		})
	}
}

func TestConfigNormalize(t *testing.T) {
	t.Run("collects adjustments", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.APIKey = "AIzaSyA-0123456789abcdefghij"
		cfg.SystemInstruction = "Be brief."
		cfg.Model = "gpt-unlisted"
		cfg.Voice = "nova"
		cfg.ResponseModalities = []string{"video"}

		adj, err := cfg.normalize(log.Discard())
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		fields := map[string]bool{}
		for _, a := range adj {
			fields[a.Field] = true
		}
		for _, f := range []string{"model", "voice", "response_modalities"} {
			if !fields[f] {
				t.Errorf("missing adjustment for %s in %v", f, adj)
			}
		}
		if cfg.Model != DefaultModel || cfg.Voice != DefaultVoice {
			t.Errorf("config not corrected: %s %s", cfg.Model, cfg.Voice)
		}
		if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != "AUDIO" {
			t.Errorf("modalities = %v", cfg.ResponseModalities)
		}
	})

	t.Run("token source skips api key check", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TokenSource = staticToken("token")
		cfg.SystemInstruction = "Be brief."
		if _, err := cfg.normalize(log.Discard()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("modalities are canonicalized", func(t *testing.T) {
		got, adj := validateModalities([]string{"audio", "Text"})
		if len(got) != 2 || got[0] != "AUDIO" || got[1] != "TEXT" || len(adj) != 0 {
			t.Errorf("got %v, %v", got, adj)
		}
	})
}
