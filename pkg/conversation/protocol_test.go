package conversation

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestBuildSetup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SystemInstruction = "Be brief."
	cfg.Voice = "Kore"
	cfg.VAD.SilenceDurationMs = 800

	data, err := encode(buildSetup(cfg))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var wire struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
				MaxOutputTokens int `json:"maxOutputTokens"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			RealtimeInputConfig struct {
				AutomaticActivityDetection struct {
					StartOfSpeechSensitivity string `json:"startOfSpeechSensitivity"`
					EndOfSpeechSensitivity   string `json:"endOfSpeechSensitivity"`
					SilenceDurationMs        int    `json:"silenceDurationMs"`
					PrefixPaddingMs          int    `json:"prefixPaddingMs"`
				} `json:"automaticActivityDetection"`
			} `json:"realtimeInputConfig"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("decode: %v", err)
	}

	s := wire.Setup
	if s.Model != "models/"+DefaultModel {
		t.Errorf("model = %q", s.Model)
	}
	if len(s.GenerationConfig.ResponseModalities) != 1 || s.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("modalities = %v", s.GenerationConfig.ResponseModalities)
	}
	if got := s.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Kore" {
		t.Errorf("voice = %q", got)
	}
	if s.GenerationConfig.MaxOutputTokens != DefaultMaxOutputTokens {
		t.Errorf("max tokens = %d", s.GenerationConfig.MaxOutputTokens)
	}
	if len(s.SystemInstruction.Parts) != 1 || s.SystemInstruction.Parts[0].Text != "Be brief." {
		t.Errorf("system instruction = %+v", s.SystemInstruction)
	}
	aad := s.RealtimeInputConfig.AutomaticActivityDetection
	if aad.StartOfSpeechSensitivity != "START_SENSITIVITY_HIGH" || aad.EndOfSpeechSensitivity != "END_SENSITIVITY_LOW" {
		t.Errorf("sensitivities = %s / %s", aad.StartOfSpeechSensitivity, aad.EndOfSpeechSensitivity)
	}
	if aad.SilenceDurationMs != 800 || aad.PrefixPaddingMs != DefaultPrefixPaddingMs {
		t.Errorf("vad timing = %d / %d", aad.SilenceDurationMs, aad.PrefixPaddingMs)
	}
	if s.InputAudioTranscription == nil || s.OutputAudioTranscription == nil {
		t.Error("transcription should be requested")
	}
}

func TestClientMessages(t *testing.T) {
	t.Run("audio frame", func(t *testing.T) {
		pcm := []byte{1, 2, 3, 4}
		data, err := encode(audioMessage(pcm))
		if err != nil {
			t.Fatal(err)
		}
		var wire struct {
			RealtimeInput struct {
				Audio struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"audio"`
			} `json:"realtimeInput"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			t.Fatal(err)
		}
		if wire.RealtimeInput.Audio.MIMEType != InputMIMEType {
			t.Errorf("mime = %q", wire.RealtimeInput.Audio.MIMEType)
		}
		if wire.RealtimeInput.Audio.Data != base64.StdEncoding.EncodeToString(pcm) {
			t.Errorf("data = %q", wire.RealtimeInput.Audio.Data)
		}
	})

	t.Run("text turn", func(t *testing.T) {
		data, err := encode(textMessage("hello"))
		if err != nil {
			t.Fatal(err)
		}
		var wire struct {
			ClientContent struct {
				Turns []struct {
					Role  string `json:"role"`
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"turns"`
				TurnComplete bool `json:"turnComplete"`
			} `json:"clientContent"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			t.Fatal(err)
		}
		cc := wire.ClientContent
		if !cc.TurnComplete {
			t.Error("turnComplete should be true")
		}
		if len(cc.Turns) != 1 || cc.Turns[0].Role != "user" || cc.Turns[0].Parts[0].Text != "hello" {
			t.Errorf("turns = %+v", cc.Turns)
		}
	})
}

func TestDecodeServerMessage(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{0, 1, 2, 3})

	t.Run("setup complete", func(t *testing.T) {
		in, err := decodeServerMessage([]byte(`{"setupComplete":{}}`))
		if err != nil {
			t.Fatal(err)
		}
		if !in.setupComplete || !in.recognized() {
			t.Errorf("got %+v", in)
		}
	})

	t.Run("content parts in order", func(t *testing.T) {
		msg := `{"serverContent":{"modelTurn":{"parts":[
			{"text":"Hi"},
			{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audio + `"}},
			{"text":"there"}
		]}}}`
		in, err := decodeServerMessage([]byte(msg))
		if err != nil {
			t.Fatal(err)
		}
		if len(in.parts) != 3 {
			t.Fatalf("expected 3 parts, got %d", len(in.parts))
		}
		if in.parts[0].text != "Hi" || in.parts[2].text != "there" {
			t.Errorf("text parts = %+v", in.parts)
		}
		if len(in.parts[1].audio) != 4 || in.parts[1].rate != 24000 {
			t.Errorf("audio part = %+v", in.parts[1])
		}
	})

	t.Run("flags and transcriptions", func(t *testing.T) {
		msg := `{"serverContent":{"turnComplete":true,"interrupted":true,
			"inputTranscription":{"text":"nested"},
			"outputTranscription":{"text":"spoken"}}}`
		in, err := decodeServerMessage([]byte(msg))
		if err != nil {
			t.Fatal(err)
		}
		if !in.turnComplete || !in.interrupted {
			t.Errorf("flags = %v %v", in.turnComplete, in.interrupted)
		}
		if in.inputTranscript != "nested" || in.outputTranscript != "spoken" {
			t.Errorf("transcripts = %q %q", in.inputTranscript, in.outputTranscript)
		}
	})

	t.Run("top level input transcription", func(t *testing.T) {
		in, err := decodeServerMessage([]byte(`{"inputTranscription":{"text":"hello"}}`))
		if err != nil {
			t.Fatal(err)
		}
		if in.inputTranscript != "hello" || !in.recognized() {
			t.Errorf("got %+v", in)
		}
	})

	t.Run("non-audio inline data ignored", func(t *testing.T) {
		msg := `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"image/png","data":"` + audio + `"}}]}}}`
		in, err := decodeServerMessage([]byte(msg))
		if err != nil {
			t.Fatal(err)
		}
		if len(in.parts) != 0 {
			t.Errorf("expected no parts, got %+v", in.parts)
		}
	})

	t.Run("error payload", func(t *testing.T) {
		in, err := decodeServerMessage([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
		if err != nil {
			t.Fatal(err)
		}
		if in.err == nil || in.err.Code != 429 || in.err.Status != "RESOURCE_EXHAUSTED" {
			t.Errorf("error = %+v", in.err)
		}
	})

	t.Run("passive shapes", func(t *testing.T) {
		in, err := decodeServerMessage([]byte(`{"usageMetadata":{"totalTokenCount":12}}`))
		if err != nil {
			t.Fatal(err)
		}
		if len(in.passive) != 1 || in.passive[0] != "usageMetadata" || !in.recognized() {
			t.Errorf("got %+v", in)
		}
	})

	t.Run("unknown shape", func(t *testing.T) {
		in, err := decodeServerMessage([]byte(`{"somethingNew":{"x":1}}`))
		if err != nil {
			t.Fatal(err)
		}
		if in.recognized() {
			t.Errorf("should not be recognized: %+v", in)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := decodeServerMessage([]byte(`{not json`)); err == nil {
			t.Error("expected error")
		}
	})
}

func TestErrorPayloadCode(t *testing.T) {
	tests := []struct {
		in         string
		wantCode   int
		wantStatus string
	}{
		{`{"code":404,"message":"m"}`, 404, ""},
		{`{"code":"403","message":"m"}`, 403, ""},
		{`{"code":"NOT_FOUND","message":"m"}`, 0, "NOT_FOUND"},
		{`{"code":"NOT_FOUND","status":"X","message":"m"}`, 0, "X"},
		{`{"message":"m"}`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var p ErrorPayload
			if err := json.Unmarshal([]byte(tt.in), &p); err != nil {
				t.Fatal(err)
			}
			if p.Code != tt.wantCode || p.Status != tt.wantStatus || p.Message != "m" {
				t.Errorf("got %+v", p)
			}
		})
	}
}

func TestMIMERate(t *testing.T) {
	tests := map[string]int{
		"audio/pcm;rate=24000":  24000,
		"audio/pcm; rate=16000": 16000,
		"audio/pcm":             0,
		"audio/pcm;rate=abc":    0,
		"audio/pcm;channels=1":  0,
	}
	for mime, want := range tests {
		if got := mimeRate(mime); got != want {
			t.Errorf("mimeRate(%q) = %d, want %d", mime, got, want)
		}
	}
}
