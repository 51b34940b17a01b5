package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// Wire format identifiers.
const (
	InputMIMEType  = "audio/pcm;rate=16000"
	outputMIMEBase = "audio/pcm"
)

// buildSetup assembles the handshake from a normalized config.
func buildSetup(c *Config) *genai.LiveClientMessage {
	modalities := make([]genai.Modality, 0, len(c.ResponseModalities))
	for _, m := range c.ResponseModalities {
		modalities = append(modalities, genai.Modality(m))
	}

	setup := &genai.LiveClientSetup{
		Model: ModelPrefix + c.Model,
		GenerationConfig: &genai.GenerationConfig{
			ResponseModalities: modalities,
			Temperature:        genai.Ptr(float32(c.Generation.Temperature)),
			TopP:               genai.Ptr(float32(c.Generation.TopP)),
			TopK:               genai.Ptr(float32(c.Generation.TopK)),
			MaxOutputTokens:    int32(c.Generation.MaxOutputTokens),
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.Voice},
				},
			},
		},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: c.SystemInstruction}},
		},
		RealtimeInputConfig: &genai.RealtimeInputConfig{
			AutomaticActivityDetection: &genai.AutomaticActivityDetection{
				StartOfSpeechSensitivity: startSensitivity(c.VAD.StartSensitivity),
				EndOfSpeechSensitivity:   endSensitivity(c.VAD.EndSensitivity),
				PrefixPaddingMs:          genai.Ptr(int32(c.VAD.PrefixPaddingMs)),
				SilenceDurationMs:        genai.Ptr(int32(c.VAD.SilenceDurationMs)),
			},
		},
	}
	if c.InputTranscription {
		setup.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if c.OutputTranscription {
		setup.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return &genai.LiveClientMessage{Setup: setup}
}

func startSensitivity(s string) genai.StartSensitivity {
	if s == SensitivityLow {
		return genai.StartSensitivityLow
	}
	return genai.StartSensitivityHigh
}

func endSensitivity(s string) genai.EndSensitivity {
	if s == SensitivityHigh {
		return genai.EndSensitivityHigh
	}
	return genai.EndSensitivityLow
}

// audioMessage wraps one PCM16 capture block.
func audioMessage(pcm []byte) *genai.LiveClientMessage {
	return &genai.LiveClientMessage{
		RealtimeInput: &genai.LiveClientRealtimeInput{
			Audio: &genai.Blob{MIMEType: InputMIMEType, Data: pcm},
		},
	}
}

// textMessage wraps a complete user text turn.
func textMessage(text string) *genai.LiveClientMessage {
	return &genai.LiveClientMessage{
		ClientContent: &genai.LiveClientContent{
			Turns: []*genai.Content{{
				Role:  string(genai.RoleUser),
				Parts: []*genai.Part{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
}

func encode(msg *genai.LiveClientMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// ErrorPayload is the service's structured error object.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// UnmarshalJSON accepts a numeric or string code. A non-numeric string is
// treated as the status.
func (p *ErrorPayload) UnmarshalJSON(data []byte) error {
	var aux struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Status  string          `json:"status"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Message = aux.Message
	p.Status = aux.Status

	raw := bytes.TrimSpace(aux.Code)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		p.Code = n
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("error code: %w", err)
	}
	if n, err := strconv.Atoi(s); err == nil {
		p.Code = n
	} else if p.Status == "" {
		p.Status = s
	}
	return nil
}

// serverMessage is the inbound envelope. Shapes the session does not act
// on are kept raw so they can be recognized and logged.
type serverMessage struct {
	SetupComplete           json.RawMessage          `json:"setupComplete"`
	ServerContent           *genai.LiveServerContent `json:"serverContent"`
	InputTranscription      *genai.Transcription     `json:"inputTranscription"`
	Error                   *ErrorPayload            `json:"error"`
	ToolCall                json.RawMessage          `json:"toolCall"`
	ToolCallCancellation    json.RawMessage          `json:"toolCallCancellation"`
	UsageMetadata           json.RawMessage          `json:"usageMetadata"`
	GoAway                  json.RawMessage          `json:"goAway"`
	SessionResumptionUpdate json.RawMessage          `json:"sessionResumptionUpdate"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// inboundPart is one piece of model output.
type inboundPart struct {
	text  string
	audio []byte
	rate  int
}

// inbound is the decoded, transport-independent view of a server message.
type inbound struct {
	setupComplete    bool
	err              *ErrorPayload
	hasContent       bool
	parts            []inboundPart
	inputTranscript  string
	outputTranscript string
	interrupted      bool
	turnComplete     bool
	passive          []string // recognized shapes that need no action
}

// recognized reports whether the message matched any known shape.
func (in *inbound) recognized() bool {
	return in.setupComplete || in.err != nil || in.hasContent || in.inputTranscript != "" || len(in.passive) > 0
}

func decodeServerMessage(data []byte) (*inbound, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	in := &inbound{
		setupComplete: present(msg.SetupComplete),
		err:           msg.Error,
	}
	if msg.InputTranscription != nil {
		in.inputTranscript = msg.InputTranscription.Text
	}

	if sc := msg.ServerContent; sc != nil {
		in.hasContent = true
		in.interrupted = sc.Interrupted
		in.turnComplete = sc.TurnComplete
		if sc.InputTranscription != nil && in.inputTranscript == "" {
			in.inputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			in.outputTranscript = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil {
					continue
				}
				if p.Text != "" && !p.Thought {
					in.parts = append(in.parts, inboundPart{text: p.Text})
				}
				if p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, outputMIMEBase) && len(p.InlineData.Data) > 0 {
					in.parts = append(in.parts, inboundPart{
						audio: p.InlineData.Data,
						rate:  mimeRate(p.InlineData.MIMEType),
					})
				}
			}
		}
	}

	for name, raw := range map[string]json.RawMessage{
		"toolCall":                msg.ToolCall,
		"toolCallCancellation":    msg.ToolCallCancellation,
		"usageMetadata":           msg.UsageMetadata,
		"goAway":                  msg.GoAway,
		"sessionResumptionUpdate": msg.SessionResumptionUpdate,
	} {
		if present(raw) {
			in.passive = append(in.passive, name)
		}
	}
	return in, nil
}

// mimeRate extracts rate from "audio/pcm;rate=24000". Zero if absent.
func mimeRate(mime string) int {
	for _, param := range strings.Split(mime, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(k, "rate") {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}
