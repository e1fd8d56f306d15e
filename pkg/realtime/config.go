package realtime

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-realtime/pkg/core"
	"github.com/vango-go/vai-realtime/pkg/realtime/protocol"
	"github.com/vango-go/vai-realtime/pkg/realtime/tools"
)

const (
	DefaultModel = "gpt-realtime"
	DefaultVoice = "alloy"

	ModalityText  = "text"
	ModalityAudio = "audio"

	TurnDetectionServerVAD = "server_vad"
	TurnDetectionDisabled  = "disabled"
)

var supportedVoices = map[string]struct{}{
	"alloy": {}, "ash": {}, "ballad": {}, "coral": {}, "echo": {},
	"sage": {}, "shimmer": {}, "verse": {}, "marin": {}, "cedar": {},
}

// SupportedVoice reports whether voice is one the service accepts.
func SupportedVoice(voice string) bool {
	_, ok := supportedVoices[strings.ToLower(strings.TrimSpace(voice))]
	return ok
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Mode              string  `yaml:"mode"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMS   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMS int     `yaml:"silence_duration_ms"`
}

// SessionConfig is negotiated once at connect time and again on Update.
type SessionConfig struct {
	Model                   string             `yaml:"model"`
	Instructions            string             `yaml:"instructions"`
	Voice                   string             `yaml:"voice"`
	Modalities              []string           `yaml:"modalities"`
	TurnDetection           TurnDetection      `yaml:"turn_detection"`
	InputAudioFormat        string             `yaml:"input_audio_format"`
	OutputAudioFormat       string             `yaml:"output_audio_format"`
	InputTranscriptionModel string             `yaml:"input_transcription_model"`
	Tools                   []tools.Definition `yaml:"-"`
	ToolChoice              string             `yaml:"tool_choice"`
	Temperature             *float64           `yaml:"temperature"`
}

// DefaultSessionConfig mirrors the conversational defaults of the product
// advisor: both modalities and a sensitive server VAD.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:      DefaultModel,
		Voice:      DefaultVoice,
		Modalities: []string{ModalityText, ModalityAudio},
		TurnDetection: TurnDetection{
			Mode:              TurnDetectionServerVAD,
			Threshold:         0.2,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 300,
		},
		InputAudioFormat:  protocol.AudioFormatPCM16,
		OutputAudioFormat: protocol.AudioFormatPCM16,
	}
}

// Normalized fills defaults and canonicalizes casing. It never fails.
func (c SessionConfig) Normalized() SessionConfig {
	c.Model = strings.TrimSpace(c.Model)
	if c.Model == "" {
		c.Model = DefaultModel
	}
	c.Voice = strings.ToLower(strings.TrimSpace(c.Voice))
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	c.Instructions = strings.TrimSpace(c.Instructions)

	mods := make([]string, 0, len(c.Modalities))
	for _, m := range c.Modalities {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			mods = append(mods, m)
		}
	}
	if len(mods) == 0 {
		mods = []string{ModalityText, ModalityAudio}
	}
	c.Modalities = mods

	c.TurnDetection.Mode = strings.ToLower(strings.TrimSpace(c.TurnDetection.Mode))
	if c.TurnDetection.Mode == "" {
		c.TurnDetection.Mode = TurnDetectionServerVAD
	}
	if c.InputAudioFormat == "" {
		c.InputAudioFormat = protocol.AudioFormatPCM16
	}
	if c.OutputAudioFormat == "" {
		c.OutputAudioFormat = protocol.AudioFormatPCM16
	}
	c.Tools = append([]tools.Definition(nil), c.Tools...)
	return c
}

// Validate checks a normalized config.
func (c SessionConfig) Validate() error {
	if !SupportedVoice(c.Voice) {
		return core.NewInvalidRequestError(fmt.Sprintf("unsupported voice %q", c.Voice))
	}
	seenMod := make(map[string]struct{}, len(c.Modalities))
	for _, m := range c.Modalities {
		if m != ModalityText && m != ModalityAudio {
			return core.NewInvalidRequestError(fmt.Sprintf("unsupported modality %q", m))
		}
		if _, dup := seenMod[m]; dup {
			return core.NewInvalidRequestError(fmt.Sprintf("duplicate modality %q", m))
		}
		seenMod[m] = struct{}{}
	}

	td := c.TurnDetection
	switch td.Mode {
	case TurnDetectionServerVAD:
		if td.Threshold < 0 || td.Threshold > 1 {
			return core.NewInvalidRequestError("turn_detection.threshold must be within [0,1]")
		}
		if td.PrefixPaddingMS < 0 {
			return core.NewInvalidRequestError("turn_detection.prefix_padding_ms must be >= 0")
		}
		if td.SilenceDurationMS < 0 {
			return core.NewInvalidRequestError("turn_detection.silence_duration_ms must be >= 0")
		}
	case TurnDetectionDisabled:
	default:
		return core.NewInvalidRequestError(fmt.Sprintf("unsupported turn_detection mode %q", td.Mode))
	}

	seen := make(map[string]struct{}, len(c.Tools))
	for i, def := range c.Tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return core.NewInvalidRequestError(fmt.Sprintf("tools[%d].name must not be empty", i))
		}
		if _, dup := seen[name]; dup {
			return core.NewToolConflictError(name)
		}
		seen[name] = struct{}{}
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return core.NewInvalidRequestError("temperature must be within [0,2]")
	}
	return nil
}

// sessionUpdate renders the config as the wire session.update frame.
func (c SessionConfig) sessionUpdate() *protocol.SessionUpdate {
	s := protocol.Session{
		Modalities:        append([]string(nil), c.Modalities...),
		Instructions:      c.Instructions,
		Voice:             c.Voice,
		InputAudioFormat:  c.InputAudioFormat,
		OutputAudioFormat: c.OutputAudioFormat,
		ToolChoice:        c.ToolChoice,
		Temperature:       c.Temperature,
	}
	if c.TurnDetection.Mode == TurnDetectionServerVAD {
		threshold := c.TurnDetection.Threshold
		prefix := c.TurnDetection.PrefixPaddingMS
		silence := c.TurnDetection.SilenceDurationMS
		s.TurnDetection = &protocol.TurnDetection{
			Type:              protocol.TurnDetectionServerVAD,
			Threshold:         &threshold,
			PrefixPaddingMS:   &prefix,
			SilenceDurationMS: &silence,
		}
	}
	if strings.TrimSpace(c.InputTranscriptionModel) != "" {
		s.InputAudioTranscription = protocol.NewTranscription(c.InputTranscriptionModel)
	}
	for _, def := range c.Tools {
		s.Tools = append(s.Tools, protocol.Tool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	if len(s.Tools) > 0 && s.ToolChoice == "" {
		s.ToolChoice = "auto"
	}
	return protocol.NewSessionUpdate(s)
}
