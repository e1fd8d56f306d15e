package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound frame types.
const (
	TypeSessionCreated               = "session.created"
	TypeSessionUpdated               = "session.updated"
	TypeSpeechStarted                = "input_audio_buffer.speech_started"
	TypeSpeechStopped                = "input_audio_buffer.speech_stopped"
	TypeAudioCommitted               = "input_audio_buffer.committed"
	TypeAudioCleared                 = "input_audio_buffer.cleared"
	TypeResponseCreated              = "response.created"
	TypeResponseDone                 = "response.done"
	TypeResponseAudioDelta           = "response.audio.delta"
	TypeResponseOutputAudioDelta     = "response.output_audio.delta"
	TypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseOutputTranscript     = "response.output_audio_transcript.delta"
	TypeResponseTextDelta            = "response.text.delta"
	TypeResponseOutputTextDelta      = "response.output_text.delta"
	TypeOutputItemAdded              = "response.output_item.added"
	TypeOutputItemDone               = "response.output_item.done"
	TypeItemCreated                  = "conversation.item.created"
	TypeItemAdded                    = "conversation.item.added"
	TypeItemDone                     = "conversation.item.done"
	TypeItemRetrieved                = "conversation.item.retrieved"
	TypeItemDeleted                  = "conversation.item.deleted"
	TypeInputTranscriptCompleted     = "conversation.item.input_audio_transcription.completed"
	TypeHistoryUpdated               = "history_updated"
	TypeError                        = "error"
)

// DecodeError reports a frame that could not be decoded.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// ServerEvent is any decoded inbound frame.
type ServerEvent interface {
	ServerEventType() string
}

// ServerHeader carries the fields common to every inbound frame.
type ServerHeader struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

func (h ServerHeader) ServerEventType() string { return h.Type }

type SessionInfo struct {
	ID         string   `json:"id,omitempty"`
	Model      string   `json:"model,omitempty"`
	Voice      string   `json:"voice,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
}

type SessionEvent struct {
	ServerHeader
	Session SessionInfo `json:"session"`
}

type SpeechStarted struct {
	ServerHeader
	AudioStartMS int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id,omitempty"`
}

type SpeechStopped struct {
	ServerHeader
	AudioEndMS int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id,omitempty"`
}

type AudioCommitted struct {
	ServerHeader
	PreviousItemID string `json:"previous_item_id,omitempty"`
	ItemID         string `json:"item_id,omitempty"`
}

// Delta covers audio, transcript and text deltas. For audio Delta is base64.
type Delta struct {
	ServerHeader
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// ServerItem is a conversation item as reported by the server.
type ServerItem struct {
	ID        string          `json:"id,omitempty"`
	Object    string          `json:"object,omitempty"`
	Type      string          `json:"type,omitempty"`
	Status    string          `json:"status,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
}

type ResponseInfo struct {
	ID     string       `json:"id"`
	Status string       `json:"status,omitempty"`
	Output []ServerItem `json:"output,omitempty"`
}

type ResponseEvent struct {
	ServerHeader
	Response ResponseInfo `json:"response"`
}

type OutputItemEvent struct {
	ServerHeader
	ResponseID  string     `json:"response_id"`
	OutputIndex int        `json:"output_index"`
	Item        ServerItem `json:"item"`
}

type ItemEvent struct {
	ServerHeader
	PreviousItemID string     `json:"previous_item_id,omitempty"`
	Item           ServerItem `json:"item"`
}

type ItemDeleted struct {
	ServerHeader
	ItemID string `json:"item_id"`
}

type InputTranscriptCompleted struct {
	ServerHeader
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type HistoryUpdated struct {
	ServerHeader
	History []ServerItem `json:"history"`
}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type ServerError struct {
	ServerHeader
	Error ErrorDetail `json:"error"`
}

// Unknown is a well-formed frame whose type is not recognized.
type Unknown struct {
	ServerHeader
	Raw json.RawMessage `json:"-"`
}

// DecodeServerMessage decodes one inbound text frame.
func DecodeServerMessage(data []byte) (ServerEvent, error) {
	var envelope ServerHeader
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case TypeSessionCreated, TypeSessionUpdated:
		return decodeAs[SessionEvent](data, typ)
	case TypeSpeechStarted:
		return decodeAs[SpeechStarted](data, typ)
	case TypeSpeechStopped:
		return decodeAs[SpeechStopped](data, typ)
	case TypeAudioCommitted:
		return decodeAs[AudioCommitted](data, typ)
	case TypeResponseAudioDelta, TypeResponseOutputAudioDelta,
		TypeResponseAudioTranscriptDelta, TypeResponseOutputTranscript,
		TypeResponseTextDelta, TypeResponseOutputTextDelta:
		return decodeAs[Delta](data, typ)
	case TypeResponseCreated, TypeResponseDone:
		return decodeAs[ResponseEvent](data, typ)
	case TypeOutputItemAdded, TypeOutputItemDone:
		return decodeAs[OutputItemEvent](data, typ)
	case TypeItemCreated, TypeItemAdded, TypeItemDone, TypeItemRetrieved:
		return decodeAs[ItemEvent](data, typ)
	case TypeItemDeleted:
		return decodeAs[ItemDeleted](data, typ)
	case TypeInputTranscriptCompleted:
		return decodeAs[InputTranscriptCompleted](data, typ)
	case TypeHistoryUpdated:
		return decodeAs[HistoryUpdated](data, typ)
	case TypeError:
		return decodeAs[ServerError](data, typ)
	default:
		return Unknown{ServerHeader: envelope, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeAs[T ServerEvent](data []byte, typ string) (ServerEvent, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, badFrame("invalid "+typ+" frame", "")
	}
	return msg, nil
}

// IsAudioDelta reports whether typ carries assistant audio.
func IsAudioDelta(typ string) bool {
	return typ == TypeResponseAudioDelta || typ == TypeResponseOutputAudioDelta
}
