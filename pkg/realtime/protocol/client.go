// Package protocol holds the wire shapes of the realtime duplex channel.
//
// Every frame is a JSON object discriminated by its "type" field. Client
// events are built with the New* constructors so the type is always set.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

const (
	TypeSessionUpdate           = "session.update"
	TypeConversationItemCreate  = "conversation.item.create"
	TypeConversationItemTrunc   = "conversation.item.truncate"
	TypeResponseCreate          = "response.create"
	TypeResponseCancel          = "response.cancel"
	TypeInputAudioBufferAppend  = "input_audio_buffer.append"
	TypeInputAudioBufferCommit  = "input_audio_buffer.commit"
	TypeInputAudioBufferClear   = "input_audio_buffer.clear"
	AudioFormatPCM16            = "pcm16"
	ItemTypeMessage             = "message"
	ItemTypeFunctionCall        = "function_call"
	ItemTypeFunctionCallOutput  = "function_call_output"
	ContentTypeInputText        = "input_text"
	ContentTypeText             = "text"
	TurnDetectionServerVAD      = "server_vad"
	defaultTranscriptionModelID = "whisper-1"
)

// ClientEvent is any frame the client may send.
type ClientEvent interface {
	ClientEventType() string
	EnsureEventID(next func() string)
}

// Header carries the fields common to every client event.
type Header struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

func (h *Header) ClientEventType() string { return h.Type }

// EnsureEventID assigns an id from next when none was set by the caller.
func (h *Header) EnsureEventID(next func() string) {
	if strings.TrimSpace(h.EventID) == "" && next != nil {
		h.EventID = next()
	}
}

type TurnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS *int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool    `json:"create_response,omitempty"`
	InterruptResponse *bool    `json:"interrupt_response,omitempty"`
}

type Transcription struct {
	Model string `json:"model"`
}

type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Session is the negotiable session body. A nil TurnDetection is sent as
// JSON null, which disables server-side voice activity detection.
type Session struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection"`
	Tools                   []Tool         `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
	Temperature             *float64       `json:"temperature,omitempty"`
}

func NewTranscription(model string) *Transcription {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultTranscriptionModelID
	}
	return &Transcription{Model: model}
}

type SessionUpdate struct {
	Header
	Session Session `json:"session"`
}

func NewSessionUpdate(s Session) *SessionUpdate {
	return &SessionUpdate{Header: Header{Type: TypeSessionUpdate}, Session: s}
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is a conversation item as created by the client.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

type ConversationItemCreate struct {
	Header
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

// NewUserMessage creates a user text message item.
func NewUserMessage(itemID, text string) *ConversationItemCreate {
	return &ConversationItemCreate{
		Header: Header{Type: TypeConversationItemCreate},
		Item: Item{
			ID:      itemID,
			Type:    ItemTypeMessage,
			Role:    "user",
			Content: []ContentPart{{Type: ContentTypeInputText, Text: text}},
		},
	}
}

// NewFunctionCallOutput reports a tool result. output must be a JSON document.
func NewFunctionCallOutput(callID string, output []byte) *ConversationItemCreate {
	return &ConversationItemCreate{
		Header: Header{Type: TypeConversationItemCreate},
		Item: Item{
			Type:   ItemTypeFunctionCallOutput,
			CallID: callID,
			Output: string(output),
		},
	}
}

type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type ResponseCreate struct {
	Header
	Response *ResponseOptions `json:"response,omitempty"`
}

func NewResponseCreate(opts *ResponseOptions) *ResponseCreate {
	return &ResponseCreate{Header: Header{Type: TypeResponseCreate}, Response: opts}
}

type ResponseCancel struct {
	Header
	ResponseID string `json:"response_id,omitempty"`
}

func NewResponseCancel(responseID string) *ResponseCancel {
	return &ResponseCancel{Header: Header{Type: TypeResponseCancel}, ResponseID: responseID}
}

type InputAudioBufferAppend struct {
	Header
	Audio string `json:"audio"`
}

// NewInputAudioAppend base64-encodes raw PCM16 bytes.
func NewInputAudioAppend(pcm []byte) *InputAudioBufferAppend {
	return &InputAudioBufferAppend{
		Header: Header{Type: TypeInputAudioBufferAppend},
		Audio:  base64.StdEncoding.EncodeToString(pcm),
	}
}

type InputAudioBufferCommit struct {
	Header
}

func NewInputAudioCommit() *InputAudioBufferCommit {
	return &InputAudioBufferCommit{Header: Header{Type: TypeInputAudioBufferCommit}}
}

type InputAudioBufferClear struct {
	Header
}

func NewInputAudioClear() *InputAudioBufferClear {
	return &InputAudioBufferClear{Header: Header{Type: TypeInputAudioBufferClear}}
}

type ConversationItemTruncate struct {
	Header
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

func NewItemTruncate(itemID string, contentIndex, audioEndMS int) *ConversationItemTruncate {
	return &ConversationItemTruncate{
		Header:       Header{Type: TypeConversationItemTrunc},
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMS:   audioEndMS,
	}
}
