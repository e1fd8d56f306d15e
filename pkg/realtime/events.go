package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-realtime/pkg/realtime/history"
	"github.com/vango-go/vai-realtime/pkg/realtime/protocol"
)

// Event kinds, as returned by Event.EventType.
const (
	KindSessionReady    = "session_ready"
	KindSpeechStarted   = "speech_started"
	KindSpeechStopped   = "speech_stopped"
	KindAudioCommitted  = "audio_committed"
	KindAudioDelta      = "audio_delta"
	KindTranscript      = "transcript_delta"
	KindResponseCreated = "response_created"
	KindResponseDone    = "response_done"
	KindToolCall        = "tool_call_requested"
	KindHistoryItem     = "history_item"
	KindInputTranscript = "input_transcript"
	KindHistoryDeleted  = "history_item_deleted"
	KindHistorySnapshot = "history_snapshot"
	KindError           = "error"
	KindChannelClosed   = "channel_closed"
	KindUnknown         = "unknown"
)

// Event is one inbound occurrence on a session.
type Event interface {
	EventType() string
}

// SessionReadyEvent reports session.created (Acknowledged=false) or the
// session.updated acknowledgment of our configuration.
type SessionReadyEvent struct {
	Acknowledged bool
	Session      protocol.SessionInfo
}

func (SessionReadyEvent) EventType() string { return KindSessionReady }

type SpeechStartedEvent struct {
	AudioStartMS int
	ItemID       string
}

func (SpeechStartedEvent) EventType() string { return KindSpeechStarted }

type SpeechStoppedEvent struct {
	AudioEndMS int
	ItemID     string
}

func (SpeechStoppedEvent) EventType() string { return KindSpeechStopped }

type AudioCommittedEvent struct {
	ItemID         string
	PreviousItemID string
}

func (AudioCommittedEvent) EventType() string { return KindAudioCommitted }

// AudioDeltaEvent carries decoded PCM16 bytes of assistant speech.
type AudioDeltaEvent struct {
	ResponseID   string
	ItemID       string
	ContentIndex int
	Data         []byte
}

func (AudioDeltaEvent) EventType() string { return KindAudioDelta }

// TranscriptDeltaEvent carries assistant text: the transcript of spoken audio
// (Audio=true) or a text-modality delta.
type TranscriptDeltaEvent struct {
	ResponseID   string
	ItemID       string
	ContentIndex int
	Delta        string
	Audio        bool
}

func (TranscriptDeltaEvent) EventType() string { return KindTranscript }

type ResponseCreatedEvent struct {
	ResponseID string
}

func (ResponseCreatedEvent) EventType() string { return KindResponseCreated }

type ResponseDoneEvent struct {
	ResponseID string
	Status     string
}

func (ResponseDoneEvent) EventType() string { return KindResponseDone }

type ToolCallRequestedEvent struct {
	ResponseID string
	CallID     string
	Name       string
	Arguments  json.RawMessage
}

func (ToolCallRequestedEvent) EventType() string { return KindToolCall }

// HistoryItemEvent reports an item added to or updated in the conversation.
type HistoryItemEvent struct {
	ResponseID     string
	PreviousItemID string
	Item           protocol.ServerItem
	Done           bool
}

func (HistoryItemEvent) EventType() string { return KindHistoryItem }

func (e HistoryItemEvent) raw() history.RawItem {
	return toRawItem(e.Item, e.ResponseID)
}

type InputTranscriptEvent struct {
	ItemID       string
	ContentIndex int
	Transcript   string
}

func (InputTranscriptEvent) EventType() string { return KindInputTranscript }

type HistoryItemDeletedEvent struct {
	ItemID string
}

func (HistoryItemDeletedEvent) EventType() string { return KindHistoryDeleted }

// HistorySnapshotEvent replaces the whole conversation.
type HistorySnapshotEvent struct {
	Items []protocol.ServerItem
}

func (HistorySnapshotEvent) EventType() string { return KindHistorySnapshot }

func (e HistorySnapshotEvent) raw() []history.RawItem {
	out := make([]history.RawItem, 0, len(e.Items))
	for _, item := range e.Items {
		out = append(out, toRawItem(item, ""))
	}
	return out
}

// ErrorEvent is an error reported by the agent service. It does not end the
// session.
type ErrorEvent struct {
	Type    string
	Code    string
	Message string
	Param   string
}

func (ErrorEvent) EventType() string { return KindError }

// ChannelClosedEvent is delivered exactly once per connection. Err is nil for
// a local close or a normal remote closure.
type ChannelClosedEvent struct {
	Err error
}

func (ChannelClosedEvent) EventType() string { return KindChannelClosed }

// UnknownEvent is a well-formed frame of a type this package does not model.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (UnknownEvent) EventType() string { return KindUnknown }

func toRawItem(item protocol.ServerItem, responseID string) history.RawItem {
	return history.RawItem{
		ID:         item.ID,
		Type:       item.Type,
		Role:       item.Role,
		Content:    item.Content,
		ResponseID: responseID,
	}
}

// decodeServerFrame turns one text frame into an Event.
func decodeServerFrame(data []byte) (Event, error) {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case protocol.SessionEvent:
		return SessionReadyEvent{Acknowledged: m.Type == protocol.TypeSessionUpdated, Session: m.Session}, nil
	case protocol.SpeechStarted:
		return SpeechStartedEvent{AudioStartMS: m.AudioStartMS, ItemID: m.ItemID}, nil
	case protocol.SpeechStopped:
		return SpeechStoppedEvent{AudioEndMS: m.AudioEndMS, ItemID: m.ItemID}, nil
	case protocol.AudioCommitted:
		return AudioCommittedEvent{ItemID: m.ItemID, PreviousItemID: m.PreviousItemID}, nil
	case protocol.Delta:
		if protocol.IsAudioDelta(m.Type) {
			pcm, err := base64.StdEncoding.DecodeString(m.Delta)
			if err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", m.Type, err)
			}
			return AudioDeltaEvent{ResponseID: m.ResponseID, ItemID: m.ItemID, ContentIndex: m.ContentIndex, Data: pcm}, nil
		}
		return TranscriptDeltaEvent{
			ResponseID:   m.ResponseID,
			ItemID:       m.ItemID,
			ContentIndex: m.ContentIndex,
			Delta:        m.Delta,
			Audio:        strings.Contains(m.Type, "audio_transcript"),
		}, nil
	case protocol.ResponseEvent:
		if m.Type == protocol.TypeResponseCreated {
			return ResponseCreatedEvent{ResponseID: m.Response.ID}, nil
		}
		return ResponseDoneEvent{ResponseID: m.Response.ID, Status: m.Response.Status}, nil
	case protocol.OutputItemEvent:
		if m.Type == protocol.TypeOutputItemDone && m.Item.Type == protocol.ItemTypeFunctionCall {
			return ToolCallRequestedEvent{
				ResponseID: m.ResponseID,
				CallID:     m.Item.CallID,
				Name:       m.Item.Name,
				Arguments:  json.RawMessage(m.Item.Arguments),
			}, nil
		}
		return HistoryItemEvent{ResponseID: m.ResponseID, Item: m.Item, Done: m.Type == protocol.TypeOutputItemDone}, nil
	case protocol.ItemEvent:
		return HistoryItemEvent{PreviousItemID: m.PreviousItemID, Item: m.Item, Done: m.Type == protocol.TypeItemDone}, nil
	case protocol.ItemDeleted:
		return HistoryItemDeletedEvent{ItemID: m.ItemID}, nil
	case protocol.InputTranscriptCompleted:
		return InputTranscriptEvent{ItemID: m.ItemID, ContentIndex: m.ContentIndex, Transcript: m.Transcript}, nil
	case protocol.HistoryUpdated:
		return HistorySnapshotEvent{Items: m.History}, nil
	case protocol.ServerError:
		return ErrorEvent{Type: m.Error.Type, Code: m.Error.Code, Message: m.Error.Message, Param: m.Error.Param}, nil
	case protocol.Unknown:
		return UnknownEvent{Type: m.Type, Raw: m.Raw}, nil
	default:
		return UnknownEvent{Type: msg.ServerEventType(), Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
