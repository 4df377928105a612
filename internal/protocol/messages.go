// Package protocol defines the browser-facing websocket messages of the
// voice bridge.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/personatwin/internal/chat"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeConnect     MessageType = "connect"
	TypeDisconnect  MessageType = "disconnect"
	TypeSendText    MessageType = "send_text"
	TypeAudioChunk  MessageType = "audio_chunk"
	TypeCommitAudio MessageType = "commit_audio"

	TypeSessionReady    MessageType = "session_ready"
	TypeMessageAppended MessageType = "message_appended"
	TypeMessageUpdated  MessageType = "message_updated"
	TypeState           MessageType = "state"
	TypeLevel           MessageType = "level"
	TypeError           MessageType = "error"
	TypeAudioOut        MessageType = "audio_out"
	TypeAudioStop       MessageType = "audio_stop"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Connect struct {
	Type    MessageType `json:"type"`
	AgentID string      `json:"agent_id,omitempty"`
}

type Disconnect struct {
	Type MessageType `json:"type"`
}

type SendText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

// PCM decodes the chunk payload.
func (a AudioChunk) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.PCM16Base64)
}

type CommitAudio struct {
	Type MessageType `json:"type"`
}

type SessionReady struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
}

// MessageEvent carries a message_appended or message_updated change.
type MessageEvent struct {
	Type    MessageType  `json:"type"`
	Message chat.Message `json:"message"`
}

type StateEvent struct {
	Type      MessageType `json:"type"`
	State     string      `json:"state"`
	SessionID string      `json:"session_id,omitempty"`
}

type LevelEvent struct {
	Type  MessageType `json:"type"`
	Level float64     `json:"level"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// AudioOut is one chunk of assistant speech for browser playback.
type AudioOut struct {
	Type        MessageType `json:"type"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

// NewAudioOut encodes pcm for the wire.
func NewAudioOut(pcm []byte) AudioOut {
	return AudioOut{Type: TypeAudioOut, PCM16Base64: base64.StdEncoding.EncodeToString(pcm)}
}

// AudioStop tells the browser to flush queued assistant audio.
type AudioStop struct {
	Type MessageType `json:"type"`
}

// NewMessageEvent maps a store change to its wire event.
func NewMessageEvent(ch chat.Change) MessageEvent {
	t := TypeMessageUpdated
	if ch.Kind == chat.ChangeAppended {
		t = TypeMessageAppended
	}
	return MessageEvent{Type: t, Message: ch.Message}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeConnect:
		var msg Connect
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeDisconnect:
		return Disconnect{Type: env.Type}, nil
	case TypeSendText:
		var msg SendText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid send_text")
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" {
			return nil, errors.New("invalid audio_chunk")
		}
		return msg, nil
	case TypeCommitAudio:
		return CommitAudio{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
