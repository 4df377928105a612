package realtime

import (
	"encoding/json"
)

// SessionOptions is the session.update payload.
type SessionOptions struct {
	Instructions            string              `json:"instructions,omitempty"`
	Modalities              []string            `json:"modalities,omitempty"`
	Tools                   []Tool              `json:"tools,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	Voice                   *Voice              `json:"voice,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	NoiseReduction          *AudioEnhancement   `json:"input_audio_noise_reduction"`
	EchoCancellation        *AudioEnhancement   `json:"input_audio_echo_cancellation"`
}

// Tool is a function declaration offered to the model.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type TurnDetection struct {
	Type                    string        `json:"type"`
	EndOfUtteranceDetection *EOUDetection `json:"end_of_utterance_detection,omitempty"`
	RemoveFillerWords       *bool         `json:"remove_filler_words,omitempty"`
}

type EOUDetection struct {
	Model string `json:"model"`
}

type AudioTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type AudioEnhancement struct {
	Type string `json:"type"`
}

// Voice is either a bare voice id or a typed voice object.
type Voice struct {
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"`
	EndpointID  string   `json:"endpoint_id,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// MarshalJSON emits a bare string for untyped voices.
func (v Voice) MarshalJSON() ([]byte, error) {
	if v.Type == "" {
		return json.Marshal(v.Name)
	}
	type object Voice
	return json.Marshal(object(v))
}

// SessionInfo describes the configured session.
type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model,omitempty"`
}

// ConversationItem is an item posted with conversation.item.create.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// UserText builds a user text message item.
func UserText(text string) ConversationItem {
	return ConversationItem{
		Type:    "message",
		Role:    "user",
		Content: []ContentPart{{Type: "input_text", Text: text}},
	}
}

// SystemText builds a system message item.
func SystemText(text string) ConversationItem {
	return ConversationItem{
		Type:    "message",
		Role:    "system",
		Content: []ContentPart{{Type: "input_text", Text: text}},
	}
}

// FunctionCallOutput answers the function call identified by callID.
func FunctionCallOutput(callID, output string) ConversationItem {
	return ConversationItem{Type: "function_call_output", CallID: callID, Output: output}
}

// ResponseOptions tunes one response.create request.
type ResponseOptions struct {
	AdditionalInstructions string
}
