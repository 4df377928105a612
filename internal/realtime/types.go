package realtime

import (
	"context"
	"sync"
)

// EventType discriminates server events delivered to the session loop.
type EventType string

const (
	EventResponse   EventType = "response"
	EventInputAudio EventType = "input_audio"
)

// ServerEvent is one high-level event: a new assistant response, or the
// start of a user utterance.
type ServerEvent struct {
	Type       EventType
	Response   *Response
	InputAudio *InputAudioItem
}

type ResponseStatus string

const (
	StatusInProgress ResponseStatus = "in_progress"
	StatusCompleted  ResponseStatus = "completed"
	StatusCancelled  ResponseStatus = "cancelled"
	StatusFailed     ResponseStatus = "failed"
	StatusIncomplete ResponseStatus = "incomplete"
)

// Response is one assistant turn. Items yields its output items in order;
// Status is final once Items is exhausted.
type Response struct {
	ID    string
	Items *Stream[Item]

	mu      sync.Mutex
	status  ResponseStatus
	details string
}

func NewResponse(id string) *Response {
	return &Response{ID: id, Items: NewStream[Item](), status: StatusInProgress}
}

// Finish records the terminal status and ends the item stream.
func (r *Response) Finish(status ResponseStatus, details string) {
	r.mu.Lock()
	r.status = status
	r.details = details
	r.mu.Unlock()
	r.Items.Close()
}

// Status returns the current status and its detail payload.
func (r *Response) Status() (ResponseStatus, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.details
}

type ItemKind string

const (
	ItemMessage      ItemKind = "message"
	ItemFunctionCall ItemKind = "function_call"
)

// Item is a tagged union over response output items.
type Item struct {
	Kind         ItemKind
	Message      *MessageItem
	FunctionCall *FunctionCallItem
}

// MessageItem is a message authored by Role with ordered content parts.
type MessageItem struct {
	ID       string
	Role     string
	Contents *Stream[Content]
}

func NewMessageItem(id, role string) *MessageItem {
	return &MessageItem{ID: id, Role: role, Contents: NewStream[Content]()}
}

type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentAudio ContentKind = "audio"
)

// Content is a tagged union: text content fills Text; audio content fills
// Transcript and Audio.
type Content struct {
	Kind       ContentKind
	Text       *Stream[string]
	Transcript *Stream[string]
	Audio      *Stream[[]byte]
}

func NewTextContent() Content {
	return Content{Kind: ContentText, Text: NewStream[string]()}
}

func NewAudioContent() Content {
	return Content{Kind: ContentAudio, Transcript: NewStream[string](), Audio: NewStream[[]byte]()}
}

func (c Content) close() {
	if c.Text != nil {
		c.Text.Close()
	}
	if c.Transcript != nil {
		c.Transcript.Close()
	}
	if c.Audio != nil {
		c.Audio.Close()
	}
}

// FunctionCallItem is a tool invocation requested by the model. Arguments
// are only final after WaitForCompletion returns.
type FunctionCallItem struct {
	ID     string
	CallID string
	Name   string

	mu   sync.Mutex
	args string
	done *signal
}

func NewFunctionCallItem(id, callID, name string) *FunctionCallItem {
	return &FunctionCallItem{ID: id, CallID: callID, Name: name, done: newSignal()}
}

func (f *FunctionCallItem) appendArguments(delta string) {
	f.mu.Lock()
	f.args += delta
	f.mu.Unlock()
}

// Complete fixes the argument payload and releases waiters. Later calls are
// ignored.
func (f *FunctionCallItem) Complete(arguments string) {
	f.mu.Lock()
	select {
	case <-f.done.ch:
		f.mu.Unlock()
		return
	default:
	}
	if arguments != "" {
		f.args = arguments
	}
	f.mu.Unlock()
	f.done.fire()
}

func (f *FunctionCallItem) Arguments() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args
}

func (f *FunctionCallItem) WaitForCompletion(ctx context.Context) error {
	return f.done.wait(ctx)
}

// InputAudioItem is one user utterance captured by the service.
type InputAudioItem struct {
	ID string

	mu            sync.Mutex
	transcription string
	done          *signal
}

func NewInputAudioItem(id string) *InputAudioItem {
	return &InputAudioItem{ID: id, done: newSignal()}
}

// Complete sets the transcription and releases waiters. Later calls are
// ignored.
func (i *InputAudioItem) Complete(transcription string) {
	i.mu.Lock()
	select {
	case <-i.done.ch:
		i.mu.Unlock()
		return
	default:
	}
	i.transcription = transcription
	i.mu.Unlock()
	i.done.fire()
}

func (i *InputAudioItem) Transcription() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.transcription
}

func (i *InputAudioItem) WaitForCompletion(ctx context.Context) error {
	return i.done.wait(ctx)
}
