package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/personatwin/internal/reliability"
)

const defaultRealtimePath = "/voice-live/realtime"

// WebSocketDialer opens sessions over a websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{HandshakeTimeout: 10 * time.Second, WriteTimeout: 5 * time.Second}
}

// BuildURL derives the websocket URL for target. http(s) endpoints are
// mapped to ws(s); an empty path selects the default realtime route.
func BuildURL(t Target) (string, error) {
	u, err := url.Parse(strings.TrimSpace(t.Endpoint))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", t.Endpoint)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("endpoint scheme %q is not supported", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultRealtimePath
	}
	q := u.Query()
	if t.APIVersion != "" {
		q.Set("api-version", t.APIVersion)
	}
	if t.AgentID != "" {
		q.Set("agent-id", t.AgentID)
		if t.AgentProject != "" {
			q.Set("agent-project-name", t.AgentProject)
		}
	} else {
		q.Set("model", t.Model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *WebSocketDialer) Dial(ctx context.Context, target Target, creds Credentials) (Conn, error) {
	wsURL, err := BuildURL(target)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	switch {
	case creds.BearerToken != "":
		headers.Set("Authorization", "Bearer "+creds.BearerToken)
	case creds.APIKey != "":
		headers.Set("api-key", creds.APIKey)
	default:
		return nil, errors.New("realtime: no credentials")
	}
	headers.Set("x-ms-client-request-id", uuid.NewString())

	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	c := newWSConn(ws, d.WriteTimeout)
	go c.readLoop()
	return c, nil
}

type configResult struct {
	info SessionInfo
	err  error
}

type contentKey struct {
	itemID string
	index  int
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex

	events    *Stream[ServerEvent]
	speech    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}

	mu         sync.Mutex
	sessionID  string
	configWait chan configResult
	commitWait chan *InputAudioItem

	// Assembly state, owned by the read loop.
	responses map[string]*Response
	respItems map[string][]string
	messages  map[string]*MessageItem
	contents  map[contentKey]Content
	calls     map[string]*FunctionCallItem
	inputs    map[string]*InputAudioItem
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &wsConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		events:       NewStream[ServerEvent](),
		speech:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
		readDone:     make(chan struct{}),
		responses:    make(map[string]*Response),
		respItems:    make(map[string][]string),
		messages:     make(map[string]*MessageItem),
		contents:     make(map[contentKey]Content),
		calls:        make(map[string]*FunctionCallItem),
		inputs:       make(map[string]*InputAudioItem),
	}
}

func newEventID() string {
	return "evt_" + uuid.NewString()[:12]
}

func (c *wsConn) Events() *Stream[ServerEvent] { return c.events }

func (c *wsConn) SpeechStarted() <-chan struct{} { return c.speech }

func (c *wsConn) Configure(ctx context.Context, opts SessionOptions) (SessionInfo, error) {
	wait := make(chan configResult, 1)
	c.mu.Lock()
	c.configWait = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.configWait == wait {
			c.configWait = nil
		}
		c.mu.Unlock()
	}()

	if err := c.send(ctx, map[string]any{"type": "session.update", "session": opts}); err != nil {
		return SessionInfo{}, err
	}
	select {
	case res := <-wait:
		return res.info, res.err
	case <-ctx.Done():
		return SessionInfo{}, ctx.Err()
	case <-c.closed:
		return SessionInfo{}, ErrClosed
	}
}

func (c *wsConn) SendItem(ctx context.Context, item ConversationItem) error {
	return c.send(ctx, map[string]any{"type": "conversation.item.create", "item": item})
}

func (c *wsConn) SendAudio(ctx context.Context, pcm []byte) error {
	return c.send(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

func (c *wsConn) CommitAudio(ctx context.Context) (*InputAudioItem, error) {
	wait := make(chan *InputAudioItem, 1)
	c.mu.Lock()
	c.commitWait = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.commitWait == wait {
			c.commitWait = nil
		}
		c.mu.Unlock()
	}()

	if err := c.send(ctx, map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		return nil, err
	}
	select {
	case item := <-wait:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

func (c *wsConn) GenerateResponse(ctx context.Context, opts ResponseOptions) error {
	event := map[string]any{"type": "response.create"}
	if opts.AdditionalInstructions != "" {
		event["response"] = map[string]any{"additional_instructions": opts.AdditionalInstructions}
	}
	return c.send(ctx, event)
}

// Close shuts the socket and waits for the read loop to release every open
// stream.
func (c *wsConn) Close() error {
	err := c.shutdown()
	<-c.readDone
	return err
}

func (c *wsConn) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) send(ctx context.Context, event map[string]any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	event["event_id"] = newEventID()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(event); err != nil {
		return fmt.Errorf("send %v: %w", event["type"], err)
	}
	return nil
}

type wireEvent struct {
	Type         string        `json:"type"`
	Session      *SessionInfo  `json:"session,omitempty"`
	Response     *wireResponse `json:"response,omitempty"`
	ResponseID   string        `json:"response_id,omitempty"`
	ItemID       string        `json:"item_id,omitempty"`
	ContentIndex int           `json:"content_index,omitempty"`
	Item         *wireItem     `json:"item,omitempty"`
	Part         *ContentPart  `json:"part,omitempty"`
	Delta        string        `json:"delta,omitempty"`
	Transcript   string        `json:"transcript,omitempty"`
	Arguments    string        `json:"arguments,omitempty"`
	Error        *wireError    `json:"error,omitempty"`
}

type wireResponse struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	StatusDetails json.RawMessage `json:"status_details,omitempty"`
}

type wireItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime error %s: %s", e.Code, e.Message)
	}
	return "realtime error: " + e.Message
}

func (c *wsConn) readLoop() {
	defer close(c.readDone)
	defer c.abort()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Printf("realtime: read failed: %v", err)
			}
			_ = c.shutdown()
			return
		}
		var ev wireEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("realtime: decode event: %v", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *wsConn) dispatch(ev wireEvent) {
	switch ev.Type {
	case "session.created":
		if ev.Session != nil {
			c.mu.Lock()
			c.sessionID = ev.Session.ID
			c.mu.Unlock()
		}
	case "session.updated":
		c.mu.Lock()
		info := SessionInfo{ID: c.sessionID}
		if ev.Session != nil && ev.Session.ID != "" {
			info = *ev.Session
			c.sessionID = ev.Session.ID
		}
		wait := c.configWait
		c.mu.Unlock()
		if wait != nil {
			select {
			case wait <- configResult{info: info}:
			default:
			}
		}
	case "error":
		c.handleError(ev.Error)

	case "input_audio_buffer.speech_started":
		select {
		case c.speech <- struct{}{}:
		default:
		}
		if _, ok := c.inputs[ev.ItemID]; !ok {
			item := NewInputAudioItem(ev.ItemID)
			c.inputs[ev.ItemID] = item
			c.events.Push(ServerEvent{Type: EventInputAudio, InputAudio: item})
		}
	case "input_audio_buffer.committed":
		c.mu.Lock()
		wait := c.commitWait
		c.commitWait = nil
		c.mu.Unlock()
		item, known := c.inputs[ev.ItemID]
		if !known {
			item = NewInputAudioItem(ev.ItemID)
			c.inputs[ev.ItemID] = item
		}
		if wait != nil {
			wait <- item
		} else if !known {
			c.events.Push(ServerEvent{Type: EventInputAudio, InputAudio: item})
		}
	case "conversation.item.input_audio_transcription.completed":
		if item, ok := c.inputs[ev.ItemID]; ok {
			item.Complete(ev.Transcript)
			delete(c.inputs, ev.ItemID)
		}
	case "conversation.item.input_audio_transcription.failed":
		if item, ok := c.inputs[ev.ItemID]; ok {
			item.Complete("")
			delete(c.inputs, ev.ItemID)
		}

	case "response.created":
		if ev.Response == nil {
			return
		}
		r := NewResponse(ev.Response.ID)
		c.responses[r.ID] = r
		c.events.Push(ServerEvent{Type: EventResponse, Response: r})
	case "response.output_item.added":
		c.addOutputItem(ev)
	case "response.content_part.added":
		if m, ok := c.messages[ev.ItemID]; ok && ev.Part != nil {
			c.openContent(m, contentKey{ev.ItemID, ev.ContentIndex}, ev.Part.Type)
		}
	case "response.text.delta", "response.output_text.delta":
		if content, ok := c.contentFor(ev, "text"); ok && content.Text != nil {
			content.Text.Push(ev.Delta)
		}
	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		if content, ok := c.contentFor(ev, "audio"); ok && content.Transcript != nil {
			content.Transcript.Push(ev.Delta)
		}
	case "response.audio.delta", "response.output_audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			log.Printf("realtime: decode audio delta: %v", err)
			return
		}
		if content, ok := c.contentFor(ev, "audio"); ok && content.Audio != nil {
			content.Audio.Push(pcm)
		}
	case "response.content_part.done":
		key := contentKey{ev.ItemID, ev.ContentIndex}
		if content, ok := c.contents[key]; ok {
			content.close()
			delete(c.contents, key)
		}
	case "response.function_call_arguments.delta":
		if f, ok := c.calls[ev.ItemID]; ok {
			f.appendArguments(ev.Delta)
		}
	case "response.function_call_arguments.done":
		if f, ok := c.calls[ev.ItemID]; ok {
			f.Complete(ev.Arguments)
		}
	case "response.output_item.done":
		if ev.Item != nil {
			c.closeItem(ev.Item.ID, ev.Item.Arguments)
		}
	case "response.done":
		if ev.Response == nil {
			return
		}
		c.finishResponse(ev.Response)
	}
}

func (c *wsConn) handleError(e *wireError) {
	if e == nil {
		return
	}
	c.mu.Lock()
	wait := c.configWait
	c.mu.Unlock()
	if wait != nil {
		select {
		case wait <- configResult{err: e}:
			return
		default:
		}
	}
	log.Printf("realtime: server error (retryable=%t): %v", reliability.IsRetryableRealtimeError(e.Code), e)
}

func (c *wsConn) addOutputItem(ev wireEvent) {
	r, ok := c.responses[ev.ResponseID]
	if !ok || ev.Item == nil {
		return
	}
	switch ev.Item.Type {
	case "message":
		m := NewMessageItem(ev.Item.ID, ev.Item.Role)
		c.messages[m.ID] = m
		c.respItems[r.ID] = append(c.respItems[r.ID], m.ID)
		r.Items.Push(Item{Kind: ItemMessage, Message: m})
	case "function_call":
		f := NewFunctionCallItem(ev.Item.ID, ev.Item.CallID, ev.Item.Name)
		c.calls[f.ID] = f
		c.respItems[r.ID] = append(c.respItems[r.ID], f.ID)
		r.Items.Push(Item{Kind: ItemFunctionCall, FunctionCall: f})
	}
}

func (c *wsConn) openContent(m *MessageItem, key contentKey, partType string) Content {
	var content Content
	if partType == "audio" {
		content = NewAudioContent()
	} else {
		content = NewTextContent()
	}
	c.contents[key] = content
	m.Contents.Push(content)
	return content
}

// contentFor finds the content a delta belongs to, opening it when the
// service skipped content_part.added.
func (c *wsConn) contentFor(ev wireEvent, partType string) (Content, bool) {
	key := contentKey{ev.ItemID, ev.ContentIndex}
	if content, ok := c.contents[key]; ok {
		return content, true
	}
	m, ok := c.messages[ev.ItemID]
	if !ok {
		return Content{}, false
	}
	return c.openContent(m, key, partType), true
}

func (c *wsConn) closeItem(itemID, arguments string) {
	if m, ok := c.messages[itemID]; ok {
		for key, content := range c.contents {
			if key.itemID == itemID {
				content.close()
				delete(c.contents, key)
			}
		}
		m.Contents.Close()
		delete(c.messages, itemID)
	}
	if f, ok := c.calls[itemID]; ok {
		f.Complete(arguments)
		delete(c.calls, itemID)
	}
}

func (c *wsConn) finishResponse(wr *wireResponse) {
	r, ok := c.responses[wr.ID]
	if !ok {
		return
	}
	for _, itemID := range c.respItems[wr.ID] {
		c.closeItem(itemID, "")
	}
	delete(c.respItems, wr.ID)
	delete(c.responses, wr.ID)

	status := ResponseStatus(wr.Status)
	if status == "" {
		status = StatusCompleted
	}
	details := ""
	if len(wr.StatusDetails) > 0 && string(wr.StatusDetails) != "null" {
		details = string(wr.StatusDetails)
	}
	r.Finish(status, details)
}

// abort releases every consumer still waiting on this connection.
func (c *wsConn) abort() {
	for id := range c.respItems {
		for _, itemID := range c.respItems[id] {
			c.closeItem(itemID, "")
		}
	}
	for _, r := range c.responses {
		r.Finish(StatusCancelled, `{"reason":"connection closed"}`)
	}
	for _, item := range c.inputs {
		item.Complete("")
	}
	c.responses = map[string]*Response{}
	c.respItems = map[string][]string{}
	c.inputs = map[string]*InputAudioItem{}
	c.events.Close()
}
