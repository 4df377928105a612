package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/personatwin/internal/audio"
	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/protocol"
	"github.com/ent0n29/personatwin/internal/voice"
)

// Controller is the part of a voice controller the bridge drives.
type Controller interface {
	ID() string
	Store() *chat.Store
	State() voice.State
	SessionID() string
	SelectAgent(agentID string)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	SendAudio(ctx context.Context, pcm []byte) error
	CommitAudio(ctx context.Context) error
	Close() error
}

// Hooks forward controller state to one browser socket. Audio plays
// assistant speech in the browser.
type Hooks struct {
	OnState func(voice.State)
	OnLevel func(float64)
	Audio   voice.AudioIO
}

// ControllerFactory creates the controller backing one socket.
type ControllerFactory func(h Hooks) Controller

// bridgeClient ends the socket when the session manager closes it.
type bridgeClient struct {
	Controller
	cancel context.CancelFunc
}

func (b *bridgeClient) Close() error {
	b.cancel()
	return b.Controller.Close()
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	if s.newController == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice sessions not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.IncSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := make(chan any, 1024)
	send := func(msg any, t protocol.MessageType) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if outbound queue is saturated.
			s.metrics.IncWSMessage("dropped", string(t))
		}
	}

	var ctrl Controller
	var ready sync.WaitGroup
	ready.Add(1)
	ctrl = s.newController(Hooks{
		OnState: func(st voice.State) {
			ready.Wait()
			send(protocol.StateEvent{Type: protocol.TypeState, State: string(st), SessionID: ctrl.SessionID()}, protocol.TypeState)
		},
		OnLevel: func(level float64) {
			send(protocol.LevelEvent{Type: protocol.TypeLevel, Level: level}, protocol.TypeLevel)
		},
		Audio: &socketAudio{send: send},
	})
	ready.Done()

	client := &bridgeClient{Controller: ctrl, cancel: cancel}
	s.sessions.Register(client, r.URL.Query().Get("user_id"))
	defer func() {
		if _, err := s.sessions.End(ctrl.ID()); err != nil {
			// Already expired by the janitor.
			_ = client.Close()
		}
		s.metrics.IncSessionEvent("ws_disconnected")
	}()

	unsubscribe := ctrl.Store().Subscribe(func(ch chat.Change) {
		ev := protocol.NewMessageEvent(ch)
		send(ev, ev.Type)
	})
	defer unsubscribe()

	send(protocol.SessionReady{
		Type:      protocol.TypeSessionReady,
		SessionID: ctrl.ID(),
		Messages:  ctrl.Store().Messages(),
	}, protocol.TypeSessionReady)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.IncWSMessage("write_error", "")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.IncWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:   protocol.TypeError,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}, protocol.TypeError)
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.IncWSMessage("inbound", string(t))
		}
		_ = s.sessions.Touch(ctrl.ID())
		if s.recorder != nil {
			s.recorder.TouchSession(ctx, ctrl.SessionID())
		}
		s.dispatch(ctx, ctrl, parsed, func(code string, err error) {
			send(protocol.ErrorEvent{Type: protocol.TypeError, Code: code, Detail: err.Error()}, protocol.TypeError)
		})
	}

	cancel()
	<-writerDone
}

// dispatch applies one client message. Connect and commit wait on the remote
// service and run off the read loop so a disconnect can still arrive.
func (s *Server) dispatch(ctx context.Context, ctrl Controller, msg any, fail func(code string, err error)) {
	switch m := msg.(type) {
	case protocol.Connect:
		if m.AgentID != "" {
			ctrl.SelectAgent(m.AgentID)
		}
		go func() {
			if err := ctrl.Connect(ctx); err != nil {
				fail("connect_failed", err)
			}
		}()
	case protocol.Disconnect:
		if err := ctrl.Disconnect(ctx); err != nil {
			fail("disconnect_failed", err)
		}
	case protocol.SendText:
		if err := ctrl.SendText(ctx, m.Text); err != nil {
			fail("send_failed", err)
		}
	case protocol.AudioChunk:
		pcm, err := m.PCM()
		if err != nil {
			fail("invalid_audio", err)
			return
		}
		if err := ctrl.SendAudio(ctx, pcm); err != nil {
			fail("send_failed", err)
		}
	case protocol.CommitAudio:
		go func() {
			if err := ctrl.CommitAudio(ctx); err != nil {
				fail("commit_failed", err)
			}
		}()
	default:
		log.Printf("httpapi: unhandled client message %T", msg)
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.Connect:
		return m.Type, true
	case protocol.Disconnect:
		return m.Type, true
	case protocol.SendText:
		return m.Type, true
	case protocol.AudioChunk:
		return m.Type, true
	case protocol.CommitAudio:
		return m.Type, true
	case protocol.SessionReady:
		return m.Type, true
	case protocol.MessageEvent:
		return m.Type, true
	case protocol.StateEvent:
		return m.Type, true
	case protocol.LevelEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.AudioOut:
		return m.Type, true
	case protocol.AudioStop:
		return m.Type, true
	default:
		return "", false
	}
}

var errBrowserCapture = errors.New("httpapi: capture runs in the browser")

// socketAudio plays assistant audio by relaying it to the browser. Capture
// is owned by the browser, which streams audio_chunk messages instead.
type socketAudio struct {
	send func(any, protocol.MessageType)

	mu      sync.Mutex
	playing bool
}

func (a *socketAudio) StartPlayback() error {
	a.mu.Lock()
	a.playing = true
	a.mu.Unlock()
	return nil
}

func (a *socketAudio) StopPlayback() {
	a.mu.Lock()
	was := a.playing
	a.playing = false
	a.mu.Unlock()
	if was {
		a.send(protocol.AudioStop{Type: protocol.TypeAudioStop}, protocol.TypeAudioStop)
	}
}

func (a *socketAudio) PlayChunk(pcm []byte, onPlayed func()) error {
	a.mu.Lock()
	a.playing = true
	a.mu.Unlock()
	a.send(protocol.NewAudioOut(pcm), protocol.TypeAudioOut)
	if onPlayed != nil {
		onPlayed()
	}
	return nil
}

func (a *socketAudio) StartCapture(context.Context, func(audio.Chunk)) error {
	return errBrowserCapture
}

func (a *socketAudio) StopCapture() error { return nil }

func (a *socketAudio) Capturing() bool { return false }

func (a *socketAudio) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

func (a *socketAudio) Close() error {
	a.StopPlayback()
	return nil
}
