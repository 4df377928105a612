// Package voice drives one persona conversation over a realtime session:
// the connection state machine, response rendering with paced transcript
// reveal, barge-in, and proactive nudges.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/personatwin/internal/audio"
	"github.com/ent0n29/personatwin/internal/auth"
	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/config"
	"github.com/ent0n29/personatwin/internal/observability"
	"github.com/ent0n29/personatwin/internal/persona"
	"github.com/ent0n29/personatwin/internal/proactive"
	"github.com/ent0n29/personatwin/internal/realtime"
)

type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

var (
	ErrInvalidState = errors.New("voice: operation not valid in current state")
	ErrNoAgent      = errors.New("voice: no agent selected")
)

const (
	authFailedMessage = "Failed to authenticate. Please check your API configuration."
	noAgentMessage    = "Please select an agent."
)

// AudioIO is the device side the controller owns.
type AudioIO interface {
	Playback
	StartCapture(ctx context.Context, onChunk func(audio.Chunk)) error
	StopCapture() error
	Capturing() bool
	Playing() bool
	Close() error
}

// SessionInfo describes a connected session to observers.
type SessionInfo struct {
	ClientID  string
	SessionID string
	Model     string
	AgentID   string
	Voice     string
	StartedAt time.Time
}

// Observer receives session lifecycle and finished messages. Calls must not
// block.
type Observer interface {
	SessionStarted(info SessionInfo)
	SessionEnded(clientID, sessionID string)
	MessageCompleted(clientID string, msg chat.Message)
}

// Options wires a Controller.
type Options struct {
	Config   config.Config
	Profile  persona.Profile
	Dialer   realtime.Dialer
	Auth     auth.Provider
	Audio    AudioIO
	Store    *chat.Store
	Tools    ToolHandler
	Declared []realtime.Tool
	Metrics  *observability.Metrics
	Observer Observer

	// OnState and OnLevel are optional UI hooks.
	OnState func(State)
	OnLevel func(float64)

	RevealInterval time.Duration
	RevealIdle     time.Duration
}

// Controller owns the realtime connection, the audio devices and the
// proactive scheduler of one client.
type Controller struct {
	id    string
	cfg   config.Config
	opts  Options
	store *chat.Store
	audio AudioIO
	mux   *Multiplexer

	mu            sync.Mutex
	state         State
	gen           uint64
	connectCancel context.CancelFunc
	conn          realtime.Conn
	sessionID     string
	agentID       string
	loopCtx       context.Context
	loopCancel    context.CancelFunc
	loopDone      chan struct{}
	scheduler     *proactive.Scheduler
	introduced    bool
	closed        bool

	userSpeaking atomic.Bool
	level        atomic.Value
	unsubscribe  func()
}

func NewController(opts Options) *Controller {
	if opts.Store == nil {
		opts.Store = chat.NewStore()
	}
	if opts.Audio == nil {
		opts.Audio = audio.NewPipeline(nil)
	}
	c := &Controller{
		id:      uuid.NewString(),
		cfg:     opts.Config,
		opts:    opts,
		store:   opts.Store,
		audio:   opts.Audio,
		state:   StateDisconnected,
		agentID: opts.Config.Realtime.AgentID,
	}
	c.mux = &Multiplexer{
		Store:          opts.Store,
		Playback:       opts.Audio,
		Tools:          opts.Tools,
		Metrics:        opts.Metrics,
		OnAgentAudio:   func() { c.touch("agent speaking") },
		RevealInterval: opts.RevealInterval,
		RevealIdle:     opts.RevealIdle,
	}
	c.level.Store(0.0)
	if opts.Observer != nil {
		c.unsubscribe = opts.Store.Subscribe(func(ch chat.Change) {
			if ch.Final() {
				opts.Observer.MessageCompleted(c.id, ch.Message)
			}
		})
	}
	return c
}

// ID identifies the controller for its whole lifetime, across reconnects.
func (c *Controller) ID() string { return c.id }

func (c *Controller) Store() *chat.Store { return c.store }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID is the server-assigned id of the current session, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) Messages() []chat.Message { return c.store.Messages() }

// Level is the loudness of the last captured chunk in [0, 1].
func (c *Controller) Level() float64 { return c.level.Load().(float64) }

// SelectAgent sets the agent addressed in agent mode.
func (c *Controller) SelectAgent(agentID string) {
	c.mu.Lock()
	c.agentID = strings.TrimSpace(agentID)
	c.mu.Unlock()
}

func (c *Controller) notify(s State) {
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// Connect opens and configures a session. Configuration problems append an
// error message and leave the controller disconnected.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrInvalidState
	}
	agentID := c.agentID
	c.mu.Unlock()

	creds, err := c.credentials(ctx)
	if err != nil {
		log.Printf("voice: authentication failed: %v", err)
		c.store.Append(chat.KindError, authFailedMessage)
		c.opts.Metrics.IncConnect("auth_failed")
		return fmt.Errorf("authenticate: %w", err)
	}
	if c.cfg.Realtime.Mode == config.ModeAgent && agentID == "" {
		c.store.Append(chat.KindError, noAgentMessage)
		c.opts.Metrics.IncConnect("no_agent")
		return ErrNoAgent
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	connectCtx, cancel := context.WithCancel(ctx)
	c.connectCancel = cancel
	introduce := !c.introduced
	c.introduced = true
	c.mu.Unlock()
	defer cancel()

	if introduce {
		c.store.Append(chat.KindAssistant, c.opts.Profile.IntroductionMessage())
		if q := c.opts.Profile.SuggestedQuestionsMessage(); q != "" {
			c.store.Append(chat.KindSpecial, q)
		}
	}
	c.notify(StateConnecting)

	start := time.Now()
	conn, info, err := c.open(connectCtx, creds, agentID)
	if err != nil {
		c.mu.Lock()
		current := c.gen == gen
		if current {
			c.state = StateDisconnected
			c.connectCancel = nil
		}
		c.mu.Unlock()
		if !current {
			return fmt.Errorf("connect cancelled: %w", err)
		}
		log.Printf("voice: connect failed: %v", err)
		c.store.Append(chat.KindError, "Error connecting: "+err.Error())
		c.opts.Metrics.IncConnect("error")
		c.notify(StateDisconnected)
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrInvalidState
	}
	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.sessionID = info.ID
	c.state = StateConnected
	c.connectCancel = nil
	c.loopCtx = loopCtx
	c.loopCancel = loopCancel
	c.loopDone = make(chan struct{})
	done := c.loopDone
	if c.cfg.ProactiveEnabled {
		c.scheduler = proactive.New(c.greet, c.nudge, c.cfg.ProactiveInterval)
	}
	sched := c.scheduler
	c.mu.Unlock()

	c.opts.Metrics.IncConnect("ok")
	c.opts.Metrics.SessionOpened()
	c.opts.Metrics.ObserveStage("connect", time.Since(start))
	if c.opts.Observer != nil {
		c.opts.Observer.SessionStarted(SessionInfo{
			ClientID:  c.id,
			SessionID: info.ID,
			Model:     c.cfg.Realtime.Model,
			AgentID:   agentID,
			Voice:     c.voiceName(),
			StartedAt: time.Now().UTC(),
		})
	}
	log.Printf("voice: session %s connected", info.ID)

	go c.eventLoop(loopCtx, conn, done)
	go c.watchSpeech(loopCtx, conn)
	if sched != nil {
		sched.Start(loopCtx)
	}
	c.notify(StateConnected)
	return nil
}

func (c *Controller) credentials(ctx context.Context) (realtime.Credentials, error) {
	if token := strings.TrimSpace(c.cfg.Realtime.BearerToken); token != "" {
		return realtime.Credentials{BearerToken: token}, nil
	}
	if c.opts.Auth == nil {
		return realtime.Credentials{}, auth.ErrNotConfigured
	}
	key, err := c.opts.Auth.APIKey(ctx)
	if err != nil {
		return realtime.Credentials{}, err
	}
	return realtime.Credentials{APIKey: key}, nil
}

func (c *Controller) open(ctx context.Context, creds realtime.Credentials, agentID string) (realtime.Conn, realtime.SessionInfo, error) {
	target := realtime.Target{
		Endpoint:   c.cfg.Realtime.Endpoint,
		APIVersion: c.cfg.Realtime.APIVersion,
		Model:      c.cfg.Realtime.Model,
	}
	if c.cfg.Realtime.Mode == config.ModeAgent {
		target.AgentID = agentID
		target.AgentProject = c.cfg.Realtime.AgentProject
	}
	conn, err := c.opts.Dialer.Dial(ctx, target, creds)
	if err != nil {
		return nil, realtime.SessionInfo{}, err
	}
	opts := BuildSessionOptions(c.cfg, c.opts.Profile, c.opts.Declared, time.Now())
	info, err := conn.Configure(ctx, opts)
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			log.Printf("voice: close after failed configure: %v", cerr)
		}
		return nil, realtime.SessionInfo{}, fmt.Errorf("configure session: %w", err)
	}
	return conn, info, nil
}

func (c *Controller) voiceName() string {
	if c.cfg.Session.UseCustomVoice {
		return c.cfg.Session.CustomVoiceName
	}
	return c.cfg.Session.VoiceName
}

// eventLoop is the single consumer of server events.
func (c *Controller) eventLoop(ctx context.Context, conn realtime.Conn, done chan struct{}) {
	defer close(done)
	events := conn.Events()
	for {
		ev, ok := events.Next(ctx)
		if !ok || c.current() != conn {
			break
		}
		switch ev.Type {
		case realtime.EventResponse:
			if err := c.mux.Render(ctx, c, ev.Response); err != nil && ctx.Err() == nil {
				log.Printf("voice: render response: %v", err)
			}
		case realtime.EventInputAudio:
			c.touch("user start to speak")
			c.handleInputAudio(ctx, ev.InputAudio)
		}
	}
	if ctx.Err() == nil && c.current() == conn {
		log.Printf("voice: event stream ended, disconnecting")
		go func() {
			if err := c.Disconnect(context.Background()); err != nil {
				log.Printf("voice: disconnect after stream end: %v", err)
			}
		}()
	}
}

// watchSpeech stops playback as soon as the service hears the user, even
// while eventLoop is still rendering a response.
func (c *Controller) watchSpeech(ctx context.Context, conn realtime.Conn) {
	speech := conn.SpeechStarted()
	for {
		select {
		case <-ctx.Done():
			return
		case <-speech:
			if c.current() != conn {
				return
			}
			c.touch("user start to speak")
			c.bargeIn()
		}
	}
}

func (c *Controller) current() realtime.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// handleInputAudio interrupts assistant playback and records the user's
// utterance once transcribed.
func (c *Controller) handleInputAudio(ctx context.Context, item *realtime.InputAudioItem) {
	c.userSpeaking.Store(true)
	c.bargeIn()
	err := item.WaitForCompletion(ctx)
	c.userSpeaking.Store(false)
	if err != nil {
		return
	}
	c.store.Append(chat.KindUser, item.Transcription())
}

func (c *Controller) bargeIn() {
	playing := c.audio.Playing()
	c.mux.Interrupt()
	c.audio.StopPlayback()
	if playing {
		c.opts.Metrics.IncBargeIn()
	}
}

// SendItem posts a conversation item. It is a logged no-op unless connected.
func (c *Controller) SendItem(ctx context.Context, item realtime.ConversationItem) error {
	conn := c.current()
	if conn == nil {
		log.Printf("voice: SendItem(%s) while disconnected, ignored", item.Type)
		return nil
	}
	return conn.SendItem(ctx, item)
}

// GenerateResponse requests the next assistant turn. It is a logged no-op
// unless connected.
func (c *Controller) GenerateResponse(ctx context.Context, opts realtime.ResponseOptions) error {
	conn := c.current()
	if conn == nil {
		log.Printf("voice: GenerateResponse while disconnected, ignored")
		return nil
	}
	return conn.GenerateResponse(ctx, opts)
}

// SendText posts typed user input and requests a reply.
func (c *Controller) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.current() == nil {
		return ErrInvalidState
	}
	c.store.Append(chat.KindUser, text)
	c.touch("user typed")
	if err := c.SendItem(ctx, realtime.UserText(text)); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return c.GenerateResponse(ctx, realtime.ResponseOptions{})
}

// SendAudio forwards captured PCM from an external capture source.
func (c *Controller) SendAudio(ctx context.Context, pcm []byte) error {
	conn := c.current()
	if conn == nil {
		return ErrInvalidState
	}
	c.publishLevel(audio.Level(pcm))
	if c.userSpeaking.Load() {
		c.touch("user speaking")
	}
	return conn.SendAudio(ctx, pcm)
}

// StartRecording interrupts playback and streams microphone audio to the
// session.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	loopCtx := c.loopCtx
	c.mu.Unlock()
	if conn == nil {
		return ErrInvalidState
	}
	c.mux.Interrupt()
	c.audio.StopPlayback()
	return c.audio.StartCapture(loopCtx, func(chunk audio.Chunk) {
		c.publishLevel(chunk.Level)
		if err := conn.SendAudio(loopCtx, chunk.PCM); err != nil && loopCtx.Err() == nil {
			log.Printf("voice: send audio: %v", err)
		}
		if c.userSpeaking.Load() {
			c.touch("user speaking")
		}
	})
}

// StopRecording releases the microphone. With turn detection off the buffer
// is committed as one user turn and a reply is requested.
func (c *Controller) StopRecording(ctx context.Context) error {
	if err := c.audio.StopCapture(); err != nil {
		log.Printf("voice: stop capture: %v", err)
	}
	c.publishLevel(0)
	if BuildTurnDetection(c.cfg.Realtime, c.cfg.Session) != nil {
		return nil
	}
	return c.CommitAudio(ctx)
}

// CommitAudio closes the pending input buffer as one user turn, waits for
// its transcription and requests a reply.
func (c *Controller) CommitAudio(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return ErrInvalidState
	}
	item, err := conn.CommitAudio(ctx)
	if err != nil {
		return fmt.Errorf("commit audio: %w", err)
	}
	c.touch("user speaking")
	c.handleInputAudio(ctx, item)
	return c.GenerateResponse(ctx, realtime.ResponseOptions{})
}

func (c *Controller) publishLevel(v float64) {
	c.level.Store(v)
	if c.opts.OnLevel != nil {
		c.opts.OnLevel(v)
	}
}

func (c *Controller) touch(reason string) {
	c.mu.Lock()
	sched := c.scheduler
	c.mu.Unlock()
	if sched != nil {
		sched.UpdateActivity(reason)
	}
}

func (c *Controller) greet(ctx context.Context) {
	if err := c.GenerateResponse(ctx, realtime.ResponseOptions{AdditionalInstructions: persona.GreetingInstructions}); err != nil {
		log.Printf("voice: greeting: %v", err)
	}
}

func (c *Controller) nudge(ctx context.Context) {
	if err := c.SendItem(ctx, realtime.SystemText(persona.InactivityPrompt)); err != nil {
		log.Printf("voice: inactivity prompt: %v", err)
		return
	}
	if err := c.GenerateResponse(ctx, realtime.ResponseOptions{}); err != nil {
		log.Printf("voice: inactivity response: %v", err)
	}
}

// Disconnect tears the session down. It is idempotent; teardown failures are
// logged, never returned.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected, StateDisconnecting:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.gen++
		if c.connectCancel != nil {
			c.connectCancel()
			c.connectCancel = nil
		}
		c.state = StateDisconnected
		c.mu.Unlock()
		c.notify(StateDisconnected)
		return nil
	}
	c.state = StateDisconnecting
	conn := c.conn
	c.conn = nil
	sessionID := c.sessionID
	cancel := c.loopCancel
	done := c.loopDone
	sched := c.scheduler
	c.scheduler = nil
	c.mu.Unlock()
	c.notify(StateDisconnecting)

	if cancel != nil {
		cancel()
	}
	if sched != nil {
		sched.Stop()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Printf("voice: close session %s: %v", sessionID, err)
		}
	}
	c.mux.Interrupt()
	c.audio.StopPlayback()
	if c.audio.Capturing() {
		if err := c.audio.StopCapture(); err != nil {
			log.Printf("voice: stop capture: %v", err)
		}
	}
	c.publishLevel(0)
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			log.Printf("voice: event loop still draining for session %s", sessionID)
		}
	}

	c.opts.Metrics.SessionClosed()
	if c.opts.Observer != nil {
		c.opts.Observer.SessionEnded(c.id, sessionID)
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.sessionID = ""
	c.loopCtx = nil
	c.loopCancel = nil
	c.loopDone = nil
	c.mu.Unlock()
	c.notify(StateDisconnected)
	log.Printf("voice: session %s disconnected", sessionID)
	return nil
}

// Close disconnects and releases the audio devices. The controller cannot
// be reconnected afterwards.
func (c *Controller) Close() error {
	_ = c.Disconnect(context.Background())
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.audio.Close()
}
