package voice

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/observability"
	"github.com/ent0n29/personatwin/internal/realtime"
	"github.com/ent0n29/personatwin/internal/tools"
)

// Playback is the speaker side of the audio pipeline.
type Playback interface {
	StartPlayback() error
	StopPlayback()
	PlayChunk(pcm []byte, onPlayed func()) error
}

// ToolHandler answers function calls.
type ToolHandler interface {
	Handle(ctx context.Context, sess tools.Session, item *realtime.FunctionCallItem) (tools.Result, error)
	ReportQuality(text string) tools.Quality
}

// Multiplexer renders one response at a time into the message store.
type Multiplexer struct {
	Store    *chat.Store
	Playback Playback
	Tools    ToolHandler
	Metrics  *observability.Metrics
	// OnAgentAudio runs after each assistant audio chunk was played.
	OnAgentAudio func()

	RevealInterval time.Duration
	RevealIdle     time.Duration

	epoch atomic.Uint64

	mu           sync.Mutex
	groundedText string
}

// Interrupt stops feeding audio of the content currently being rendered.
// Transcript reveal continues.
func (m *Multiplexer) Interrupt() {
	m.epoch.Add(1)
}

// Render consumes resp in order. Function calls are delegated to the tool
// handler; a failed response leaves a single error message.
func (m *Multiplexer) Render(ctx context.Context, sess tools.Session, resp *realtime.Response) error {
	for item := range resp.Items.All(ctx) {
		switch item.Kind {
		case realtime.ItemMessage:
			if item.Message.Role != "assistant" {
				continue
			}
			text := m.renderMessage(ctx, item.Message)
			if grounded := m.takeGrounded(); grounded != "" && text != "" && m.Tools != nil {
				m.Tools.ReportQuality(text)
			}
		case realtime.ItemFunctionCall:
			if m.Tools == nil {
				log.Printf("voice: dropping function call %s: no tool handler", item.FunctionCall.Name)
				continue
			}
			res, err := m.Tools.Handle(ctx, sess, item.FunctionCall)
			if err != nil {
				log.Printf("voice: function call %s failed: %v", item.FunctionCall.Name, err)
			}
			if res.Searched {
				m.mu.Lock()
				m.groundedText = res.SearchResults
				m.mu.Unlock()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	status, details := resp.Status()
	m.Metrics.IncResponse(string(status))
	if status == realtime.StatusFailed {
		log.Printf("voice: response %s failed: %s", resp.ID, details)
		m.Store.Append(chat.KindError, "Response failed: "+details)
	}
	return nil
}

func (m *Multiplexer) takeGrounded() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.groundedText
	m.groundedText = ""
	return g
}

func (m *Multiplexer) renderMessage(ctx context.Context, item *realtime.MessageItem) string {
	msg := m.Store.Begin(chat.KindAssistant)
	var full strings.Builder
	for content := range item.Contents.All(ctx) {
		switch content.Kind {
		case realtime.ContentText:
			for delta := range content.Text.All(ctx) {
				_ = m.Store.AppendContent(msg.ID, delta)
				full.WriteString(delta)
			}
		case realtime.ContentAudio:
			full.WriteString(m.renderAudio(ctx, msg.ID, content))
		}
	}
	if err := m.Store.Complete(msg.ID); err != nil {
		log.Printf("voice: complete message: %v", err)
	}
	return full.String()
}

// renderAudio runs the transcript, audio and reveal tasks for one audio
// content and joins them. It returns the full transcript.
func (m *Multiplexer) renderAudio(ctx context.Context, msgID string, content realtime.Content) string {
	buf := newRevealBuffer()
	var transcript strings.Builder
	var transcriptDone time.Time

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer buf.finish()
		for delta := range content.Transcript.All(gctx) {
			buf.push(delta)
			transcript.WriteString(delta)
		}
		transcriptDone = time.Now()
		return nil
	})
	start := time.Now()
	g.Go(func() error {
		m.playAudio(gctx, content.Audio, start)
		return nil
	})
	g.Go(func() error {
		rv := revealer{interval: m.RevealInterval, idle: m.RevealIdle}
		if rv.interval <= 0 {
			rv.interval = DefaultRevealInterval
		}
		if rv.idle <= 0 {
			rv.idle = DefaultRevealIdle
		}
		rv.run(gctx, buf, func(s string) {
			_ = m.Store.AppendContent(msgID, s)
		})
		return nil
	})
	_ = g.Wait()

	if !transcriptDone.IsZero() {
		m.Metrics.ObserveRevealLag(time.Since(transcriptDone))
	}
	return transcript.String()
}

func (m *Multiplexer) playAudio(ctx context.Context, audio *realtime.Stream[[]byte], start time.Time) {
	if m.Playback == nil {
		for range audio.All(ctx) {
		}
		return
	}
	epoch := m.epoch.Load()
	m.Playback.StopPlayback()
	if err := m.Playback.StartPlayback(); err != nil {
		log.Printf("voice: start playback: %v", err)
	}
	failed := false
	first := true
	for chunk := range audio.All(ctx) {
		if first {
			m.Metrics.ObserveStage("first_audio", time.Since(start))
			first = false
		}
		if m.epoch.Load() != epoch || failed {
			continue
		}
		if err := m.Playback.PlayChunk(chunk, m.OnAgentAudio); err != nil {
			log.Printf("voice: play chunk: %v", err)
			failed = true
		}
	}
}
