package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
)

var (
	ErrCaptureActive = errors.New("audio: capture already active")
	ErrClosed        = errors.New("audio: pipeline closed")
)

// Chunk is one captured frame with its loudness.
type Chunk struct {
	PCM   []byte
	Level float64
}

// Pipeline owns microphone capture and speaker playback for one client.
// Capture and playback are controlled independently; at most one of each is
// active at a time.
type Pipeline struct {
	dev Device

	initOnce sync.Once
	initErr  error
	sink     Sink

	mu       sync.Mutex
	capture  *captureSession
	playback *playbackSession
	recorder *SessionRecorder
	closed   bool

	level atomic.Uint64
}

func NewPipeline(dev Device) *Pipeline {
	if dev == nil {
		dev = NullDevice{}
	}
	return &Pipeline{dev: dev}
}

// Init opens the playback device. It runs once; later calls return the first
// result.
func (p *Pipeline) Init() error {
	p.initOnce.Do(func() {
		sink, err := p.dev.OpenSink()
		if err != nil {
			p.initErr = fmt.Errorf("open playback device: %w", err)
			return
		}
		p.sink = sink
	})
	return p.initErr
}

type captureSession struct {
	src    Source
	cancel context.CancelFunc
	done   chan struct{}
}

// StartCapture opens the input device and delivers fixed-size frames to
// onChunk from a dedicated goroutine until StopCapture, end of input, or ctx
// cancellation.
func (p *Pipeline) StartCapture(ctx context.Context, onChunk func(Chunk)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.capture != nil {
		return ErrCaptureActive
	}
	src, err := p.dev.OpenSource()
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cs := &captureSession{src: src, cancel: cancel, done: make(chan struct{})}
	p.capture = cs
	go p.runCapture(cctx, cs, onChunk)
	return nil
}

func (p *Pipeline) runCapture(ctx context.Context, cs *captureSession, onChunk func(Chunk)) {
	defer close(cs.done)
	frame := make([]byte, FrameBytes)
	for {
		if err := cs.src.ReadFrame(ctx, frame); err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.Printf("audio: capture read failed: %v", err)
			}
			p.mu.Lock()
			if p.capture == cs {
				p.capture = nil
				_ = cs.src.Close()
			}
			p.mu.Unlock()
			p.level.Store(0)
			return
		}
		chunk := Chunk{PCM: append([]byte(nil), frame...), Level: Level(frame)}
		p.level.Store(math.Float64bits(chunk.Level))
		p.mu.Lock()
		rec := p.recorder
		p.mu.Unlock()
		if rec != nil {
			rec.addUser(chunk.PCM)
		}
		if onChunk != nil {
			onChunk(chunk)
		}
	}
}

// StopCapture releases the input device handle. The pipeline stays usable.
func (p *Pipeline) StopCapture() error {
	p.mu.Lock()
	cs := p.capture
	p.capture = nil
	p.mu.Unlock()
	if cs == nil {
		return nil
	}
	cs.cancel()
	<-cs.done
	p.level.Store(0)
	return cs.src.Close()
}

// Capturing reports whether capture is active.
func (p *Pipeline) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capture != nil
}

// Level is the loudness of the most recent captured frame.
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

type queuedChunk struct {
	pcm      []byte
	onPlayed func()
}

type playbackSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	notify chan struct{}

	mu    sync.Mutex
	queue []queuedChunk
}

// StartPlayback opens a fresh streaming-playback session, stopping and
// flushing any previous one.
func (p *Pipeline) StartPlayback() error {
	if err := p.Init(); err != nil {
		return err
	}
	p.StopPlayback()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.playback != nil {
		// A concurrent StartPlayback won the race; it supersedes this one.
		return nil
	}
	p.playback = p.newPlaybackLocked()
	return nil
}

func (p *Pipeline) newPlaybackLocked() *playbackSession {
	ctx, cancel := context.WithCancel(context.Background())
	ps := &playbackSession{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
	go p.runPlayback(ps)
	return ps
}

// PlayChunk enqueues pcm on the active playback session, opening one if
// needed. onPlayed runs after the chunk was handed to the device.
func (p *Pipeline) PlayChunk(pcm []byte, onPlayed func()) error {
	if err := p.Init(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	ps := p.playback
	if ps == nil {
		ps = p.newPlaybackLocked()
		p.playback = ps
	}
	p.mu.Unlock()

	ps.mu.Lock()
	ps.queue = append(ps.queue, queuedChunk{pcm: pcm, onPlayed: onPlayed})
	ps.mu.Unlock()
	select {
	case ps.notify <- struct{}{}:
	default:
	}
	return nil
}

func (p *Pipeline) runPlayback(ps *playbackSession) {
	defer close(ps.done)
	for {
		ps.mu.Lock()
		if len(ps.queue) == 0 {
			ps.mu.Unlock()
			select {
			case <-ps.ctx.Done():
				return
			case <-ps.notify:
				continue
			}
		}
		next := ps.queue[0]
		ps.queue = ps.queue[1:]
		ps.mu.Unlock()

		if err := p.sink.Write(ps.ctx, next.pcm); err != nil {
			if ps.ctx.Err() != nil {
				return
			}
			log.Printf("audio: playback write failed: %v", err)
			continue
		}
		p.mu.Lock()
		rec := p.recorder
		p.mu.Unlock()
		if rec != nil {
			rec.addAssistant(next.pcm)
		}
		if next.onPlayed != nil {
			next.onPlayed()
		}
	}
}

// StopPlayback flushes queued audio and halts the active session. It is a
// no-op when nothing is playing.
func (p *Pipeline) StopPlayback() {
	p.mu.Lock()
	ps := p.playback
	p.playback = nil
	p.mu.Unlock()
	if ps == nil {
		return
	}
	ps.cancel()
	<-ps.done
	ps.mu.Lock()
	ps.queue = nil
	ps.mu.Unlock()
}

// Playing reports whether a playback session is open.
func (p *Pipeline) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playback != nil
}

// StartSessionRecording begins collecting captured and played audio.
func (p *Pipeline) StartSessionRecording() *SessionRecorder {
	rec := &SessionRecorder{}
	p.mu.Lock()
	p.recorder = rec
	p.mu.Unlock()
	return rec
}

// StopSessionRecording detaches and returns the active recorder, or nil.
func (p *Pipeline) StopSessionRecording() *SessionRecorder {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.recorder
	p.recorder = nil
	return rec
}

// Close stops capture and playback and releases the playback device.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if err := p.StopCapture(); err != nil {
		errs = append(errs, err)
	}
	p.StopPlayback()
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
