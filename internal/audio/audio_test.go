package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{name: "empty", pcm: nil, want: 0},
		{name: "silence", pcm: pcmOf(0, 0, 0, 0), want: 0},
		{name: "constant 5000", pcm: pcmOf(5000, -5000, 5000, -5000), want: 0.5},
		{name: "clamped", pcm: pcmOf(32767, -32768), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Level(tt.pcm); got != tt.want {
				t.Fatalf("Level() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := pcmOf(1, 2, 3, -4)
	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	got, rate, err := ReadWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	if rate != 16000 || !bytes.Equal(got, pcm) {
		t.Fatalf("ReadWAV() = %v @%d, want %v @16000", got, rate, pcm)
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	if _, _, err := ReadWAV(bytes.NewReader(make([]byte, 64))); err == nil {
		t.Fatalf("ReadWAV() error = nil, want error")
	}
}

// memDevice feeds capture from a fixed frame list and records playback.
type memDevice struct {
	frames [][]byte

	mu      sync.Mutex
	played  [][]byte
	block   chan struct{}
	closed  bool
	sources int
}

func (d *memDevice) OpenSource() (Source, error) {
	d.mu.Lock()
	d.sources++
	d.mu.Unlock()
	return &memSource{frames: d.frames}, nil
}

func (d *memDevice) OpenSink() (Sink, error) { return d, nil }

func (d *memDevice) Write(ctx context.Context, pcm []byte) error {
	if d.block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.block:
		}
	}
	d.mu.Lock()
	d.played = append(d.played, pcm)
	d.mu.Unlock()
	return nil
}

func (d *memDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *memDevice) playedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.played)
}

type memSource struct {
	frames [][]byte
	next   int
}

func (s *memSource) ReadFrame(ctx context.Context, frame []byte) error {
	if s.next >= len(s.frames) {
		return io.EOF
	}
	copy(frame, s.frames[s.next])
	s.next++
	return nil
}

func (s *memSource) Close() error { return nil }

func TestCaptureDeliversFramesWithLevel(t *testing.T) {
	loud := bytes.Repeat(pcmOf(5000, -5000), FrameBytes/4)
	dev := &memDevice{frames: [][]byte{make([]byte, FrameBytes), loud}}
	p := NewPipeline(dev)

	var mu sync.Mutex
	var levels []float64
	done := make(chan struct{})
	err := p.StartCapture(context.Background(), func(c Chunk) {
		mu.Lock()
		levels = append(levels, c.Level)
		if len(levels) == 2 {
			close(done)
		}
		mu.Unlock()
		if len(c.PCM) != FrameBytes {
			t.Errorf("len(PCM) = %d, want %d", len(c.PCM), FrameBytes)
		}
	})
	if err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frames")
	}
	mu.Lock()
	defer mu.Unlock()
	if levels[0] != 0 || levels[1] != 0.5 {
		t.Fatalf("levels = %v, want [0 0.5]", levels)
	}
}

func TestStartCaptureTwiceFails(t *testing.T) {
	p := NewPipeline(NullDevice{})
	if err := p.StartCapture(context.Background(), nil); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if err := p.StartCapture(context.Background(), nil); err != ErrCaptureActive {
		t.Fatalf("second StartCapture() error = %v, want %v", err, ErrCaptureActive)
	}
	if err := p.StopCapture(); err != nil {
		t.Fatalf("StopCapture() error = %v", err)
	}
	if p.Capturing() {
		t.Fatalf("Capturing() = true after StopCapture")
	}
	if err := p.StartCapture(context.Background(), nil); err != nil {
		t.Fatalf("StartCapture() after stop error = %v", err)
	}
	_ = p.Close()
}

func TestPlaybackPlaysInOrderAndSignals(t *testing.T) {
	dev := &memDevice{}
	p := NewPipeline(dev)
	if err := p.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback() error = %v", err)
	}
	played := make(chan int, 3)
	for i := 0; i < 3; i++ {
		if err := p.PlayChunk([]byte{byte(i)}, func() { played <- i }); err != nil {
			t.Fatalf("PlayChunk() error = %v", err)
		}
	}
	for want := 0; want < 3; want++ {
		select {
		case got := <-played:
			if got != want {
				t.Fatalf("played %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for chunk %d", want)
		}
	}
}

func TestStopPlaybackFlushesQueue(t *testing.T) {
	dev := &memDevice{block: make(chan struct{})}
	p := NewPipeline(dev)
	if err := p.StartPlayback(); err != nil {
		t.Fatalf("StartPlayback() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = p.PlayChunk([]byte{1}, nil)
	}
	p.StopPlayback()
	if p.Playing() {
		t.Fatalf("Playing() = true after StopPlayback")
	}
	close(dev.block)
	time.Sleep(20 * time.Millisecond)
	if got := dev.playedCount(); got != 0 {
		t.Fatalf("played = %d chunks after stop, want 0", got)
	}
}

func TestStartPlaybackSupersedesPrevious(t *testing.T) {
	dev := &memDevice{block: make(chan struct{})}
	p := NewPipeline(dev)
	_ = p.StartPlayback()
	_ = p.PlayChunk([]byte{1}, nil)
	_ = p.StartPlayback()
	close(dev.block)
	done := make(chan struct{})
	_ = p.PlayChunk([]byte{2}, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for new session chunk")
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if len(dev.played) != 1 || dev.played[0][0] != 2 {
		t.Fatalf("played = %v, want only the new session chunk", dev.played)
	}
}

func TestSessionRecordingWritesTracks(t *testing.T) {
	frame := bytes.Repeat([]byte{1, 0}, FrameBytes/2)
	dev := &memDevice{frames: [][]byte{frame}}
	p := NewPipeline(dev)
	rec := p.StartSessionRecording()

	captured := make(chan struct{})
	_ = p.StartCapture(context.Background(), func(Chunk) { close(captured) })
	<-captured
	played := make(chan struct{})
	_ = p.PlayChunk([]byte{9, 9}, func() { close(played) })
	<-played

	if got := p.StopSessionRecording(); got != rec {
		t.Fatalf("StopSessionRecording() returned a different recorder")
	}
	user, assistant := rec.Tracks()
	if len(user) != FrameBytes || len(assistant) != 2 {
		t.Fatalf("tracks = %d/%d bytes, want %d/2", len(user), len(assistant), FrameBytes)
	}

	dir := t.TempDir()
	up, ap, err := rec.WriteFiles(dir, "session")
	if err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}
	for _, path := range []string{up, ap} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("Stat(%s) error = %v", filepath.Base(path), err)
		}
	}
	_ = p.Close()
}

func TestCloseIsIdempotentAndRejectsNewWork(t *testing.T) {
	dev := &memDevice{}
	p := NewPipeline(dev)
	_ = p.Init()
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := p.PlayChunk([]byte{1}, nil); err != ErrClosed {
		t.Fatalf("PlayChunk() error = %v, want %v", err, ErrClosed)
	}
	if !dev.closed {
		t.Fatalf("sink not closed")
	}
}
