package audio

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"time"
)

// Audio format shared by capture, playback and the realtime transport.
const (
	SampleRate = 24000
	// FrameBytes is 100ms of mono PCM16LE at SampleRate.
	FrameBytes = SampleRate / 10 * 2
)

// Source is an opened capture device handle.
type Source interface {
	// ReadFrame fills frame completely or returns an error; io.EOF ends capture.
	ReadFrame(ctx context.Context, frame []byte) error
	Close() error
}

// Sink is an opened playback device handle.
type Sink interface {
	// Write plays pcm and returns once it has been handed to the device.
	Write(ctx context.Context, pcm []byte) error
	Close() error
}

// Device opens capture and playback handles.
type Device interface {
	OpenSource() (Source, error)
	OpenSink() (Sink, error)
}

// frameDuration is the wall-clock length of n PCM16LE bytes at SampleRate.
func frameDuration(n int) time.Duration {
	return time.Duration(n/2) * time.Second / SampleRate
}

// NullDevice never yields capture frames and discards playback.
type NullDevice struct{}

func (NullDevice) OpenSource() (Source, error) { return nullSource{}, nil }
func (NullDevice) OpenSink() (Sink, error)     { return nullSink{}, nil }

type nullSource struct{}

func (nullSource) ReadFrame(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}
func (nullSource) Close() error { return nil }

type nullSink struct{}

func (nullSink) Write(context.Context, []byte) error { return nil }
func (nullSink) Close() error                        { return nil }

// FileDevice captures from a WAV file and writes playback to another WAV file.
// With Realtime set, frames are paced at their natural duration so the file
// behaves like a microphone.
type FileDevice struct {
	InputPath  string
	OutputPath string
	Realtime   bool
}

func (d FileDevice) OpenSource() (Source, error) {
	if d.InputPath == "" {
		return nullSource{}, nil
	}
	f, err := os.Open(d.InputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pcm, _, err := ReadWAV(f)
	if err != nil {
		return nil, err
	}
	return &fileSource{r: bytes.NewReader(pcm), realtime: d.Realtime}, nil
}

func (d FileDevice) OpenSink() (Sink, error) {
	return &fileSink{path: d.OutputPath, realtime: d.Realtime}, nil
}

type fileSource struct {
	r        *bytes.Reader
	realtime bool
}

func (s *fileSource) ReadFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := io.ReadFull(s.r, frame)
	if err == io.ErrUnexpectedEOF {
		clear(frame[n:])
		err = nil
	}
	if err != nil {
		return err
	}
	if s.realtime {
		t := time.NewTimer(frameDuration(len(frame)))
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (s *fileSource) Close() error { return nil }

type fileSink struct {
	mu       sync.Mutex
	path     string
	realtime bool
	pcm      []byte
}

func (s *fileSink) Write(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	s.pcm = append(s.pcm, pcm...)
	s.mu.Unlock()
	if !s.realtime {
		return nil
	}
	t := time.NewTimer(frameDuration(len(pcm)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *fileSink) Close() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteWAVFile(s.path, s.pcm, SampleRate)
}
