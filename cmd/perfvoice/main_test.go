package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/personatwin/internal/audio"
	"github.com/ent0n29/personatwin/internal/chat"
)

func TestDecodeWAVPCM16MonoRoundTrip(t *testing.T) {
	pcm := []byte{
		0x00, 0x00,
		0xE8, 0x03, // 1000
		0x18, 0xFC, // -1000
	}
	wav, err := audio.EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	gotPCM, gotSR, err := decodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("decodeWAVPCM16() error = %v", err)
	}
	if gotSR != 16000 {
		t.Fatalf("sampleRate = %d, want 16000", gotSR)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Fatalf("pcm mismatch: got=%v want=%v", gotPCM, pcm)
	}
}

func TestDecodeWAVPCM16StereoDownmix(t *testing.T) {
	// L=1000,R=-1000 then L=3000,R=1000
	stereo := []byte{
		0xE8, 0x03, 0x18, 0xFC,
		0xB8, 0x0B, 0xE8, 0x03,
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(stereo)))
	b.WriteString("WAVEfmt ")
	for _, v := range []any{uint32(16), uint16(1), uint16(2), uint32(24000), uint32(24000 * 4), uint16(4), uint16(16)} {
		_ = binary.Write(&b, binary.LittleEndian, v)
	}
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(stereo)))
	b.Write(stereo)

	gotPCM, gotSR, err := decodeWAVPCM16(b.Bytes())
	if err != nil {
		t.Fatalf("decodeWAVPCM16() error = %v", err)
	}
	if gotSR != 24000 {
		t.Fatalf("sampleRate = %d, want 24000", gotSR)
	}
	if len(gotPCM) != 4 {
		t.Fatalf("len(gotPCM) = %d, want 4", len(gotPCM))
	}
	s1 := int16(binary.LittleEndian.Uint16(gotPCM[0:2]))
	s2 := int16(binary.LittleEndian.Uint16(gotPCM[2:4]))
	if s1 != 0 || s2 != 2000 {
		t.Fatalf("downmix samples = [%d %d], want [0 2000]", s1, s2)
	}
}

func TestWSURL(t *testing.T) {
	got, err := wsURL("https://example.com/base/")
	if err != nil {
		t.Fatalf("wsURL() error = %v", err)
	}
	if want := "wss://example.com/base/v1/voice/session"; got != want {
		t.Fatalf("wsURL() = %q, want %q", got, want)
	}
	if _, err := wsURL("ftp://example.com"); err == nil {
		t.Fatalf("wsURL(ftp) error = nil, want scheme error")
	}
}

func TestAwaitReplySkipsNonAssistantMessages(t *testing.T) {
	events := make(chan wsEnvelope, 8)
	events <- wsEnvelope{Type: "message_appended", Message: chat.Message{Kind: chat.KindUser, Content: "hi", Done: true}}
	events <- wsEnvelope{Type: "audio_out"}
	events <- wsEnvelope{Type: "message_appended", Message: chat.Message{Kind: chat.KindAssistant}}
	events <- wsEnvelope{Type: "message_updated", Message: chat.Message{Kind: chat.KindAssistant, Content: "Hello"}}
	events <- wsEnvelope{Type: "message_updated", Message: chat.Message{Kind: chat.KindAssistant, Content: "Hello there.", Done: true}}

	timing, err := awaitReply(events, make(chan error), time.Second)
	if err != nil {
		t.Fatalf("awaitReply() error = %v", err)
	}
	if timing.Done < timing.FirstText || timing.Done < timing.FirstAudio {
		t.Fatalf("timing out of order: %+v", timing)
	}
}

func TestAwaitReplyErrors(t *testing.T) {
	events := make(chan wsEnvelope, 1)
	events <- wsEnvelope{Type: "message_appended", Message: chat.Message{Kind: chat.KindError, Content: "boom", Done: true}}
	if _, err := awaitReply(events, make(chan error), time.Second); err == nil {
		t.Fatalf("awaitReply() error = nil, want assistant error")
	}

	readErr := make(chan error, 1)
	readErr <- errors.New("closed")
	if _, err := awaitReply(make(chan wsEnvelope), readErr, time.Second); err == nil {
		t.Fatalf("awaitReply() error = nil, want read error")
	}

	if _, err := awaitReply(make(chan wsEnvelope), make(chan error), 10*time.Millisecond); err == nil {
		t.Fatalf("awaitReply() error = nil, want timeout")
	}
}

func TestPercentile(t *testing.T) {
	ds := []time.Duration{5, 1, 4, 2, 3, 6, 7, 8, 9, 10}
	if got := percentile(ds, 0.5); got != 5 {
		t.Fatalf("p50 = %v, want 5", got)
	}
	if got := percentile(ds, 0.95); got != 10 {
		t.Fatalf("p95 = %v, want 10", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("percentile(nil) = %v, want 0", got)
	}
}
