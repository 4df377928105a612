// Command perfvoice replays synthetic turns against a running service over
// the voice websocket and reports per-turn latency.
package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/protocol"
)

type options struct {
	baseURL        string
	agentID        string
	turns          int
	chunkMS        int
	realtime       float64
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	wavs           []string
	verbose        bool
}

// wsEnvelope is the union of the server events perfvoice inspects.
type wsEnvelope struct {
	Type      string       `json:"type"`
	State     string       `json:"state,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Code      string       `json:"code,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Message   chat.Message `json:"message"`
}

type audioClip struct {
	Name       string
	PCM16LE    []byte
	SampleRate int
}

// turnTiming is measured from the moment the turn's input finished sending.
type turnTiming struct {
	FirstText  time.Duration
	FirstAudio time.Duration
	Done       time.Duration
}

var defaultUtterances = []string{
	"Reply in three words: who are you?",
	"Reply in three words: what time is it?",
	"Reply in three words: favourite project?",
	"Reply in three words: next goal?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfvoice: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfvoice: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw, wavsRaw string
	var interTurnMS, turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "service base URL")
	flag.StringVar(&cfg.agentID, "agent-id", "", "agent id sent with connect (agent addressing mode)")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 300, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for the assistant reply per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (text turns)")
	flag.StringVar(&wavsRaw, "wavs", "", "PCM16 WAV files separated by ',' (audio turns, replaces texts)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.texts = splitList(textsRaw, "|")
	if len(cfg.texts) == 0 {
		cfg.texts = append([]string(nil), defaultUtterances...)
	}
	cfg.wavs = splitList(wavsRaw, ",")
	return cfg, nil
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	clips, err := loadClips(cfg.wavs)
	if err != nil {
		return fmt.Errorf("load wav inputs: %w", err)
	}

	wsURL, err := wsURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 256)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh, cfg.verbose)

	if err := conn.WriteJSON(protocol.Connect{Type: protocol.TypeConnect, AgentID: cfg.agentID}); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	sessionID, err := awaitConnected(events, readErrCh, cfg.turnTimeout)
	if err != nil {
		return fmt.Errorf("await connected: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("perfvoice: session=%s turns=%d\n", sessionID, cfg.turns)
	}

	timings := make([]turnTiming, 0, cfg.turns)
	seq := 0
	for i := 0; i < cfg.turns; i++ {
		if len(clips) > 0 {
			clip := clips[i%len(clips)]
			if cfg.verbose {
				fmt.Printf("perfvoice: turn %d/%d audio=%s bytes=%d\n", i+1, cfg.turns, clip.Name, len(clip.PCM16LE))
			}
			if err := sendTurnAudio(conn, clip, cfg.chunkMS, cfg.realtime, &seq); err != nil {
				return fmt.Errorf("turn %d send audio: %w", i+1, err)
			}
			if err := conn.WriteJSON(protocol.CommitAudio{Type: protocol.TypeCommitAudio}); err != nil {
				return fmt.Errorf("turn %d commit audio: %w", i+1, err)
			}
		} else {
			text := cfg.texts[i%len(cfg.texts)]
			if cfg.verbose {
				fmt.Printf("perfvoice: turn %d/%d text=%q\n", i+1, cfg.turns, text)
			}
			if err := conn.WriteJSON(protocol.SendText{Type: protocol.TypeSendText, Text: text}); err != nil {
				return fmt.Errorf("turn %d send text: %w", i+1, err)
			}
		}
		timing, err := awaitReply(events, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		timings = append(timings, timing)
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	_ = conn.WriteJSON(protocol.Disconnect{Type: protocol.TypeDisconnect})
	printSummary(os.Stdout, timings)
	if err := printServerLatency(ctx, cfg.baseURL); err != nil && cfg.verbose {
		fmt.Fprintf(os.Stderr, "perfvoice: server latency snapshot: %v\n", err)
	}
	return nil
}

func loadClips(paths []string) ([]audioClip, error) {
	out := make([]audioClip, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		pcm, sampleRate, err := decodeWAVPCM16(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		out = append(out, audioClip{Name: p, PCM16LE: pcm, SampleRate: sampleRate})
	}
	return out, nil
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/session"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch protocol.MessageType(env.Type) {
		case protocol.TypeLevel:
			continue
		case protocol.TypeError:
			if verbose {
				fmt.Fprintf(os.Stderr, "perfvoice: error code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
		select {
		case events <- env:
		default:
		}
	}
}

func awaitConnected(events <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-events:
			switch protocol.MessageType(env.Type) {
			case protocol.TypeState:
				if env.State == "connected" {
					return env.SessionID, nil
				}
			case protocol.TypeError:
				return "", fmt.Errorf("%s: %s", env.Code, env.Detail)
			}
		case err := <-readErrCh:
			return "", err
		case <-timer.C:
			return "", fmt.Errorf("timeout after %s", timeout)
		}
	}
}

// awaitReply waits for the next completed assistant message.
func awaitReply(events <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (turnTiming, error) {
	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var t turnTiming
	for {
		select {
		case env := <-events:
			switch protocol.MessageType(env.Type) {
			case protocol.TypeAudioOut:
				if t.FirstAudio == 0 {
					t.FirstAudio = time.Since(start)
				}
			case protocol.TypeMessageAppended, protocol.TypeMessageUpdated:
				if env.Message.Kind == chat.KindError {
					return t, fmt.Errorf("assistant error: %s", env.Message.Content)
				}
				if env.Message.Kind != chat.KindAssistant {
					continue
				}
				if t.FirstText == 0 && env.Message.Content != "" {
					t.FirstText = time.Since(start)
				}
				if env.Message.Done {
					t.Done = time.Since(start)
					return t, nil
				}
			}
		case err := <-readErrCh:
			return t, err
		case <-timer.C:
			return t, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func sendTurnAudio(conn *websocket.Conn, clip audioClip, chunkMS int, realtime float64, seq *int) error {
	sampleRate := clip.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	bytesPerChunk := sampleRate * 2 * chunkMS / 1000
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}
	if bytesPerChunk < 2 {
		bytesPerChunk = 2
	}

	for off := 0; off < len(clip.PCM16LE); {
		end := min(off+bytesPerChunk, len(clip.PCM16LE))
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			break
		}
		*seq = *seq + 1
		msg := protocol.AudioChunk{
			Type:        protocol.TypeAudioChunk,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(clip.PCM16LE[off:end]),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		chunkDuration := time.Duration(float64(time.Duration(end-off)*time.Second/time.Duration(sampleRate*2)) / realtime)
		if chunkDuration <= 0 {
			chunkDuration = 10 * time.Millisecond
		}
		off = end
		time.Sleep(chunkDuration)
	}
	return nil
}

// percentile returns the nearest-rank percentile of ds.
func percentile(ds []time.Duration, p float64) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p*float64(len(sorted))+0.999999) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func printSummary(w io.Writer, timings []turnTiming) {
	var text, audio, done []time.Duration
	for _, t := range timings {
		if t.FirstText > 0 {
			text = append(text, t.FirstText)
		}
		if t.FirstAudio > 0 {
			audio = append(audio, t.FirstAudio)
		}
		done = append(done, t.Done)
	}
	fmt.Fprintf(w, "perfvoice: %d turns\n", len(timings))
	for _, row := range []struct {
		name string
		ds   []time.Duration
	}{{"first_text", text}, {"first_audio", audio}, {"reply_done", done}} {
		fmt.Fprintf(w, "  %-12s n=%-3d p50=%-8s p95=%s\n", row.name, len(row.ds),
			percentile(row.ds, 0.50).Round(time.Millisecond), percentile(row.ds, 0.95).Round(time.Millisecond))
	}
}

func printServerLatency(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	fmt.Printf("perfvoice: server stages %s\n", strings.TrimSpace(string(body)))
	return nil
}

func decodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt {
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	}
	if len(pcmData) == 0 {
		return nil, 0, fmt.Errorf("wav data chunk missing")
	}
	if audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	}
	if bitsPerSamp != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	}
	if channels == 0 {
		return nil, 0, fmt.Errorf("invalid wav channels=0")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	if channels == 1 {
		if len(pcmData)%2 != 0 {
			pcmData = pcmData[:len(pcmData)-1]
		}
		return pcmData, sampleRate, nil
	}

	frameBytes := int(channels) * 2
	if frameBytes <= 0 || len(pcmData) < frameBytes {
		return nil, 0, fmt.Errorf("invalid wav frame bytes")
	}
	frameCount := len(pcmData) / frameBytes
	mono := make([]byte, frameCount*2)
	for i := 0; i < frameCount; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			s := int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2]))
			sum += int(s)
		}
		avg := int16(sum / int(channels))
		binary.LittleEndian.PutUint16(mono[i*2:i*2+2], uint16(avg))
	}
	return mono, sampleRate, nil
}
