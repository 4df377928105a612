package voice

import (
	"strings"
	"time"

	"github.com/ent0n29/personatwin/internal/config"
	"github.com/ent0n29/personatwin/internal/persona"
	"github.com/ent0n29/personatwin/internal/realtime"
)

// cascadedModels run speech recognition, text inference and synthesis as
// separate stages; only they accept end-of-utterance detection.
var cascadedModels = map[string]bool{
	"gpt-4o":       true,
	"gpt-4o-mini":  true,
	"gpt-4.1":      true,
	"gpt-4.1-mini": true,
	"gpt-4.1-nano": true,
	"phi4-mini":    true,
}

// IsCascaded reports whether the addressed model or agent uses a cascaded
// pipeline. Agents always do.
func IsCascaded(mode, model string) bool {
	if mode == config.ModeAgent {
		return true
	}
	return cascadedModels[model]
}

// BuildTurnDetection applies the turn-detection policy. It returns nil when
// turn detection is off.
func BuildTurnDetection(rt config.RealtimeConfig, s config.SessionConfig) *realtime.TurnDetection {
	if s.TurnDetection == "" || s.TurnDetection == "none" {
		return nil
	}
	td := &realtime.TurnDetection{Type: s.TurnDetection}
	if s.EOUDetection != "" && s.EOUDetection != "none" && IsCascaded(rt.Mode, rt.Model) {
		td.EndOfUtteranceDetection = &realtime.EOUDetection{Model: s.EOUDetection}
	}
	if td.Type == "azure_semantic_vad" {
		remove := s.RemoveFillerWords
		td.RemoveFillerWords = &remove
	}
	return td
}

// BuildVoice resolves exactly one voice: custom, built-in standard, or a
// bare identifier.
func BuildVoice(s config.SessionConfig) *realtime.Voice {
	temperature := func(name string) *float64 {
		if !strings.Contains(strings.ToLower(name), "dragonhd") {
			return nil
		}
		t := s.VoiceTemperature
		return &t
	}
	switch {
	case s.UseCustomVoice:
		return &realtime.Voice{
			Name:        s.CustomVoiceName,
			Type:        "azure-custom",
			EndpointID:  s.VoiceDeploymentID,
			Temperature: temperature(s.CustomVoiceName),
		}
	case strings.Contains(s.VoiceName, "-"):
		return &realtime.Voice{
			Name:        s.VoiceName,
			Type:        "azure-standard",
			Temperature: temperature(s.VoiceName),
		}
	default:
		return &realtime.Voice{Name: s.VoiceName}
	}
}

// BuildSessionOptions assembles the session.update payload.
func BuildSessionOptions(cfg config.Config, profile persona.Profile, tools []realtime.Tool, now time.Time) realtime.SessionOptions {
	s := cfg.Session
	opts := realtime.SessionOptions{
		Instructions:  profile.SystemInstructions(now),
		Modalities:    []string{"text", "audio"},
		Tools:         tools,
		Temperature:   s.Temperature,
		Voice:         BuildVoice(s),
		TurnDetection: BuildTurnDetection(cfg.Realtime, s),
		InputAudioTranscription: &realtime.AudioTranscription{
			Model: transcriptionModel(cfg.Realtime.Model),
		},
	}
	if s.RecognitionLanguage != "" && s.RecognitionLanguage != "auto" {
		opts.InputAudioTranscription.Language = s.RecognitionLanguage
	}
	if s.NoiseSuppression {
		opts.NoiseReduction = &realtime.AudioEnhancement{Type: "azure_deep_noise_suppression"}
	}
	if s.EchoCancellation {
		opts.EchoCancellation = &realtime.AudioEnhancement{Type: "server_echo_cancellation"}
	}
	return opts
}

func transcriptionModel(model string) string {
	if strings.Contains(model, "realtime-preview") {
		return "whisper-1"
	}
	return "azure-fast-transcription"
}
