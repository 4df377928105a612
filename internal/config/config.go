package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Addressing modes for the realtime endpoint.
const (
	ModeModel = "model"
	ModeAgent = "agent"
)

// Config contains all runtime settings for the persona voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	DebugMessages            bool

	Realtime RealtimeConfig
	Session  SessionConfig
	Search   SearchConfig

	AuthURL string

	ProactiveEnabled  bool
	ProactiveInterval time.Duration

	DatabaseURL       string
	RedisURL          string
	PersistMaxRetries int
	PersistQueueSize  int
	// PersistRetryEvery paces replays of parked persistence operations.
	PersistRetryEvery time.Duration
	PersonaFile       string
}

// RealtimeConfig selects the realtime inference endpoint.
type RealtimeConfig struct {
	Endpoint     string
	APIKey       string
	BearerToken  string
	Model        string
	APIVersion   string
	Mode         string
	AgentID      string
	AgentProject string
}

// SessionConfig is the per-session option snapshot sent on connect.
type SessionConfig struct {
	Temperature         float64
	VoiceName           string
	VoiceTemperature    float64
	UseCustomVoice      bool
	CustomVoiceName     string
	VoiceDeploymentID   string
	TurnDetection       string
	EOUDetection        string
	RemoveFillerWords   bool
	NoiseSuppression    bool
	EchoCancellation    bool
	RecognitionLanguage string
}

// SearchConfig points at the knowledge-base index.
type SearchConfig struct {
	Endpoint     string
	APIKey       string
	Index        string
	ContentField string
	Top          int
	Timeout      time.Duration
	MaxRetries   int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "personatwin"),
		ShutdownTimeout:          10 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		Realtime: RealtimeConfig{
			Endpoint:     stringsTrimSpace("AZURE_OPENAI_ENDPOINT"),
			APIKey:       stringsTrimSpace("AZURE_OPENAI_API_KEY"),
			BearerToken:  stringsTrimSpace("AZURE_ENTRA_TOKEN"),
			Model:        envOrDefault("AZURE_OPENAI_MODEL", "gpt-4o-realtime-preview"),
			APIVersion:   envOrDefault("AZURE_OPENAI_API_VERSION", "2025-05-01-preview"),
			Mode:         strings.ToLower(envOrDefault("APP_ADDRESSING_MODE", ModeModel)),
			AgentID:      stringsTrimSpace("AZURE_AGENT_ID"),
			AgentProject: stringsTrimSpace("AZURE_AGENT_PROJECT"),
		},
		Session: SessionConfig{
			Temperature:         0.9,
			VoiceName:           envOrDefault("APP_VOICE_NAME", "en-US-AvaNeural"),
			VoiceTemperature:    0.9,
			CustomVoiceName:     stringsTrimSpace("CUSTOM_VOICE_NAME"),
			VoiceDeploymentID:   stringsTrimSpace("VOICE_DEPLOYMENT_ID"),
			TurnDetection:       envOrDefault("APP_TURN_DETECTION", "server_vad"),
			EOUDetection:        envOrDefault("APP_EOU_DETECTION", "none"),
			NoiseSuppression:    true,
			EchoCancellation:    true,
			RecognitionLanguage: envOrDefault("APP_RECOGNITION_LANGUAGE", "auto"),
		},
		Search: SearchConfig{
			Endpoint:     stringsTrimSpace("AZURE_SEARCH_ENDPOINT"),
			APIKey:       stringsTrimSpace("AZURE_SEARCH_API_KEY"),
			Index:        stringsTrimSpace("AZURE_SEARCH_INDEX"),
			ContentField: envOrDefault("AZURE_SEARCH_CONTENT_FIELD", "content"),
			Top:          5,
			Timeout:      10 * time.Second,
			MaxRetries:   1,
		},
		AuthURL:           stringsTrimSpace("APP_AUTH_URL"),
		ProactiveInterval: 10 * time.Second,
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		RedisURL:          stringsTrimSpace("REDIS_URL"),
		PersistMaxRetries: 3,
		PersistQueueSize:  256,
		PersistRetryEvery: 30 * time.Second,
		PersonaFile:       stringsTrimSpace("APP_PERSONA_FILE"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DebugMessages, err = boolFromEnv("APP_DEBUG_MESSAGES", cfg.DebugMessages)
	if err != nil {
		return Config{}, err
	}

	s := &cfg.Session
	if s.Temperature, err = floatFromEnv("APP_TEMPERATURE", s.Temperature); err != nil {
		return Config{}, err
	}
	if s.VoiceTemperature, err = floatFromEnv("APP_VOICE_TEMPERATURE", s.VoiceTemperature); err != nil {
		return Config{}, err
	}
	if s.UseCustomVoice, err = boolFromEnv("APP_USE_CUSTOM_VOICE", s.UseCustomVoice); err != nil {
		return Config{}, err
	}
	if s.RemoveFillerWords, err = boolFromEnv("APP_REMOVE_FILLER_WORDS", s.RemoveFillerWords); err != nil {
		return Config{}, err
	}
	if s.NoiseSuppression, err = boolFromEnv("APP_NOISE_SUPPRESSION", s.NoiseSuppression); err != nil {
		return Config{}, err
	}
	if s.EchoCancellation, err = boolFromEnv("APP_ECHO_CANCELLATION", s.EchoCancellation); err != nil {
		return Config{}, err
	}

	cfg.ProactiveEnabled, err = boolFromEnv("APP_PROACTIVE", cfg.ProactiveEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.ProactiveInterval, err = durationFromEnv("APP_PROACTIVE_INTERVAL", cfg.ProactiveInterval)
	if err != nil {
		return Config{}, err
	}

	cfg.Search.Top, err = intFromEnv("AZURE_SEARCH_TOP", cfg.Search.Top)
	if err != nil {
		return Config{}, err
	}
	cfg.Search.Timeout, err = durationFromEnv("APP_SEARCH_TIMEOUT", cfg.Search.Timeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Search.MaxRetries, err = intFromEnv("APP_SEARCH_MAX_RETRIES", cfg.Search.MaxRetries)
	if err != nil {
		return Config{}, err
	}

	cfg.PersistMaxRetries, err = intFromEnv("APP_PERSIST_MAX_RETRIES", cfg.PersistMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.PersistQueueSize, err = intFromEnv("APP_PERSIST_QUEUE", cfg.PersistQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.PersistRetryEvery, err = durationFromEnv("APP_PERSIST_RETRY_INTERVAL", cfg.PersistRetryEvery)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch cfg.Realtime.Mode {
	case ModeModel, ModeAgent:
	default:
		return fmt.Errorf("APP_ADDRESSING_MODE must be %q or %q", ModeModel, ModeAgent)
	}
	if cfg.Session.Temperature < 0.6 || cfg.Session.Temperature > 1.2 {
		return fmt.Errorf("APP_TEMPERATURE must be between 0.6 and 1.2")
	}
	if cfg.Session.VoiceTemperature < 0 || cfg.Session.VoiceTemperature > 2 {
		return fmt.Errorf("APP_VOICE_TEMPERATURE must be between 0 and 2")
	}
	switch cfg.Session.TurnDetection {
	case "server_vad", "azure_semantic_vad", "none":
	default:
		return fmt.Errorf("APP_TURN_DETECTION %q is not supported", cfg.Session.TurnDetection)
	}
	if cfg.ProactiveInterval < time.Second {
		return fmt.Errorf("APP_PROACTIVE_INTERVAL must be at least 1s")
	}
	if cfg.Search.Top <= 0 {
		return fmt.Errorf("AZURE_SEARCH_TOP must be positive")
	}
	if cfg.Search.MaxRetries < 0 {
		return fmt.Errorf("APP_SEARCH_MAX_RETRIES must be >= 0")
	}
	if cfg.PersistMaxRetries <= 0 {
		return fmt.Errorf("APP_PERSIST_MAX_RETRIES must be positive")
	}
	if cfg.PersistQueueSize <= 0 {
		return fmt.Errorf("APP_PERSIST_QUEUE must be positive")
	}
	if cfg.PersistRetryEvery < time.Second {
		return fmt.Errorf("APP_PERSIST_RETRY_INTERVAL must be at least 1s")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
