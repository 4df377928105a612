// Package app wires configuration into the running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ent0n29/personatwin/internal/audio"
	"github.com/ent0n29/personatwin/internal/auth"
	"github.com/ent0n29/personatwin/internal/cache"
	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/config"
	"github.com/ent0n29/personatwin/internal/httpapi"
	"github.com/ent0n29/personatwin/internal/memory"
	"github.com/ent0n29/personatwin/internal/observability"
	"github.com/ent0n29/personatwin/internal/persona"
	"github.com/ent0n29/personatwin/internal/realtime"
	"github.com/ent0n29/personatwin/internal/search"
	"github.com/ent0n29/personatwin/internal/session"
	"github.com/ent0n29/personatwin/internal/tools"
	"github.com/ent0n29/personatwin/internal/voice"
)

type BuildResult struct {
	Config   config.Config
	Profile  persona.Profile
	API      *httpapi.Server
	Sessions *session.Manager
	Store    memory.Store
	Cache    cache.Cache
	Recorder *memory.Recorder
	Searcher *search.Client
	Registry *tools.Registry
	Auth     auth.Provider
	Dialer   realtime.Dialer
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to flush the recorder and release
	// the database and cache.
	Cleanup func(ctx context.Context) error
}

// ControllerOptions customize one controller built by NewController.
type ControllerOptions struct {
	Audio   voice.AudioIO
	OnState func(voice.State)
	OnLevel func(float64)
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	profile, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("persona load failed: %w", err)
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	kv, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("cache init failed: %w", err)
	}

	registry, err := tools.NewRegistry()
	if err != nil {
		_ = kv.Close()
		_ = store.Close()
		return nil, fmt.Errorf("tool registry init failed: %w", err)
	}

	recorder := memory.NewRecorder(store, kv, metrics, memory.RecorderOptions{
		MaxRetries:    cfg.PersistMaxRetries,
		QueueSize:     cfg.PersistQueueSize,
		RetryInterval: cfg.PersistRetryEvery,
	})

	searcher := search.NewClient(cfg.Search)
	if !searcher.Configured() {
		log.Printf("app: knowledge search not configured, search calls will fall back")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(session.Session) {
		metrics.IncSessionEvent("expired")
	})

	b := &BuildResult{
		Config:   cfg,
		Profile:  profile,
		Sessions: sessions,
		Store:    store,
		Cache:    kv,
		Recorder: recorder,
		Searcher: searcher,
		Registry: registry,
		Auth:     auth.Select(cfg.AuthURL, cfg.Realtime.APIKey),
		Dialer:   realtime.NewWebSocketDialer(),
		Metrics:  metrics,
	}

	b.API = httpapi.New(httpapi.Deps{
		Config:   cfg,
		Sessions: sessions,
		Store:    store,
		Cache:    kv,
		Recorder: recorder,
		Searcher: searcher,
		Auth:     b.Auth,
		Metrics:  metrics,
		NewController: func(h httpapi.Hooks) httpapi.Controller {
			return b.NewController(ControllerOptions{Audio: h.Audio, OnState: h.OnState, OnLevel: h.OnLevel})
		},
	})

	b.Cleanup = func(ctx context.Context) error {
		sessions.CloseAll()
		var errs []error
		if err := recorder.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := kv.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	return b, nil
}

// NewController builds a controller with its own message store and tool
// handler. Nil Audio uses a pipeline on the null device.
func (b *BuildResult) NewController(o ControllerOptions) *voice.Controller {
	store := chat.NewStore()
	handler := tools.NewHandler(b.Registry, b.Searcher, b.Profile, store, b.Metrics)
	handler.Debug = b.Config.DebugMessages
	if o.Audio == nil {
		o.Audio = audio.NewPipeline(audio.NullDevice{})
	}
	return voice.NewController(voice.Options{
		Config:   b.Config,
		Profile:  b.Profile,
		Dialer:   b.Dialer,
		Auth:     b.Auth,
		Audio:    o.Audio,
		Store:    store,
		Tools:    handler,
		Declared: b.Registry.Tools(),
		Metrics:  b.Metrics,
		Observer: recorderObserver{b.Recorder},
		OnState:  o.OnState,
		OnLevel:  o.OnLevel,
	})
}

// StartBackground runs the session janitor until ctx ends.
func (b *BuildResult) StartBackground(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, 5*time.Second)
}

// recorderObserver feeds controller lifecycle events to the recorder.
type recorderObserver struct {
	rec *memory.Recorder
}

var _ voice.Observer = recorderObserver{}

func (o recorderObserver) SessionStarted(info voice.SessionInfo) {
	o.rec.SessionStarted(memory.SessionRecord{
		ID:        info.SessionID,
		ClientID:  info.ClientID,
		Model:     info.Model,
		AgentID:   info.AgentID,
		Voice:     info.Voice,
		StartedAt: info.StartedAt,
	})
}

func (o recorderObserver) SessionEnded(clientID, sessionID string) {
	o.rec.SessionEnded(clientID, sessionID)
}

func (o recorderObserver) MessageCompleted(clientID string, msg chat.Message) {
	o.rec.MessageCompleted(clientID, msg)
}
