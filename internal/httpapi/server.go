// Package httpapi serves health, configuration, history and the browser
// voice bridge.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/personatwin/internal/auth"
	"github.com/ent0n29/personatwin/internal/cache"
	"github.com/ent0n29/personatwin/internal/config"
	"github.com/ent0n29/personatwin/internal/memory"
	"github.com/ent0n29/personatwin/internal/observability"
	"github.com/ent0n29/personatwin/internal/search"
	"github.com/ent0n29/personatwin/internal/session"
)

// Deps are the collaborators of the HTTP surface. Nil Store, Cache,
// Searcher or NewController disable the routes that need them.
type Deps struct {
	Config        config.Config
	Sessions      *session.Manager
	Store         memory.Store
	Cache         cache.Cache
	Recorder      *memory.Recorder
	Searcher      search.Searcher
	Auth          auth.Provider
	Metrics       *observability.Metrics
	NewController ControllerFactory
}

type Server struct {
	cfg           config.Config
	sessions      *session.Manager
	store         memory.Store
	cache         cache.Cache
	recorder      *memory.Recorder
	searcher      search.Searcher
	auth          auth.Provider
	metrics       *observability.Metrics
	newController ControllerFactory
	upgrader      websocket.Upgrader
}

func New(deps Deps) *Server {
	cfg := deps.Config
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(cfg.SessionInactivityTimeout)
	}
	return &Server{
		cfg:           cfg,
		sessions:      deps.Sessions,
		store:         deps.Store,
		cache:         deps.Cache,
		recorder:      deps.Recorder,
		searcher:      deps.Searcher,
		auth:          deps.Auth,
		metrics:       deps.Metrics,
		newController: deps.NewController,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a voice session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/config", s.handleConfig)
	r.Post("/v1/auth", s.handleAuth)
	r.Post("/v1/search", s.handleSearch)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/voice/session", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type serviceHealth struct {
	Status         string `json:"status"`
	Mode           string `json:"mode"`
	Message        string `json:"message"`
	ResponseTimeMS int64  `json:"responseTime"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func checkService(ctx context.Context, p pinger, mode string) serviceHealth {
	if p == nil {
		return serviceHealth{Status: "disabled", Mode: "none", Message: "not configured"}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	h := serviceHealth{Status: "healthy", Mode: mode, Message: "Connected successfully"}
	if err := p.Ping(ctx); err != nil {
		h.Status = "unhealthy"
		h.Message = err.Error()
	}
	h.ResponseTimeMS = time.Since(start).Milliseconds()
	return h
}

// handleReady pings the database and cache; either being unhealthy turns the
// whole report unhealthy.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	dbMode := memory.Backend(s.cfg.DatabaseURL)
	cacheMode := "in-memory"
	if s.cfg.RedisURL != "" {
		cacheMode = "redis"
	}
	var store, kv pinger
	if s.store != nil {
		store = s.store
	}
	if s.cache != nil {
		kv = s.cache
	}
	services := map[string]serviceHealth{
		"database": checkService(r.Context(), store, dbMode),
		"cache":    checkService(r.Context(), kv, cacheMode),
	}
	status, code := "healthy", http.StatusOK
	for _, svc := range services {
		if svc.Status == "unhealthy" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	}
	if s.recorder != nil {
		body["failedOperations"] = s.recorder.FailedCount()
	}
	respondJSON(w, code, body)
}

// handleConfig exposes non-secret settings to the browser.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	rt := s.cfg.Realtime
	respondJSON(w, http.StatusOK, map[string]any{
		"endpoint":          rt.Endpoint,
		"model":             rt.Model,
		"mode":              rt.Mode,
		"agentId":           rt.AgentID,
		"searchEndpoint":    s.cfg.Search.Endpoint,
		"searchIndex":       s.cfg.Search.Index,
		"voiceDeploymentId": s.cfg.Session.VoiceDeploymentID,
		"customVoiceName":   s.cfg.Session.CustomVoiceName,
		"hasApiKey":         rt.APIKey != "" || rt.BearerToken != "",
		"hasSearchApiKey":   s.cfg.Search.APIKey != "",
		"proactive":         s.cfg.ProactiveEnabled,
	})
}

// handleAuth hands out the realtime API key with a one hour expiry hint.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		respondError(w, http.StatusInternalServerError, "auth_unavailable", auth.ErrNotConfigured.Error())
		return
	}
	key, err := s.auth.APIKey(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "auth_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"apiKey":    key,
		"expiresAt": time.Now().Add(time.Hour).UnixMilli(),
	})
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if s.searcher == nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Search service configuration error",
			"results": "Search temporarily unavailable. Please check configuration.",
		})
		return
	}
	results, err := s.searcher.Search(r.Context(), req.Query)
	if errors.Is(err, search.ErrNotConfigured) {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Search service configuration error",
			"results": "Search temporarily unavailable. Please check configuration.",
		})
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "search_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"results": results})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "persistence not configured")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	convs, err := s.store.ListConversations(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "persistence not configured")
		return
	}
	conv, err := s.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, memory.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

// handleGetSession reads a realtime session from the cache, with its
// conversation when one is recorded.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "cache not configured")
		return
	}
	sess, err := s.cache.GetSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, cache.ErrMiss) {
		respondError(w, http.StatusNotFound, "session_not_found", "Session not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	out := map[string]any{"session": sess, "conversation": nil}
	if sess.ConversationID != "" {
		if conv, err := s.cache.GetConversation(r.Context(), sess.ConversationID); err == nil {
			out["conversation"] = conv
		}
	}
	respondJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
