// Package tools answers function calls requested by the realtime service:
// the current time and knowledge-base search with grounding re-prompts.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/observability"
	"github.com/ent0n29/personatwin/internal/persona"
	"github.com/ent0n29/personatwin/internal/realtime"
	"github.com/ent0n29/personatwin/internal/search"
)

const TimeLayout = "Monday, January 2, 2006 at 03:04:05 PM MST"

// Session is the subset of the session controller the handler talks to.
type Session interface {
	SendItem(ctx context.Context, item realtime.ConversationItem) error
	GenerateResponse(ctx context.Context, opts realtime.ResponseOptions) error
}

// Result tells the caller what the call produced.
type Result struct {
	Function string
	// SearchResults holds the raw knowledge-base text when a search succeeded.
	SearchResults string
	Searched      bool
}

// Handler dispatches completed function calls.
type Handler struct {
	Registry   *Registry
	Classifier *Classifier
	Searcher   search.Searcher
	Profile    persona.Profile
	Store      *chat.Store
	Metrics    *observability.Metrics
	Debug      bool

	Now             func() time.Time
	Location        *time.Location
	GroundingDelay  time.Duration
	ConstraintDelay time.Duration
}

// NewHandler wires a handler with the default delays and classifier.
func NewHandler(reg *Registry, searcher search.Searcher, profile persona.Profile, store *chat.Store, metrics *observability.Metrics) *Handler {
	return &Handler{
		Registry:        reg,
		Classifier:      NewClassifier(profile),
		Searcher:        searcher,
		Profile:         profile,
		Store:           store,
		Metrics:         metrics,
		Now:             time.Now,
		Location:        time.Local,
		GroundingDelay:  100 * time.Millisecond,
		ConstraintDelay: 50 * time.Millisecond,
	}
}

// Handle waits for the call to finish streaming, then answers it. Every
// path sends a function_call_output for the call before requesting the next
// response.
func (h *Handler) Handle(ctx context.Context, sess Session, item *realtime.FunctionCallItem) (Result, error) {
	if err := item.WaitForCompletion(ctx); err != nil {
		return Result{Function: item.Name}, fmt.Errorf("wait for function call: %w", err)
	}
	h.debugf("function call %s (%s): %s", item.Name, item.CallID, item.Arguments())

	call, err := h.Registry.Parse(item.CallID, item.Name, item.Arguments())
	switch c := call.(type) {
	case TimeCall:
		return Result{Function: FuncTime}, h.answerTime(ctx, sess, c)
	case SearchCall:
		if err != nil {
			log.Printf("tools: search arguments rejected: %v", err)
			h.debugf("search arguments rejected: %v", err)
			h.Metrics.IncToolCall(FuncSearch, "invalid")
			return Result{Function: FuncSearch}, h.fallback(ctx, sess, c.CallID)
		}
		return h.answerSearch(ctx, sess, c)
	case UnknownCall:
		return Result{Function: c.Name}, h.answerUnknown(ctx, sess, c)
	default:
		return Result{Function: item.Name}, fmt.Errorf("unhandled call type %T", call)
	}
}

func (h *Handler) answerTime(ctx context.Context, sess Session, c TimeCall) error {
	now := h.Now()
	if h.Location != nil {
		now = now.In(h.Location)
	}
	if err := sess.SendItem(ctx, realtime.FunctionCallOutput(c.CallID, now.Format(TimeLayout))); err != nil {
		h.Metrics.IncToolCall(FuncTime, "error")
		return fmt.Errorf("send time output: %w", err)
	}
	h.Metrics.IncToolCall(FuncTime, "ok")
	return sess.GenerateResponse(ctx, realtime.ResponseOptions{})
}

func (h *Handler) answerSearch(ctx context.Context, sess Session, c SearchCall) (Result, error) {
	res := Result{Function: FuncSearch}
	query := c.Args.Query
	h.debugf("question categories: %v", h.Classifier.Matches(query))

	expanded, category := h.Classifier.Expand(query)
	if category != "" {
		h.debugf("enhanced search query (%s): %q", category, expanded)
	}
	if h.Store != nil {
		h.Store.Append(chat.KindStatus, fmt.Sprintf("Searching knowledge base [%s]...", query))
	}

	start := time.Now()
	results, err := h.Searcher.Search(ctx, expanded)
	h.Metrics.ObserveSearchLatency(time.Since(start))
	if err != nil {
		log.Printf("tools: knowledge search failed: %v", err)
		h.debugf("knowledge search error: %v", err)
		h.Metrics.IncToolCall(FuncSearch, "fallback")
		return res, h.fallback(ctx, sess, c.CallID)
	}
	h.debugf("knowledge search returned %d characters", len(results))
	res.Searched = true
	res.SearchResults = results

	if err := sess.SendItem(ctx, realtime.FunctionCallOutput(c.CallID, GroundingContext(h.Profile, results))); err != nil {
		h.Metrics.IncToolCall(FuncSearch, "error")
		return res, fmt.Errorf("send grounding context: %w", err)
	}
	if err := sleep(ctx, h.GroundingDelay); err != nil {
		return res, err
	}
	if err := sess.SendItem(ctx, realtime.SystemText(ResponseConstraint(h.Profile))); err != nil {
		h.Metrics.IncToolCall(FuncSearch, "error")
		return res, fmt.Errorf("send response constraint: %w", err)
	}
	if err := sleep(ctx, h.ConstraintDelay); err != nil {
		return res, err
	}
	h.Metrics.IncToolCall(FuncSearch, "ok")
	return res, sess.GenerateResponse(ctx, realtime.ResponseOptions{})
}

func (h *Handler) fallback(ctx context.Context, sess Session, callID string) error {
	if err := sess.SendItem(ctx, realtime.FunctionCallOutput(callID, FallbackOutput)); err != nil {
		return fmt.Errorf("send fallback output: %w", err)
	}
	return sess.GenerateResponse(ctx, realtime.ResponseOptions{})
}

func (h *Handler) answerUnknown(ctx context.Context, sess Session, c UnknownCall) error {
	log.Printf("tools: function %q is not implemented", c.Name)
	h.Metrics.IncToolCall(c.Name, "unknown")
	out, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("function %q is not implemented", c.Name)})
	if err := sess.SendItem(ctx, realtime.FunctionCallOutput(c.CallID, string(out))); err != nil {
		return fmt.Errorf("send not-implemented output: %w", err)
	}
	return sess.GenerateResponse(ctx, realtime.ResponseOptions{})
}

// ReportQuality logs the lexical assessment of a grounded answer.
func (h *Handler) ReportQuality(text string) Quality {
	q := ValidateResponse(text)
	for _, line := range q.Lines() {
		log.Printf("tools: %s", line)
		h.debugf("%s", line)
	}
	return q
}

func (h *Handler) debugf(format string, args ...any) {
	if !h.Debug || h.Store == nil {
		return
	}
	h.Store.Append(chat.KindDebug, fmt.Sprintf(format, args...))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
