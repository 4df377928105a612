package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/personatwin/internal/cache"
	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/observability"
	"github.com/ent0n29/personatwin/internal/policy"
	"github.com/ent0n29/personatwin/internal/reliability"
)

// OpKind names a queued persistence operation.
type OpKind string

const (
	OpSaveMessage  OpKind = "save_message"
	OpStartSession OpKind = "start_session"
	OpEndSession   OpKind = "end_session"
)

const maxFailedOps = 100

var errQueueFull = errors.New("persistence queue full")

// Operation is one unit of persistence work. Failed operations keep their
// attempt count and last error.
type Operation struct {
	ID            string        `json:"id"`
	Kind          OpKind        `json:"type"`
	ClientID      string        `json:"clientId"`
	Message       chat.Message  `json:"message"`
	Session       SessionRecord `json:"session"`
	Attempts      int           `json:"attempts"`
	LastAttemptAt time.Time     `json:"lastAttemptAt"`
	Err           string        `json:"error,omitempty"`
}

// RecorderOptions tunes the write-behind queue.
type RecorderOptions struct {
	MaxRetries    int
	QueueSize     int
	Backoff       time.Duration
	// RetryInterval is how often the worker replays failed operations.
	RetryInterval time.Duration
}

// Recorder persists finished messages and session metadata off the caller's
// goroutine. Callers never block on storage.
type Recorder struct {
	store   Store
	cache   cache.Cache
	metrics *observability.Metrics
	policy  reliability.Policy

	retryEvery time.Duration
	queue      chan Operation
	retry      chan chan int
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	// replayMu serializes replays on callers once the worker has stopped.
	replayMu sync.Mutex

	mu            sync.Mutex
	closed        bool
	conversations map[string]string
	sessions      map[string]SessionRecord
	failed        []Operation
}

func NewRecorder(store Store, c cache.Cache, metrics *observability.Metrics, opts RecorderOptions) *Recorder {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		store:   store,
		cache:   c,
		metrics: metrics,
		policy: reliability.Policy{
			MaxAttempts: opts.MaxRetries,
			Base:        opts.Backoff,
			Cap:         5 * time.Second,
			Retryable:   func(err error) bool { return !errors.Is(err, context.Canceled) },
		},
		retryEvery:    opts.RetryInterval,
		queue:         make(chan Operation, opts.QueueSize),
		retry:         make(chan chan int),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		conversations: make(map[string]string),
		sessions:      make(map[string]SessionRecord),
	}
	go r.run()
	return r
}

// Persisted reports whether messages of kind k are stored.
func Persisted(k chat.Kind) bool {
	switch k {
	case chat.KindUser, chat.KindAssistant, chat.KindError:
		return true
	default:
		return false
	}
}

// Record queues msg for clientID's conversation. Kinds other than user,
// assistant and error are ignored.
func (r *Recorder) Record(clientID string, msg chat.Message) {
	if !Persisted(msg.Kind) {
		return
	}
	r.enqueue(Operation{Kind: OpSaveMessage, ClientID: clientID, Message: msg})
}

func (r *Recorder) MessageCompleted(clientID string, msg chat.Message) {
	r.Record(clientID, msg)
}

// SessionStarted queues rec; its conversation is resolved from ClientID.
func (r *Recorder) SessionStarted(rec SessionRecord) {
	r.enqueue(Operation{Kind: OpStartSession, ClientID: rec.ClientID, Session: rec})
}

func (r *Recorder) SessionEnded(clientID, sessionID string) {
	r.enqueue(Operation{
		Kind:     OpEndSession,
		ClientID: clientID,
		Session:  SessionRecord{ID: sessionID, ClientID: clientID},
	})
}

func (r *Recorder) enqueue(op Operation) {
	op.ID = uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		log.Printf("memory: recorder closed, dropping %s", op.Kind)
		return
	}
	select {
	case r.queue <- op:
	default:
		op.Err = errQueueFull.Error()
		r.parkLocked(op)
		r.metrics.IncPersistFailure(string(op.Kind))
		log.Printf("memory: %v, %s deferred", errQueueFull, op.Kind)
	}
}

// run is the only goroutine that touches the store while the recorder is
// open. Failed operations are replayed on a ticker, on request, and once
// more after the queue drains.
func (r *Recorder) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case op, ok := <-r.queue:
			if !ok {
				r.replayFailed(r.ctx)
				return
			}
			r.apply(r.ctx, op)
		case <-ticker.C:
			if n := r.replayFailed(r.ctx); n > 0 {
				log.Printf("memory: replayed %d failed operations", n)
			}
		case req := <-r.retry:
			req <- r.replayFailed(r.ctx)
		}
	}
}

// apply runs op with retries and parks it in the failed list when exhausted.
func (r *Recorder) apply(ctx context.Context, op Operation) bool {
	err := r.policy.Do(ctx, func(int) error {
		op.Attempts++
		op.LastAttemptAt = time.Now().UTC()
		return r.exec(ctx, op)
	})
	if err == nil {
		return true
	}
	op.Err = err.Error()
	r.metrics.IncPersistFailure(string(op.Kind))
	log.Printf("memory: %s for %s failed after %d attempts: %v", op.Kind, op.ClientID, op.Attempts, err)
	r.mu.Lock()
	r.parkLocked(op)
	r.mu.Unlock()
	return false
}

// parkLocked appends ops to the failed list, keeping the newest
// maxFailedOps.
func (r *Recorder) parkLocked(ops ...Operation) {
	r.failed = append(r.failed, ops...)
	if over := len(r.failed) - maxFailedOps; over > 0 {
		r.failed = append([]Operation(nil), r.failed[over:]...)
	}
	r.metrics.SetPersistBacklog(len(r.failed))
}

// replayFailed tries each failed operation once, in order, and stops at the
// first failure so a down store costs one attempt per pass. Entries leave the
// list only after they were written.
func (r *Recorder) replayFailed(ctx context.Context) int {
	r.mu.Lock()
	pending := append([]Operation(nil), r.failed...)
	r.mu.Unlock()

	ok := 0
	for _, op := range pending {
		err := ctx.Err()
		if err == nil {
			op.Attempts++
			op.LastAttemptAt = time.Now().UTC()
			err = r.exec(ctx, op)
		}
		r.mu.Lock()
		i := slices.IndexFunc(r.failed, func(f Operation) bool { return f.ID == op.ID })
		switch {
		case err != nil && i >= 0:
			op.Err = err.Error()
			r.failed[i] = op
		case err == nil && i >= 0:
			r.failed = slices.Delete(r.failed, i, i+1)
		}
		r.metrics.SetPersistBacklog(len(r.failed))
		r.mu.Unlock()
		if err != nil {
			return ok
		}
		ok++
	}
	return ok
}

func (r *Recorder) exec(ctx context.Context, op Operation) error {
	switch op.Kind {
	case OpSaveMessage:
		return r.saveMessage(ctx, op.ClientID, op.Message)
	case OpStartSession:
		return r.startSession(ctx, op.Session)
	case OpEndSession:
		return r.endSession(ctx, op.Session)
	default:
		return fmt.Errorf("unknown operation %q", op.Kind)
	}
}

// conversationFor returns clientID's conversation, creating and caching it
// on first use.
func (r *Recorder) conversationFor(ctx context.Context, clientID string) (string, error) {
	r.mu.Lock()
	id, ok := r.conversations[clientID]
	r.mu.Unlock()
	if ok {
		return id, nil
	}
	conv, err := r.store.CreateConversation(ctx, Conversation{SessionID: clientID, Title: DefaultConversationTitle})
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.conversations[clientID] = conv.ID
	r.mu.Unlock()
	if r.cache != nil {
		err := r.cache.SetConversation(ctx, cache.Conversation{ConversationID: conv.ID, Title: conv.Title})
		if err != nil {
			log.Printf("memory: cache conversation %s: %v", conv.ID, err)
		}
	}
	return conv.ID, nil
}

// ConversationID returns the conversation created for clientID, if any.
func (r *Recorder) ConversationID(clientID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.conversations[clientID]
	return id, ok
}

func (r *Recorder) saveMessage(ctx context.Context, clientID string, msg chat.Message) error {
	convID, err := r.conversationFor(ctx, clientID)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	content, redacted := policy.RedactPII(msg.Content)
	if err := r.store.SaveMessage(ctx, MessageRecord{
		ID:             msg.ID,
		ConversationID: convID,
		Role:           RoleFor(msg.Kind),
		Content:        content,
		PIIRedacted:    redacted,
		CreatedAt:      msg.Timestamp,
	}); err != nil {
		return err
	}
	if r.cache != nil {
		msg.Content = content
		err := r.cache.AppendConversationMessage(ctx, convID, msg)
		if errors.Is(err, cache.ErrMiss) {
			err = r.recache(ctx, convID)
		}
		if err != nil {
			log.Printf("memory: cache message %s: %v", msg.ID, err)
		}
	}
	return nil
}

// recache reloads an expired conversation from the store into the cache.
func (r *Recorder) recache(ctx context.Context, convID string) error {
	conv, err := r.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	msgs := make([]chat.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, m.ChatMessage())
	}
	return r.cache.SetConversation(ctx, cache.Conversation{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Messages:       msgs,
		LastUpdated:    conv.UpdatedAt,
		Metadata:       conv.Metadata,
	})
}

func (r *Recorder) startSession(ctx context.Context, rec SessionRecord) error {
	convID, err := r.conversationFor(ctx, rec.ClientID)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	rec.ConversationID = convID
	if err := r.store.SaveSession(ctx, rec); err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions[rec.ID] = rec
	r.mu.Unlock()
	if r.cache != nil {
		err := r.cache.SetSession(ctx, cache.Session{
			SessionID:      rec.ID,
			ClientID:       rec.ClientID,
			ConversationID: convID,
			Metadata:       map[string]string{"model": rec.Model, "voice": rec.Voice},
		})
		if err != nil {
			log.Printf("memory: cache session %s: %v", rec.ID, err)
		}
	}
	return nil
}

func (r *Recorder) endSession(ctx context.Context, rec SessionRecord) error {
	r.mu.Lock()
	if started, ok := r.sessions[rec.ID]; ok {
		rec = started
	}
	r.mu.Unlock()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	ended := time.Now().UTC()
	rec.EndedAt = &ended
	if err := r.store.SaveSession(ctx, rec); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, rec.ID)
	r.mu.Unlock()
	if r.cache != nil {
		if err := r.cache.DeleteSession(ctx, rec.ID); err != nil {
			log.Printf("memory: uncache session %s: %v", rec.ID, err)
		}
	}
	return nil
}

// TouchSession refreshes the cached session's activity time.
func (r *Recorder) TouchSession(ctx context.Context, sessionID string) {
	if r.cache == nil || sessionID == "" {
		return
	}
	if err := r.cache.TouchSession(ctx, sessionID); err != nil && !errors.Is(err, cache.ErrMiss) {
		log.Printf("memory: touch session %s: %v", sessionID, err)
	}
}

// FailedOperations returns a snapshot of operations that exhausted their
// retries or could not be queued.
func (r *Recorder) FailedOperations() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Operation(nil), r.failed...)
}

// FailedCount returns the number of parked operations.
func (r *Recorder) FailedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failed)
}

// RetryFailed replays failed operations now instead of waiting for the next
// tick. Operations that fail again stay in the list. It returns how many
// succeeded.
func (r *Recorder) RetryFailed(ctx context.Context) int {
	req := make(chan int, 1)
	select {
	case r.retry <- req:
	case <-r.done:
		r.replayMu.Lock()
		defer r.replayMu.Unlock()
		return r.replayFailed(ctx)
	case <-ctx.Done():
		return 0
	}
	select {
	case n := <-req:
		return n
	case <-ctx.Done():
		return 0
	}
}

// Close drains queued operations until ctx ends, then stops the worker.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return fmt.Errorf("memory: recorder drain: %w", ctx.Err())
	}
}
