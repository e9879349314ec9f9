// Package bot implements the connection and dispatch engine for a Tock
// platform bot client: one WebSocket session with automatic reconnection, an
// outbound delivery queue for offline periods, and request-to-story dispatch
// with per-user state and response buffering.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gotock/pkg/connector"
	"gotock/pkg/tock"
	"gotock/pkg/user"
)

// StoryHandler implements one step of a story's response logic. Returning an
// error aborts the remaining handlers of the current chain; messages already
// buffered are still flushed.
type StoryHandler[T any] func(ctx context.Context, b *Context[T], req *tock.UserRequest) error

// Option configures a Bot at construction time.
type Option[T any] func(*Bot[T])

// WithRequestTimeout bounds one request's handler chain. On expiry the
// remaining handlers are abandoned and buffered messages are flushed. Zero
// disables the timeout.
func WithRequestTimeout[T any](d time.Duration) Option[T] {
	return func(b *Bot[T]) {
		b.requestTimeout = d
	}
}

// WithReconnectBackoff overrides the session reconnect backoff window.
func WithReconnectBackoff[T any](initial, maxInterval time.Duration) Option[T] {
	return func(b *Bot[T]) {
		b.session.SetReconnectBackoff(initial, maxInterval)
	}
}

// Bot is one bot process: a transport session, the story registry, connector
// render strategies, per-user state, and per-user response buffering.
type Bot[T any] struct {
	log            *slog.Logger
	session        *Session
	queue          *outboundQueue
	users          *user.Store[T]
	buffer         *messageBuffer
	connectors     *connector.Registry
	requestTimeout time.Duration

	baseCtx context.Context

	mu        sync.RWMutex
	stories   map[string][]StoryHandler[T]
	userLocks map[string]*sync.Mutex
}

// New builds a bot client for the platform endpoint wss://{host}[:{port}]/{apiKey}.
func New[T any](apiKey, host string, port int, log *slog.Logger, opts ...Option[T]) *Bot[T] {
	if log == nil {
		log = slog.Default()
	}

	b := &Bot[T]{
		log:        log.With("component", "bot"),
		session:    NewSession(apiKey, host, port, log),
		users:      user.NewStore[T](),
		buffer:     newMessageBuffer(),
		connectors: connector.NewRegistry(),
		stories:    make(map[string][]StoryHandler[T]),
		userLocks:  make(map[string]*sync.Mutex),
	}
	b.queue = newOutboundQueue(b.session, log)

	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddStory registers an ordered handler chain for an intent, replacing any
// prior registration.
func (b *Bot[T]) AddStory(intent string, handlers ...StoryHandler[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stories[intent] = handlers
}

// AddInterface registers a connector render strategy keyed by connector type.
func (b *Bot[T]) AddInterface(cfg connector.Config) {
	b.connectors.Register(cfg)
}

// SetRetrieveUser registers the user data load strategy.
func (b *Bot[T]) SetRetrieveUser(r user.Retriever[T]) {
	b.users.SetRetriever(r)
}

// SetPersistUser registers the user data save strategy.
func (b *Bot[T]) SetPersistUser(p user.Persister[T]) {
	b.users.SetPersister(p)
}

// UserStore exposes the per-user state store.
func (b *Bot[T]) UserStore() *user.Store[T] {
	return b.users
}

// Session exposes the transport session.
func (b *Bot[T]) Session() *Session {
	return b.session
}

// SendData routes one serialized frame to the platform, queueing it for
// later delivery when the session is down.
func (b *Bot[T]) SendData(frame string) {
	b.queue.EnqueueOrSend(frame)
}

// Connect establishes the session and starts dispatching inbound frames. The
// given context supervises reconnection and all in-flight dispatches.
func (b *Bot[T]) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b.baseCtx = ctx

	b.session.OnConnect(b.queue.Drain)
	b.session.OnFrame(b.handleFrame)
	return b.session.Connect(ctx)
}

// Run connects and blocks until the context is cancelled.
func (b *Bot[T]) Run(ctx context.Context) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	b.session.Close()
	return nil
}

// handleFrame parses one inbound frame and dispatches it on its own
// goroutine. Malformed frames are dropped with a diagnostic.
func (b *Bot[T]) handleFrame(data []byte) {
	var req tock.BotRequest
	if err := json.Unmarshal(data, &req); err != nil {
		b.log.Warn("Dropping malformed inbound frame", "error", err)
		return
	}

	go b.dispatch(b.baseCtx, &req)
}

// dispatch runs one request through its story chain, serialized per user id,
// and transmits the buffered response if any messages were produced.
func (b *Bot[T]) dispatch(ctx context.Context, req *tock.BotRequest) {
	ureq := &req.UserRequest
	intent := ureq.Intent
	if intent == "" {
		b.log.Debug("Ignoring request without intent", "request_id", req.RequestID)
		return
	}
	if !b.storyRegistered(intent) {
		b.log.Debug("No story registered for intent", "intent", intent, "request_id", req.RequestID)
		return
	}

	userID := ureq.Context.UserID.ID
	lock := b.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if b.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.requestTimeout)
		defer cancel()
	}

	if err := b.runStoryContained(ctx, req, intent); err != nil {
		// Remaining handlers were skipped; whatever was buffered before the
		// failure is still flushed below.
		b.log.Error("Story execution failed", "intent", intent, "request_id", req.RequestID, "user_id", userID, "error", err)
	}

	b.flush(req, userID)
}

// runStoryContained converts a handler panic into an error so one misbehaving
// story cannot take down the session's process.
func (b *Bot[T]) runStoryContained(ctx context.Context, req *tock.BotRequest, intent string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("story %q panicked: %v", intent, r)
		}
	}()
	return b.runStory(ctx, req, intent)
}

// runStory executes the handler chain registered for intent, constructing a
// fresh per-invocation Context for each handler. An unregistered intent is a
// no-op, matching sub-story invocation semantics.
func (b *Bot[T]) runStory(ctx context.Context, req *tock.BotRequest, intent string) error {
	b.mu.RLock()
	handlers := b.stories[intent]
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("story %q interrupted: %w", intent, err)
		}

		bc, err := b.newContext(ctx, req)
		if err != nil {
			return fmt.Errorf("story %q: %w", intent, err)
		}
		if err := handler(ctx, bc, &req.UserRequest); err != nil {
			return fmt.Errorf("story %q: %w", intent, err)
		}
	}
	return nil
}

// flush assembles and transmits the response when the user's buffer is
// non-empty. Silence is a valid response: no messages means no frame.
func (b *Bot[T]) flush(req *tock.BotRequest, userID string) {
	messages := b.buffer.Flush(userID)
	if len(messages) == 0 {
		return
	}

	resp := tock.BotResponse{
		RequestID: req.RequestID,
		BotResponse: tock.ResponsePayload{
			Messages: messages,
			StoryID:  req.UserRequest.StoryID,
			Entities: []tock.Entity{},
			Context: tock.ResponseContext{
				Date:      time.Now().UTC(),
				RequestID: req.RequestID,
			},
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		b.log.Error("Failed to serialize response", "request_id", req.RequestID, "error", err)
		return
	}

	b.SendData(string(data))
	b.log.Debug("Response transmitted", "request_id", req.RequestID, "user_id", userID, "messages", len(messages))
}

func (b *Bot[T]) storyRegistered(intent string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.stories[intent]
	return ok
}

// userLock returns the mutex serializing dispatch for one user id, creating
// it on first use.
func (b *Bot[T]) userLock(userID string) *sync.Mutex {
	b.mu.RLock()
	lock, ok := b.userLocks[userID]
	b.mu.RUnlock()
	if ok {
		return lock
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if lock, ok = b.userLocks[userID]; ok {
		return lock
	}
	lock = &sync.Mutex{}
	b.userLocks[userID] = lock
	return lock
}

// QueuedFrames reports how many outbound frames await delivery.
func (b *Bot[T]) QueuedFrames() int {
	return b.queue.Len()
}

var errNilRequest = errors.New("nil request")

func (b *Bot[T]) newContext(ctx context.Context, req *tock.BotRequest) (*Context[T], error) {
	if req == nil {
		return nil, errNilRequest
	}

	data, err := b.users.Get(ctx, req.UserRequest.Context.UserID.ID)
	if err != nil {
		return nil, err
	}

	return &Context[T]{
		bot:      b,
		req:      req,
		userData: data,
	}, nil
}
