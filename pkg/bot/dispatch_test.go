package bot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotock/pkg/connector"
	"gotock/pkg/tock"
	"gotock/pkg/user"

	"github.com/stretchr/testify/require"
)

type testUserData struct {
	Visits int
	Name   string
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []string
	failFrame string
	failed    bool
}

func (f *fakeTransport) Send(frame string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return ErrNotConnected
	}
	if !f.failed && f.failFrame != "" && frame == f.failFrame {
		f.failed = true
		return errors.New("write failed")
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *fakeTransport) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestBot(t *testing.T, opts ...Option[testUserData]) (*Bot[testUserData], *fakeTransport) {
	t.Helper()

	transport := &fakeTransport{connected: true}
	b := New[testUserData]("api-key", "bot.example.org", 443, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	b.queue = newOutboundQueue(transport, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.baseCtx = context.Background()
	b.AddInterface(connector.Web())
	return b, transport
}

func inboundRequest(requestID, intent, userID string) *tock.BotRequest {
	return &tock.BotRequest{
		RequestID: requestID,
		UserRequest: tock.UserRequest{
			Intent:   intent,
			Entities: []tock.Entity{},
			Message:  tock.UserMessage{Type: tock.UserMessageText, Text: "hello bot"},
			StoryID:  intent,
			Context: tock.RequestContext{
				Namespace:     "demo",
				Language:      "en",
				ConnectorType: tock.ConnectorType{ID: connector.WebConnectorTypeID},
				ApplicationID: "app-1",
				UserID:        tock.PlayerID{ID: userID, Type: "user"},
				BotID:         tock.PlayerID{ID: "bot-1", Type: "bot"},
			},
		},
	}
}

func decodeResponse(t *testing.T, frame string) map[string]any {
	t.Helper()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(frame), &decoded))
	return decoded
}

func responseMessages(t *testing.T, frame string) []any {
	t.Helper()

	decoded := decodeResponse(t, frame)
	payload, ok := decoded["botResponse"].(map[string]any)
	require.True(t, ok, "frame missing botResponse: %s", frame)
	messages, ok := payload["messages"].([]any)
	require.True(t, ok, "botResponse missing messages: %s", frame)
	return messages
}

func TestDispatchUnregisteredIntentSendsNothing(t *testing.T) {
	b, transport := newTestBot(t)

	b.dispatch(context.Background(), inboundRequest("r1", "unknown", "u1"))

	require.Empty(t, transport.frames())
}

func TestDispatchWithoutIntentSendsNothing(t *testing.T) {
	b, transport := newTestBot(t)
	b.AddStory("greet", func(context.Context, *Context[testUserData], *tock.UserRequest) error {
		t.Fatal("handler must not run without intent")
		return nil
	})

	req := inboundRequest("r1", "", "u1")
	b.dispatch(context.Background(), req)

	require.Empty(t, transport.frames())
}

func TestDispatchGreetScenario(t *testing.T) {
	b, transport := newTestBot(t)
	b.AddStory("greet", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		_, ok := c.SendText("hello")
		require.True(t, ok)
		return nil
	})

	b.dispatch(context.Background(), inboundRequest("r1", "greet", "u1"))

	frames := transport.frames()
	require.Len(t, frames, 1)

	decoded := decodeResponse(t, frames[0])
	require.Equal(t, "r1", decoded["requestId"])

	payload := decoded["botResponse"].(map[string]any)
	require.Equal(t, "greet", payload["storyId"])
	require.Empty(t, payload["entities"])

	respCtx := payload["context"].(map[string]any)
	require.Equal(t, "r1", respCtx["requestId"])
	require.NotEmpty(t, respCtx["date"])

	messages := payload["messages"].([]any)
	require.Len(t, messages, 1)
	sentence := messages[0].(map[string]any)
	require.Equal(t, "sentence", sentence["type"])
	require.Empty(t, sentence["suggestions"])

	text := sentence["text"].(map[string]any)
	require.Equal(t, "hello", text["text"])
	require.Equal(t, true, text["toBeTranslated"])

	require.Zero(t, b.buffer.Len("u1"), "buffer must be empty after flush")
}

func TestDispatchOneResponsePerRequestInCallOrder(t *testing.T) {
	b, transport := newTestBot(t)
	b.AddStory("greet",
		func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
			c.SendText("first")
			c.SendText("second")
			return nil
		},
		func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
			c.SendText("third")
			return nil
		},
	)

	b.dispatch(context.Background(), inboundRequest("r1", "greet", "u1"))

	frames := transport.frames()
	require.Len(t, frames, 1, "exactly one response per inbound request")

	messages := responseMessages(t, frames[0])
	require.Len(t, messages, 3)
	for i, want := range []string{"first", "second", "third"} {
		sentence := messages[i].(map[string]any)
		require.Equal(t, want, sentence["text"].(map[string]any)["text"])
	}
}

func TestRunStoryAppendsToSameBuffer(t *testing.T) {
	b, transport := newTestBot(t)
	b.AddStory("inner", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		c.SendText("inner")
		return nil
	})
	b.AddStory("outer", func(ctx context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		c.SendText("before")
		if err := c.RunStory(ctx, "inner"); err != nil {
			return err
		}
		c.SendText("after")
		return nil
	})

	b.dispatch(context.Background(), inboundRequest("r1", "outer", "u1"))

	frames := transport.frames()
	require.Len(t, frames, 1)

	messages := responseMessages(t, frames[0])
	require.Len(t, messages, 3)
	for i, want := range []string{"before", "inner", "after"} {
		sentence := messages[i].(map[string]any)
		require.Equal(t, want, sentence["text"].(map[string]any)["text"])
	}
}

func TestRunStoryRecursionTerminates(t *testing.T) {
	b, transport := newTestBot(t)
	var depth int
	b.AddStory("recurse", func(ctx context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		depth++
		c.SendText("ping")
		if depth < 3 {
			return c.RunStory(ctx, "recurse")
		}
		return nil
	})

	b.dispatch(context.Background(), inboundRequest("r1", "recurse", "u1"))

	frames := transport.frames()
	require.Len(t, frames, 1)
	require.Len(t, responseMessages(t, frames[0]), 3)
}

func TestHandlerErrorAbortsChainButFlushesBuffered(t *testing.T) {
	b, transport := newTestBot(t)
	var thirdRan bool
	b.AddStory("greet",
		func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
			c.SendText("partial")
			return nil
		},
		func(context.Context, *Context[testUserData], *tock.UserRequest) error {
			return errors.New("boom")
		},
		func(context.Context, *Context[testUserData], *tock.UserRequest) error {
			thirdRan = true
			return nil
		},
	)

	b.dispatch(context.Background(), inboundRequest("r1", "greet", "u1"))

	require.False(t, thirdRan, "handlers after a failure must not run")

	frames := transport.frames()
	require.Len(t, frames, 1, "messages buffered before the failure are still flushed")
	messages := responseMessages(t, frames[0])
	require.Len(t, messages, 1)
}

func TestHandlerPanicIsContainedAndFlushesBuffered(t *testing.T) {
	b, transport := newTestBot(t)
	var thirdRan bool
	b.AddStory("greet",
		func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
			c.SendText("partial")
			return nil
		},
		func(context.Context, *Context[testUserData], *tock.UserRequest) error {
			var m map[string]int
			m["boom"] = 1
			return nil
		},
		func(context.Context, *Context[testUserData], *tock.UserRequest) error {
			thirdRan = true
			return nil
		},
	)

	b.dispatch(context.Background(), inboundRequest("r1", "greet", "u1"))

	require.False(t, thirdRan, "handlers after a panic must not run")

	frames := transport.frames()
	require.Len(t, frames, 1, "messages buffered before the panic are still flushed")
	require.Len(t, responseMessages(t, frames[0]), 1)

	// The session keeps serving: a later request for the same user works.
	b.AddStory("greet", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		c.SendText("recovered")
		return nil
	})
	b.dispatch(context.Background(), inboundRequest("r2", "greet", "u1"))
	require.Len(t, transport.frames(), 2)
}

func TestSendMessageRejectsNil(t *testing.T) {
	b, transport := newTestBot(t)

	b.AddStory("greet", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		msg, ok := c.SendMessage(nil)
		require.False(t, ok)
		require.Nil(t, msg)
		return nil
	})

	b.dispatch(context.Background(), inboundRequest("r1", "greet", "u1"))

	require.Empty(t, transport.frames(), "a nil message must not become an empty sentence")
	require.Zero(t, b.buffer.Len("u1"))
}

func TestHandlerErrorDoesNotAffectSubsequentRequests(t *testing.T) {
	b, transport := newTestBot(t)
	var calls int
	b.AddStory("greet", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		calls++
		if calls == 1 {
			return errors.New("boom")
		}
		c.SendText("recovered")
		return nil
	})

	b.dispatch(context.Background(), inboundRequest("r1", "greet", "u1"))
	b.dispatch(context.Background(), inboundRequest("r2", "greet", "u1"))

	frames := transport.frames()
	require.Len(t, frames, 1)
	require.Equal(t, "r2", decodeResponse(t, frames[0])["requestId"])
}

func TestDispatchSeesLatestCommittedUserData(t *testing.T) {
	b, transport := newTestBot(t)
	var observed []int
	increment := func(ctx context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		observed = append(observed, c.UserData().Visits)
		return c.Dispatch(ctx, user.Apply(func(prev testUserData) testUserData {
			prev.Visits++
			return prev
		}))
	}
	b.AddStory("visit", increment, increment, increment)

	b.dispatch(context.Background(), inboundRequest("r1", "visit", "u1"))

	require.Equal(t, []int{0, 1, 2}, observed)

	committed, ok := b.UserStore().Peek("u1")
	require.True(t, ok)
	require.Equal(t, 3, committed.Visits)
	require.Len(t, transport.frames(), 0)
}

func TestDispatchSerializedPerUser(t *testing.T) {
	b, _ := newTestBot(t)

	var active, violations int32
	b.AddStory("slow", func(context.Context, *Context[testUserData], *tock.UserRequest) error {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&violations, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.dispatch(context.Background(), inboundRequest("r", "slow", "u1"))
		}()
	}
	wg.Wait()

	require.Zero(t, atomic.LoadInt32(&violations), "same-user dispatches must not overlap")
}

func TestEntitiesGroupedByTypeAndQuery(t *testing.T) {
	b, _ := newTestBot(t)

	req := inboundRequest("r1", "weather", "u1")
	req.UserRequest.Entities = []tock.Entity{
		{Type: "location", Role: "destination", Value: "Paris"},
		{Type: "date", Role: "when", Value: "2026-09-01"},
		{Type: "location", Role: "origin", Value: "Lyon"},
	}

	var grouped map[string][]tock.Entity
	var query string
	b.AddStory("weather", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		grouped = c.Entities()
		query = c.Query()
		return nil
	})

	b.dispatch(context.Background(), req)

	require.Len(t, grouped, 2)
	require.Equal(t, []string{"Paris", "Lyon"}, []string{grouped["location"][0].Value, grouped["location"][1].Value})
	require.Equal(t, "2026-09-01", grouped["date"][0].Value)
	require.Equal(t, "hello bot", query)
}

func TestQueryEmptyForNonTextMessage(t *testing.T) {
	b, _ := newTestBot(t)

	req := inboundRequest("r1", "greet", "u1")
	req.UserRequest.Message = tock.UserMessage{Type: "choice"}

	var query string
	b.AddStory("greet", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		query = c.Query()
		return nil
	})

	b.dispatch(context.Background(), req)
	require.Empty(t, query)
}

func TestSendWithoutRegisteredConnectorDropsMessage(t *testing.T) {
	b, transport := newTestBot(t)

	req := inboundRequest("r1", "greet", "u1")
	req.UserRequest.Context.ConnectorType.ID = "messenger"

	b.AddStory("greet", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		msg, ok := c.SendText("hello")
		require.False(t, ok)
		require.Nil(t, msg)
		return nil
	})

	b.dispatch(context.Background(), req)

	require.Empty(t, transport.frames(), "dropped messages must not produce a response")
	require.Zero(t, b.buffer.Len("u1"))
}

func TestHandleFrameDropsMalformedJSON(t *testing.T) {
	b, transport := newTestBot(t)
	b.AddStory("greet", func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		c.SendText("hello")
		return nil
	})

	b.handleFrame([]byte("not json at all"))
	b.handleFrame([]byte(`{"requestId": 42}`))

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, transport.frames())
}

func TestRequestTimeoutAbandonsRemainingHandlersAndFlushes(t *testing.T) {
	b, transport := newTestBot(t, WithRequestTimeout[testUserData](30*time.Millisecond))

	var secondRan bool
	b.AddStory("slow",
		func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
			c.SendText("started")
			time.Sleep(60 * time.Millisecond)
			return nil
		},
		func(context.Context, *Context[testUserData], *tock.UserRequest) error {
			secondRan = true
			return nil
		},
	)

	b.dispatch(context.Background(), inboundRequest("r1", "slow", "u1"))

	require.False(t, secondRan, "handlers after the deadline must not run")

	frames := transport.frames()
	require.Len(t, frames, 1, "messages buffered before the deadline are flushed")
	require.Len(t, responseMessages(t, frames[0]), 1)
}

func TestRetrieveUserStrategyFeedsHandlers(t *testing.T) {
	b, _ := newTestBot(t)

	var retrieved int32
	b.SetRetrieveUser(func(_ context.Context, userID string) (testUserData, error) {
		atomic.AddInt32(&retrieved, 1)
		return testUserData{Name: "stored-" + userID}, nil
	})

	var seen []string
	record := func(_ context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		seen = append(seen, c.UserData().Name)
		return nil
	}
	b.AddStory("whoami", record, record)

	b.dispatch(context.Background(), inboundRequest("r1", "whoami", "u9"))

	require.Equal(t, []string{"stored-u9", "stored-u9"}, seen)
	require.Equal(t, int32(1), atomic.LoadInt32(&retrieved), "retrieval result must be cached")
}

func TestPersistUserStrategyInvokedOnDispatch(t *testing.T) {
	b, _ := newTestBot(t)

	var persistedIDs []string
	var persistedValues []testUserData
	b.SetPersistUser(func(_ context.Context, userID string, data testUserData) error {
		persistedIDs = append(persistedIDs, userID)
		persistedValues = append(persistedValues, data)
		return nil
	})

	b.AddStory("visit", func(ctx context.Context, c *Context[testUserData], _ *tock.UserRequest) error {
		return c.Dispatch(ctx, user.Value(testUserData{Visits: 7}))
	})

	b.dispatch(context.Background(), inboundRequest("r1", "visit", "u1"))

	require.Equal(t, []string{"u1"}, persistedIDs)
	require.Equal(t, 7, persistedValues[0].Visits)
}
