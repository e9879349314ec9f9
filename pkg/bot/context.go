package bot

import (
	"context"

	"gotock/pkg/connector"
	"gotock/pkg/tock"
	"gotock/pkg/user"
)

// Context is the per-invocation bot interface handed to a story handler. It
// scopes send, user data and sub-story invocation to the current request.
// Every handler invocation, including nested RunStory chains, gets a fresh
// Context; all of them append to the same per-user message buffer.
type Context[T any] struct {
	bot      *Bot[T]
	req      *tock.BotRequest
	userData T
}

// Request returns the inbound envelope this invocation answers.
func (c *Context[T]) Request() *tock.BotRequest {
	return c.req
}

// UserData returns the snapshot taken when this invocation started. Later
// handlers in the chain observe committed dispatches through their own fresh
// snapshots.
func (c *Context[T]) UserData() T {
	return c.userData
}

// Dispatch commits a user data update. Function-form updates receive the most
// recently committed value, including updates made earlier in this chain.
func (c *Context[T]) Dispatch(ctx context.Context, update user.Update[T]) error {
	_, err := c.bot.users.Dispatch(ctx, c.userID(), update)
	return err
}

// Send normalizes the input through the render strategy registered for this
// request's connector type and appends the result to the user's message
// buffer. When no strategy is registered for the connector type, the message
// is dropped and false is returned.
func (c *Context[T]) Send(in connector.Input, quickReplies ...tock.Suggestion) (tock.Message, bool) {
	connectorTypeID := c.req.UserRequest.Context.ConnectorType.ID
	factory, ok := c.bot.connectors.Factory(connectorTypeID)
	if !ok {
		c.bot.log.Debug("No interface registered for connector type", "connector_type", connectorTypeID)
		return nil, false
	}

	msg, ok := factory(c.req).Render(in, quickReplies...)
	if !ok || msg == nil {
		return nil, false
	}

	c.bot.buffer.Append(c.userID(), msg)
	return msg, true
}

// SendText sends plain text with optional quick replies.
func (c *Context[T]) SendText(text string, quickReplies ...tock.Suggestion) (tock.Message, bool) {
	return c.Send(connector.TextInput(text), quickReplies...)
}

// SendMessage sends an already structured message. A nil message is rejected
// rather than rendered as an empty sentence.
func (c *Context[T]) SendMessage(msg tock.Message) (tock.Message, bool) {
	if msg == nil {
		return nil, false
	}
	return c.Send(connector.MessageInput(msg))
}

// RunStory synchronously executes the handler chain registered for intent
// against the current request, including recursive re-entrancy into the same
// or another intent. Unregistered intents are a no-op.
func (c *Context[T]) RunStory(ctx context.Context, intent string) error {
	return c.bot.runStory(ctx, c.req, intent)
}

// Entities groups the extracted entities by type, preserving extraction
// order within each type.
func (c *Context[T]) Entities() map[string][]tock.Entity {
	entities := c.req.UserRequest.Entities
	grouped := make(map[string][]tock.Entity, len(entities))
	for _, entity := range entities {
		grouped[entity.Type] = append(grouped[entity.Type], entity)
	}
	return grouped
}

// Query returns the plain text of the inbound message when it is text-typed,
// otherwise the empty string.
func (c *Context[T]) Query() string {
	if msg := c.req.UserRequest.Message; msg.IsText() {
		return msg.Text
	}
	return ""
}

func (c *Context[T]) userID() string {
	return c.req.UserRequest.Context.UserID.ID
}
