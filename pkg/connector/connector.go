// Package connector defines the render strategies that shape a generic send
// call into a payload for one channel (connector type). The platform owns
// actual channel delivery; the client only tags and shapes messages.
package connector

import (
	"sync"

	"gotock/pkg/tock"
)

// Input is the tagged send argument: either plain text to normalize or an
// already structured message to pass through.
type Input struct {
	Text    string
	Message tock.Message
}

// TextInput wraps plain text for normalization by the renderer.
func TextInput(text string) Input {
	return Input{Text: text}
}

// MessageInput wraps a structured message that bypasses normalization.
func MessageInput(msg tock.Message) Input {
	return Input{Message: msg}
}

// IsText reports whether the input still needs normalization.
func (in Input) IsText() bool {
	return in.Message == nil
}

// Renderer shapes one send call for a specific channel. A false return means
// the renderer chose not to emit a message; nothing is buffered.
type Renderer interface {
	Render(in Input, quickReplies ...tock.Suggestion) (tock.Message, bool)
}

// Factory builds a renderer bound to one inbound request.
type Factory func(req *tock.BotRequest) Renderer

// Config registers a render strategy under its connector type id.
type Config struct {
	ConnectorTypeID string
	Factory         Factory
}

// Registry maps connector type ids to render strategy factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a render strategy, replacing any prior registration for
// the same connector type id.
func (r *Registry) Register(cfg Config) {
	if cfg.ConnectorTypeID == "" || cfg.Factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[cfg.ConnectorTypeID] = cfg.Factory
}

// Factory looks up the render strategy for a connector type id.
func (r *Registry) Factory(connectorTypeID string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[connectorTypeID]
	return factory, ok
}
