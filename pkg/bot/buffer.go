package bot

import (
	"sync"

	"gotock/pkg/tock"
)

// messageBuffer accumulates outbound messages per user id during one
// request's handler chain. Append-only while handling; flushed exactly once
// when the response is transmitted.
type messageBuffer struct {
	mu       sync.Mutex
	messages map[string][]tock.Message
}

func newMessageBuffer() *messageBuffer {
	return &messageBuffer{messages: make(map[string][]tock.Message)}
}

func (b *messageBuffer) Append(userID string, msg tock.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[userID] = append(b.messages[userID], msg)
}

// Flush returns the buffered messages in call order and clears the buffer
// for that user. Returns nil when nothing was buffered.
func (b *messageBuffer) Flush(userID string) []tock.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	buffered := b.messages[userID]
	if len(buffered) == 0 {
		return nil
	}
	delete(b.messages, userID)
	return buffered
}

func (b *messageBuffer) Len(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[userID])
}
