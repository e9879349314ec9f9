package bot

import (
	"log/slog"
	"sync"
)

// transport is the narrow slice of Session the queue needs.
type transport interface {
	Send(frame string) error
	Connected() bool
}

// outboundQueue buffers serialized frames while the transport is down and
// drains them in FIFO order once connectivity resumes. No frame is ever
// dropped.
type outboundQueue struct {
	transport transport
	log       *slog.Logger

	mu       sync.Mutex
	entries  []string
	draining bool
}

func newOutboundQueue(t transport, log *slog.Logger) *outboundQueue {
	if log == nil {
		log = slog.Default()
	}
	return &outboundQueue{
		transport: t,
		log:       log.With("component", "bot.queue"),
	}
}

// EnqueueOrSend transmits the frame immediately when connected; otherwise it
// appends the frame to the tail and makes sure a drain pass is running.
func (q *outboundQueue) EnqueueOrSend(frame string) {
	if q.transport.Connected() {
		if err := q.transport.Send(frame); err == nil {
			return
		}
		// The connection dropped under us; fall through to the queue.
	}

	q.mu.Lock()
	q.entries = append(q.entries, frame)
	queued := len(q.entries)
	q.mu.Unlock()

	q.log.Debug("Frame queued for later delivery", "queued", queued)
	q.Drain()
}

// Drain starts a single drain pass if one is not already running. Called on
// every reconnect and after every enqueue.
func (q *outboundQueue) Drain() {
	q.mu.Lock()
	if q.draining || len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	go q.drain()
}

// drain sends head entries until the queue is empty or a send fails. A failed
// entry is requeued at the tail and draining stops until retriggered. While
// the transport is down the queue is left untouched so FIFO order holds; only
// a send that fails mid-flight moves its frame to the tail.
func (q *outboundQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		if !q.transport.Connected() {
			q.draining = false
			q.mu.Unlock()
			return
		}
		head := q.entries[0]
		q.entries = q.entries[1:]
		q.mu.Unlock()

		if err := q.transport.Send(head); err != nil {
			q.mu.Lock()
			q.entries = append(q.entries, head)
			q.draining = false
			queued := len(q.entries)
			q.mu.Unlock()

			q.log.Debug("Drain interrupted, frame requeued", "queued", queued, "error", err)
			return
		}
	}
}

// Len reports how many frames are waiting for delivery.
func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
