// Package msghub fans delivery events out to listeners, typically monitoring
// WebSockets.  A ring of recent events is kept so new listeners can catch up.
package msghub

import (
	"container/ring"
	"context"
	"time"
)

// opChanLen is the buffer size of the hub operation channel; senders only
// block once this many operations are queued.
const opChanLen = 100

// Message is a delivery event.
type Message struct {
	Mailbox string    `json:"mailbox"`
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      []string  `json:"to"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Size    int64     `json:"size"`
}

// Listener receives the contents of the message hub.
type Listener interface {
	// Receive handles a message event; returning an error removes this
	// listener from the hub.
	Receive(msg Message) error
}

// Hub relays messages generated by the server to its listeners.  All state is
// confined to the run goroutine; operations are delivered to it as closures.
type Hub struct {
	listeners map[Listener]struct{}
	history   *ring.Ring
	opChan    chan func(h *Hub)
}

// New constructs a new Hub with a history buffer of the given size, and
// starts its operation processing loop.
func New(ctx context.Context, history int) *Hub {
	hub := &Hub{
		listeners: make(map[Listener]struct{}),
		history:   ring.New(history),
		opChan:    make(chan func(h *Hub), opChanLen),
	}
	go hub.run(ctx)
	return hub
}

func (hub *Hub) run(ctx context.Context) {
	for {
		select {
		case op := <-hub.opChan:
			op(hub)
		case <-ctx.Done():
			close(hub.opChan)
			hub.listeners = nil
			hub.history = nil
			return
		}
	}
}

// Dispatch queues a message for broadcast by the hub.  The message will be
// placed into the history buffer and then relayed to registered listeners.
func (hub *Hub) Dispatch(msg Message) {
	hub.opChan <- func(h *Hub) {
		if h.history.Len() > 0 {
			h.history.Value = msg
			h.history = h.history.Next()
		}
		for l := range h.listeners {
			if err := l.Receive(msg); err != nil {
				delete(h.listeners, l)
			}
		}
	}
}

// AddListener registers a listener to receive broadcast messages, first
// replaying the history buffer to it.
func (hub *Hub) AddListener(l Listener) {
	hub.opChan <- func(h *Hub) {
		h.history.Do(func(v interface{}) {
			if v != nil {
				_ = l.Receive(v.(Message))
			}
		})
		h.listeners[l] = struct{}{}
	}
}

// RemoveListener deletes a listener registration, it will cease receiving
// messages.
func (hub *Hub) RemoveListener(l Listener) {
	hub.opChan <- func(h *Hub) {
		delete(h.listeners, l)
	}
}

// Sync blocks until the hub has processed all prior operations.
func (hub *Hub) Sync() {
	done := make(chan struct{})
	hub.opChan <- func(h *Hub) {
		close(done)
	}
	<-done
}
