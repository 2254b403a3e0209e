// Package notify fans claim progress out to websocket subscribers. The hub
// keeps the last broadcast so late subscribers catch up immediately, and
// closes a subscription once the claim it watches has confirmed.
package notify

import (
	"sync"

	"github.com/cosmdrop/faucet-node/log"
	"github.com/cosmdrop/faucet-node/types"
)

// Envelope is the wire frame delivered to subscribers.
type Envelope struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

const (
	ActionUpdate = "update"
	ActionError  = "error"
)

// Hub is the process-wide subscriber list. Safe for concurrent use.
type Hub struct {
	mu            sync.Mutex
	subscribers   []*Subscriber
	lastBroadcast *types.Progress
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Broadcast replaces the last-broadcast slot and delivers the progress pair
// to every active subscriber. Delivery iterates over a snapshot, so
// subscribers removed mid-broadcast (socket errors, confirmed claims) do
// not disturb the loop.
func (h *Hub) Broadcast(progress types.Progress) {
	h.mu.Lock()
	p := progress
	h.lastBroadcast = &p
	subs := make([]*Subscriber, len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(progress)
	}
}

// Subscribe attaches a connection interested in claimIdx, replays the last
// broadcast if there is one, and starts the keepalive machinery.
func (h *Hub) Subscribe(conn Conn, claimIdx int64) *Subscriber {
	sub := newSubscriber(h, conn, claimIdx)
	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	last := h.lastBroadcast
	h.mu.Unlock()

	sub.start()
	if last != nil {
		sub.deliver(*last)
	}
	return sub
}

// Reset clears the last-broadcast slot. Called when the pipeline shuts
// down so a restarted pipeline does not replay stale watermarks.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastBroadcast = nil
}

// LastBroadcast returns the replay slot, nil if nothing was broadcast yet.
func (h *Hub) LastBroadcast() *types.Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastBroadcast == nil {
		return nil
	}
	p := *h.lastBroadcast
	return &p
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// remove detaches a subscriber. Idempotent.
func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subscribers {
		if s == sub {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			log.Debugw("subscriber removed", "claimIdx", sub.claimIdx, "remaining", len(h.subscribers))
			return
		}
	}
}
