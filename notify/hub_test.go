package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/cosmdrop/faucet-node/types"
)

// fakeConn is an in-memory Conn. ReadMessage blocks until the connection
// is closed, like an idle websocket.
type fakeConn struct {
	mu       sync.Mutex
	writes   []Envelope
	writeErr error
	closed   bool
	closeCh  chan struct{}
	reason   string
}

func newFakeConn() *fakeConn {
	return &fakeConn{closeCh: make(chan struct{})}
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, v.(Envelope))
	return nil
}

func (f *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(data) > 2 {
		f.reason = string(data[2:]) // close frame: 2-byte code plus reason
	}
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closeCh
	return 0, nil, fmt.Errorf("connection closed")
}

func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func (f *fakeConn) updates() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeConn) closeReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBroadcastDelivery(t *testing.T) {
	c := qt.New(t)
	hub := NewHub()
	conn := newFakeConn()
	hub.Subscribe(conn, 5)
	c.Assert(hub.Len(), qt.Equals, 1)

	hub.Broadcast(types.Progress{ProcessedIdx: 3, ConfirmedIdx: 1})
	updates := conn.updates()
	c.Assert(len(updates), qt.Equals, 1)
	c.Assert(updates[0].Action, qt.Equals, ActionUpdate)
	c.Assert(updates[0].Data, qt.Equals, types.Progress{ProcessedIdx: 3, ConfirmedIdx: 1})
	c.Assert(hub.Len(), qt.Equals, 1)
}

func TestLateSubscriberReplay(t *testing.T) {
	c := qt.New(t)
	hub := NewHub()
	hub.Broadcast(types.Progress{ProcessedIdx: 2, ConfirmedIdx: 2})

	conn := newFakeConn()
	hub.Subscribe(conn, 9)
	updates := conn.updates()
	c.Assert(len(updates), qt.Equals, 1)
	c.Assert(updates[0].Data, qt.Equals, types.Progress{ProcessedIdx: 2, ConfirmedIdx: 2})
}

func TestSubscriberClosedOnClaimConfirmed(t *testing.T) {
	c := qt.New(t)
	hub := NewHub()
	conn := newFakeConn()
	hub.Subscribe(conn, 4)

	hub.Broadcast(types.Progress{ProcessedIdx: 5, ConfirmedIdx: 4})
	waitFor(t, func() bool { return hub.Len() == 0 })
	c.Assert(conn.closeReason(), qt.Equals, ReasonClaimConfirmed)

	// The final update is still delivered before the close.
	updates := conn.updates()
	c.Assert(len(updates), qt.Equals, 1)
}

func TestSocketErrorRemovesSubscriber(t *testing.T) {
	c := qt.New(t)
	hub := NewHub()
	bad := newFakeConn()
	bad.writeErr = fmt.Errorf("broken pipe")
	good := newFakeConn()
	hub.Subscribe(bad, 10)
	hub.Subscribe(good, 10)

	// The broken subscriber is removed mid-broadcast without disturbing
	// delivery to the healthy one.
	hub.Broadcast(types.Progress{ProcessedIdx: 1, ConfirmedIdx: 0})
	waitFor(t, func() bool { return hub.Len() == 1 })
	c.Assert(len(good.updates()), qt.Equals, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := qt.New(t)
	hub := NewHub()
	conn := newFakeConn()
	sub := hub.Subscribe(conn, 1)

	sub.Close(ReasonSocketError)
	sub.Close(ReasonSocketError)
	c.Assert(hub.Len(), qt.Equals, 0)
	c.Assert(conn.closeReason(), qt.Equals, ReasonSocketError)
}

func TestReset(t *testing.T) {
	c := qt.New(t)
	hub := NewHub()
	hub.Broadcast(types.Progress{ProcessedIdx: 1, ConfirmedIdx: 1})
	c.Assert(hub.LastBroadcast(), qt.Not(qt.IsNil))

	hub.Reset()
	c.Assert(hub.LastBroadcast(), qt.IsNil)

	// No replay after a reset.
	conn := newFakeConn()
	hub.Subscribe(conn, 1)
	c.Assert(len(conn.updates()), qt.Equals, 0)
}
