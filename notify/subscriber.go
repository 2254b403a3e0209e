package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cosmdrop/faucet-node/log"
	"github.com/cosmdrop/faucet-node/types"
)

const (
	// pingInterval is the keepalive ping period.
	pingInterval = 30 * time.Second
	// pongTimeout terminates subscribers with no ping/pong traffic.
	pongTimeout = 120 * time.Second
	// writeWait bounds a single control-frame write.
	writeWait = 10 * time.Second
)

// Close reasons sent in the websocket close frame.
const (
	ReasonClaimConfirmed = "claim confirmed"
	ReasonPingTimeout    = "ping timeout"
	ReasonSocketError    = "socket error"
)

// Conn is the subset of *websocket.Conn the hub needs; tests substitute an
// in-memory implementation.
type Conn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Subscriber is a single websocket attachment, interested in one claim.
type Subscriber struct {
	hub      *Hub
	conn     Conn
	claimIdx int64

	writeMu   sync.Mutex
	lastSeen  atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(hub *Hub, conn Conn, claimIdx int64) *Subscriber {
	sub := &Subscriber{
		hub:      hub,
		conn:     conn,
		claimIdx: claimIdx,
		done:     make(chan struct{}),
	}
	sub.lastSeen.Store(time.Now().UnixNano())
	return sub
}

// ClaimIdx returns the claim this subscriber watches.
func (s *Subscriber) ClaimIdx() int64 {
	return s.claimIdx
}

// start spawns the read pump and the keepalive pinger.
func (s *Subscriber) start() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.lastSeen.Store(time.Now().UnixNano())
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	go s.readPump()
	go s.pinger()
}

// readPump drains incoming frames so control frames are processed. Client
// payloads are ignored; any read error tears the subscriber down.
func (s *Subscriber) readPump() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.Close(ReasonSocketError)
			return
		}
		s.lastSeen.Store(time.Now().UnixNano())
	}
}

func (s *Subscriber) pinger() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, s.lastSeen.Load())) > pongTimeout {
				s.Close(ReasonPingTimeout)
				return
			}
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.Close(ReasonSocketError)
				return
			}
		}
	}
}

// deliver writes the progress update and, if it satisfies the watched
// claim, closes the subscription with the confirmed reason.
func (s *Subscriber) deliver(progress types.Progress) {
	s.writeMu.Lock()
	err := s.conn.WriteJSON(Envelope{Action: ActionUpdate, Data: progress})
	s.writeMu.Unlock()
	if err != nil {
		s.Close(ReasonSocketError)
		return
	}
	if progress.ConfirmedIdx >= s.claimIdx {
		s.Close(ReasonClaimConfirmed)
	}
}

// Close terminates the subscriber with the given reason and detaches it
// from the hub. Idempotent; safe from any goroutine.
func (s *Subscriber) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		if err := s.conn.Close(); err != nil {
			log.Debugw("subscriber close", "error", err)
		}
		s.hub.remove(s)
	})
}
