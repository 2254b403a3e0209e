package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cosmdrop/faucet-node/log"
	"github.com/cosmdrop/faucet-node/notify"
	"github.com/cosmdrop/faucet-node/storage"
	"github.com/cosmdrop/faucet-node/types"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled by the router middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// claimWebsocket upgrades the connection and attaches a hub subscriber for
// the session's live claim. Validation errors are delivered over the
// socket as {action:"error"} frames so the client always gets a JSON
// answer.
func (a *API) claimWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	id := r.URL.Query().Get(SessionQueryParam)
	if id == "" {
		closeWithError(conn, "missing session parameter")
		return
	}
	session, err := a.storage.Session(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			closeWithError(conn, "session not found")
			return
		}
		closeWithError(conn, "internal error")
		return
	}
	if session.Status != types.SessionStatusClaiming || session.Claim == nil {
		closeWithError(conn, "session has no live claim")
		return
	}

	a.hub.Subscribe(conn, session.Claim.ClaimIdx)
	log.Debugw("claim subscriber attached", "session", id, "claimIdx", session.Claim.ClaimIdx)
}

func closeWithError(conn *websocket.Conn, msg string) {
	if err := conn.WriteJSON(notify.Envelope{Action: notify.ActionError, Data: msg}); err != nil {
		log.Debugw("failed to write websocket error", "error", err)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg),
		time.Now().Add(5*time.Second))
	_ = conn.Close()
}
