package atmosphere

import (
	"net/http"

	"github.com/gobwas/ws"
)

type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// HandleSocket upgrades the request and joins the socket to the room under a
// freshly assigned connection id. Errors before the upgrade go to onError.
func (room *Room) HandleSocket(onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !room.IsOpen() {
			onError(w, r, ErrRoomClosed)
			return
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			onError(w, r, err)
			return
		}
		connID := room.opts.NewConnectionID()
		room.Slogger.Info("new socket connection", "connection", connID, "remote", r.RemoteAddr)

		ss := NewSocketSession(conn, connID, room.messages, room.ctx.Done(), room.opts.SendBuffer, room.Slogger)
		if !room.enqueue(SocketMessage{ReferenceID: connID, Type: Connect, Session: ss}) {
			room.Slogger.Debug("room stopped during upgrade", "connection", connID)
			conn.Close()
			return
		}
		ss.Start()
		if room.ctx.Err() != nil {
			ss.Close()
		}
	}
}
