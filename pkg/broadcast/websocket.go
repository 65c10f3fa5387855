package broadcast

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ServeConn attaches a websocket connection to the hub as an observer and
// blocks until the connection goes away. Observers only send control frames;
// any read error is treated as the disconnect signal.
func ServeConn(hub *Hub, conn *websocket.Conn, bufferSize int) {
	q := NewQueue(bufferSize)
	unsubscribe := hub.Subscribe(q)
	remote := conn.RemoteAddr().String()
	slog.Info("observer_connected", "remote", remote, "subscribers", hub.Count())

	go func() {
		defer func() {
			unsubscribe()
			q.Close()
		}()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		conn.Close()
		slog.Info("observer_disconnected", "remote", remote, "subscribers", hub.Count())
	}()

	for {
		select {
		case ev, ok := <-q.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("observer_write_failed", "remote", remote, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
