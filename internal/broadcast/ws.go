package broadcast

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 60 * time.Second
)

// ServeWS upgrades the request to a WebSocket, subscribes the connection to
// the event and streams updates to it until the client disconnects.
func ServeWS(b *Broadcaster, eventID string, w http.ResponseWriter, r *http.Request) {
	upgr := &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	wc, err := upgr.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("broadcast: ws upgrade failed: %v", err)
		return
	}

	c := NewConn()
	b.Subscribe(c, eventID)
	go writePump(c, wc)
	readLoop(wc)
	b.Unsubscribe(c, eventID)
}

// writePump drains the connection's send channel onto the socket, keeping
// the connection alive with pings. It owns the socket's write side and
// closes the socket when the send channel is closed by Unsubscribe.
func writePump(c *Conn, wc *websocket.Conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	defer wc.Close()

	for {
		select {
		case payload, ok := <-c.Send():
			if !ok {
				wc.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = wc.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-t.C:
			wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// readLoop discards client frames; subscribers only listen. It returns when
// the client disconnects, which is the unsubscribe signal.
func readLoop(wc *websocket.Conn) {
	for {
		if _, _, err := wc.NextReader(); err != nil {
			return
		}
	}
}
