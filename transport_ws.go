package tinymqtt

import (
	"net/http"

	"golang.org/x/net/websocket"
)

// WebsocketHandler serves MQTT-over-WebSocket: each accepted
// websocket.Conn is wrapped the same way a raw TCP net.Conn is,
// since websocket.Conn already satisfies net.Conn.
func (b *Broker) WebsocketHandler() websocket.Handler {
	return func(ws *websocket.Conn) {
		ws.PayloadType = websocket.BinaryFrame
		sess := newServerSession(ws, b)
		b.trackSession(sess, true)
		sess.serve()
	}
}

// ListenAndServeWebsocket runs the MQTT-over-WebSocket listener on
// addr until it errors.
func (b *Broker) ListenAndServeWebsocket(addr string) error {
	return http.ListenAndServe(addr, b.WebsocketHandler())
}
