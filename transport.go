package tinymqtt

import "net"

// Transport is the minimal connection surface a collaborator needs to
// provide: connected, available, read, write, stop. Accepting new
// connections is not part of it; Broker.Serve does that on its
// net.Listener. net.Conn already provides read/write directly and stop
// as Close; this adapter adds Stop and the connected/available queries
// so a caller that only has a
// Transport value (not the underlying net.Conn) can still ask those
// questions. golang.org/x/net/websocket.Conn satisfies net.Conn
// directly (transport_ws.go), so the same adapter covers both
// transports the broker accepts.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Connected() bool
	Available() int
	Stop() error
}

type netConnTransport struct {
	conn   net.Conn
	closed func() bool
}

func (t *netConnTransport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *netConnTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *netConnTransport) Connected() bool             { return !t.closed() }
func (t *netConnTransport) Available() int              { return 0 } // buffering is the kernel's job over TCP/WS
func (t *netConnTransport) Stop() error                 { return t.conn.Close() }

// Transport exposes this session's underlying connection through the
// spec's minimal Transport surface. Returns nil for a local session,
// which has no transport at all.
func (c *ClientSession) Transport() Transport {
	c.mu.Lock()
	rwc := c.rwc
	c.mu.Unlock()
	if rwc == nil {
		return nil
	}
	return &netConnTransport{conn: rwc, closed: func() bool { return !c.Connected() }}
}
