package tinymqtt

import (
	"net"
	"testing"
	"time"

	"github.com/golang-io/tinymqtt/packet"
)

// TestClientSession_KeepAlivePing exercises scenario 5: a client with a
// short keep-alive and no outgoing traffic emits PINGREQ on its own
// within [keepAlive, keepAlive+epsilon].
func TestClientSession_KeepAlivePing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Drain and ack the CONNECT so ClientSession considers
		// itself connected and starts its keep-alive clock.
		if _, err := packet.Unpack(packet.VERSION311, conn); err != nil {
			return
		}
		connack := &packet.CONNACK{FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x2}, ConnectReturnCode: packet.CodeSuccess}
		_ = connack.Pack(conn)
		accepted <- conn
	}()

	c := NewClient(ClientID("pinger"), KeepAlive(1))
	if err := c.ConnectRemote(ln.Addr().String()); err != nil {
		t.Fatalf("ConnectRemote: %v", err)
	}

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer conn.Close()

	start := time.Now()
	_ = conn.SetReadDeadline(start.Add(3 * time.Second))
	pkt, err := packet.Unpack(packet.VERSION311, conn)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if _, ok := pkt.(*packet.PINGREQ); !ok {
		t.Fatalf("got %T, want *packet.PINGREQ", pkt)
	}
	elapsed := time.Since(start)
	if elapsed < 900*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("PINGREQ arrived after %v, want within [900ms, 2s]", elapsed)
	}
}
