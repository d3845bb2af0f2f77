package tinymqtt

import (
	"net"
	"testing"
	"time"
)

func startBroker(t *testing.T, opts ...BrokerOption) (*Broker, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := NewBroker(opts...)
	go b.Serve(ln)
	t.Cleanup(func() { _ = b.Close() })
	return b, ln.Addr().String()
}

func TestBroker_NetworkClientReceivesLocalPublish(t *testing.T) {
	b, addr := startBroker(t)

	received := make(chan string, 1)
	n := NewClient(ClientID("N"))
	n.SetCallback(func(topicName string, payload []byte) {
		received <- topicName + "=" + string(payload)
	})
	if err := n.ConnectRemote(addr); err != nil {
		t.Fatalf("ConnectRemote: %v", err)
	}
	waitConnected(t, n)

	if err := n.Subscribe("x", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let SUBSCRIBE reach the broker

	l := NewClient(ClientID("L"))
	if err := l.ConnectLocal(b); err != nil {
		t.Fatalf("ConnectLocal: %v", err)
	}
	if err := l.Publish("x", []byte("v")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got != "x=v" {
			t.Errorf("got %q, want x=v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PUBLISH over the network transport")
	}
}

func TestBroker_MalformedConnectVersionClosesSession(t *testing.T) {
	_, addr := startBroker(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Fixed header for CONNECT (type 1, flags 0), remaining length 10:
	// protocol name "MQTT", version byte 5 (unsupported), connect
	// flags 0, keep-alive 10s.
	msg := []byte{0x10, 0x0A, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x05, 0x00, 0x00, 0x0A}
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	if err == nil {
		t.Fatalf("expected broker to close the connection without replying, got %d bytes", n)
	}
}

func TestBroker_AuthRejectsBadCredentials(t *testing.T) {
	_, addr := startBroker(t, Auth(map[string]string{"guest": "guest"}))

	c := NewClient(ClientID("bad-creds"), Credentials("guest", "wrong"))
	if err := c.ConnectRemote(addr); err != nil {
		t.Fatalf("ConnectRemote: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if c.Connected() {
		t.Fatal("expected session to be closed after bad credentials")
	}
}

func TestBroker_AuthAcceptsGoodCredentials(t *testing.T) {
	_, addr := startBroker(t, Auth(map[string]string{"guest": "guest"}))

	c := NewClient(ClientID("good-creds"), Credentials("guest", "guest"))
	if err := c.ConnectRemote(addr); err != nil {
		t.Fatalf("ConnectRemote: %v", err)
	}
	waitConnected(t, c)
}

// TestBroker_AuthAcceptsMissingCredentials covers the documented hole
// recorded in DESIGN.md: a CONNECT that omits both the username and
// password flags must be let through even though the broker has an
// auth table configured — only a CONNECT that actually presents
// credentials gets those credentials checked.
func TestBroker_AuthAcceptsMissingCredentials(t *testing.T) {
	_, addr := startBroker(t, Auth(map[string]string{"guest": "guest"}))

	c := NewClient(ClientID("no-creds"))
	if err := c.ConnectRemote(addr); err != nil {
		t.Fatalf("ConnectRemote: %v", err)
	}
	waitConnected(t, c)
}

// TestBroker_PublisherReceivesOwnPublishWhenSubscribed covers the
// fan-out guarantee that the source itself is permitted to receive its
// own publish back if it is subscribed to a filter the topic matches —
// delivery is decided purely by the subscription match, not by an
// identity check against the origin.
func TestBroker_PublisherReceivesOwnPublishWhenSubscribed(t *testing.T) {
	b, _ := startBroker(t)

	received := make(chan string, 1)
	l := NewClient(ClientID("L"))
	l.SetCallback(func(topicName string, payload []byte) {
		received <- topicName + "=" + string(payload)
	})
	if err := l.ConnectLocal(b); err != nil {
		t.Fatalf("ConnectLocal: %v", err)
	}
	if err := l.Subscribe("x", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := l.Publish("x", []byte("v")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got != "x=v" {
			t.Errorf("got %q, want x=v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the self-subscribed publish to loop back")
	}
}

func waitConnected(t *testing.T, c *ClientSession) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Connected() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for session to connect")
}

func TestDefaultConfig_GuestCredentials(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Auth["guest"] != "guest" {
		t.Fatalf("expected default guest/guest credentials, got %+v", cfg.Auth)
	}
}

// TestBroker_FromConfigAppliesAuth covers Config/FromConfig: a broker
// built with FromConfig(cfg) must enforce cfg's auth table exactly
// like one built with the Auth option directly.
func TestBroker_FromConfigAppliesAuth(t *testing.T) {
	cfg := Config{Auth: map[string]string{"guest": "guest"}}
	_, addr := startBroker(t, FromConfig(cfg))

	good := NewClient(ClientID("good"), Credentials("guest", "guest"))
	if err := good.ConnectRemote(addr); err != nil {
		t.Fatalf("ConnectRemote: %v", err)
	}
	waitConnected(t, good)

	bad := NewClient(ClientID("bad"), Credentials("guest", "wrong"))
	if err := bad.ConnectRemote(addr); err != nil {
		t.Fatalf("ConnectRemote: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if bad.Connected() {
		t.Fatal("expected session to be closed after bad credentials")
	}
}

// TestBroker_RunStartsConfiguredListener covers (*Broker).Run: it
// starts the MQTT listener cfg.MQTT.URL names and returns once that
// listener is closed.
func TestBroker_RunStartsConfiguredListener(t *testing.T) {
	cfg := Config{MQTT: Listen{URL: "127.0.0.1:0"}}
	b := NewBroker(FromConfig(cfg))

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(cfg) }()
	time.Sleep(50 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected Run to return an error once its listener is closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}
