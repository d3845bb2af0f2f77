package tinymqtt

import (
	"log"
	"math/rand"
	"sync/atomic"
	"time"
)

// BridgeState is the upstream Bridge's connection state: Disconnected,
// Connecting, or Connected.
type BridgeState int32

const (
	BridgeDisconnected BridgeState = iota
	BridgeConnecting
	BridgeConnected
)

func (s BridgeState) String() string {
	switch s {
	case BridgeConnecting:
		return "connecting"
	case BridgeConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// bridgeStateBox lets BridgeState live behind an atomic without
// importing atomic.Int32 plumbing into Broker's own field list.
type bridgeStateBox struct{ v atomic.Int32 }

func (b *Broker) setBridgeState(s BridgeState) {
	b.bridgeStateAtomic().v.Store(int32(s))
}

func (b *Broker) bridgeStateAtomic() *bridgeStateBox {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bridgeStateBoxPtr == nil {
		b.bridgeStateBoxPtr = &bridgeStateBox{}
	}
	return b.bridgeStateBoxPtr
}

// BridgeState reports the upstream bridge's current connection state.
func (b *Broker) BridgeState() BridgeState {
	return BridgeState(b.bridgeStateAtomic().v.Load())
}

// Connect establishes this broker's single upstream Bridge: a
// ClientSession that dials addr, replays every locally-known
// subscription on connect, and reconnects with backoff on failure.
func (b *Broker) Connect(addr string, opts ...ClientOption) error {
	b.mu.Lock()
	if b.bridge != nil {
		b.mu.Unlock()
		return nil
	}
	sess := NewClient(opts...)
	sess.isBridge = true
	sess.broker = b
	sess.ownedByBroker = true
	sess.table = b.table
	b.bridge = sess
	b.bridgeAddr = addr
	b.bridgeStop = make(chan struct{})
	stop := b.bridgeStop
	b.mu.Unlock()

	for _, f := range b.allSubscribedFilters() {
		_ = sess.addSubscription(f)
	}

	b.setBridgeState(BridgeConnecting)
	go b.maintainBridge(sess, addr, stop)
	return nil
}

// maintainBridge keeps the upstream link up: dial, serve until it
// drops, then reconnect with exponential backoff capped at 30s plus
// jitter, until DisconnectBridge is called.
func (b *Broker) maintainBridge(sess *ClientSession, addr string, stop chan struct{}) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-stop:
			return
		default:
		}

		b.setBridgeState(BridgeConnecting)
		if err := sess.ConnectRemote(addr); err != nil {
			log.Printf("tinymqtt: bridge dial failed: addr=%s err=%v", addr, err)
			b.setBridgeState(BridgeDisconnected)
			if !sleepOrStop(backoff, stop) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = time.Second
		waitUntilClosed(sess)
		b.setBridgeState(BridgeDisconnected)

		select {
		case <-stop:
			return
		default:
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(rand.Int63n(int64(next) / 4 + 1))
	return next + jitter
}

func sleepOrStop(d time.Duration, stop chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// waitUntilClosed blocks until sess's connection has run its course. It
// first waits for the CONNACK handshake to complete — sess.connected is
// still false right after ConnectRemote returns, since that only means
// the TCP dial and CONNECT write succeeded — and only then watches for
// disconnect, so a session that is healthy but hasn't handshaked yet is
// never mistaken for one that already dropped.
func waitUntilClosed(sess *ClientSession) {
	handshakeDeadline := time.Now().Add(10 * time.Second)
	for !sess.Connected() {
		if sess.isClosed() || time.Now().After(handshakeDeadline) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	for sess.Connected() {
		time.Sleep(100 * time.Millisecond)
	}
}

// DisconnectBridge tears down the upstream bridge link permanently.
func (b *Broker) DisconnectBridge() error {
	b.mu.Lock()
	sess := b.bridge
	stop := b.bridgeStop
	b.bridge = nil
	b.bridgeStop = nil
	b.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if sess == nil {
		return nil
	}
	b.setBridgeState(BridgeDisconnected)
	return sess.Close(true)
}
