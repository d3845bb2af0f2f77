package tinymqtt

import (
	"context"
	"log"
	"net"
	"sync"

	"github.com/golang-io/tinymqtt/intern"
	"github.com/golang-io/tinymqtt/packet"
	"golang.org/x/sync/errgroup"
)

// Broker accepts MQTT 3.1.1 connections, fans out PUBLISH messages to
// every session whose subscriptions match, and optionally maintains a
// single upstream Bridge link.
type Broker struct {
	mu sync.RWMutex

	sessions map[*ClientSession]struct{} // broker-owned: accepted over the network
	local    map[*ClientSession]struct{} // caller-owned: attached via ConnectLocal

	auth  map[string]string
	table *intern.Table

	metrics *Metrics

	listener net.Listener

	bridge            *ClientSession
	bridgeAddr        string
	bridgeStateBoxPtr *bridgeStateBox
	bridgeStop        chan struct{}
}

// NewBroker builds a Broker ready to Serve or ListenAndServe. With no
// options its auth table is empty and it accepts CONNECTs with any
// credentials; DefaultConfig's guest/guest table applies only when it
// is passed in with FromConfig.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		sessions: make(map[*ClientSession]struct{}),
		local:    make(map[*ClientSession]struct{}),
		table:    &intern.Table{},
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ListenAndServe listens on addr and serves accepted connections until
// the listener is closed.
func (b *Broker) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("tinymqtt: broker listening: %s", addr)
	return b.Serve(ln)
}

// Serve accepts connections off l, spawning one ClientSession and one
// goroutine per accepted connection.
func (b *Broker) Serve(l net.Listener) error {
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()

	for {
		rwc, err := l.Accept()
		if err != nil {
			return err
		}
		sess := newServerSession(rwc, b)
		b.trackSession(sess, true)
		go sess.serve()
	}
}

// Run starts every listener cfg names and blocks until one of them
// returns an error: the MQTT listener on cfg.MQTT.URL (started
// unconditionally — an empty address is a caller error that
// net.Listen will report), the MQTT-over-WebSocket listener on
// cfg.Websocket.URL if non-empty, and the admin HTTP surface on
// cfg.HTTP.URL if non-empty.
func (b *Broker) Run(cfg Config) error {
	group, _ := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return b.ListenAndServe(cfg.MQTT.URL)
	})

	if cfg.Websocket.URL != "" {
		group.Go(func() error {
			return b.ListenAndServeWebsocket(cfg.Websocket.URL)
		})
	}

	if cfg.HTTP.URL != "" {
		group.Go(func() error {
			return b.ListenAndServeAdmin(cfg.HTTP.URL)
		})
	}

	return group.Wait()
}

// Close stops accepting new connections. Already-accepted sessions
// keep running until they close on their own.
func (b *Broker) Close() error {
	b.mu.Lock()
	ln := b.listener
	b.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (b *Broker) trackSession(c *ClientSession, add bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if add {
		b.sessions[c] = struct{}{}
		b.metrics.ActiveSessions.Inc()
	} else {
		delete(b.sessions, c)
	}
}

// registerLocal tracks a caller-owned local session so publish fan-out
// reaches it too. The broker never closes a local session itself.
func (b *Broker) registerLocal(c *ClientSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.local[c] = struct{}{}
	b.metrics.ActiveSessions.Inc()
}

// unregister drops a session (local or broker-owned) from every
// bookkeeping set. Safe to call more than once.
func (b *Broker) unregister(c *ClientSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[c]; ok {
		delete(b.sessions, c)
		return
	}
	delete(b.local, c)
}

// checkAuth validates CONNECT credentials against the broker's auth
// table. An empty table accepts any CONNECT, including ones that omit
// credentials entirely. Only the credential fields a CONNECT actually
// flags as present are compared; a CONNECT with neither flag set is
// permitted even when the broker has credentials configured — see
// options.go's Auth.
func (b *Broker) checkAuth(p *packet.CONNECT) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.auth) == 0 {
		return true
	}
	if !p.ConnectFlags.UserNameFlag() && !p.ConnectFlags.PasswordFlag() {
		return true
	}
	want, ok := b.auth[p.Username]
	return ok && want == p.Password
}

// publish fans a message out to every session (broker-owned and
// local) whose subscription set matches topicName; whether the origin
// itself receives a copy is left entirely to its own subscription set
// (publishIfSubscribed's filter match), so a publisher that is
// subscribed to its own topic does receive it back. When a bridge is
// connected and origin is not the bridge itself, the message is
// additionally forwarded upstream; a message arriving FROM the bridge
// is never sent back upstream (bridge non-reflection).
func (b *Broker) publish(origin *ClientSession, topicName string, payload []byte) error {
	b.mu.RLock()
	recipients := make([]*ClientSession, 0, len(b.sessions)+len(b.local))
	for c := range b.sessions {
		recipients = append(recipients, c)
	}
	for c := range b.local {
		recipients = append(recipients, c)
	}
	bridge := b.bridge
	b.mu.RUnlock()

	group, _ := errgroup.WithContext(context.Background())
	for _, c := range recipients {
		sess := c
		group.Go(func() error {
			return sess.publishIfSubscribed(topicName, payload)
		})
	}

	if bridge != nil && origin != bridge && bridge.Connected() {
		group.Go(func() error {
			return bridge.Publish(topicName, payload)
		})
	}

	return group.Wait()
}

// subscribe records filter against session and, if a bridge is
// connected, forwards the subscription upstream so the bridge starts
// receiving messages this broker otherwise has no subscriber for.
func (b *Broker) subscribe(session *ClientSession, filter string, qos byte) error {
	if err := session.addSubscription(filter); err != nil {
		return err
	}
	return b.forwardSubscribeUpstream(session, filter, qos)
}

// forwardSubscribeUpstream records filter in the bridge's own
// subscription set, unless session is the bridge itself (no point
// asking the upstream broker to tell itself about its own interest).
// Recording happens whether or not the bridge is currently connected:
// a subscription made while the bridge is down still belongs to its
// set, and handleConnack replays the whole set on every reconnect.
// When the bridge is connected right now, the SUBSCRIBE is also sent
// immediately instead of waiting for the next reconnect.
func (b *Broker) forwardSubscribeUpstream(session *ClientSession, filter string, qos byte) error {
	b.mu.RLock()
	bridge := b.bridge
	b.mu.RUnlock()
	if bridge == nil || bridge == session {
		return nil
	}
	if err := bridge.addSubscription(filter); err != nil {
		return err
	}
	if !bridge.Connected() {
		return nil
	}
	return bridge.sendSubscribePacket(filter, qos)
}

// allSubscribedFilters unions every filter currently subscribed by any
// session this broker tracks, network or local. Used to seed a fresh
// Bridge session's subscription set on first Connect, before it has
// ever received a forwarded SUBSCRIBE of its own.
func (b *Broker) allSubscribedFilters() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]struct{})
	for c := range b.sessions {
		for _, f := range c.subs.Filters() {
			seen[f] = struct{}{}
		}
	}
	for c := range b.local {
		for _, f := range c.subs.Filters() {
			seen[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	return out
}

// SessionCount reports the number of sessions (network + local) this
// broker currently tracks, for the /stats admin endpoint.
func (b *Broker) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions) + len(b.local)
}
