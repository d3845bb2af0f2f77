package tinymqtt

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/golang-io/tinymqtt/intern"
	"github.com/golang-io/tinymqtt/packet"
	"github.com/golang-io/tinymqtt/topic"
)

// Error values returned by ClientSession.Publish/Subscribe.
var (
	ErrNowhereToSend = errors.New("tinymqtt: nowhere to send: no broker and no transport attached")
	ErrInvalidMessage = errors.New("tinymqtt: invalid message")
)

// errClosed is returned internally by dispatch to tell serve to stop
// without writing anything further on the wire: bad CONNECT, credential
// mismatch, a malformed packet, or a DISCONNECT all collapse to this.
var errClosed = errors.New("tinymqtt: session closed")

const (
	defaultKeepAlive = 10 * time.Second
	acceptGrace      = 5 * time.Second
	brokerGrace      = 5 * time.Second
)

type sessionRole int

const (
	// roleLocal sessions have no transport; they are attached directly
	// to a Broker with ConnectLocal and communicate through Go calls.
	roleLocal sessionRole = iota
	// roleServer sessions were accepted by a Broker's listener; they
	// must send CONNECT before anything else.
	roleServer
	// roleClient sessions dialed out (the upstream bridge, or a
	// standalone network client); they send CONNECT themselves and
	// wait for CONNACK.
	roleClient
)

// ClientSession is the per-connection MQTT 3.1.1 state machine shared
// by every role this package plays: a broker-accepted network client,
// the broker-owned upstream bridge, and an in-process local client
// that never touches a socket.
type ClientSession struct {
	mu sync.Mutex

	id        string
	version   byte
	role      sessionRole
	isBridge  bool
	keepAlive time.Duration
	nextPktID uint16

	rwc net.Conn // nil for local clients

	broker        *Broker // non-owning back-pointer; nil until attached
	ownedByBroker bool

	subs   *topic.MemoryTrie
	subIdx map[string]intern.Index
	table  *intern.Table

	callback func(topicName string, payload []byte)

	connected bool
	closed    bool

	username, password string

	// pendingSubs carries NewClient's Subscription(...) option through
	// to the moment ConnectLocal/ConnectRemote attaches this session to
	// something capable of sending SUBSCRIBE.
	pendingSubs []string
}

// NewClient builds a local client: no transport, no broker, usable
// only after ConnectLocal or ConnectRemote attaches it to one.
func NewClient(opts ...ClientOption) *ClientSession {
	o := newClientOptions(opts...)
	c := &ClientSession{
		id:        o.ClientID,
		version:   packet.VERSION311,
		role:      roleLocal,
		keepAlive: time.Duration(o.KeepAlive) * time.Second,
		subs:      topic.NewMemoryTrie(),
		subIdx:    make(map[string]intern.Index),
		table:     intern.Default,
		username:  o.Username,
		password:  o.Password,
		connected: false,
	}
	c.pendingSubs = append([]string(nil), o.Subscriptions...)
	return c
}

func newServerSession(rwc net.Conn, b *Broker) *ClientSession {
	return &ClientSession{
		version:       packet.VERSION311,
		role:          roleServer,
		rwc:           rwc,
		broker:        b,
		ownedByBroker: true,
		subs:          topic.NewMemoryTrie(),
		subIdx:        make(map[string]intern.Index),
		table:         b.table,
	}
}

// ID returns the session's MQTT client identifier.
func (c *ClientSession) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Connected reports whether the session completed its CONNECT/CONNACK
// handshake (network roles) or was attached to a broker (local role).
func (c *ClientSession) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *ClientSession) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetCallback installs the function invoked for every PUBLISH this
// session's subscriptions match. Only meaningful for local clients and
// standalone network clients; broker-accepted sessions write PUBLISH
// packets on their transport instead.
func (c *ClientSession) SetCallback(fn func(topicName string, payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = fn
}

// IsSubscribedTo reports whether filter is currently held in this
// session's subscription set (exact-filter membership, not matching).
func (c *ClientSession) IsSubscribedTo(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subIdx[filter]
	return ok
}

// ConnectLocal attaches this session directly to broker b, bypassing
// the network entirely. The broker only ever holds a non-owning
// reference to a local session; the caller remains the owner and must
// Close it itself.
func (c *ClientSession) ConnectLocal(b *Broker) error {
	c.mu.Lock()
	c.role = roleLocal
	c.broker = b
	c.ownedByBroker = false
	c.connected = true
	c.table = b.table
	pending := c.pendingSubs
	c.pendingSubs = nil
	c.mu.Unlock()

	b.registerLocal(c)
	for _, f := range pending {
		if err := c.Subscribe(f, 0); err != nil {
			return err
		}
	}
	return nil
}

// ConnectRemote dials addr over TCP, sends CONNECT, and starts this
// session's read loop. Used both by standalone network clients and by
// Broker.Connect to establish the upstream bridge link.
func (c *ClientSession) ConnectRemote(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rwc = conn
	c.role = roleClient
	c.version = packet.VERSION311
	c.connected = false
	c.closed = false
	pending := c.pendingSubs
	c.pendingSubs = nil
	c.mu.Unlock()

	for _, f := range pending {
		if err := c.addSubscription(f); err != nil {
			_ = conn.Close()
			return err
		}
	}

	if err := c.sendConnect(); err != nil {
		_ = conn.Close()
		return err
	}
	go c.serve()
	return nil
}

func (c *ClientSession) sendConnect() error {
	c.mu.Lock()
	connect := &packet.CONNECT{
		FixedHeader: &packet.FixedHeader{Version: packet.VERSION311, Kind: 0x1},
		KeepAlive:   uint16(c.keepAlive / time.Second),
		ClientID:    c.id,
		Username:    c.username,
		Password:    c.password,
	}
	c.mu.Unlock()
	return c.sendPacket(connect)
}

// Publish builds a QoS-0 PUBLISH and dispatches it: to the attached
// broker's fan-out if one is present, or on this session's own
// transport if it has one, or fails with ErrNowhereToSend. Per
// this implementation, publishes never guarantee anything past QoS 0.
func (c *ClientSession) Publish(topicName string, payload []byte) error {
	if topicName == "" {
		return ErrInvalidMessage
	}
	c.mu.Lock()
	broker := c.broker
	rwc := c.rwc
	version := c.version
	c.mu.Unlock()

	if broker != nil {
		return broker.publish(c, topicName, payload)
	}
	if rwc != nil {
		pub := &packet.PUBLISH{
			FixedHeader: &packet.FixedHeader{Version: version, Kind: 0x3},
			Message:     &packet.Message{TopicName: topicName, Content: payload},
		}
		return c.sendPacket(pub)
	}
	return ErrNowhereToSend
}

// Subscribe inserts topicName into this session's subscription set and
// propagates the request: a bridge session additionally sends
// SUBSCRIBE upstream; a local client delegates to the broker's
// subscribe path so the broker can forward it to a connected bridge.
func (c *ClientSession) Subscribe(topicName string, qos byte) error {
	if err := c.addSubscription(topicName); err != nil {
		return err
	}
	c.mu.Lock()
	broker, rwc, isBridge, connected := c.broker, c.rwc, c.isBridge, c.connected
	role := c.role
	c.mu.Unlock()

	switch {
	case isBridge && rwc != nil:
		return c.sendSubscribePacket(topicName, qos)
	case broker != nil:
		return broker.forwardSubscribeUpstream(c, topicName, qos)
	case role == roleClient && rwc != nil && connected:
		return c.sendSubscribePacket(topicName, qos)
	default:
		return nil
	}
}

// Unsubscribe removes topicName from this session's subscription set
// and, for a network-transport session, tells the far end.
func (c *ClientSession) Unsubscribe(topicName string) error {
	c.removeSubscription(topicName)
	c.mu.Lock()
	rwc, connected := c.rwc, c.connected
	c.mu.Unlock()
	if rwc != nil && connected {
		return c.sendUnsubscribePacket(topicName)
	}
	return nil
}

// Close ends the session. If sendDisconnect is set and the session is
// still connected over a transport, it emits DISCONNECT first.
func (c *ClientSession) Close(sendDisconnect bool) error {
	c.mu.Lock()
	rwc, connected := c.rwc, c.connected
	already := c.closed
	c.mu.Unlock()
	if already {
		return nil
	}
	if sendDisconnect && rwc != nil && connected {
		_ = c.sendPacket(packet.NewDISCONNECT(c.version))
	}
	if rwc != nil {
		_ = rwc.Close()
	}
	c.terminate()
	return nil
}

// Loop is a no-op kept for API parity with a cooperative-scheduling
// model. Network I/O in this implementation runs on a dedicated
// goroutine per session with deadline-driven keep-alive (see serve),
// so there is nothing left for an explicit Loop call to advance.
func (c *ClientSession) Loop() error {
	return nil
}

func (c *ClientSession) addSubscription(filter string) error {
	if filter == "" {
		return ErrInvalidMessage
	}
	c.mu.Lock()
	table := c.table
	c.mu.Unlock()
	if table == nil {
		table = intern.Default
	}
	idx, _ := table.Intern(filter) // table exhaustion degrades to index 0 (§7): never matches, not an abort

	c.mu.Lock()
	if prev, exists := c.subIdx[filter]; exists {
		table.Release(prev) // re-subscribing to the same filter is idempotent
	}
	c.subIdx[filter] = idx
	c.mu.Unlock()
	return c.subs.Subscribe(filter)
}

func (c *ClientSession) removeSubscription(filter string) {
	c.mu.Lock()
	idx, ok := c.subIdx[filter]
	table := c.table
	if ok {
		delete(c.subIdx, filter)
	}
	c.mu.Unlock()
	if ok {
		if table == nil {
			table = intern.Default
		}
		table.Release(idx)
	}
	c.subs.Unsubscribe(filter)
}

// publishIfSubscribed is the broker fan-out's per-session delivery
// step: write on the transport, or invoke the callback, whichever
// this session has.
func (c *ClientSession) publishIfSubscribed(topicName string, payload []byte) error {
	if _, ok := c.subs.Find(topicName); !ok {
		return nil
	}
	c.mu.Lock()
	cb := c.callback
	rwc := c.rwc
	version := c.version
	c.mu.Unlock()

	if cb != nil {
		cb(topicName, payload)
		return nil
	}
	if rwc == nil {
		return nil
	}
	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: version, Kind: 0x3},
		Message:     &packet.Message{TopicName: topicName, Content: payload},
	}
	return c.sendPacket(pub)
}

func (c *ClientSession) nextPacketID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextPktID++
	if c.nextPktID == 0 {
		c.nextPktID = 1
	}
	return c.nextPktID
}

func (c *ClientSession) sendSubscribePacket(topicName string, qos byte) error {
	pid := c.nextPacketID()
	c.mu.Lock()
	version := c.version
	c.mu.Unlock()
	sub := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: version, Kind: 0x8, QoS: 1},
		PacketID:      pid,
		Subscriptions: []packet.Subscription{{TopicFilter: topicName, MaximumQoS: qos}},
	}
	return c.sendPacket(sub)
}

func (c *ClientSession) sendUnsubscribePacket(topicName string) error {
	pid := c.nextPacketID()
	c.mu.Lock()
	version := c.version
	c.mu.Unlock()
	unsub := &packet.UNSUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: version, Kind: 0xA, QoS: 1},
		PacketID:      pid,
		Subscriptions: []packet.Subscription{{TopicFilter: topicName}},
	}
	return c.sendPacket(unsub)
}

// countingWriter tallies every byte written through it into a
// Prometheus counter, so a broker's BytesSent metric reflects actual
// wire traffic rather than packet counts alone.
type countingWriter struct {
	w   io.Writer
	ctr prometheus.Counter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.ctr.Add(float64(n))
	}
	return n, err
}

// countingReader is countingWriter's read-side counterpart, feeding a
// broker's BytesReceived metric.
type countingReader struct {
	r   io.Reader
	ctr prometheus.Counter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.ctr.Add(float64(n))
	}
	return n, err
}

func (c *ClientSession) sendPacket(pkt packet.Packet) error {
	c.mu.Lock()
	rwc := c.rwc
	c.mu.Unlock()
	if rwc == nil {
		return ErrNowhereToSend
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var w io.Writer = rwc
	if c.broker != nil {
		w = &countingWriter{w: rwc, ctr: c.broker.metrics.BytesSent}
	}
	err := pkt.Pack(w)
	if err == nil && c.broker != nil {
		c.broker.metrics.PacketsSent.Inc()
	}
	return err
}

// serve drains pkt.Unpack off the transport until it errors, closes,
// or the connection is torn down; each iteration's read deadline
// implements the keep-alive model without a separate timer goroutine
// (see readTimeout/handleTimeout).
func (c *ClientSession) serve() {
	defer c.terminate()
	for {
		timeout := c.readTimeout()
		if timeout > 0 {
			_ = c.rwc.SetReadDeadline(time.Now().Add(timeout))
		} else {
			_ = c.rwc.SetReadDeadline(time.Time{})
		}

		var r io.Reader = c.rwc
		if c.broker != nil {
			r = &countingReader{r: c.rwc, ctr: c.broker.metrics.BytesReceived}
		}
		pkt, err := packet.Unpack(packet.VERSION311, r)
		if err != nil {
			if isTimeout(err) {
				if c.handleTimeout() {
					continue
				}
			}
			return
		}
		if c.broker != nil {
			c.broker.metrics.PacketsReceived.Inc()
		}
		if err := c.dispatch(pkt); err != nil {
			return
		}
	}
}

func (c *ClientSession) readTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.role == roleServer && !c.connected:
		return acceptGrace
	case c.role == roleServer && c.connected:
		if c.keepAlive == 0 {
			return 0
		}
		return c.keepAlive + brokerGrace
	case c.role == roleClient:
		if c.keepAlive == 0 {
			return 0
		}
		return c.keepAlive
	default:
		return 0
	}
}

// handleTimeout responds to a read deadline expiry: a self-managed
// client sends PINGREQ and keeps looping; a broker-managed session is
// simply closed.
func (c *ClientSession) handleTimeout() bool {
	c.mu.Lock()
	role, connected := c.role, c.connected
	c.mu.Unlock()
	if role == roleClient && connected {
		if err := c.sendPacket(&packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: 0xC}}); err != nil {
			return false
		}
		return true
	}
	return false
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// dispatch switches on the inbound packet's type. Returning a non-nil
// error always means "stop serving, do not reply" — the distinction
// between a protocol error, a credential mismatch, and a graceful
// DISCONNECT only matters for logging.
func (c *ClientSession) dispatch(pkt packet.Packet) error {
	c.refreshDeadline()
	switch p := pkt.(type) {
	case *packet.RESERVED:
		return errClosed

	case *packet.CONNECT:
		return c.handleConnect(p)

	case *packet.CONNACK:
		return c.handleConnack(p)

	case *packet.SUBSCRIBE:
		return c.handleSubscribe(p)

	case *packet.UNSUBSCRIBE:
		return c.handleUnsubscribe(p)

	case *packet.PUBLISH:
		return c.handlePublish(p)

	case *packet.SUBACK, *packet.UNSUBACK, *packet.PUBACK:
		return nil

	case *packet.PINGREQ:
		return c.sendPacket(&packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: c.version, Kind: 0xD}})

	case *packet.PINGRESP:
		return nil

	case *packet.DISCONNECT:
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return errClosed

	default:
		return fmt.Errorf("tinymqtt: unexpected packet %T", p)
	}
}

func (c *ClientSession) refreshDeadline() {
	// Read deadlines are recomputed on every serve() loop iteration
	// (readTimeout), so there is no separate deadline field to bump
	// here; this hook exists so dispatch has one obvious place future
	// per-packet bookkeeping (e.g. liveness stats) would attach to.
}

func (c *ClientSession) handleConnect(p *packet.CONNECT) error {
	c.mu.Lock()
	role, connected, broker := c.role, c.connected, c.broker
	c.mu.Unlock()
	if role != roleServer || connected || broker == nil {
		return errClosed
	}
	if !broker.checkAuth(p) {
		return errClosed // credential mismatch: close silently, no reply
	}

	c.mu.Lock()
	c.id = p.ClientID
	c.version = p.Version
	c.connected = true
	c.keepAlive = time.Duration(p.KeepAlive) * time.Second
	c.mu.Unlock()

	log.Printf("tinymqtt: client connected: id=%s keepalive=%ds", p.ClientID, p.KeepAlive)

	connack := &packet.CONNACK{
		FixedHeader:       &packet.FixedHeader{Version: p.Version, Kind: 0x2},
		SessionPresent:    0,
		ConnectReturnCode: packet.CodeSuccess,
	}
	return c.sendPacket(connack)
}

func (c *ClientSession) handleConnack(p *packet.CONNACK) error {
	c.mu.Lock()
	role, connected := c.role, c.connected
	c.mu.Unlock()
	if role != roleClient || connected {
		return errClosed
	}
	if p.ConnectReturnCode.Code != 0 {
		return errClosed
	}

	c.mu.Lock()
	c.connected = true
	isBridge := c.isBridge
	broker := c.broker
	version := c.version
	filters := c.subs.Filters()
	c.mu.Unlock()

	log.Printf("tinymqtt: connected to upstream: id=%s", c.ID())
	if isBridge && broker != nil {
		broker.setBridgeState(BridgeConnected)
	}
	if len(filters) == 0 {
		return nil
	}
	subs := make([]packet.Subscription, 0, len(filters))
	for _, f := range filters {
		subs = append(subs, packet.Subscription{TopicFilter: f})
	}
	pid := c.nextPacketID()
	resub := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: version, Kind: 0x8, QoS: 1},
		PacketID:      pid,
		Subscriptions: subs,
	}
	return c.sendPacket(resub)
}

func (c *ClientSession) handleSubscribe(p *packet.SUBSCRIBE) error {
	c.mu.Lock()
	broker := c.broker
	c.mu.Unlock()
	if broker == nil {
		return errClosed
	}
	reasons := make([]packet.ReasonCode, 0, len(p.Subscriptions))
	var filters []string
	for _, sub := range p.Subscriptions {
		_ = broker.subscribe(c, sub.TopicFilter, sub.MaximumQoS)
		code := uint8(0)
		if sub.MaximumQoS != 0 {
			code = 0x80 // only QoS 0 is ever granted
		}
		reasons = append(reasons, packet.ReasonCode{Code: code})
		filters = append(filters, sub.TopicFilter)
	}
	log.Printf("tinymqtt: subscribe: id=%s topics=%v", c.ID(), filters)
	suback := &packet.SUBACK{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: 0x9},
		PacketID:    p.PacketID,
		ReasonCode:  reasons,
	}
	return c.sendPacket(suback)
}

func (c *ClientSession) handleUnsubscribe(p *packet.UNSUBSCRIBE) error {
	for _, sub := range p.Subscriptions {
		c.removeSubscription(sub.TopicFilter)
	}
	unsuback := &packet.UNSUBACK{
		FixedHeader: &packet.FixedHeader{Version: c.version, Kind: 0xB},
		PacketID:    p.PacketID,
	}
	return c.sendPacket(unsuback)
}

func (c *ClientSession) handlePublish(p *packet.PUBLISH) error {
	c.mu.Lock()
	broker := c.broker
	c.mu.Unlock()
	if broker != nil {
		return broker.publish(c, p.Message.TopicName, p.Message.Content)
	}
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		if _, ok := c.subs.Find(p.Message.TopicName); ok {
			cb(p.Message.TopicName, p.Message.Content)
		}
	}
	return nil
}

// terminate runs once per connection attempt: it always closes the
// transport and detaches from the broker's bookkeeping if broker-owned.
// It only releases this session's interned subscriptions when the
// session itself is going away for good. A Bridge session is reused
// across reconnect attempts by maintainBridge (same *ClientSession,
// new transport each dial) specifically so its subscription set
// survives a transient disconnect and gets replayed by handleConnack
// on the next successful CONNACK — clearing it here would defeat
// the subscription replay a reconnect is supposed to trigger.
func (c *ClientSession) terminate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	broker := c.broker
	ownedByBroker := c.ownedByBroker
	isBridge := c.isBridge
	rwc := c.rwc
	c.mu.Unlock()

	if !isBridge {
		c.mu.Lock()
		filters := make([]string, 0, len(c.subIdx))
		for f := range c.subIdx {
			filters = append(filters, f)
		}
		c.mu.Unlock()
		for _, f := range filters {
			c.removeSubscription(f)
		}
	}

	if rwc != nil {
		_ = rwc.Close()
	}
	if broker != nil {
		if isBridge {
			// Never tracked in broker.sessions/local (Broker.Connect
			// doesn't call trackSession/registerLocal for it) and never
			// counted in ActiveSessions, so neither is touched here.
			broker.setBridgeState(BridgeDisconnected)
		} else {
			if ownedByBroker {
				broker.unregister(c)
			}
			broker.metrics.ActiveSessions.Dec()
		}
	}
}
