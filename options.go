package tinymqtt

import (
	"github.com/golang-io/requests"
)

// Listen describes one network address the broker answers on.
type Listen struct {
	URL string `json:"url"`
}

// Config holds the broker-wide settings recognized at configuration
// time: listen addresses plus the auth table. The default credential
// pair is guest/guest.
type Config struct {
	MQTT      Listen            `json:"mqtt"`
	HTTP      Listen            `json:"http"`
	Websocket Listen            `json:"websocket"`
	Auth      map[string]string `json:"auth"`
}

// DefaultConfig returns a Broker configuration with guest/guest
// credentials and no HTTP/websocket listener until configured.
func DefaultConfig() Config {
	return Config{
		Auth: map[string]string{"guest": "guest"},
	}
}

// ClientOptions configures a ClientSession constructed with NewClient.
type ClientOptions struct {
	ClientID      string
	KeepAlive     uint16 // seconds; 0 disables broker-side timeout
	Subscriptions []string
	Username      string
	Password      string
}

// ClientOption mutates ClientOptions; the functional-options shape
// is a standard functional-options pattern.
type ClientOption func(*ClientOptions)

func newClientOptions(opts ...ClientOption) ClientOptions {
	o := ClientOptions{
		ClientID:  "tinymqtt-" + requests.GenId(),
		KeepAlive: 10, // default client keep-alive, in seconds
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ClientID sets the CONNECT client identifier.
func ClientID(id string) ClientOption {
	return func(o *ClientOptions) { o.ClientID = id }
}

// KeepAlive sets the negotiated keep-alive interval in seconds.
func KeepAlive(seconds uint16) ClientOption {
	return func(o *ClientOptions) { o.KeepAlive = seconds }
}

// Subscription pre-registers topic filters to subscribe to as soon as
// the session is attached (locally) or connected (over the network).
func Subscription(filters ...string) ClientOption {
	return func(o *ClientOptions) { o.Subscriptions = append(o.Subscriptions, filters...) }
}

// Credentials sets the username/password this session presents on
// outbound CONNECT (used by network clients and the upstream bridge).
func Credentials(username, password string) ClientOption {
	return func(o *ClientOptions) { o.Username, o.Password = username, password }
}

// BrokerOption mutates a Broker at construction time.
type BrokerOption func(*Broker)

// Auth replaces the broker's username/password table. An empty map
// accepts every CONNECT. A non-empty map still permits CONNECTs that
// omit credentials entirely — a deliberate, documented security gap
// (see DESIGN.md).
func Auth(creds map[string]string) BrokerOption {
	return func(b *Broker) {
		b.auth = make(map[string]string, len(creds))
		for k, v := range creds {
			b.auth[k] = v
		}
	}
}

// FromConfig applies cfg's auth table to the broker at construction
// time; pair with (*Broker).Run(cfg) to also start the listeners cfg
// names.
func FromConfig(cfg Config) BrokerOption {
	return Auth(cfg.Auth)
}
