package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultOperationTimeout bounds subscribe acknowledgments.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options configures a broker connection.
type Options struct {
	// BrokerURL is the broker address: tcp://host:1883, ssl://host:8883,
	// mqtts://, ws:// or wss://.
	BrokerURL string

	// ClientID identifies this connection to the broker.
	ClientID string

	Username string
	Password string

	// ConnectTimeout bounds the initial connection. Zero uses the default.
	ConnectTimeout time.Duration

	// KeepAlive is the ping interval. Zero uses the default.
	KeepAlive time.Duration
}

// validate checks the options and returns the parsed broker URL.
func (o Options) validate() (*url.URL, error) {
	if o.BrokerURL == "" {
		return nil, fmt.Errorf("%w: broker url is required", ErrInvalidOptions)
	}
	u, err := url.Parse(o.BrokerURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid broker url %q", ErrInvalidOptions, o.BrokerURL)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidOptions, u.Scheme)
	}
	if o.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidOptions)
	}
	return u, nil
}

func isTLS(scheme string) bool {
	switch scheme {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return false
}

// buildClientOptions creates paho MQTT options.
//
// This configures:
//   - Broker URL and TLS (for secure schemes)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Clean session mode
//   - No automatic reconnect
func buildClientOptions(o Options, u *url.URL) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	broker := *u
	if broker.Scheme == "mqtt" {
		broker.Scheme = "tcp"
	}
	opts.AddBroker(broker.String())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Clean session - retained messages are redelivered on every subscribe
	opts.SetCleanSession(true)

	// The adapter manager owns retries and resyncs after every reconnect
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(timeout)

	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if isTLS(u.Scheme) {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
