package adapters

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/james-bug/DMS-Client/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout   = 30 * time.Second
	MQTTDefaultPublishTimeout   = 5 * time.Second
	MQTTDefaultSubscribeTimeout = 5 * time.Second
	MQTTDefaultKeepAlive        = 60 * time.Second
	MQTTDefaultReceiveBuffer    = 16

	// Quiesce window for a graceful MQTT DISCONNECT.
	mqttDisconnectQuiesceMs = 250
)

var (
	ErrMQTTConnectTimeout   = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout   = fmt.Errorf("publish timeout")
	ErrMQTTSubscribeTimeout = fmt.Errorf("subscribe timeout")
)

type MQTTConnectionParams struct {
	Endpoint string
	Port     int
	ClientID string

	CACertPath     string
	ClientCertPath string
	PrivateKeyPath string

	KeepAlive        time.Duration
	ConnectTimeout   time.Duration
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration

	// ReceiveBufferSize bounds the inbound message buffer between the
	// transport goroutine and Poll. Messages arriving while it is full
	// are dropped.
	ReceiveBufferSize int

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (p *MQTTConnectionParams) EnsureDefaults() {
	if p.KeepAlive == 0 {
		p.KeepAlive = MQTTDefaultKeepAlive
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = MQTTDefaultConnectTimeout
	}
	if p.PublishTimeout == 0 {
		p.PublishTimeout = MQTTDefaultPublishTimeout
	}
	if p.SubscribeTimeout == 0 {
		p.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}
	if p.ReceiveBufferSize == 0 {
		p.ReceiveBufferSize = MQTTDefaultReceiveBuffer
	}
	if p.NewClientFunc == nil {
		p.NewClientFunc = mqtt.NewClient
	}
}

type inboundMessage struct {
	topic   string
	payload []byte
}

// MQTTConnection owns one mutually authenticated MQTT session. Retry policy
// deliberately lives elsewhere: auto-reconnect is disabled on the underlying
// client and every failure is surfaced to the caller.
type MQTTConnection struct {
	params MQTTConnectionParams

	client mqtt.Client

	state       atomic.Int32
	connectedAt atomic.Pointer[time.Time]

	inbound chan inboundMessage
	lost    chan error

	mu      sync.RWMutex
	handler application.MessageHandler

	log zerolog.Logger
}

func NewMQTTConnection(params MQTTConnectionParams) (*MQTTConnection, error) {
	params.EnsureDefaults()

	if params.Endpoint == "" || params.ClientID == "" {
		return nil, fmt.Errorf("%w: endpoint and client id are required", application.ErrInvalidParameter)
	}

	tlsConfig, err := newMutualTLSConfig(params.CACertPath, params.ClientCertPath, params.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	c := &MQTTConnection{
		params:  params,
		inbound: make(chan inboundMessage, params.ReceiveBufferSize),
		lost:    make(chan error, 1),
		log:     params.Log,
	}
	c.state.Store(int32(application.StateDisconnected))
	c.client = c.newMqttClient(tlsConfig)

	return c, nil
}

// Connect performs the TLS handshake and the MQTT session handshake. A
// handshake failure is an ErrTransport, a broker rejection an ErrProtocol.
func (c *MQTTConnection) Connect() error {
	if c.IsConnected() {
		return nil
	}

	c.state.Store(int32(application.StateConnecting))
	c.drainInbound()

	tc := time.NewTimer(c.params.ConnectTimeout)
	defer tc.Stop()

	token := c.client.Connect()
	select {
	case <-tc.C:
		c.state.Store(int32(application.StateDisconnected))
		return fmt.Errorf("%w: %w", application.ErrTransport, ErrMQTTConnectTimeout)
	case <-token.Done():
		if err := token.Error(); err != nil {
			c.state.Store(int32(application.StateDisconnected))
			return classifyConnectError(err)
		}
	}

	now := time.Now()
	c.connectedAt.Store(&now)
	c.state.Store(int32(application.StateConnected))
	c.log.Info().Str("endpoint", c.params.Endpoint).Msg("session established")
	return nil
}

// Disconnect closes the session best-effort. It is safe to call in any
// state and always leaves the connection disconnected.
func (c *MQTTConnection) Disconnect() {
	if c.client.IsConnectionOpen() {
		c.client.Disconnect(mqttDisconnectQuiesceMs)
	}
	c.state.Store(int32(application.StateDisconnected))

	// Clear a pending lost signal so the next session starts clean.
	select {
	case <-c.lost:
	default:
	}
	c.log.Debug().Msg("session closed")
}

func (c *MQTTConnection) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return application.ErrNotConnected
	}

	tc := time.NewTimer(c.params.PublishTimeout)
	defer tc.Stop()

	token := c.client.Publish(topic, 1, false, payload)
	select {
	case <-tc.C:
		return fmt.Errorf("%w: %w", application.ErrTimeout, ErrMQTTPublishTimeout)
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: publish to %s: %w", application.ErrTransport, topic, err)
		}
	}
	return nil
}

// Subscribe registers handler as the process-wide message callback (the
// last registration wins) and subscribes to topic at QoS 1.
func (c *MQTTConnection) Subscribe(topic string, handler application.MessageHandler) error {
	if !c.IsConnected() {
		return application.ErrNotConnected
	}
	if handler == nil {
		return fmt.Errorf("%w: nil message handler", application.ErrInvalidParameter)
	}

	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	tc := time.NewTimer(c.params.SubscribeTimeout)
	defer tc.Stop()

	token := c.client.Subscribe(topic, 1, c.route)
	select {
	case <-tc.C:
		return fmt.Errorf("%w: %w", application.ErrTimeout, ErrMQTTSubscribeTimeout)
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: subscribe %s: %w", application.ErrProtocol, topic, err)
		}
	}
	return nil
}

// Poll dispatches buffered inbound messages to the registered handler,
// synchronously and in arrival order, until timeout elapses. When the
// session has dropped it returns ErrConnectionLost and leaves recovery to
// the caller.
func (c *MQTTConnection) Poll(timeout time.Duration) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: session not active", application.ErrConnectionLost)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-c.inbound:
			c.dispatch(msg)
		case err := <-c.lost:
			c.state.Store(int32(application.StateDisconnected))
			return fmt.Errorf("%w: %w", application.ErrConnectionLost, err)
		case <-timer.C:
			return nil
		}
	}
}

func (c *MQTTConnection) IsConnected() bool {
	return c.State() == application.StateConnected
}

func (c *MQTTConnection) State() application.ConnectionState {
	return application.ConnectionState(c.state.Load())
}

// ConnectedSince returns the time of the last successful handshake.
func (c *MQTTConnection) ConnectedSince() time.Time {
	if t := c.connectedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

func (c *MQTTConnection) dispatch(msg inboundMessage) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		c.log.Warn().Str("topic", msg.topic).Msg("inbound message with no handler registered")
		return
	}
	handler(msg.topic, msg.payload)
}

// route runs on the transport goroutine: it hands the message to the poll
// loop through the bounded buffer, dropping when the buffer is full.
func (c *MQTTConnection) route(_ mqtt.Client, msg mqtt.Message) {
	select {
	case c.inbound <- inboundMessage{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		c.log.Warn().Str("topic", msg.Topic()).Msg("receive buffer full, dropping message")
	}
}

func (c *MQTTConnection) drainInbound() {
	for {
		select {
		case <-c.inbound:
		default:
			return
		}
	}
}

func (c *MQTTConnection) onConnect(_ mqtt.Client) {
	c.log.Debug().Msg("broker accepted session")
}

func (c *MQTTConnection) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn().Err(err).Msg("connection lost")
	c.state.Store(int32(application.StateDisconnected))
	select {
	case c.lost <- err:
	default:
	}
}

func (c *MQTTConnection) newMqttClient(tlsConfig *tls.Config) mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(fmt.Sprintf("ssl://%s:%d", c.params.Endpoint, c.params.Port))
	opts.SetClientID(c.params.ClientID)
	opts.SetTLSConfig(tlsConfig)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(c.params.KeepAlive)

	// Recovery is the reconnect engine's job.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetDefaultPublishHandler(c.route)
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = c.onConnectionLost

	return c.params.NewClientFunc(opts)
}

func newMutualTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read CA certificate: %w", application.ErrInvalidParameter, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: no certificates in %s", application.ErrInvalidParameter, caPath)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load client key pair: %w", application.ErrInvalidParameter, err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// classifyConnectError separates transport-level handshake failures from
// broker-side session rejections.
func classifyConnectError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", application.ErrTransport, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", application.ErrTransport, err)
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return fmt.Errorf("%w: %w", application.ErrTransport, err)
	}
	return fmt.Errorf("%w: %w", application.ErrProtocol, err)
}

var _ application.Connection = &MQTTConnection{}
