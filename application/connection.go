package application

import (
	"fmt"
	"time"
)

// ConnectionState tracks the lifecycle of the secure pub/sub session.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// MessageHandler receives every inbound publish. It is invoked synchronously
// from Poll, on the caller's goroutine, one message at a time.
type MessageHandler func(topic string, payload []byte)

// Connection is the secure transport + pub/sub session owned by the
// connection manager. Publish, Subscribe and Poll are only valid while the
// session is active; transitions out of StateConnected happen only through
// the ReconnectEngine.
type Connection interface {
	// Connect performs the mutual-TLS handshake followed by the session
	// handshake (clean session, identity, keep-alive).
	Connect() error

	// Disconnect closes the session best-effort and never blocks
	// indefinitely. The state is StateDisconnected afterwards.
	Disconnect()

	// Publish sends payload to topic at QoS 1.
	Publish(topic string, payload []byte) error

	// Subscribe registers the process-wide message handler and subscribes
	// to topic. There is exactly one handler; the last registration wins.
	Subscribe(topic string, handler MessageHandler) error

	// Poll drives one event-pump iteration, dispatching any inbound
	// publishes to the registered handler before returning. On fatal I/O
	// failure it transitions to StateDisconnected and returns
	// ErrConnectionLost without attempting recovery.
	Poll(timeout time.Duration) error

	IsConnected() bool
	State() ConnectionState
}

// ShadowTopics is the per-device shadow topic scheme.
type ShadowTopics struct {
	Update         string
	UpdateAccepted string
	UpdateRejected string
	UpdateDelta    string
	Get            string
	GetAccepted    string
	GetRejected    string
}

// NewShadowTopics derives the topic set for one device identity.
func NewShadowTopics(clientID string) ShadowTopics {
	prefix := "$aws/things/" + clientID + "/shadow"
	return ShadowTopics{
		Update:         prefix + "/update",
		UpdateAccepted: prefix + "/update/accepted",
		UpdateRejected: prefix + "/update/rejected",
		UpdateDelta:    prefix + "/update/delta",
		Get:            prefix + "/get",
		GetAccepted:    prefix + "/get/accepted",
		GetRejected:    prefix + "/get/rejected",
	}
}

// Subscriptions returns the five topics the shadow synchronizer listens on.
func (t ShadowTopics) Subscriptions() []string {
	return []string{
		t.UpdateAccepted,
		t.UpdateRejected,
		t.UpdateDelta,
		t.GetAccepted,
		t.GetRejected,
	}
}
