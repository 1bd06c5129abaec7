package application

import "errors"

var (
	// ErrTransport covers TLS handshake, send and receive failures.
	ErrTransport = errors.New("transport failure")

	// ErrProtocol covers session negotiation and broker-side rejections.
	ErrProtocol = errors.New("protocol failure")

	// ErrConnectionLost is returned by Poll when the session dropped
	// underneath us. Recovery belongs to the ReconnectEngine, never to
	// the connection itself.
	ErrConnectionLost = errors.New("connection lost")

	// ErrTimeout is returned when an awaited response did not arrive in
	// time, e.g. the shadow GET reply.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidParameter is returned for nil/empty required arguments or
	// for operations invoked before initialization/registration.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrShadowDocument is returned when a shadow payload fails JSON
	// validation. Partially-missing fields are not an error.
	ErrShadowDocument = errors.New("invalid shadow document")

	// ErrNotConnected is returned by publish/subscribe/poll outside an
	// active session.
	ErrNotConnected = errors.New("not connected")

	// ErrRetriesExhausted is returned once the reconnection budget is
	// spent. The engine stays in StateError; the host decides what next.
	ErrRetriesExhausted = errors.New("reconnection attempts exhausted")
)
