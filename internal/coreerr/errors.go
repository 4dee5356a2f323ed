// Package coreerr defines the sentinel error kinds shared across the
// messaging core, so callers can branch with errors.Is instead of
// string matching.
package coreerr

import "errors"

var (
	// ErrTimeout is returned when an RPC's deadline elapses before a
	// matching response arrives.
	ErrTimeout = errors.New("coreerr: rpc timeout")

	// ErrDisconnected is returned to every pending RPC when its owning
	// session is disconnected, and on send attempts after disconnect.
	ErrDisconnected = errors.New("coreerr: session disconnected")

	// ErrTypeMismatch is returned when a decoded response's runtime
	// type does not match the type an RPC entry was registered with.
	ErrTypeMismatch = errors.New("coreerr: rpc result type mismatch")

	// ErrUnknownMessageID is returned by the LUT when decode is asked
	// for an id that was never registered.
	ErrUnknownMessageID = errors.New("coreerr: unknown message id")

	// ErrUnknownMessageType is returned by the LUT when encode is
	// asked to serialize a Go type that was never registered.
	ErrUnknownMessageType = errors.New("coreerr: unknown message type")

	// ErrShortHeader is returned when fewer than HeaderSize bytes are
	// available to parse a packet header.
	ErrShortHeader = errors.New("coreerr: short packet header")

	// ErrFramingError is returned when a declared packet size exceeds
	// the transport's MTU/cap, or a datagram arrives truncated.
	ErrFramingError = errors.New("coreerr: framing error")

	// ErrDecodeError wraps a serializer failure while decoding a
	// payload whose message id was otherwise recognized.
	ErrDecodeError = errors.New("coreerr: decode error")

	// ErrEncodeError wraps a serializer failure while encoding an
	// outbound message whose Go type was otherwise recognized.
	ErrEncodeError = errors.New("coreerr: encode error")

	// ErrConnectFailed is returned when a connect attempt (initial or
	// reconnect) fails at the transport level.
	ErrConnectFailed = errors.New("coreerr: connect failed")

	// ErrAlreadyConnected is returned by StreamSession.Start and
	// DatagramSession.Start when the session has already been started.
	ErrAlreadyConnected = errors.New("coreerr: already connected")

	// ErrPoolExhausted is informational: the buffer pool had no
	// reclaimed array and allocated a fresh one. Never fatal.
	ErrPoolExhausted = errors.New("coreerr: buffer pool exhausted, allocated fresh")

	// ErrNoFreeRPCID is returned when the RPC id space (1..32767) has
	// no free slot, which only happens under extreme backlog.
	ErrNoFreeRPCID = errors.New("coreerr: no free rpc id")

	// ErrWaiterInUse is returned by the datagram listener when a
	// second caller tries to await ListenAsync concurrently.
	ErrWaiterInUse = errors.New("coreerr: listener already has a waiter")

	// ErrListenerClosed is returned from listener accept paths after
	// Close has been called.
	ErrListenerClosed = errors.New("coreerr: listener closed")
)
