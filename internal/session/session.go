// Package session implements the remote session (spec §4.6, §4.7):
// the per-peer object owning the send path, receive path, RPC pool
// and reconnect policy, specialized into a reliable-stream session
// and a datagram session. Grounded on the client/hub lifecycle in
// go-server/pkg/websocket/client.go and the accept/read/write-loop
// shape of go-server-3/internal/transport/server.go, generalized from
// a WebSocket upgrade handshake to the spec's own 8-byte binary
// framing over a raw net.Conn / net.PacketConn.
package session

import (
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/remotecore/internal/bufpool"
	"github.com/adred-codev/remotecore/internal/coreerr"
	"github.com/adred-codev/remotecore/internal/coremetrics"
	"github.com/adred-codev/remotecore/internal/rpc"
	"github.com/adred-codev/remotecore/internal/transducer"
	"github.com/adred-codev/remotecore/internal/wire"
)

// nextSessionID is the process-wide monotonic identity counter (spec
// §9 "Global identity counter"): an atomic fetch-add, not persisted.
var nextSessionID uint32

func allocateSessionID() uint32 {
	return atomic.AddUint32(&nextSessionID, 1)
}

// Receiver is the application-level message handler (spec §6). It
// runs on the application context (dispatched via the transducer's
// Drain), once per decoded message per session; a session created
// without a Transducer calls it directly on its reader goroutine. A non-nil reply is
// sent back only when the inbound message carried a positive rpcId.
type Receiver interface {
	DealMessage(s *Session, msg any) (reply any, hasReply bool)
}

// ReceiverFunc adapts a plain function to the Receiver interface.
type ReceiverFunc func(s *Session, msg any) (reply any, hasReply bool)

func (f ReceiverFunc) DealMessage(s *Session, msg any) (any, bool) { return f(s, msg) }

// DisconnectHook and ReconnectHook back the 1-to-N fan-out event
// sinks spec §9 calls for: held behind a lock, invoked outside it, and
// a panicking sink must not prevent disconnect cleanup.
type DisconnectHook func(reason error)
type ReconnectHook func()

// Options configures a new Session.
type Options struct {
	Token         any
	LUT           *wire.LUT
	BufPool       *bufpool.Pool
	Metrics       *coremetrics.Registry
	Logger        zerolog.Logger
	Receiver      Receiver
	Transducer    *transducer.Queue
	RPCTimeout    time.Duration
	MaxPacketSize int
	SendQueueSize int

	// Reconnect policy (spec §3/§4.9); the reconnect supervisor itself
	// lives in package reconnect and is wired in by the caller.
	ReconnectEnabled   bool
	ReconnectWindow    time.Duration
	ReconnectTargetAddr string
}

// Session is the per-peer object shared by both transport
// specializations (spec §3 Session (Remote)).
type Session struct {
	id            uint32
	token         any
	lut           *wire.LUT
	bufPool       *bufpool.Pool
	metrics       *coremetrics.Registry
	logger        zerolog.Logger
	receiver      Receiver
	transducerQ   *transducer.Queue
	maxPacketSize int

	rpcPool *rpc.Pool

	mu          sync.RWMutex
	valid       bool
	lastReceive time.Time
	remoteAddr  net.Addr
	localAddr   net.Addr

	// ReconnectEnabled/Window/TargetAddr are read by package reconnect;
	// they are immutable after construction so no lock is needed.
	ReconnectEnabled    bool
	ReconnectWindow     time.Duration
	ReconnectTargetAddr string

	sendQueue chan []byte

	hooksMu          sync.Mutex
	onDisconnect     []DisconnectHook
	preReconnect     []ReconnectHook
	reconnectSuccess []ReconnectHook

	// writeFrame is bound by the stream/datagram specialization; it
	// performs the actual transport write of an already-framed packet.
	writeFrame func(packet []byte) error

	closeOnce sync.Once
	stopCh    chan struct{}

	// reconnectTrigger is wired by the caller (package reconnect owns
	// the concrete supervisor type; session never imports it) via
	// SetReconnectTrigger. When set and ReconnectEnabled, an unsolicited
	// failure invokes it instead of immediately firing onDisconnect.
	reconnectTrigger func(reason error)
}

func newSession(opts Options) *Session {
	sendQueueSize := opts.SendQueueSize
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	maxPacketSize := opts.MaxPacketSize
	if maxPacketSize <= 0 {
		maxPacketSize = wire.DefaultMaxPacketSize
	}

	s := &Session{
		id:                  allocateSessionID(),
		token:               opts.Token,
		lut:                 opts.LUT,
		bufPool:             opts.BufPool,
		metrics:             opts.Metrics,
		logger:              opts.Logger,
		receiver:            opts.Receiver,
		transducerQ:         opts.Transducer,
		maxPacketSize:       maxPacketSize,
		rpcPool:             rpc.New(opts.RPCTimeout, opts.Metrics),
		valid:               true,
		sendQueue:           make(chan []byte, sendQueueSize),
		ReconnectEnabled:    opts.ReconnectEnabled,
		ReconnectWindow:     opts.ReconnectWindow,
		ReconnectTargetAddr: opts.ReconnectTargetAddr,
		stopCh:              make(chan struct{}),
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	return s
}

// ID returns the session's process-unique identity.
func (s *Session) ID() uint32 { return s.id }

// Token returns the opaque, application-assigned token.
func (s *Session) Token() any { return s.token }

// RPCPool exposes the session's RPC callback pool, e.g. for the owner
// to run Sweep on a ticker.
func (s *Session) RPCPool() *rpc.Pool { return s.rpcPool }

// Valid reports whether the session is between a successful
// connect/accept and disconnect (spec §3 invariant).
func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// LastReceiveTime returns the timestamp of the most recently completed decode.
func (s *Session) LastReceiveTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReceive
}

func (s *Session) touchReceive(t time.Time) {
	s.mu.Lock()
	s.lastReceive = t
	s.mu.Unlock()
}

// RemoteAddr returns the connect-target / peer address.
func (s *Session) RemoteAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteAddr
}

// LocalAddr returns the (possibly NAT-remapped) local address.
func (s *Session) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localAddr
}

func (s *Session) setAddrs(local, remote net.Addr) {
	s.mu.Lock()
	s.localAddr, s.remoteAddr = local, remote
	s.mu.Unlock()
}

// OnDisconnect registers a sink fired when the session is dropped by
// an unsolicited transport error (never on a user-initiated
// Disconnect).
func (s *Session) OnDisconnect(hook DisconnectHook) {
	s.hooksMu.Lock()
	s.onDisconnect = append(s.onDisconnect, hook)
	s.hooksMu.Unlock()
}

// OnPreReconnect registers a sink fired before the reconnect
// supervisor's first attempt.
func (s *Session) OnPreReconnect(hook ReconnectHook) {
	s.hooksMu.Lock()
	s.preReconnect = append(s.preReconnect, hook)
	s.hooksMu.Unlock()
}

// OnReconnectSuccess registers a sink fired once a broken session is
// re-established.
func (s *Session) OnReconnectSuccess(hook ReconnectHook) {
	s.hooksMu.Lock()
	s.reconnectSuccess = append(s.reconnectSuccess, hook)
	s.hooksMu.Unlock()
}

func (s *Session) fireDisconnect(reason error) {
	s.hooksMu.Lock()
	hooks := append([]DisconnectHook(nil), s.onDisconnect...)
	s.hooksMu.Unlock()
	for _, h := range hooks {
		safeCall(func() { h(reason) })
	}
}

// FirePreReconnect is called by failUnsolicited, before the reconnect
// trigger starts attempting to re-establish a broken session.
func (s *Session) FirePreReconnect() {
	s.hooksMu.Lock()
	hooks := append([]ReconnectHook(nil), s.preReconnect...)
	s.hooksMu.Unlock()
	for _, h := range hooks {
		safeCall(h)
	}
}

// FireReconnectSuccess is called by markReconnected (reached through
// StreamSession.Rebind) once a session is re-established.
func (s *Session) FireReconnectSuccess() {
	s.hooksMu.Lock()
	hooks := append([]ReconnectHook(nil), s.reconnectSuccess...)
	s.hooksMu.Unlock()
	for _, h := range hooks {
		safeCall(h)
	}
}

func safeCall(fn func()) {
	defer func() {
		_ = recover() // a misbehaving subscriber must not break cleanup (spec §9)
	}()
	fn()
}

// Send encodes message via the LUT, frames it with rpcId 0 (not an
// RPC), and hands the frame to the transport write queue. Send
// completes serialization synchronously before returning, so the
// caller may mutate message immediately afterward (spec §4.6).
func (s *Session) Send(message any) error {
	return s.sendFramed(message, 0)
}

// sendFramed performs the shared encode+frame+enqueue steps; rpcID
// carries the sign convention from spec §4.4 (0 = fire-and-forget,
// positive = outgoing request, negative = reply to a received request).
func (s *Session) sendFramed(message any, rpcID int16) error {
	if !s.Valid() {
		return coreerr.ErrDisconnected
	}

	encodeBuf := s.bufPool.Acquire()
	defer s.bufPool.Release(encodeBuf)

	messageID, written, err := s.lut.Encode(encodeBuf.Bytes(), message)
	if err != nil {
		return err
	}

	frameBuf := s.bufPool.Acquire()
	packet, err := wire.Frame(frameBuf.Bytes(), messageID, rpcID, written, s.maxPacketSize)
	if err != nil {
		s.bufPool.Release(frameBuf)
		return err
	}

	// Copy out of the pooled array before handing to the async writer,
	// since the pooled buffer is released as soon as this call returns
	// but the writer goroutine may run later.
	out := make([]byte, len(packet))
	copy(out, packet)
	s.bufPool.Release(frameBuf)

	select {
	case s.sendQueue <- out:
	default:
		return fmt.Errorf("remotecore: session %d send queue full", s.id)
	}

	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
	}
	return nil
}

// RPCSend registers an RPC entry, sends message with the assigned
// rpcId, and returns a Future the caller awaits for the response
// (spec §4.6). If Send fails synchronously, the entry is released and
// the returned Future is already resolved with the error.
func (s *Session) RPCSend(message any, resultType reflect.Type) *rpc.Future {
	id, future, err := s.rpcPool.Register(resultType)
	if err != nil {
		return rpc.Failed(err)
	}
	if err := s.sendFramed(message, id); err != nil {
		s.rpcPool.Remove(id)
		return rpc.Failed(err)
	}
	return future
}

// LazyRPCSend is the cancellable-without-exception form (spec §4.6):
// on synchronous send failure, onException is invoked directly and
// the returned Future's continuation is abandoned.
func (s *Session) LazyRPCSend(message any, resultType reflect.Type, onException func(error)) *rpc.Future {
	id, future, err := s.rpcPool.RegisterLazy(resultType, onException)
	if err != nil {
		if onException != nil {
			onException(err)
		}
		return rpc.Failed(err)
	}
	if err := s.sendFramed(message, id); err != nil {
		s.rpcPool.Remove(id)
		if onException != nil {
			onException(err)
		}
		return future
	}
	return future
}

// handleDecoded is invoked by the stream/datagram reader with a
// decoded payload and its rpcId (spec §4.7 receive path steps 4-6).
func (s *Session) handleDecoded(rpcID int16, decoded any) {
	s.touchReceive(time.Now())
	if s.metrics != nil {
		s.metrics.MessagesReceived.Inc()
	}

	if rpcID < 0 {
		// Reply to one of our outgoing requests.
		if !s.rpcPool.TryComplete(-rpcID, decoded) {
			s.logger.Debug().Int32("rpc_id", int32(-rpcID)).Msg("discarding late or duplicate rpc response")
		}
		return
	}

	if s.transducerQ == nil {
		s.dispatch(rpcID, decoded)
		return
	}

	s.transducerQ.Enqueue(transducer.Item{
		SessionID: s.id,
		RPCID:     rpcID,
		Message:   decoded,
		Dispatch:  s.dispatch,
	})
}

// dispatch runs on the application context (via transducer.Drain) and
// invokes the user receiver, replying when the inbound message
// expected one.
func (s *Session) dispatch(rpcID int16, msg any) {
	if s.receiver == nil {
		return
	}
	reply, hasReply := s.receiver.DealMessage(s, msg)
	if rpcID > 0 && hasReply {
		if err := s.sendFramed(reply, -rpcID); err != nil {
			s.logger.Warn().Err(err).Int32("rpc_id", int32(rpcID)).Msg("failed to send rpc reply")
		}
	}
}

// Disconnect closes the session: marks it invalid, drains all pending
// RPC entries with ErrDisconnected, and does not fire onDisconnect
// (spec §4.7 — disconnect is user-initiated here).
func (s *Session) Disconnect() {
	s.closeLocal(coreerr.ErrDisconnected, false)
}

// failUnsolicited is called by the stream/datagram reader/writer loops
// when the transport fails without the user having called Disconnect.
//
// If the reconnect supervisor is enabled and wired (SetReconnectTrigger),
// onDisconnect is withheld and preReconnect fires instead — per spec
// §4.9, onDisconnect only fires on window exhaustion in that case.
// Otherwise this behaves like a full disconnect and fires
// onDisconnect(reason) immediately (spec §4.7).
func (s *Session) failUnsolicited(reason error) {
	if s.ReconnectEnabled && s.reconnectTrigger != nil {
		s.closeOnce.Do(func() {
			s.mu.Lock()
			s.valid = false
			s.mu.Unlock()
			close(s.stopCh)
			// Pending RPC entries are left in the pool: spec §4.9 step 3
			// preserves them across a successful reconnect and lets the
			// sweeper time out anything the peer doesn't also resume.
			s.FirePreReconnect()
		})
		s.reconnectTrigger(reason)
		return
	}
	s.closeLocal(reason, true)
}

// SetReconnectTrigger wires the reconnect supervisor: when set and
// ReconnectEnabled is true, an unsolicited failure invokes fn instead
// of immediately firing onDisconnect (spec §4.9).
func (s *Session) SetReconnectTrigger(fn func(reason error)) {
	s.reconnectTrigger = fn
}

// FailReconnectExhausted is called by the reconnect supervisor when
// the reconnect window elapses without success: it drains pending RPC
// entries, fires onDisconnect, and leaves the session permanently
// invalid (spec §4.9 step 4).
func (s *Session) FailReconnectExhausted(reason error) {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
	s.rpcPool.DrainWithError(coreerr.ErrDisconnected)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
	s.fireDisconnect(reason)
}

func (s *Session) closeLocal(reason error, fireHook bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.valid = false
		s.mu.Unlock()

		close(s.stopCh)
		s.rpcPool.DrainWithError(coreerr.ErrDisconnected)
		if s.metrics != nil {
			s.metrics.ActiveSessions.Dec()
		}

		if fireHook {
			s.fireDisconnect(reason)
		}
	})
}

// markReconnected clears the invalid flag and reopens the stop
// channel so the receive loop can resume after the reconnect
// supervisor re-establishes a connection (spec §4.9 step 3).
func (s *Session) markReconnected() {
	s.mu.Lock()
	s.valid = true
	s.mu.Unlock()
	s.closeOnce = sync.Once{}
	s.stopCh = make(chan struct{})
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	s.FireReconnectSuccess()
}

// waitStop exposes the internal stop channel for the stream/datagram
// specialization's writer loop to select on.
func (s *Session) waitStop() <-chan struct{} { return s.stopCh }
