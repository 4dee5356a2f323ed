package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/remotecore/internal/coreerr"
	"github.com/adred-codev/remotecore/internal/session"
	"github.com/adred-codev/remotecore/internal/wire"
)

const datagramReadBufferSize = 65536

// limiterSweepInterval is how often Serve's sweeper evicts per-address
// handshake buckets that have been idle longer than the limiter's
// addrTTL, so a long-lived listener's handshakeRateLimiter.perAddr map
// doesn't grow without bound across its lifetime.
const limiterSweepInterval = time.Minute

// AcceptFilter is the authentication hook spec §1 reserves for the
// core's caller: it runs once per handshake, before a virtual session
// is admitted. Returning an error rejects the peer: the virtual session
// is disconnected and never delivered to ListenAsync. A filter that
// does not return before the handshake deadline fails the accept with
// ConnectFailed.
type AcceptFilter func(remoteAddr net.Addr, handshakeFrame []byte) error

// DatagramListenerOptions configures the shared-socket handshake demuxer.
type DatagramListenerOptions struct {
	SessionOptions   session.Options
	HandshakeTimeout time.Duration
	AcceptFilter     AcceptFilter
	Logger           zerolog.Logger

	HandshakeIPBurst     int
	HandshakeIPRate      float64
	HandshakeGlobalBurst int
	HandshakeGlobalRate  float64
}

type pendingAccept struct {
	sess     *session.DatagramSession
	deadline time.Time
}

// DatagramListener runs a single read loop on one net.PacketConn,
// demultiplexing handshake datagrams (messageId ==
// wire.UdpConnectMessageID) into virtual per-peer sessions (spec
// §4.8).
type DatagramListener struct {
	conn    net.PacketConn
	opts    DatagramListenerOptions
	limiter *handshakeRateLimiter

	mu           sync.Mutex
	connecting   map[string]*pendingAccept
	sessionsByAddr map[string]*session.DatagramSession
	connected    []*session.DatagramSession
	waiterCh     chan *session.DatagramSession
	waiting      bool

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDatagramListener creates a datagram listener over conn.
func NewDatagramListener(conn net.PacketConn, opts DatagramListenerOptions) *DatagramListener {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	return &DatagramListener{
		conn:           conn,
		opts:           opts,
		limiter:        newHandshakeRateLimiter(opts.HandshakeIPBurst, opts.HandshakeIPRate, opts.HandshakeGlobalBurst, opts.HandshakeGlobalRate),
		connecting:     make(map[string]*pendingAccept),
		sessionsByAddr: make(map[string]*session.DatagramSession),
		stopCh:         make(chan struct{}),
	}
}

// Serve runs the read loop until ctx is cancelled or Close is called.
// It blocks; run it in its own goroutine.
func (l *DatagramListener) Serve(ctx context.Context) error {
	l.wg.Add(2)
	go l.sweepLimiter(ctx)
	defer l.wg.Done()

	buf := make([]byte, datagramReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return coreerr.ErrListenerClosed
		default:
		}

		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if l.closed.Load() {
				return coreerr.ErrListenerClosed
			}
			return err
		}
		if n == 0 {
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		l.handleDatagram(datagram, addr)
	}
}

// sweepLimiter periodically evicts stale per-address buckets from the
// handshake rate limiter, mirroring the connecting-map cleanup in
// tryAccept so neither accumulates one entry per ever-seen address for the life
// of the listener.
func (l *DatagramListener) sweepLimiter(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case now := <-ticker.C:
			l.limiter.sweep(now)
		}
	}
}

func (l *DatagramListener) handleDatagram(datagram []byte, addr net.Addr) {
	addrKey := addr.String()

	l.mu.Lock()
	sess, live := l.sessionsByAddr[addrKey]
	l.mu.Unlock()
	if live {
		sess.Deliver(datagram)
		return
	}

	size, messageID, _, _, err := wire.ParseHeader(datagram, l.opts.SessionOptions.MaxPacketSize)
	if err != nil || int(size) != len(datagram) {
		l.opts.Logger.Debug().Str("addr", addrKey).Msg("dropping undersized/malformed datagram from unknown peer")
		return
	}
	if messageID != wire.UdpConnectMessageID {
		l.opts.Logger.Debug().Str("addr", addrKey).Msg("dropping non-handshake datagram from unknown peer")
		return
	}

	l.mu.Lock()
	if _, inProgress := l.connecting[addrKey]; inProgress {
		l.mu.Unlock()
		// Scenario: a duplicate handshake datagram arrives while an
		// accept is already in flight for this address — it joins the
		// existing in-progress accept rather than spawning a second
		// virtual session (spec §8 scenario 5).
		return
	}
	l.mu.Unlock()

	if !l.limiter.Allow(addrKey) {
		l.opts.Logger.Warn().Str("addr", addrKey).Msg("handshake rate limited")
		return
	}

	newSess := session.NewDatagramSession(l.conn, addr, l.opts.SessionOptions)
	pending := &pendingAccept{sess: newSess, deadline: time.Now().Add(l.opts.HandshakeTimeout)}

	l.mu.Lock()
	l.connecting[addrKey] = pending
	l.mu.Unlock()

	go l.tryAccept(addrKey, pending, datagram)
}

// tryAccept runs the handshake's accept filter (if any) with a
// deadline, then removes the address from the connecting table on
// every exit path — success, failure, or timeout (spec §9 fixes the
// original's leak where connecting entries were never removed).
func (l *DatagramListener) tryAccept(addrKey string, pending *pendingAccept, handshakeFrame []byte) {
	resultCh := make(chan error, 1)
	go func() {
		if l.opts.AcceptFilter != nil {
			resultCh <- l.opts.AcceptFilter(pending.sess.RemoteAddr(), handshakeFrame)
			return
		}
		resultCh <- nil
	}()

	var acceptErr error
	select {
	case acceptErr = <-resultCh:
	case <-time.After(time.Until(pending.deadline)):
		acceptErr = fmt.Errorf("%w: handshake timed out", coreerr.ErrConnectFailed)
	}

	l.mu.Lock()
	delete(l.connecting, addrKey)
	l.mu.Unlock()

	if acceptErr != nil {
		pending.sess.Disconnect()
		l.opts.Logger.Warn().Err(acceptErr).Str("addr", addrKey).Msg("datagram handshake rejected")
		return
	}

	l.mu.Lock()
	l.sessionsByAddr[addrKey] = pending.sess
	l.mu.Unlock()

	if err := pending.sess.Start(); err != nil {
		l.opts.Logger.Error().Err(err).Str("addr", addrKey).Msg("failed to start accepted datagram session")
		return
	}

	l.deliverAccepted(pending.sess)
}

// deliverAccepted either hands the newly accepted session to a
// blocked ListenAsync waiter, or enqueues it on the connected queue.
// Receiver wiring happens entirely through SessionOptions at listener
// construction, so "set receiver, then start" (spec §9 open question)
// is satisfied trivially: there is no later call that replaces the
// receiver after a session may already be queued.
func (l *DatagramListener) deliverAccepted(sess *session.DatagramSession) {
	l.mu.Lock()
	if l.waiting {
		l.waiting = false
		ch := l.waiterCh
		l.waiterCh = nil
		l.mu.Unlock()
		ch <- sess
		return
	}
	l.connected = append(l.connected, sess)
	l.mu.Unlock()
}

// ListenAsync returns the next accepted virtual session, either
// immediately from the connected queue or by waiting for the next
// successful handshake. At most one waiter is allowed at a time;
// concurrent waiters are a usage error (spec §4.8).
func (l *DatagramListener) ListenAsync(ctx context.Context) (*session.DatagramSession, error) {
	l.mu.Lock()
	if len(l.connected) > 0 {
		sess := l.connected[0]
		l.connected = l.connected[1:]
		l.mu.Unlock()
		return sess, nil
	}
	if l.waiting {
		l.mu.Unlock()
		return nil, coreerr.ErrWaiterInUse
	}
	l.waiting = true
	ch := make(chan *session.DatagramSession, 1)
	l.waiterCh = ch
	l.mu.Unlock()

	select {
	case sess := <-ch:
		return sess, nil
	case <-ctx.Done():
		l.mu.Lock()
		if l.waiterCh == ch {
			l.waiting = false
			l.waiterCh = nil
		}
		l.mu.Unlock()
		return nil, ctx.Err()
	case <-l.stopCh:
		return nil, coreerr.ErrListenerClosed
	}
}

// Close stops the read loop and releases the socket. The caller must
// have cancelled the context passed to Serve, or Close will unblock it
// via the stop channel on the next read error.
func (l *DatagramListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.stopCh)
	err := l.conn.Close()
	l.wg.Wait()
	return err
}
