package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/adred-codev/remotecore/internal/coreerr"
	"github.com/adred-codev/remotecore/internal/wire"
)

// readChunkSize is how much we ask net.Conn.Read for at a time; the
// stream reassembler stitches these into complete frames.
const readChunkSize = 4096

// StreamSession is the reliable-stream specialization of Session
// (spec §2 C6): one TCP-like net.Conn per session, FIFO writes,
// sliding-window frame reassembly on reads.
type StreamSession struct {
	*Session
	conn        net.Conn
	reassembler *wire.StreamReassembler
	wg          sync.WaitGroup
	started     atomic.Bool
}

// NewStreamSession wraps conn in a freshly allocated, not-yet-started
// session (spec §4.8: "wraps the socket in a fresh session (not yet
// started), returns it. The caller must set the receiver before
// invoking start.").
func NewStreamSession(conn net.Conn, opts Options) *StreamSession {
	core := newSession(opts)
	core.setAddrs(conn.LocalAddr(), conn.RemoteAddr())

	ss := &StreamSession{
		Session:     core,
		conn:        conn,
		reassembler: wire.NewStreamReassembler(core.maxPacketSize),
	}
	core.writeFrame = ss.writeFrame
	return ss
}

func (ss *StreamSession) writeFrame(packet []byte) error {
	_, err := ss.conn.Write(packet)
	return err
}

// Start begins the reader and writer goroutines. Idempotent: a second
// call returns ErrAlreadyConnected.
func (ss *StreamSession) Start() error {
	if !ss.started.CompareAndSwap(false, true) {
		return coreerr.ErrAlreadyConnected
	}
	ss.wg.Add(2)
	go ss.readLoop()
	go ss.writeLoop()
	return nil
}

// Wait blocks until both the reader and writer goroutines have exited.
func (ss *StreamSession) Wait() {
	ss.wg.Wait()
}

func (ss *StreamSession) readLoop() {
	defer ss.wg.Done()

	buf := make([]byte, readChunkSize)
	for {
		n, err := ss.conn.Read(buf)
		if n > 0 {
			ss.reassembler.Feed(buf[:n])
			for {
				frame, ok, ferr := ss.reassembler.Next()
				if ferr != nil {
					// Framing errors on a stream transport are fatal
					// for the session (spec §7).
					ss.logger.Error().Err(ferr).Uint32("session_id", ss.id).Msg("stream framing error, closing session")
					ss.failUnsolicited(ferr)
					return
				}
				if !ok {
					break
				}
				ss.handleFrame(frame)
			}
		}
		if err != nil {
			if !ss.isUserDisconnect() {
				ss.failUnsolicited(err)
			}
			return
		}
	}
}

func (ss *StreamSession) isUserDisconnect() bool {
	select {
	case <-ss.waitStop():
		return true
	default:
		return false
	}
}

func (ss *StreamSession) handleFrame(frame []byte) {
	size, messageID, rpcID, bodyOffset, err := wire.ParseHeader(frame, ss.maxPacketSize)
	if err != nil {
		ss.logger.Error().Err(err).Msg("stream framing error, closing session")
		ss.failUnsolicited(err)
		return
	}

	decoded, err := ss.lut.Decode(messageID, frame[bodyOffset:size])
	if err != nil {
		// Decode errors and unknown messages are logged and the frame
		// is dropped (spec §7) — not fatal for a stream session.
		if ss.metrics != nil {
			ss.metrics.MessagesDropped.Inc()
		}
		ss.logger.Warn().Err(err).Int32("message_id", messageID).Msg("dropping undecodable frame")
		return
	}

	ss.handleDecoded(rpcID, decoded)
}

func (ss *StreamSession) writeLoop() {
	defer ss.wg.Done()
	for {
		select {
		case <-ss.waitStop():
			return
		case packet := <-ss.sendQueue:
			if err := ss.writeFrame(packet); err != nil {
				ss.failUnsolicited(err)
				return
			}
		}
	}
}

// Close closes the underlying socket and disconnects the session
// (user-initiated: no onDisconnect fires).
func (ss *StreamSession) Close() error {
	ss.Disconnect()
	return ss.conn.Close()
}

// Rebind swaps the underlying net.Conn after a successful reconnect
// (spec §4.9 step 3) and restarts the reader/writer goroutines.
func (ss *StreamSession) Rebind(conn net.Conn) error {
	ss.conn = conn
	ss.reassembler = wire.NewStreamReassembler(ss.maxPacketSize)
	ss.setAddrs(conn.LocalAddr(), conn.RemoteAddr())
	ss.markReconnected()
	ss.started.Store(false)
	return ss.Start()
}
