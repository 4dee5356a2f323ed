package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/adred-codev/remotecore/internal/coreerr"
	"github.com/adred-codev/remotecore/internal/wire"
)

// datagramInboxSize bounds how many not-yet-processed datagrams a
// virtual session holds before it starts dropping — connection
// emulation over UDP is best-effort (spec §1).
const datagramInboxSize = 64

// DatagramSession is the datagram specialization of Session (spec §2
// C6, §4.8): a virtual per-peer session multiplexed by the datagram
// listener over one shared net.PacketConn.
type DatagramSession struct {
	*Session
	conn     net.PacketConn
	peerAddr net.Addr
	inbox    chan []byte
	wg       sync.WaitGroup
	started  atomic.Bool
}

// NewDatagramSession creates a virtual session bound to peerAddr over
// the listener's shared conn. It is not started until Start is called.
func NewDatagramSession(conn net.PacketConn, peerAddr net.Addr, opts Options) *DatagramSession {
	core := newSession(opts)
	core.setAddrs(conn.LocalAddr(), peerAddr)

	ds := &DatagramSession{
		Session:  core,
		conn:     conn,
		peerAddr: peerAddr,
		inbox:    make(chan []byte, datagramInboxSize),
	}
	core.writeFrame = ds.writeFrame
	return ds
}

// PeerAddr returns the remote address this virtual session demuxes
// datagrams for.
func (ds *DatagramSession) PeerAddr() net.Addr { return ds.peerAddr }

func (ds *DatagramSession) writeFrame(packet []byte) error {
	_, err := ds.conn.WriteTo(packet, ds.peerAddr)
	return err
}

// Deliver is called by the datagram listener's demux loop when a
// datagram from this session's peer arrives. Non-blocking: a full
// inbox drops the datagram, since UDP delivery is already best-effort.
func (ds *DatagramSession) Deliver(datagram []byte) {
	cp := make([]byte, len(datagram))
	copy(cp, datagram)
	select {
	case ds.inbox <- cp:
	default:
		if ds.metrics != nil {
			ds.metrics.MessagesDropped.Inc()
		}
	}
}

// Start begins the per-session read/write goroutines.
func (ds *DatagramSession) Start() error {
	if !ds.started.CompareAndSwap(false, true) {
		return coreerr.ErrAlreadyConnected
	}
	ds.wg.Add(2)
	go ds.readLoop()
	go ds.writeLoop()
	return nil
}

func (ds *DatagramSession) readLoop() {
	defer ds.wg.Done()
	for {
		select {
		case <-ds.waitStop():
			return
		case datagram := <-ds.inbox:
			ds.handleDatagram(datagram)
		}
	}
}

func (ds *DatagramSession) handleDatagram(datagram []byte) {
	size, messageID, rpcID, bodyOffset, err := wire.ParseHeader(datagram, ds.maxPacketSize)
	if err != nil {
		// Partial/malformed datagrams fail with FramingError and are
		// discarded only — not fatal for a datagram session (spec §4.3).
		if ds.metrics != nil {
			ds.metrics.MessagesDropped.Inc()
		}
		ds.logger.Warn().Err(err).Msg("dropping malformed datagram")
		return
	}
	if int(size) != len(datagram) {
		if ds.metrics != nil {
			ds.metrics.MessagesDropped.Inc()
		}
		ds.logger.Warn().Msg("datagram size does not match declared header size, discarding")
		return
	}

	decoded, err := ds.lut.Decode(messageID, datagram[bodyOffset:size])
	if err != nil {
		if ds.metrics != nil {
			ds.metrics.MessagesDropped.Inc()
		}
		ds.logger.Warn().Err(err).Int32("message_id", messageID).Msg("dropping undecodable datagram")
		return
	}

	ds.handleDecoded(rpcID, decoded)
}

func (ds *DatagramSession) writeLoop() {
	defer ds.wg.Done()
	for {
		select {
		case <-ds.waitStop():
			return
		case packet := <-ds.sendQueue:
			if err := ds.writeFrame(packet); err != nil {
				ds.failUnsolicited(err)
				return
			}
		}
	}
}

// Close disconnects the virtual session. The shared net.PacketConn is
// owned by the listener, not this session, and is left open.
func (ds *DatagramSession) Close() error {
	ds.Disconnect()
	return nil
}
