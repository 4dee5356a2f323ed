package session

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/remotecore/internal/bufpool"
	"github.com/adred-codev/remotecore/internal/coremetrics"
	"github.com/adred-codev/remotecore/internal/wire"
)

func newDatagramTestConn(t *testing.T) (net.PacketConn, net.Addr) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen packet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr()
}

func TestDatagramSessionDeliverAndDecode(t *testing.T) {
	conn, addr := newDatagramTestConn(t)
	peerAddr, err := net.ResolveUDPAddr("udp", addr.String())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	received := make(chan string, 1)
	receiver := ReceiverFunc(func(s *Session, msg any) (any, bool) {
		received <- msg.(echoMsg).Text
		return nil, false
	})

	metrics := coremetrics.NewRegistry()
	pool := bufpool.New(4096, metrics)
	opts := Options{
		LUT: newTestLUT(), BufPool: pool, Metrics: metrics, Logger: zerolog.Nop(),
		Receiver: receiver, MaxPacketSize: wire.DefaultMaxPacketSize,
	}

	ds := NewDatagramSession(conn, peerAddr, opts)
	if err := ds.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ds.Close()

	dst := make([]byte, wire.HeaderSize+5)
	packet, err := wire.Frame(dst, 1, 0, []byte("hello"), wire.DefaultMaxPacketSize)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	ds.Deliver(packet)

	select {
	case text := <-received:
		if text != "hello" {
			t.Fatalf("expected 'hello', got %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("message was never delivered to the receiver")
	}
}

func TestDatagramSessionDropsUndersizedDatagramWithoutFailing(t *testing.T) {
	conn, addr := newDatagramTestConn(t)
	peerAddr, _ := net.ResolveUDPAddr("udp", addr.String())

	metrics := coremetrics.NewRegistry()
	pool := bufpool.New(4096, metrics)
	opts := Options{
		LUT: newTestLUT(), BufPool: pool, Metrics: metrics, Logger: zerolog.Nop(),
		MaxPacketSize: wire.DefaultMaxPacketSize,
	}

	ds := NewDatagramSession(conn, peerAddr, opts)
	if err := ds.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ds.Close()

	fired := false
	ds.OnDisconnect(func(reason error) { fired = true })

	ds.Deliver([]byte{1, 2, 3})
	time.Sleep(20 * time.Millisecond)

	if fired {
		t.Fatal("malformed datagram must not disconnect a datagram session")
	}
	if !ds.Valid() {
		t.Fatal("expected session to remain valid")
	}
}

func TestDatagramSessionInboxDropsWhenFull(t *testing.T) {
	conn, addr := newDatagramTestConn(t)
	peerAddr, _ := net.ResolveUDPAddr("udp", addr.String())

	metrics := coremetrics.NewRegistry()
	pool := bufpool.New(4096, metrics)
	opts := Options{
		LUT: newTestLUT(), BufPool: pool, Metrics: metrics, Logger: zerolog.Nop(),
		MaxPacketSize: wire.DefaultMaxPacketSize,
	}

	ds := NewDatagramSession(conn, peerAddr, opts)
	// Not started: readLoop never drains the inbox, so it fills up.
	for i := 0; i < datagramInboxSize+10; i++ {
		ds.Deliver([]byte{byte(i)})
	}
	// No panic/blocking means the non-blocking drop path held.
}
