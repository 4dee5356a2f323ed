package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/remotecore/internal/wire"
)

func newHandshakePacket(t *testing.T) []byte {
	t.Helper()
	dst := make([]byte, wire.HeaderSize)
	packet, err := wire.Frame(dst, wire.UdpConnectMessageID, 0, nil, wire.DefaultMaxPacketSize)
	if err != nil {
		t.Fatalf("frame handshake: %v", err)
	}
	return packet
}

func TestDatagramListenerAcceptsHandshake(t *testing.T) {
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen packet: %v", err)
	}
	defer serverConn.Close()

	opts := DatagramListenerOptions{
		SessionOptions:   testSessionOptions(),
		HandshakeTimeout: time.Second,
		Logger:           zerolog.Nop(),
	}
	dl := NewDatagramListener(serverConn, opts)
	defer dl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dl.Serve(ctx)

	clientConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen client packet: %v", err)
	}
	defer clientConn.Close()

	serverAddr, err := net.ResolveUDPAddr("udp", serverConn.LocalAddr().String())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := clientConn.WriteTo(newHandshakePacket(t), serverAddr); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	acceptCtx, acceptCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer acceptCancel()
	sess, err := dl.ListenAsync(acceptCtx)
	if err != nil {
		t.Fatalf("listen async: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session to be accepted")
	}
}

func TestDatagramListenerRejectsHandshakeViaAcceptFilter(t *testing.T) {
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen packet: %v", err)
	}
	defer serverConn.Close()

	rejectErr := errRejected
	opts := DatagramListenerOptions{
		SessionOptions:   testSessionOptions(),
		HandshakeTimeout: time.Second,
		Logger:           zerolog.Nop(),
		AcceptFilter: func(remoteAddr net.Addr, handshakeFrame []byte) error {
			return rejectErr
		},
	}
	dl := NewDatagramListener(serverConn, opts)
	defer dl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dl.Serve(ctx)

	clientConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen client packet: %v", err)
	}
	defer clientConn.Close()

	serverAddr, _ := net.ResolveUDPAddr("udp", serverConn.LocalAddr().String())
	if _, err := clientConn.WriteTo(newHandshakePacket(t), serverAddr); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	acceptCtx, acceptCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer acceptCancel()
	_, err = dl.ListenAsync(acceptCtx)
	if err == nil {
		t.Fatal("expected no session to be delivered after a rejected handshake")
	}
}

func TestDatagramListenerSecondWaiterRejected(t *testing.T) {
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen packet: %v", err)
	}
	defer serverConn.Close()

	dl := NewDatagramListener(serverConn, DatagramListenerOptions{
		SessionOptions: testSessionOptions(),
		Logger:         zerolog.Nop(),
	})
	defer dl.Close()

	firstCtx, firstCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer firstCancel()
	go dl.ListenAsync(firstCtx)
	time.Sleep(20 * time.Millisecond)

	_, err = dl.ListenAsync(context.Background())
	if err == nil {
		t.Fatal("expected second concurrent waiter to be rejected")
	}
}

var errRejected = &rejectedError{}

type rejectedError struct{}

func (e *rejectedError) Error() string { return "handshake rejected for test" }
