package reconnect

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/remotecore/internal/bufpool"
	"github.com/adred-codev/remotecore/internal/coremetrics"
	"github.com/adred-codev/remotecore/internal/session"
	"github.com/adred-codev/remotecore/internal/wire"
)

func newTestSession(t *testing.T, window time.Duration) (*session.StreamSession, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close() })

	lut := wire.New()
	metrics := coremetrics.NewRegistry()
	pool := bufpool.New(65536, metrics)

	opts := session.Options{
		LUT:                 lut,
		BufPool:             pool,
		Metrics:             metrics,
		Logger:              zerolog.Nop(),
		MaxPacketSize:       wire.DefaultMaxPacketSize,
		ReconnectEnabled:    true,
		ReconnectWindow:     window,
		ReconnectTargetAddr: "test:1234",
	}
	sess := session.NewStreamSession(serverConn, opts)
	return sess, clientConn
}

func TestSupervisorRun_SucceedsOnFirstDial(t *testing.T) {
	sess, clientConn := newTestSession(t, time.Second)
	defer clientConn.Close()

	_, replacement := net.Pipe()
	defer replacement.Close()

	dialed := make(chan struct{}, 1)
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		dialed <- struct{}{}
		return replacement, nil
	}

	var successFired bool
	sess.OnReconnectSuccess(func() { successFired = true })

	sv := New(sess, dial, Config{}, zerolog.Nop(), nil)
	done := make(chan struct{})
	go func() {
		sv.loop(errors.New("boom"))
		close(done)
	}()

	select {
	case <-dialed:
	case <-time.After(time.Second):
		t.Fatal("dial was never attempted")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconnect loop did not finish")
	}

	if !successFired {
		t.Error("expected reconnectSuccess hook to fire")
	}
	if !sess.Valid() {
		t.Error("expected session to be valid after successful reconnect")
	}
}

func TestSupervisorRun_GivesUpAfterWindow(t *testing.T) {
	sess, clientConn := newTestSession(t, 50*time.Millisecond)
	defer clientConn.Close()

	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	var disconnectReason error
	sess.OnDisconnect(func(reason error) { disconnectReason = reason })

	sv := New(sess, dial, Config{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}, zerolog.Nop(), nil)

	wantErr := errors.New("link down")
	done := make(chan struct{})
	go func() {
		sv.loop(wantErr)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect loop did not give up within the window")
	}

	if !errors.Is(disconnectReason, wantErr) && disconnectReason != wantErr {
		t.Errorf("expected onDisconnect to fire with %v, got %v", wantErr, disconnectReason)
	}
	if sess.Valid() {
		t.Error("expected session to be invalid after reconnect window exhaustion")
	}
}
