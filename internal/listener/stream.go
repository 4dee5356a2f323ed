// Package listener implements the stream and datagram listeners (spec
// §4.8): the stream listener accepts one session per connection, and
// the datagram listener demultiplexes handshake datagrams on a single
// shared socket into per-peer virtual sessions. Grounded on the
// accept-loop shape of go-server-3/internal/transport/server.go and
// the single-shared-socket demux pattern in other_examples UDP server
// references (jroosing-HydraDNS udp_server.go).
package listener

import (
	"net"

	"github.com/adred-codev/remotecore/internal/session"
)

// StreamListener accepts reliable-stream sessions off a net.Listener.
type StreamListener struct {
	ln   net.Listener
	opts session.Options
}

// NewStreamListener wraps ln. opts is the template used to construct
// each accepted session (LUT, buffer pool, receiver, etc. are shared
// across sessions; only per-connection addrs differ).
func NewStreamListener(ln net.Listener, opts session.Options) *StreamListener {
	return &StreamListener{ln: ln, opts: opts}
}

// Listen accepts exactly one peer and returns it wrapped in a fresh,
// not-yet-started session. The caller must call Start (after setting
// up any per-session hooks) before messages will flow. Repeated Listen
// calls may be issued concurrently — net.Listener.Accept is safe for
// concurrent use, so each call here races independently for the next
// incoming connection.
func (l *StreamListener) Listen() (*session.StreamSession, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return session.NewStreamSession(conn, l.opts), nil
}

// Close stops accepting new connections. In-flight sessions are
// unaffected.
func (l *StreamListener) Close() error {
	return l.ln.Close()
}

// Addr returns the listener's bound address.
func (l *StreamListener) Addr() net.Addr {
	return l.ln.Addr()
}
