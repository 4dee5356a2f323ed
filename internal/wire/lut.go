// Package wire implements the message LUT and packet codec/framer
// (spec §4.2, §4.3): the bidirectional (message-id <-> encode/decode)
// registry and the 8-byte header layout built on top of it. Grounded
// on the message-envelope pattern in src/message.go, generalized from
// a single JSON envelope type to a registry of arbitrary message
// kinds as spec §3's Message LUT entry requires.
package wire

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/adred-codev/remotecore/internal/coreerr"
)

// UdpConnectMessageID is reserved for the datagram handshake (spec
// §4.2) and must never be registered by an application.
const UdpConnectMessageID int32 = -1

// EncodeFunc serializes obj into scratch (which has capacity for at
// least bufpool chunk size) and returns the slice actually written.
type EncodeFunc func(obj any, scratch []byte) ([]byte, error)

// DecodeFunc deserializes a payload slice into an application object.
type DecodeFunc func(payload []byte) (any, error)

type entry struct {
	messageID int32
	encode    EncodeFunc
	decode    DecodeFunc
}

// LUT is the message lookup table: a registry of (message-id,
// encoder, decoder) triples. Registration is not thread-safe and must
// complete before any session starts (spec §3); lookups afterward
// need no synchronization, but LUT still guards its maps with a mutex
// so a misbehaving caller that registers late fails safely rather than
// racing.
type LUT struct {
	mu       sync.RWMutex
	byID     map[int32]entry
	byGoType map[reflect.Type]entry
}

// New creates an empty message LUT.
func New() *LUT {
	return &LUT{
		byID:     make(map[int32]entry),
		byGoType: make(map[reflect.Type]entry),
	}
}

// Register associates messageID with an encode/decode pair. sample is
// a zero value (or pointer to one) of the Go type that will be passed
// to Encode; its reflect.Type is the encode-side lookup key.
//
// Register panics on UdpConnectMessageID or a duplicate id/type: LUT
// registration happens once at startup, and a programming mistake
// here should fail loudly rather than silently shadow an entry.
func (l *LUT) Register(messageID int32, sample any, encode EncodeFunc, decode DecodeFunc) {
	if messageID == UdpConnectMessageID {
		panic("wire: messageID UdpConnectMessageID is reserved")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[messageID]; ok {
		panic(fmt.Sprintf("wire: message id %d already registered", messageID))
	}

	t := reflect.TypeOf(sample)
	if _, ok := l.byGoType[t]; ok {
		panic(fmt.Sprintf("wire: type %v already registered", t))
	}

	e := entry{messageID: messageID, encode: encode, decode: decode}
	l.byID[messageID] = e
	l.byGoType[t] = e
}

// Encode looks up the encoder for obj's runtime type and writes obj
// into scratch, returning the message id and the written slice.
func (l *LUT) Encode(scratch []byte, obj any) (int32, []byte, error) {
	l.mu.RLock()
	e, ok := l.byGoType[reflect.TypeOf(obj)]
	l.mu.RUnlock()
	if !ok {
		return 0, nil, fmt.Errorf("%w: %T", coreerr.ErrUnknownMessageType, obj)
	}
	written, err := e.encode(obj, scratch)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", coreerr.ErrEncodeError, err)
	}
	return e.messageID, written, nil
}

// Decode looks up the decoder registered for messageID and applies it
// to payload.
func (l *LUT) Decode(messageID int32, payload []byte) (any, error) {
	l.mu.RLock()
	e, ok := l.byID[messageID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", coreerr.ErrUnknownMessageID, messageID)
	}
	obj, err := e.decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrDecodeError, err)
	}
	return obj, nil
}
