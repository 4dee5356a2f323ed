// Package demoproto is a sample application protocol registered into
// the message LUT by cmd/remotecoredemo, in the spirit of the plain
// message-type structs in go-server/internal/types/types.go —
// generalized from that package's websocket-envelope JSON messages to
// the core's own LUT-keyed, length-prefixed binary framing.
package demoproto

import (
	"encoding/json"

	"github.com/adred-codev/remotecore/internal/wire"
)

// Message ids. Applications own this id space entirely; the core only
// reserves wire.UdpConnectMessageID.
const (
	MessageIDPing   int32 = 1
	MessageIDPong   int32 = 2
	MessageIDEcho   int32 = 3
	MessageIDResult int32 = 4
)

// PingMessage is a one-way heartbeat the demo client sends.
type PingMessage struct {
	ClientTime int64 `json:"clientTime"`
}

// PongMessage replies to a Ping.
type PongMessage struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime"`
}

// EchoRequest is sent as an RPC (positive rpcId); the core expects a
// ResultMessage back.
type EchoRequest struct {
	Payload string `json:"payload"`
}

// ResultMessage is the reply to an EchoRequest.
type ResultMessage struct {
	Payload string `json:"payload"`
}

// jsonEncode/jsonDecode adapt encoding/json to the wire.EncodeFunc/
// DecodeFunc shape: scratch is ignored since json.Marshal allocates
// its own buffer, matching how the teacher's websocket layer already
// marshals each outbound message independently rather than writing
// into a caller-owned buffer.
func jsonEncode[T any](obj any, _ []byte) ([]byte, error) {
	return json.Marshal(obj)
}

func jsonDecode[T any](payload []byte) (any, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodePing/DecodePing and friends are the concrete instantiations
// LUT.Register wants, since Go generics can't be passed as bare
// function values with a different signature per type without this
// indirection.
func EncodePing(obj any, scratch []byte) ([]byte, error) { return jsonEncode[PingMessage](obj, scratch) }
func DecodePing(payload []byte) (any, error)             { return jsonDecode[PingMessage](payload) }

func EncodePong(obj any, scratch []byte) ([]byte, error) { return jsonEncode[PongMessage](obj, scratch) }
func DecodePong(payload []byte) (any, error)             { return jsonDecode[PongMessage](payload) }

func EncodeEcho(obj any, scratch []byte) ([]byte, error) { return jsonEncode[EchoRequest](obj, scratch) }
func DecodeEcho(payload []byte) (any, error)             { return jsonDecode[EchoRequest](payload) }

func EncodeResult(obj any, scratch []byte) ([]byte, error) {
	return jsonEncode[ResultMessage](obj, scratch)
}
func DecodeResult(payload []byte) (any, error) { return jsonDecode[ResultMessage](payload) }

// Register wires the demo protocol's message types into lut. Called
// once at startup before any listener accepts a session (spec §3:
// LUT registration is not thread-safe and must complete first).
func Register(lut *wire.LUT) {
	lut.Register(MessageIDPing, PingMessage{}, EncodePing, DecodePing)
	lut.Register(MessageIDPong, PongMessage{}, EncodePong, DecodePong)
	lut.Register(MessageIDEcho, EchoRequest{}, EncodeEcho, DecodeEcho)
	lut.Register(MessageIDResult, ResultMessage{}, EncodeResult, DecodeResult)
}
