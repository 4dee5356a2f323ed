package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/adred-codev/remotecore/internal/coreerr"
)

// HeaderSize is the fixed wire header length (spec §3): u16 size +
// i32 messageId + i16 rpcId, little-endian.
const HeaderSize = 8

// DefaultMaxPacketSize is the header-enforced cap on total packet size.
const DefaultMaxPacketSize = 8192

// Frame prepends the 8-byte header to payload into dst, which must
// have capacity for HeaderSize+len(payload). It copies payload once
// and returns the full packet slice (header+body) sized to
// len(dst[:HeaderSize+len(payload)]).
func Frame(dst []byte, messageID int32, rpcID int16, payload []byte, maxPacketSize int) ([]byte, error) {
	total := HeaderSize + len(payload)
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	if total > maxPacketSize {
		return nil, fmt.Errorf("%w: packet size %d exceeds max %d", coreerr.ErrFramingError, total, maxPacketSize)
	}
	if cap(dst) < total {
		return nil, fmt.Errorf("%w: destination buffer too small (%d < %d)", coreerr.ErrFramingError, cap(dst), total)
	}
	dst = dst[:total]

	binary.LittleEndian.PutUint16(dst[0:2], uint16(total))
	binary.LittleEndian.PutUint32(dst[2:6], uint32(messageID))
	binary.LittleEndian.PutUint16(dst[6:8], uint16(rpcID))
	copy(dst[HeaderSize:], payload)

	return dst, nil
}

// ParseHeader reads the 8-byte header from the front of data and
// returns the declared total size, message id, rpc id, and the
// offset at which the body begins (always HeaderSize).
//
// ShortHeader is returned when fewer than HeaderSize bytes are
// available. FramingError is returned when the declared size exceeds
// maxPacketSize or the bytes actually available in data.
func ParseHeader(data []byte, maxPacketSize int) (size uint16, messageID int32, rpcID int16, bodyOffset int, err error) {
	if len(data) < HeaderSize {
		return 0, 0, 0, 0, fmt.Errorf("%w: have %d bytes, need %d", coreerr.ErrShortHeader, len(data), HeaderSize)
	}
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}

	size = binary.LittleEndian.Uint16(data[0:2])
	messageID = int32(binary.LittleEndian.Uint32(data[2:6]))
	rpcID = int16(binary.LittleEndian.Uint16(data[6:8]))
	bodyOffset = HeaderSize

	if int(size) > maxPacketSize {
		return 0, 0, 0, 0, fmt.Errorf("%w: declared size %d exceeds max %d", coreerr.ErrFramingError, size, maxPacketSize)
	}
	if int(size) > len(data) {
		return 0, 0, 0, 0, fmt.Errorf("%w: declared size %d exceeds available %d bytes", coreerr.ErrFramingError, size, len(data))
	}
	if int(size) < HeaderSize {
		return 0, 0, 0, 0, fmt.Errorf("%w: declared size %d smaller than header", coreerr.ErrFramingError, size)
	}

	return size, messageID, rpcID, bodyOffset, nil
}

// StreamReassembler reassembles frames from a sliding read buffer for
// reliable stream transports, where one socket read may deliver a
// partial frame, exactly one frame, or several frames back to back.
type StreamReassembler struct {
	buf           []byte
	maxPacketSize int
}

// NewStreamReassembler creates a reassembler with an empty backlog.
func NewStreamReassembler(maxPacketSize int) *StreamReassembler {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	return &StreamReassembler{maxPacketSize: maxPacketSize}
}

// Feed appends newly read bytes to the backlog.
func (s *StreamReassembler) Feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// Next extracts the next complete frame from the backlog, if any. It
// returns ok=false when the backlog holds fewer bytes than a full
// frame (the caller should read more from the socket). Extracted
// bytes are consumed from the backlog immediately; the returned frame
// is a fresh copy that does not share the backlog's backing array.
func (s *StreamReassembler) Next() (frame []byte, ok bool, err error) {
	if len(s.buf) < HeaderSize {
		return nil, false, nil
	}

	size := binary.LittleEndian.Uint16(s.buf[0:2])
	if int(size) > s.maxPacketSize || int(size) < HeaderSize {
		return nil, false, fmt.Errorf("%w: declared size %d invalid (max %d)", coreerr.ErrFramingError, size, s.maxPacketSize)
	}
	if len(s.buf) < int(size) {
		// Full frame hasn't arrived yet; caller should read more.
		return nil, false, nil
	}

	out := make([]byte, size)
	copy(out, s.buf[:size])
	s.buf = append(s.buf[:0], s.buf[size:]...)
	return out, true, nil
}
