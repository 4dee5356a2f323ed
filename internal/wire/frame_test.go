package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/adred-codev/remotecore/internal/coreerr"
)

func TestFrameParseHeaderRoundTrip(t *testing.T) {
	payload := []byte("hello")
	dst := make([]byte, HeaderSize+len(payload))
	packet, err := Frame(dst, 7, -3, payload, DefaultMaxPacketSize)
	if err != nil {
		t.Fatalf("frame failed: %v", err)
	}

	size, messageID, rpcID, bodyOffset, err := ParseHeader(packet, DefaultMaxPacketSize)
	if err != nil {
		t.Fatalf("parse header failed: %v", err)
	}
	if int(size) != len(packet) {
		t.Errorf("expected size %d, got %d", len(packet), size)
	}
	if messageID != 7 {
		t.Errorf("expected messageID 7, got %d", messageID)
	}
	if rpcID != -3 {
		t.Errorf("expected rpcID -3, got %d", rpcID)
	}
	if !bytes.Equal(packet[bodyOffset:size], payload) {
		t.Errorf("expected payload %q, got %q", payload, packet[bodyOffset:size])
	}
}

func TestParseHeaderShortHeader(t *testing.T) {
	_, _, _, _, err := ParseHeader([]byte{1, 2, 3}, DefaultMaxPacketSize)
	if !errors.Is(err, coreerr.ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestParseHeaderOversizedDeclaration(t *testing.T) {
	dst := make([]byte, HeaderSize)
	packet, err := Frame(dst, 1, 0, nil, DefaultMaxPacketSize)
	if err != nil {
		t.Fatalf("frame failed: %v", err)
	}
	// Declare a size larger than the max packet size.
	packet[0] = 0xFF
	packet[1] = 0xFF
	_, _, _, _, err = ParseHeader(packet, DefaultMaxPacketSize)
	if !errors.Is(err, coreerr.ErrFramingError) {
		t.Fatalf("expected ErrFramingError, got %v", err)
	}
}

func TestFrameRejectsOversizedPacket(t *testing.T) {
	payload := make([]byte, 100)
	dst := make([]byte, HeaderSize+len(payload))
	_, err := Frame(dst, 1, 0, payload, HeaderSize+10)
	if !errors.Is(err, coreerr.ErrFramingError) {
		t.Fatalf("expected ErrFramingError, got %v", err)
	}
}

func TestStreamReassemblerWaitsForFullFrame(t *testing.T) {
	payload := []byte("reassembled-payload")
	dst := make([]byte, HeaderSize+len(payload))
	packet, err := Frame(dst, 42, 1, payload, DefaultMaxPacketSize)
	if err != nil {
		t.Fatalf("frame failed: %v", err)
	}

	r := NewStreamReassembler(DefaultMaxPacketSize)

	// Feed the header and part of the body only.
	r.Feed(packet[:HeaderSize+3])
	frame, ok, err := r.Next()
	if err != nil || ok {
		t.Fatalf("expected ok=false, err=nil for partial frame, got ok=%v err=%v", ok, err)
	}
	if frame != nil {
		t.Fatalf("expected nil frame for partial data")
	}

	// Feed the rest.
	r.Feed(packet[HeaderSize+3:])
	frame, ok, err = r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete frame to be available")
	}
	if !bytes.Equal(frame, packet) {
		t.Fatalf("reassembled frame mismatch: got %v want %v", frame, packet)
	}
}

func TestStreamReassemblerMultipleFramesBackToBack(t *testing.T) {
	dst1 := make([]byte, HeaderSize+2)
	p1, _ := Frame(dst1, 1, 0, []byte("ab"), DefaultMaxPacketSize)
	dst2 := make([]byte, HeaderSize+3)
	p2, _ := Frame(dst2, 2, 0, []byte("xyz"), DefaultMaxPacketSize)

	r := NewStreamReassembler(DefaultMaxPacketSize)
	r.Feed(p1)
	r.Feed(p2)

	first, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("expected first frame, got ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(first, p1) {
		t.Fatalf("expected first frame %v, got %v", p1, first)
	}

	second, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("expected second frame, got ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(second, p2) {
		t.Fatalf("expected second frame %v, got %v", p2, second)
	}

	_, ok, err = r.Next()
	if err != nil || ok {
		t.Fatalf("expected no more frames, got ok=%v err=%v", ok, err)
	}
}

func TestStreamReassemblerRejectsOversizedDeclaration(t *testing.T) {
	r := NewStreamReassembler(16)
	hdr := make([]byte, HeaderSize)
	hdr[0] = 0xFF
	hdr[1] = 0xFF
	r.Feed(hdr)
	_, ok, err := r.Next()
	if ok || !errors.Is(err, coreerr.ErrFramingError) {
		t.Fatalf("expected ErrFramingError, got ok=%v err=%v", ok, err)
	}
}
