package demoproto

import (
	"testing"

	"github.com/adred-codev/remotecore/internal/wire"
)

func TestRegisterAndRoundTripEachMessage(t *testing.T) {
	lut := wire.New()
	Register(lut)

	ping := PingMessage{ClientTime: 100}
	msgID, payload, err := lut.Encode(nil, ping)
	if err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	if msgID != MessageIDPing {
		t.Fatalf("expected message id %d, got %d", MessageIDPing, msgID)
	}
	decoded, err := lut.Decode(MessageIDPing, payload)
	if err != nil {
		t.Fatalf("decode ping: %v", err)
	}
	got, ok := decoded.(PingMessage)
	if !ok || got.ClientTime != 100 {
		t.Fatalf("unexpected round-tripped ping: %#v", decoded)
	}

	echo := EchoRequest{Payload: "hi"}
	_, payload, err = lut.Encode(nil, echo)
	if err != nil {
		t.Fatalf("encode echo: %v", err)
	}
	decodedEcho, err := lut.Decode(MessageIDEcho, payload)
	if err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if decodedEcho.(EchoRequest).Payload != "hi" {
		t.Fatalf("unexpected round-tripped echo: %#v", decodedEcho)
	}
}

func TestRegisterPanicsOnSecondCallWithSameLUT(t *testing.T) {
	lut := wire.New()
	Register(lut)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected registering the same message ids twice to panic")
		}
	}()
	Register(lut)
}
