package ovpn

import "testing"

func newTestDataChannel(t *testing.T, peerID uint32) (*dataChannel, *framer) {
	t.Helper()
	cipherKey, macKey := testKeys(32, 64)
	dc, err := newDataCipher("AES-256-GCM", "", cipherKey, macKey)
	if err != nil {
		t.Fatal(err)
	}
	f := newFramer(transportUDP)
	d := newDemux(f)
	ch, err := newDataChannel(d, f, dc, peerID, 0)
	if err != nil {
		t.Fatal(err)
	}
	return ch, f
}

func TestDataChannelRawFrameRoundTrip(t *testing.T) {
	sender, _ := newTestDataChannel(t, 7)
	receiver, receiverFramer := newTestDataChannel(t, 7)

	wire, err := sender.write(DataPacket{Kind: DataPacketRaw, Payload: []byte("ip packet bytes")})
	if err != nil {
		t.Fatal(err)
	}
	receiverFramer.feed(wire)

	got, ok, err := receiver.read()
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if got.Kind != DataPacketRaw || string(got.Payload) != "ip packet bytes" {
		t.Fatalf("got = %+v", got)
	}
}

func TestDataChannelPingRoundTrip(t *testing.T) {
	sender, _ := newTestDataChannel(t, 3)
	receiver, receiverFramer := newTestDataChannel(t, 3)

	wire, err := sender.write(DataPacket{Kind: DataPacketPing})
	if err != nil {
		t.Fatal(err)
	}
	receiverFramer.feed(wire)

	got, ok, err := receiver.read()
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if got.Kind != DataPacketPing {
		t.Fatalf("got = %+v, want Ping", got)
	}
}

func TestDataChannelWrongPeerIDDropped(t *testing.T) {
	sender, _ := newTestDataChannel(t, 7)
	receiver, receiverFramer := newTestDataChannel(t, 9) // different peer id

	wire, err := sender.write(DataPacket{Kind: DataPacketRaw, Payload: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	receiverFramer.feed(wire)

	if _, ok, _ := receiver.read(); ok {
		t.Fatalf("packet for a different peer id should be dropped")
	}
}
