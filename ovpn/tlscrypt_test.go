package ovpn

import (
	"bytes"
	"testing"
)

func staticTestKey() []byte {
	k := make([]byte, keyMaterialLen)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestTLSCryptRoundTrip(t *testing.T) {
	key := staticTestKey()
	clientSide, err := newTLSCryptWrapper(key, true)
	if err != nil {
		t.Fatal(err)
	}
	serverSide, err := newTLSCryptWrapper(key, false)
	if err != nil {
		t.Fatal(err)
	}

	header := []byte{packOpcodeKeyID(OpcodeControlV1, 0)}
	plaintext := []byte("hard reset client v2 payload")

	envelope, err := clientSide.wrap(header, plaintext, 1700000000)
	if err != nil {
		t.Fatal(err)
	}

	pid, got, replay, err := serverSide.unwrap(header, envelope)
	if err != nil {
		t.Fatal(err)
	}
	if replay {
		t.Fatalf("first delivery should not be flagged as a replay")
	}
	if pid != 1 {
		t.Fatalf("packet id = %d, want 1", pid)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestTLSCryptTamperedMACFails(t *testing.T) {
	key := staticTestKey()
	clientSide, _ := newTLSCryptWrapper(key, true)
	serverSide, _ := newTLSCryptWrapper(key, false)

	header := []byte{packOpcodeKeyID(OpcodeControlV1, 0)}
	envelope, err := clientSide.wrap(header, []byte("payload"), 1700000000)
	if err != nil {
		t.Fatal(err)
	}
	envelope[10] ^= 0xFF

	if _, _, _, err := serverSide.unwrap(header, envelope); err == nil {
		t.Fatalf("tampered envelope should fail MAC verification")
	}
}

func TestTLSCryptReplayDetected(t *testing.T) {
	key := staticTestKey()
	clientSide, _ := newTLSCryptWrapper(key, true)
	serverSide, _ := newTLSCryptWrapper(key, false)

	header := []byte{packOpcodeKeyID(OpcodeControlV1, 0)}
	envelope, _ := clientSide.wrap(header, []byte("payload"), 1700000000)

	if _, _, replay, err := serverSide.unwrap(header, envelope); err != nil || replay {
		t.Fatalf("first delivery should succeed and not be a replay")
	}
	if _, _, replay, err := serverSide.unwrap(header, envelope); err != nil || !replay {
		t.Fatalf("second delivery of the same envelope should be flagged as a replay")
	}
}
