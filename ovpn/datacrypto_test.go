package ovpn

import (
	"bytes"
	"testing"
)

func testKeys(cipherLen, macLen int) (cipherKey, macKey []byte) {
	cipherKey = make([]byte, 64)
	macKey = make([]byte, 64)
	for i := range cipherKey {
		cipherKey[i] = byte(i + 1)
	}
	for i := range macKey {
		macKey[i] = byte(200 - i)
	}
	return cipherKey[:cipherLen], macKey[:macLen]
}

var allCipherMacCombos = []struct {
	cipher string
	mac    string
}{
	{"AES-128-GCM", ""},
	{"AES-192-GCM", ""},
	{"AES-256-GCM", ""},
	{"AES-128-CBC", "SHA1"},
	{"AES-256-CBC", "SHA256"},
	{"AES-128-CTR", "SHA256"},
	{"AES-256-CTR", "SHA512"},
	{"BF-CBC", "SHA1"},
	{"PLAIN", ""},
	{"NONE", ""},
}

// TestDataCryptoRoundTrip is testable property 6.
func TestDataCryptoRoundTrip(t *testing.T) {
	for _, combo := range allCipherMacCombos {
		for _, n := range []int{1, 8, 64, 512, 4096, 32768} {
			cipherKey, macKey := testKeys(32, 64)
			dc, err := newDataCipher(combo.cipher, combo.mac, cipherKey, macKey)
			if err != nil {
				t.Fatalf("%s/%s: %v", combo.cipher, combo.mac, err)
			}
			aad := []byte{0x20}
			msg := bytes.Repeat([]byte{0x5A}, n)

			wire, err := dc.encrypt(aad, msg, 0x12345678)
			if err != nil {
				t.Fatalf("%s/%s len=%d encrypt: %v", combo.cipher, combo.mac, n, err)
			}
			pid, got, err := dc.decrypt(aad, wire)
			if err != nil {
				t.Fatalf("%s/%s len=%d decrypt: %v", combo.cipher, combo.mac, n, err)
			}
			if pid != 0x12345678 {
				t.Fatalf("%s/%s len=%d: pid = %#x", combo.cipher, combo.mac, n, pid)
			}
			if !bytes.Equal(got, msg) {
				t.Fatalf("%s/%s len=%d: round trip mismatch", combo.cipher, combo.mac, n)
			}
		}
	}
}

// TestDataCryptoPacketIDEmbedding is testable property 7.
func TestDataCryptoPacketIDEmbedding(t *testing.T) {
	cipherKey, macKey := testKeys(32, 64)
	dc, err := newDataCipher("AES-256-GCM", "", cipherKey, macKey)
	if err != nil {
		t.Fatal(err)
	}
	for _, pid := range []uint32{1, 0x12345678, 0x80000000, 0xFFFFFFFF} {
		wire, err := dc.encrypt(nil, []byte("payload"), pid)
		if err != nil {
			t.Fatal(err)
		}
		got, _, err := dc.decrypt(nil, wire)
		if err != nil {
			t.Fatal(err)
		}
		if got != pid {
			t.Fatalf("pid %#x round-tripped as %#x", pid, got)
		}
	}
}

// TestDataCryptoIVRandomness is testable property 8.
func TestDataCryptoIVRandomness(t *testing.T) {
	for _, cipherName := range []string{"AES-256-CBC", "AES-256-CTR"} {
		cipherKey, macKey := testKeys(32, 64)
		dc, err := newDataCipher(cipherName, "SHA256", cipherKey, macKey)
		if err != nil {
			t.Fatal(err)
		}
		seen := make(map[string]bool)
		for i := 0; i < 5; i++ {
			wire, err := dc.encrypt(nil, []byte("identical plaintext"), 1)
			if err != nil {
				t.Fatal(err)
			}
			if seen[string(wire)] {
				t.Fatalf("%s: duplicate ciphertext across encryptions", cipherName)
			}
			seen[string(wire)] = true
		}
	}
}

func TestDataCryptoTagTamperFails(t *testing.T) {
	cipherKey, macKey := testKeys(32, 64)
	dc, err := newDataCipher("AES-256-GCM", "", cipherKey, macKey)
	if err != nil {
		t.Fatal(err)
	}
	wire, err := dc.encrypt(nil, []byte("payload"), 1)
	if err != nil {
		t.Fatal(err)
	}
	wire[5] ^= 0xFF
	if _, _, err := dc.decrypt(nil, wire); err == nil {
		t.Fatalf("tampered tag should fail to decrypt")
	}
}

func TestDataCryptoEpochRejected(t *testing.T) {
	cipherKey, macKey := testKeys(32, 64)
	if _, err := newDataCipher("AES-256-GCM-EPOCH", "", cipherKey, macKey); err == nil {
		t.Fatalf("epoch-format data keys should be rejected")
	}
}

func TestDataCryptoUnsupportedCipherFails(t *testing.T) {
	cipherKey, macKey := testKeys(32, 64)
	if _, err := newDataCipher("DES-CBC", "SHA1", cipherKey, macKey); err == nil {
		t.Fatalf("unsupported cipher should fail")
	}
}

// TestDataCryptoReplayDropped is scenario S4: a replayed AEAD packet is
// dropped while the channel keeps accepting fresh packets.
func TestDataCryptoReplayDropped(t *testing.T) {
	cipherKey, macKey := testKeys(32, 64)
	dc, err := newDataCipher("AES-256-GCM", "", cipherKey, macKey)
	if err != nil {
		t.Fatal(err)
	}
	window := newReplayWindow()

	wire, err := dc.encrypt(nil, []byte("frame one"), 1)
	if err != nil {
		t.Fatal(err)
	}
	pid, _, err := dc.decrypt(nil, wire)
	if err != nil {
		t.Fatal(err)
	}
	if !window.accept(pid) {
		t.Fatalf("first delivery of pid %d should be accepted", pid)
	}

	// Replay the same wire packet.
	pid2, _, err := dc.decrypt(nil, wire)
	if err != nil {
		t.Fatal(err)
	}
	if window.accept(pid2) {
		t.Fatalf("replay of pid %d should be rejected by the replay window", pid2)
	}

	// The channel continues accepting fresh packets afterwards.
	wire2, err := dc.encrypt(nil, []byte("frame two"), 2)
	if err != nil {
		t.Fatal(err)
	}
	pid3, _, err := dc.decrypt(nil, wire2)
	if err != nil {
		t.Fatal(err)
	}
	if !window.accept(pid3) {
		t.Fatalf("fresh pid %d should still be accepted after a replay", pid3)
	}
}
