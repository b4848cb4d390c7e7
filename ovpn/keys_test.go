package ovpn

import (
	"bytes"
	"testing"
)

func TestPRFDeterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 48)
	seed := bytes.Repeat([]byte{0x22}, 32)
	a := prf(secret, "OpenVPN master secret", seed, 48)
	b := prf(secret, "OpenVPN master secret", seed, 48)
	if !bytes.Equal(a, b) {
		t.Fatalf("prf is not deterministic")
	}
	if len(a) != 48 {
		t.Fatalf("prf length = %d, want 48", len(a))
	}
}

func TestPRFDifferentLabelsDiffer(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 48)
	seed := bytes.Repeat([]byte{0x22}, 32)
	a := prf(secret, "OpenVPN master secret", seed, 48)
	b := prf(secret, "OpenVPN key expansion", seed, 48)
	if bytes.Equal(a, b) {
		t.Fatalf("prf output should depend on label")
	}
}

func TestDeriveMasterAndKeysProducesDistinctDirections(t *testing.T) {
	client := KeySource{PreMaster: bytes.Repeat([]byte{0x01}, 48)}
	server := KeySource{}
	client.Random1 = [32]byte{1}
	client.Random2 = [32]byte{2}
	server.Random1 = [32]byte{3}
	server.Random2 = [32]byte{4}

	c, s, err := DeriveMasterAndKeys(client, server, 0x1111, 0x2222)
	if err != nil {
		t.Fatal(err)
	}
	if c.Cipher == s.Cipher {
		t.Fatalf("client and server cipher keys should differ")
	}
}

// TestTLSEKMSelection is scenario S6.
func TestTLSEKMSelection(t *testing.T) {
	exported := bytes.Repeat([]byte{0xAB}, keyMaterialLen)
	exporter := func(label string, context []byte, length int) ([]byte, error) {
		if label != ekmLabel {
			t.Fatalf("unexpected exporter label %q", label)
		}
		if context != nil {
			t.Fatalf("exporter context should be empty")
		}
		if length != keyMaterialLen {
			t.Fatalf("exporter length = %d", length)
		}
		return exported, nil
	}
	client, server, err := DeriveEKM(exporter)
	if err != nil {
		t.Fatal(err)
	}
	wantClient, wantServer, _ := splitKeyMaterial(exported)
	if client != wantClient || server != wantServer {
		t.Fatalf("EKM-derived keys do not match the direct split of exported material")
	}
}

func TestSplitKeyMaterialWrongLengthFails(t *testing.T) {
	if _, _, err := splitKeyMaterial(make([]byte, 10)); err == nil {
		t.Fatalf("wrong-length material should fail")
	}
}
