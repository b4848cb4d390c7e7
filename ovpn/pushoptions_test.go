package ovpn

import "testing"

func TestTopologyUnmarshalOption(t *testing.T) {
	cases := map[string]Topology{"net30": TopologyNet30, "P2P": TopologyP2P, "subnet": TopologySubnet}
	for raw, want := range cases {
		var got Topology
		if err := got.UnmarshalOption(raw); err != nil {
			t.Fatalf("UnmarshalOption(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("UnmarshalOption(%q) = %v, want %v", raw, got, want)
		}
	}
	var bad Topology
	if err := bad.UnmarshalOption("mesh"); err == nil {
		t.Fatal("expected an error for an unrecognized topology")
	}
}

// TestPushReplyBinding is scenario S2.
func TestPushReplyBinding(t *testing.T) {
	payload := append([]byte("PUSH_REPLY,"), []byte("route-gateway 10.8.0.1,cipher AES-256-GCM,tun-mtu 1500,peer-id 1")...)
	push, unknown, err := parsePushReply(payload)
	if err != nil {
		t.Fatalf("parsePushReply: %v", err)
	}
	if len(unknown) != 0 {
		t.Fatalf("unexpected unknown keys: %v", unknown)
	}
	if push.RouteGateway != "10.8.0.1" || push.Cipher != "AES-256-GCM" || push.TunMtu != 1500 || push.PeerID != 1 {
		t.Fatalf("push options = %+v", push)
	}
}

func TestPushReplyMissingRequiredPeerID(t *testing.T) {
	payload := append([]byte("PUSH_REPLY,"), []byte("cipher AES-256-GCM")...)
	if _, _, err := parsePushReply(payload); err == nil {
		t.Fatal("expected an error for a missing required peer-id")
	}
}

func TestParseAuthFailedReason(t *testing.T) {
	payload := append([]byte("AUTH_FAILED,"), []byte("bad password")...)
	if got := parseAuthFailed(payload); got != "bad password" {
		t.Fatalf("parseAuthFailed = %q", got)
	}
}

func TestBuildPeerInfoKeys(t *testing.T) {
	info := buildPeerInfo(peerInfoConfig{
		Version:  "2.6.0",
		Platform: "linux",
		Ciphers:  []string{"AES-256-GCM", "AES-128-GCM"},
		Proto:    IVProtoDataV2 | IVProtoNcpP2p,
	})
	values, _, present := info.Get("IV_VER")
	if !present || values[0] != "2.6.0" {
		t.Fatalf("IV_VER = %v, present=%v", values, present)
	}
	values, _, _ = info.Get("IV_CIPHERS")
	if values[0] != "AES-256-GCM:AES-128-GCM" {
		t.Fatalf("IV_CIPHERS = %v", values)
	}
	values, _, _ = info.Get("IV_PROTO")
	want := itoa(IVProtoDataV2 | IVProtoNcpP2p)
	if values[0] != want {
		t.Fatalf("IV_PROTO = %v, want %v", values, want)
	}
	if _, _, present := info.Get("IV_GUI_VER"); present {
		t.Fatal("IV_GUI_VER should be omitted when unset")
	}
}

func TestKeyExchangeMethod2RoundTripClient(t *testing.T) {
	ks, err := newClientKeySource()
	if err != nil {
		t.Fatal(err)
	}
	wire := writeKeyExchangeMethod2(ks, true, "", "IV_VER=2.6.0\nIV_PLAT=linux")

	gotKS, optionsString, peerInfo, err := readKeyExchangeMethod2(wire, true)
	if err != nil {
		t.Fatalf("readKeyExchangeMethod2: %v", err)
	}
	if string(gotKS.PreMaster) != string(ks.PreMaster) {
		t.Fatal("pre-master mismatch")
	}
	if gotKS.Random1 != ks.Random1 || gotKS.Random2 != ks.Random2 {
		t.Fatal("random mismatch")
	}
	if optionsString != "" {
		t.Fatalf("options string = %q, want empty", optionsString)
	}
	if peerInfo != "IV_VER=2.6.0\nIV_PLAT=linux" {
		t.Fatalf("peer info = %q", peerInfo)
	}
}

func TestKeyExchangeMethod2RoundTripServer(t *testing.T) {
	ks := &KeySource{}
	if _, err := (&fakeRand{}).Read(ks.Random1[:]); err != nil {
		t.Fatal(err)
	}
	wire := writeKeyExchangeMethod2(ks, false, "auth=SHA256,cipher=AES-256-GCM:AES-128-GCM", "")

	gotKS, optionsString, peerInfo, err := readKeyExchangeMethod2(wire, false)
	if err != nil {
		t.Fatalf("readKeyExchangeMethod2: %v", err)
	}
	if len(gotKS.PreMaster) != 0 {
		t.Fatalf("expected no pre-master for a server key source, got %d bytes", len(gotKS.PreMaster))
	}
	if peerInfo != "" {
		t.Fatalf("peer info = %q, want empty", peerInfo)
	}

	ke, err := parseKeyExchangeOptions(optionsString)
	if err != nil {
		t.Fatalf("parseKeyExchangeOptions: %v", err)
	}
	if ke.Auth != "SHA256" || len(ke.Ciphers) != 2 || ke.Ciphers[0] != "AES-256-GCM" {
		t.Fatalf("key exchange = %+v", ke)
	}
}

// fakeRand is a minimal io.Reader filling a buffer with a fixed pattern,
// avoiding a dependency on crypto/rand for a test that only needs
// deterministic bytes to round-trip.
type fakeRand struct{}

func (fakeRand) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = byte(i)
	}
	return len(b), nil
}
