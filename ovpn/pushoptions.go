package ovpn

import "strings"

// Topology is the pushed `topology` option, per spec §6.
type Topology int

const (
	TopologyUnset Topology = iota
	TopologyNet30
	TopologyP2P
	TopologySubnet
)

func (t Topology) String() string {
	switch t {
	case TopologyNet30:
		return "net30"
	case TopologyP2P:
		return "p2p"
	case TopologySubnet:
		return "subnet"
	}
	return "unset"
}

// UnmarshalOption implements OptionUnmarshaler so Bind can assign a
// Topology field directly from the pushed option's raw string.
func (t *Topology) UnmarshalOption(raw string) error {
	switch strings.ToLower(raw) {
	case "net30":
		*t = TopologyNet30
	case "p2p":
		*t = TopologyP2P
	case "subnet":
		*t = TopologySubnet
	default:
		return newError(ErrKindConfig, "unrecognized topology %q", raw)
	}
	return nil
}

// PushOptions is the typed form of a server's PUSH_REPLY payload, bound
// via the Options Codec's reflective binder over the recognized keys of
// spec §6.
type PushOptions struct {
	RouteNopull  bool     `ovpn:"route-nopull"`
	RouteGateway string   `ovpn:"route-gateway"`
	Cipher       string   `ovpn:"cipher"`
	TunMtu       int      `ovpn:"tun-mtu"`
	Ping         int      `ovpn:"ping"`
	PingRestart  int      `ovpn:"ping-restart"`
	Topology     Topology `ovpn:"topology"`
	PeerID       uint32   `ovpn:"peer-id,required"`
	IfConfig     string   `ovpn:"ifconfig"`
	IfConfigIPv6 string   `ovpn:"ifconfig-ipv6"`
	ProtocolFlags []string `ovpn:"protocol-flags,split=space"`
}

// hasProtocolFlag reports whether flag is present among ProtocolFlags,
// matching case-insensitively since OpenVPN servers are inconsistent
// about casing here.
func (p *PushOptions) hasProtocolFlag(flag string) bool {
	for _, f := range p.ProtocolFlags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// parsePushReply strips the PUSH_REPLY identifier prefix and binds the
// remainder into a PushOptions value. Pushed fields use comma as the
// pair separator and space as the key/value separator, matching
// OpenVPN's wire convention (e.g. "route-gateway 10.8.0.1,cipher
// AES-256-GCM"), per spec §8 scenario S2.
func parsePushReply(payload []byte) (*PushOptions, []string, error) {
	body := payload[len(identifierPushReply):]
	opts, err := ParseOptions(string(body), ',', ' ')
	if err != nil {
		return nil, nil, wrapError(ErrKindConfig, err, "parsing PUSH_REPLY")
	}
	push := &PushOptions{}
	unknown, err := Bind(opts, push)
	if err != nil {
		return nil, nil, err
	}
	return push, unknown, nil
}

// parseAuthFailed strips the AUTH_FAILED identifier prefix and returns
// the server's reason string, if any.
func parseAuthFailed(payload []byte) string {
	return string(payload[len(identifierAuthFailed):])
}

// KeyExchange is the server's negotiated options parsed out of its
// KeyExchangeMethod2 options string, per spec §4.12 ("authentication
// method, data cipher list"). Exact key names are not pinned by the
// wire-format source this was distilled from (no key-exchange options
// sample survived retrieval), so these are modeled directly on the
// Options Codec's existing split/required machinery rather than copied
// from a reference; see DESIGN.md.
type KeyExchange struct {
	Auth    string   `ovpn:"auth"`
	Ciphers []string `ovpn:"cipher,split=comma"`
}

func parseKeyExchangeOptions(optionsString string) (*KeyExchange, error) {
	opts, err := ParseOptions(optionsString, ',', '=')
	if err != nil {
		return nil, wrapError(ErrKindKeyExchange, err, "parsing key exchange options")
	}
	ke := &KeyExchange{}
	if _, err := Bind(opts, ke); err != nil {
		return nil, err
	}
	// Commas already separate option pairs, so a multi-cipher list
	// arrives colon-joined (as IV_CIPHERS is) within one value.
	var ciphers []string
	for _, c := range ke.Ciphers {
		ciphers = append(ciphers, strings.Split(c, ":")...)
	}
	ke.Ciphers = ciphers
	return ke, nil
}

// peerInfoConfig carries the fields the orchestrator fills into the
// initial peer-info table, per spec §6 "Peer-info sent".
type peerInfoConfig struct {
	Version    string
	Platform   string
	GUIVersion string
	Ciphers    []string
	Proto      uint32
}

// buildPeerInfo constructs the ordered IV_* table sent alongside the
// client's KeyExchangeMethod2, as an Options value built programmatically
// rather than parsed, per SPEC_FULL.md §3.
func buildPeerInfo(cfg peerInfoConfig) *Options {
	o := NewOptions()
	o.Add("IV_VER", cfg.Version)
	o.Add("IV_PLAT", cfg.Platform)
	o.Add("IV_TCPNL", "1")
	o.Add("IV_MTU", "1600")
	o.Add("IV_NCP", "2")
	o.Add("IV_CIPHERS", strings.Join(cfg.Ciphers, ":"))
	o.Add("IV_PROTO", itoa(cfg.Proto))
	if cfg.GUIVersion != "" {
		o.Add("IV_GUI_VER", cfg.GUIVersion)
	}
	o.Add("IV_SSO", "openurl,webauth,crtext")
	return o
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// writeKeyExchangeMethod2 serializes a KeyExchangeMethod2 control
// message: the registered identifier prefix, the key source (pre_master
// only when isClient), then the length-prefixed options string and
// length-prefixed peer-info string, per spec §4.7's identifier table and
// §4.12's transition text.
func writeKeyExchangeMethod2(ks *KeySource, isClient bool, optionsString string, peerInfo string) []byte {
	w := newWriter()
	w.writeBytes(identifierKeyExchangeMethod2)
	if isClient {
		w.writeBytes(ks.PreMaster)
	}
	w.writeBytes(ks.Random1[:])
	w.writeBytes(ks.Random2[:])
	w.writeU16(uint16(len(optionsString)), 2)
	w.writeBytes([]byte(optionsString))
	w.writeU16(uint16(len(peerInfo)), 2)
	w.writeBytes([]byte(peerInfo))
	return w.bytes()
}

// readKeyExchangeMethod2 reverses writeKeyExchangeMethod2. expectPreMaster
// selects whether a 48-byte pre-master field precedes the randoms (true
// when parsing a message from a client, false for a server's).
func readKeyExchangeMethod2(payload []byte, expectPreMaster bool) (ks KeySource, optionsString, peerInfo string, err error) {
	r := newReader(payload)
	if _, err = r.readBytes(len(identifierKeyExchangeMethod2)); err != nil {
		return
	}
	if expectPreMaster {
		var pm []byte
		pm, err = r.readBytes(48)
		if err != nil {
			return
		}
		ks.PreMaster = append([]byte{}, pm...)
	}
	var rnd []byte
	rnd, err = r.readBytes(32)
	if err != nil {
		return
	}
	copy(ks.Random1[:], rnd)
	rnd, err = r.readBytes(32)
	if err != nil {
		return
	}
	copy(ks.Random2[:], rnd)

	optLen, err := r.readU16(2)
	if err != nil {
		return
	}
	var optBytes []byte
	optBytes, err = r.readBytes(int(optLen))
	if err != nil {
		return
	}
	optionsString = string(optBytes)

	piLen, err := r.readU16(2)
	if err != nil {
		return
	}
	var piBytes []byte
	piBytes, err = r.readBytes(int(piLen))
	if err != nil {
		return
	}
	peerInfo = string(piBytes)
	return
}
