package ovpn

import (
	"context"
	"io"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	tls "github.com/refraction-networking/utls"
)

// Orchestrator top-level states, per spec §4.12.
const (
	orchConnecting       = "connecting"
	orchSessionReady     = "session_ready"
	orchHandshakePending = "handshake_pending"
	orchKeysExchanged    = "keys_exchanged"
	orchPushRequested    = "push_requested"
	orchTunneled         = "tunneled"
	orchClosed           = "connection_closed"
)

// TLSConfig configures the control-crypto TLS client engine. Certificate
// material is already-parsed; PEM loading is out of scope (spec §1).
type TLSConfig struct {
	Certificates            []tls.Certificate
	UseKeyMaterialExporters bool
	ServerName              string
	InsecureSkipVerify      bool
}

// TLSCryptConfig configures the optional tls-crypt outer envelope.
type TLSCryptConfig struct {
	StaticKey []byte // 256 bytes
}

// Config is the recognized connection profile, per spec §6.
type Config struct {
	Remote         string
	Protocol       string // "udp" | "tcp"
	Platform       string
	Version        string
	GUIVersion     string
	DataCiphers    []string
	ControlCrypto  *TLSConfig
	ControlWrapper *TLSCryptConfig
	Name           string
}

// PacketKind identifies an application-level packet surfaced by Read or
// accepted by Write, per spec §6.
type PacketKind int

const (
	PacketIP PacketKind = iota
	PacketEthernet
	PacketConnect
)

// ApplicationPacket is the orchestrator's external packet type. Connect
// is populated only for PacketConnect, emitted exactly once on the
// transition to Tunneled.
type ApplicationPacket struct {
	Kind    PacketKind
	Bytes   []byte
	Connect *ConnectInfo
}

// ConnectInfo reports the tunnel device type and negotiated addressing,
// carried on the single PacketConnect emitted after Tunneled.
type ConnectInfo struct {
	DeviceType   string
	IfConfigV4   *IfConfigV4
	IfConfigV6   *IfConfigV6
}

// Orchestrator drives the whole client protocol over one caller-supplied
// byte stream, per spec §4.12. It is not safe for concurrent Send/Send
// or Receive/Receive calls on the same instance (spec §5); the caller
// serializes access with an external mutex if driven from multiple
// goroutines.
type Orchestrator struct {
	logger log.Logger
	connID string
	conn   io.ReadWriteCloser
	cfg    Config

	fsm fsm

	session *sessionState
	framer  *framer
	demux   *demux
	wrapper *tlsCryptWrapper

	cc     *controlChannel
	crypto *controlCrypto

	clientKeySource *KeySource
	serverKeySource *KeySource
	serverExchange  *KeyExchange

	data *dataChannel

	pending     *ApplicationPacket // the ConnectInfo packet, surfaced once by Read
	readBuf     [4096]byte
	connectInfo ConnectInfo
}

// NewOrchestrator constructs an Orchestrator bound to conn, which must
// already be an open bidirectional byte stream to the server (spec §1:
// socket creation is an external concern).
func NewOrchestrator(conn io.ReadWriteCloser, cfg Config, logger log.Logger) (*Orchestrator, error) {
	connID := uuid.NewString()
	o := &Orchestrator{
		logger: log.With(logger, "conn_id", connID),
		connID: connID,
		conn:   conn,
		cfg:    cfg,
	}
	o.fsm = fsm{
		current: orchConnecting,
		table: []fsmTransition{
			{from: orchConnecting, events: []string{"session_ready"}, to: orchSessionReady},
			{from: orchSessionReady, events: []string{"hard_reset_sent"}, to: orchHandshakePending},
			{from: orchHandshakePending, events: []string{"keys_exchanged"}, to: orchKeysExchanged},
			{from: orchKeysExchanged, events: []string{"push_requested"}, to: orchPushRequested},
			{from: orchPushRequested, events: []string{"push_reply"}, to: orchTunneled},
			{from: orchConnecting, events: []string{"fatal"}, to: orchClosed},
			{from: orchSessionReady, events: []string{"fatal"}, to: orchClosed},
			{from: orchHandshakePending, events: []string{"fatal"}, to: orchClosed},
			{from: orchKeysExchanged, events: []string{"fatal"}, to: orchClosed},
			{from: orchPushRequested, events: []string{"fatal"}, to: orchClosed},
			{from: orchTunneled, events: []string{"fatal"}, to: orchClosed},
		},
	}
	return o, nil
}

func (o *Orchestrator) state() string { return o.fsm.current }

func (o *Orchestrator) fail(err error) error {
	o.fsm.handleEvent("fatal")
	return err
}

// Connect drives the handshake through to Tunneled: session bring-up,
// the control channel's hard-reset, the TLS handshake, KeyExchangeMethod2
// and PUSH_REQUEST/PUSH_REPLY, per spec §4.12's transition table.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if o.state() != orchConnecting {
		return newError(ErrKindProtocol, "Connect called outside Connecting state")
	}

	mode := transportUDP
	if o.cfg.Protocol == "tcp" {
		mode = transportTCP
	}

	session, err := newSessionState()
	if err != nil {
		return o.fail(err)
	}
	o.session = session
	o.framer = newFramer(mode)
	o.demux = newDemux(o.framer)

	if o.cfg.ControlWrapper != nil {
		wrapper, err := newTLSCryptWrapper(o.cfg.ControlWrapper.StaticKey, true)
		if err != nil {
			return o.fail(err)
		}
		o.wrapper = wrapper
	}

	cc, err := newControlChannel(o.logger, o.demux, o.framer, o.session, o.wrapper)
	if err != nil {
		return o.fail(err)
	}
	o.cc = cc

	tlsCfg := controlCryptoConfig{}
	if o.cfg.ControlCrypto != nil {
		tlsCfg = controlCryptoConfig{
			ServerName:              o.cfg.ControlCrypto.ServerName,
			ClientCertificates:      o.cfg.ControlCrypto.Certificates,
			UseKeyMaterialExporters: o.cfg.ControlCrypto.UseKeyMaterialExporters,
			InsecureSkipVerify:      o.cfg.ControlCrypto.InsecureSkipVerify,
		}
	}
	o.crypto = newControlCrypto(o.logger, tlsCfg)

	clientKeySource, err := newClientKeySource()
	if err != nil {
		return o.fail(err)
	}
	o.clientKeySource = clientKeySource

	if err := o.fsm.handleEvent("session_ready"); err != nil {
		return o.fail(wrapError(ErrKindProtocol, err, "orchestrator fsm"))
	}

	now := time.Now()
	wire, err := o.cc.connect(now)
	if err != nil {
		return o.fail(err)
	}
	if _, err := o.conn.Write(wire); err != nil {
		return o.fail(wrapError(ErrKindConnectionClosed, err, "writing hard reset"))
	}
	if err := o.fsm.handleEvent("hard_reset_sent"); err != nil {
		return o.fail(wrapError(ErrKindProtocol, err, "orchestrator fsm"))
	}

	o.crypto.connect()
	sentMethod2 := false
	sentPushRequest := false

	for o.state() != orchTunneled {
		select {
		case <-ctx.Done():
			return o.fail(wrapError(ErrKindCancelled, ctx.Err(), "connect cancelled"))
		default:
		}

		n, err := o.conn.Read(o.readBuf[:])
		if err != nil {
			return o.fail(wrapError(ErrKindConnectionClosed, err, "reading from transport"))
		}
		o.framer.feed(o.readBuf[:n])

		now = time.Now()
		acks, err := o.cc.pump(now)
		if err != nil {
			return o.fail(err)
		}
		if err := o.flush(acks); err != nil {
			return o.fail(err)
		}

		if o.cc.state() == ccHandshake {
			// Feed whatever TLS-layer bytes the reliable queue just
			// reassembled into the crypto engine's read side.
			var buf [4096]byte
			for {
				rn := o.cc.readApplication(buf[:])
				if rn == 0 {
					break
				}
				o.crypto.writeOutput(buf[:rn])
			}

			done, herr := o.crypto.handshakeComplete()
			if herr != nil {
				return o.fail(wrapError(ErrKindKeyExchange, herr, "tls handshake"))
			}

			// Drain whatever the TLS engine produced (handshake flight
			// or, post-handshake, our own application writes) and wrap
			// it into ControlV1 packets.
			var out [4096]byte
			for {
				on := o.crypto.readOutput(out[:])
				if on == 0 {
					break
				}
				wires, err := o.cc.writeApplication(append([]byte{}, out[:on]...), now)
				if err != nil {
					return o.fail(err)
				}
				if err := o.flush(wires); err != nil {
					return o.fail(err)
				}
			}

			if done && !sentMethod2 {
				if err := o.sendKeyExchangeMethod2(now); err != nil {
					return o.fail(err)
				}
				sentMethod2 = true
				level.Debug(o.logger).Log("msg", "sent key exchange method 2")
			}

			if sentMethod2 {
				var appBuf [4096]byte
				for {
					an := o.crypto.readInput(appBuf[:])
					if an == 0 {
						break
					}
					if err := o.handleControlApplication(appBuf[:an], now, &sentPushRequest); err != nil {
						return o.fail(err)
					}
				}
			}
		}

		due, err := o.cc.tick(now)
		if err != nil {
			return o.fail(err)
		}
		if err := o.flush(due); err != nil {
			return o.fail(err)
		}
	}

	return nil
}

// flush writes each wire packet in order, stopping at the first error.
func (o *Orchestrator) flush(wires [][]byte) error {
	for _, w := range wires {
		if _, err := o.conn.Write(w); err != nil {
			return wrapError(ErrKindConnectionClosed, err, "writing to transport")
		}
	}
	return nil
}

func (o *Orchestrator) sendKeyExchangeMethod2(now time.Time) error {
	peerInfo := buildPeerInfo(peerInfoConfig{
		Version:    o.cfg.Version,
		Platform:   o.cfg.Platform,
		GUIVersion: o.cfg.GUIVersion,
		Ciphers:    o.cfg.DataCiphers,
		Proto:      IVProtoDataV2 | IVProtoRequestPush | IVProtoTLSKeyMaterialExport | IVProtoNcpP2p,
	})
	msg := writeKeyExchangeMethod2(o.clientKeySource, true, "", peerInfo.Stringify('\n', ' '))
	o.crypto.writeInput(msg)
	return nil
}

// handleControlApplication dispatches one reassembled TLS-application
// record by its registered identifier prefix, per spec §4.7's table and
// §4.12's per-kind transitions.
func (o *Orchestrator) handleControlApplication(payload []byte, now time.Time, sentPushRequest *bool) error {
	switch dispatchControlPacket(payload) {
	case controlPacketKeyExchangeMethod2:
		ks, optionsString, _, err := readKeyExchangeMethod2(payload, false)
		if err != nil {
			return wrapError(ErrKindKeyExchange, err, "parsing server key exchange")
		}
		o.serverKeySource = &ks
		exchange, err := parseKeyExchangeOptions(optionsString)
		if err != nil {
			return err
		}
		o.serverExchange = exchange
		if err := o.fsm.handleEvent("keys_exchanged"); err != nil {
			return wrapError(ErrKindProtocol, err, "orchestrator fsm")
		}
		if !*sentPushRequest {
			o.crypto.writeInput(append([]byte{}, identifierPushRequest...))
			*sentPushRequest = true
			if err := o.fsm.handleEvent("push_requested"); err != nil {
				return wrapError(ErrKindProtocol, err, "orchestrator fsm")
			}
		}
		return nil

	case controlPacketPushReply:
		push, _, err := parsePushReply(payload)
		if err != nil {
			return err
		}
		return o.onPushReply(push)

	case controlPacketAuthFailed:
		reason := parseAuthFailed(payload)
		return authFailedError(reason)

	default:
		level.Debug(o.logger).Log("msg", "ignoring unrecognized control application record", "len", len(payload))
		return nil
	}
}

// onPushReply derives data keys and instantiates the data channel, per
// spec §4.12's PushReply transition.
func (o *Orchestrator) onPushReply(push *PushOptions) error {
	if o.serverKeySource == nil {
		return newError(ErrKindKeyExchange, "push reply received before key exchange completed")
	}

	var clientKey, serverKey CryptoKey
	var err error
	if push.hasProtocolFlag("tls-ekm") {
		clientKey, serverKey, err = DeriveEKM(o.crypto.exporter())
	} else {
		clientKey, serverKey, err = DeriveMasterAndKeys(*o.clientKeySource, *o.serverKeySource, o.session.localSessionID, o.session.remoteSessionID)
	}
	if err != nil {
		return err
	}
	o.clientKeySource.clear()
	o.serverKeySource.clear()

	macName := o.serverExchange.Auth
	if macName == "" {
		macName = "SHA256"
	}
	cipher, err := newDataCipher(push.Cipher, macName, clientKey.Cipher[:], clientKey.HMAC[:])
	if err != nil {
		return err
	}

	data, err := newDataChannel(o.demux, o.framer, cipher, push.PeerID, o.session.keyID)
	if err != nil {
		return err
	}
	o.data = data
	_ = serverKey // server-direction key material is owned by the peer's decrypt path, not used locally

	deviceType := "tun"
	info := ConnectInfo{DeviceType: deviceType}
	if push.IfConfig != "" {
		if v4, err := ParseIfConfigV4(push.IfConfig, push.RouteGateway); err == nil {
			info.IfConfigV4 = &v4
		}
	}
	if push.IfConfigIPv6 != "" {
		if v6, err := ParseIfConfigV6(push.IfConfigIPv6); err == nil {
			info.IfConfigV6 = &v6
		}
	}
	o.connectInfo = info
	o.pending = &ApplicationPacket{Kind: PacketConnect, Connect: &o.connectInfo}

	return o.fsm.handleEvent("push_reply")
}

// Write serializes and sends one application packet through the data
// channel. Only valid once Tunneled.
func (o *Orchestrator) Write(ctx context.Context, pkt ApplicationPacket) error {
	if o.state() != orchTunneled {
		return newError(ErrKindProtocol, "Write called before Tunneled")
	}
	wire, err := o.data.write(DataPacket{Kind: DataPacketRaw, Payload: pkt.Bytes})
	if err != nil {
		return err
	}
	if _, err := o.conn.Write(wire); err != nil {
		return wrapError(ErrKindConnectionClosed, err, "writing data packet")
	}
	return nil
}

// Read returns the next application packet: the single PacketConnect
// queued by a successful Connect, then successive frames read from the
// data channel, each surfaced as PacketIP (the device type is always
// reported as "tun"; PacketEthernet is never produced). Ping packets are
// echoed transparently and never surfaced to the caller.
func (o *Orchestrator) Read(ctx context.Context) (ApplicationPacket, error) {
	if o.pending != nil {
		pkt := *o.pending
		o.pending = nil
		return pkt, nil
	}
	if o.state() != orchTunneled {
		return ApplicationPacket{}, newError(ErrKindProtocol, "Read called before Tunneled")
	}

	for {
		select {
		case <-ctx.Done():
			return ApplicationPacket{}, wrapError(ErrKindCancelled, ctx.Err(), "read cancelled")
		default:
		}

		pkt, ok, err := o.data.read()
		if err != nil {
			return ApplicationPacket{}, err
		}
		if ok {
			if pkt.Kind == DataPacketPing {
				if err := o.echoPing(); err != nil {
					return ApplicationPacket{}, err
				}
				continue
			}
			return ApplicationPacket{Kind: PacketIP, Bytes: pkt.Payload}, nil
		}

		n, err := o.conn.Read(o.readBuf[:])
		if err != nil {
			return ApplicationPacket{}, wrapError(ErrKindConnectionClosed, err, "reading from transport")
		}
		o.framer.feed(o.readBuf[:n])

		now := time.Now()
		acks, err := o.cc.pump(now)
		if err != nil {
			return ApplicationPacket{}, err
		}
		if err := o.flush(acks); err != nil {
			return ApplicationPacket{}, err
		}
	}
}

func (o *Orchestrator) echoPing() error {
	wire, err := o.data.write(DataPacket{Kind: DataPacketPing})
	if err != nil {
		return err
	}
	if _, err := o.conn.Write(wire); err != nil {
		return wrapError(ErrKindConnectionClosed, err, "writing ping")
	}
	return nil
}

// Send flushes any outstanding control-channel retransmits. Per spec §5
// this is one of the two scheduled suspension-point operations; here it
// never blocks on the socket beyond a single non-blocking write pass.
func (o *Orchestrator) Send(ctx context.Context) error {
	if o.cc == nil {
		return nil
	}
	due, err := o.cc.tick(time.Now())
	if err != nil {
		return o.fail(err)
	}
	return o.flush(due)
}

// Receive performs one blocking read from the transport and pumps it
// through the control and data channels.
func (o *Orchestrator) Receive(ctx context.Context) error {
	n, err := o.conn.Read(o.readBuf[:])
	if err != nil {
		return o.fail(wrapError(ErrKindConnectionClosed, err, "reading from transport"))
	}
	o.framer.feed(o.readBuf[:n])
	acks, err := o.cc.pump(time.Now())
	if err != nil {
		return o.fail(err)
	}
	return o.flush(acks)
}

// WaitForData blocks until at least one Receive would make progress.
// The cooperative model (spec §5) has no separate readiness primitive,
// so this is simply a Receive whose result the caller discards.
func (o *Orchestrator) WaitForData(ctx context.Context) error {
	return o.Receive(ctx)
}

// Dispose releases the socket and zeroes the client and server key
// sources still held. Key material inside the data channel's cipher is
// not zeroed.
func (o *Orchestrator) Dispose() error {
	if o.clientKeySource != nil {
		o.clientKeySource.clear()
	}
	if o.serverKeySource != nil {
		o.serverKeySource.clear()
	}
	if o.crypto != nil {
		o.crypto.close()
	}
	return o.conn.Close()
}
