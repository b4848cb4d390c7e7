package ovpn

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Control channel states, per spec §4.7.
const (
	ccIdle             = "idle"
	ccAwaitingHardReset = "awaiting_hard_reset"
	ccHandshake        = "handshake"
	ccActive           = "active"
	ccClosed           = "closed"
)

// maxControlPayload bounds how much TLS-application output a single
// ControlV1 packet carries before the channel splits it into another
// packet, keeping each wire packet well under typical path MTUs.
const maxControlPayload = 1200

// controlPacketKind identifies a parsed control-record payload by its
// wire identifier prefix, per spec §4.7's table.
type controlPacketKind int

const (
	controlPacketUnknown controlPacketKind = iota
	controlPacketKeyExchangeMethod2
	controlPacketPushReply
	controlPacketAuthFailed
	controlPacketPushRequest
)

// dispatchControlPacket classifies a TLS-application byte span by its
// registered identifier prefix. Identifier sets are prefix-disjoint by
// construction (spec §4.7); the first match wins, and anything matching
// none falls back to controlPacketUnknown, the "empty identifier"
// fallback type.
func dispatchControlPacket(payload []byte) controlPacketKind {
	switch {
	case hasPrefix(payload, identifierKeyExchangeMethod2):
		return controlPacketKeyExchangeMethod2
	case hasPrefix(payload, identifierPushReply):
		return controlPacketPushReply
	case hasPrefix(payload, identifierAuthFailed):
		return controlPacketAuthFailed
	case hasPrefix(payload, identifierPushRequest):
		return controlPacketPushRequest
	default:
		return controlPacketUnknown
	}
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// controlChannel implements the client-role state machine of spec §4.7:
// hard-reset handshake, cumulative ACK generation and piggybacking, and
// control-record framing around the TLS byte stream. It owns the
// reliable queue for inbound reassembly and the control transport for
// outbound retransmission, and optionally wraps every session packet
// payload in a tls-crypt envelope.
type controlChannel struct {
	logger  log.Logger
	session *sessionState
	demux   *demux
	child   *demuxChild
	framer  *framer
	wrapper *tlsCryptWrapper // nil if no --tls-crypt key configured

	transport *controlTransport
	reliable  *reliableQueue
	fsm       fsm

	rxApp bytePipe // assembled TLS-application bytes ready for the TLS engine's input side

	pendingAcks []uint32 // ack ids accumulated since the last outbound packet
}

func newControlChannel(logger log.Logger, d *demux, fr *framer, session *sessionState, wrapper *tlsCryptWrapper) (*controlChannel, error) {
	child, err := d.register(OpcodeControlHardResetClientV2, OpcodeControlHardResetServerV2, OpcodeControlV1, OpcodeAckV1)
	if err != nil {
		return nil, err
	}
	c := &controlChannel{
		logger:    logger,
		session:   session,
		demux:     d,
		child:     child,
		framer:    fr,
		wrapper:   wrapper,
		transport: newControlTransport(defaultControlTransportConfig()),
		reliable:  newReliableQueue(64, 0),
	}
	c.fsm = fsm{
		current: ccIdle,
		table: []fsmTransition{
			{from: ccIdle, events: []string{"connect"}, to: ccAwaitingHardReset},
			{from: ccAwaitingHardReset, events: []string{"hard_reset_server"}, to: ccHandshake},
			{from: ccHandshake, events: []string{"active"}, to: ccActive},
			{from: ccIdle, events: []string{"fatal"}, to: ccClosed},
			{from: ccAwaitingHardReset, events: []string{"fatal"}, to: ccClosed},
			{from: ccHandshake, events: []string{"fatal"}, to: ccClosed},
			{from: ccActive, events: []string{"fatal"}, to: ccClosed},
		},
	}
	return c, nil
}

func (c *controlChannel) state() string {
	return c.fsm.current
}

// envelope wraps a just-built session packet's body, optionally through
// the tls-crypt wrapper, and returns the bytes the framer should emit.
func (c *controlChannel) envelope(pkt sessionPacket, now time.Time) ([]byte, error) {
	if c.wrapper == nil {
		return c.framer.write(pkt), nil
	}
	header := []byte{packOpcodeKeyID(pkt.Opcode, pkt.KeyID)}
	wrapped, err := c.wrapper.wrap(header, pkt.Body, uint32(now.Unix()))
	if err != nil {
		return nil, err
	}
	return c.framer.write(sessionPacket{Opcode: pkt.Opcode, KeyID: pkt.KeyID, Body: wrapped}), nil
}

// connect builds and sends the initial hard-reset packet, per spec
// §4.7's Idle -> AwaitingHardReset transition.
func (c *controlChannel) connect(now time.Time) ([]byte, error) {
	if err := c.fsm.handleEvent("connect"); err != nil {
		return nil, wrapError(ErrKindProtocol, err, "control channel connect")
	}
	c.session.nextControlSendID() // hard-reset consumes an ID slot but is stamped 0 on the wire
	body := writeControlRecord(c.session.localSessionID, nil, 0, u32ptr(0), nil)
	wire, err := c.envelope(sessionPacket{Opcode: OpcodeControlHardResetClientV2, KeyID: c.session.keyID, Body: body}, now)
	if err != nil {
		return nil, err
	}
	level.Debug(c.logger).Log("msg", "sent hard reset", "local_session_id", c.session.localSessionID)
	return wire, nil
}

// writeApplication chunks TLS-stack output into one or more ControlV1
// wire packets, stamping each with the next monotonic packet_id and
// piggybacking the accumulated ACK list, per spec §4.7.
func (c *controlChannel) writeApplication(data []byte, now time.Time) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		n := len(data)
		if n > maxControlPayload {
			n = maxControlPayload
		}
		chunk := data[:n]
		data = data[n:]

		id := c.session.nextControlSendID()
		acks := c.pendingAcks
		c.pendingAcks = nil

		body := writeControlRecord(c.session.localSessionID, acks, c.session.remoteSessionID, u32ptr(id), chunk)
		wire, err := c.envelope(sessionPacket{Opcode: OpcodeControlV1, KeyID: c.session.keyID, Body: body}, now)
		if err != nil {
			return nil, err
		}
		c.transport.enqueue(id, wire, now)
		out = append(out, wire)
	}
	return out, nil
}

// pump drains every packet currently available from the demultiplexer,
// updates session/reliable-queue state, and returns wire bytes for any
// ACKs that must be sent in response. Fully reassembled TLS-application
// bytes are appended to rxApp for the caller to feed into the TLS
// engine's input side.
func (c *controlChannel) pump(now time.Time) ([][]byte, error) {
	var out [][]byte
	for {
		pkt, ok, err := c.demux.pull(c.child)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		wire, err := c.handlePacket(pkt, now)
		if err != nil {
			level.Error(c.logger).Log("msg", "dropping control packet", "err", err)
			continue
		}
		if wire != nil {
			out = append(out, wire)
		}
	}

	for {
		payload, ok := c.reliable.tryDequeue()
		if !ok {
			break
		}
		c.rxApp.writeBytes(payload)
	}
	return out, nil
}

func (c *controlChannel) handlePacket(pkt sessionPacket, now time.Time) ([]byte, error) {
	body := pkt.Body
	if c.wrapper != nil {
		header := []byte{packOpcodeKeyID(pkt.Opcode, pkt.KeyID)}
		_, plain, replay, err := c.wrapper.unwrap(header, body)
		if err != nil {
			return nil, err
		}
		if replay {
			return nil, nil
		}
		body = plain
	}

	switch pkt.Opcode {
	case OpcodeControlHardResetServerV2:
		sessionID, _, _, packetID, payload, err := readControlRecord(body, true)
		if err != nil {
			return nil, err
		}
		if err := c.session.acceptRemoteSessionID(sessionID); err != nil {
			return nil, err
		}
		if err := c.fsm.handleEvent("hard_reset_server"); err != nil {
			return nil, wrapError(ErrKindProtocol, err, "unexpected hard reset")
		}
		newlyAccepted := c.reliable.tryEnqueue(packetID, payload)
		if newlyAccepted {
			c.pendingAcks = c.reliable.receivedIDs()
			return c.buildAck(now)
		}
		return nil, nil

	case OpcodeControlV1:
		sessionID, ackIDs, remoteID, packetID, payload, err := readControlRecord(body, true)
		if err != nil {
			return nil, err
		}
		if err := c.session.acceptRemoteSessionID(sessionID); err != nil {
			return nil, err
		}
		c.transport.ack(ackIDs)
		_ = remoteID
		newlyAccepted := c.reliable.tryEnqueue(packetID, payload)
		if newlyAccepted {
			c.pendingAcks = c.reliable.receivedIDs()
			return c.buildAck(now)
		}
		return nil, nil

	case OpcodeAckV1:
		_, ackIDs, _, _, _, err := readControlRecord(body, false)
		if err != nil {
			return nil, err
		}
		c.transport.ack(ackIDs)
		return nil, nil

	default:
		return nil, newError(ErrKindProtocol, "unexpected opcode on control channel: %v", pkt.Opcode)
	}
}

// buildAck emits a pure ACK packet (opcode AckV1) carrying the
// accumulated ack list and no packet ID, per spec §4.7.
func (c *controlChannel) buildAck(now time.Time) ([]byte, error) {
	acks := c.pendingAcks
	c.pendingAcks = nil
	body := writeControlRecord(c.session.localSessionID, acks, c.session.remoteSessionID, nil, nil)
	return c.envelope(sessionPacket{Opcode: OpcodeAckV1, KeyID: c.session.keyID, Body: body}, now)
}

// tick drives retransmission of unacked outbound control packets.
func (c *controlChannel) tick(now time.Time) ([][]byte, error) {
	due, err := c.transport.tick(now)
	if err != nil {
		return nil, wrapError(ErrKindConnectionClosed, err, "control transport")
	}
	return due, nil
}

// readApplication drains up to len(dst) bytes of reassembled
// TLS-application input from the reliable queue's dequeue order.
func (c *controlChannel) readApplication(dst []byte) int {
	return c.rxApp.readBytes(dst)
}

// writeControlRecord serializes a Control Record per spec §3: session
// id, cumulative-ack list, optional remote session id, optional sender
// packet id, then the opaque payload.
func writeControlRecord(sessionID uint64, ackIDs []uint32, remoteSessionID uint64, packetID *uint32, payload []byte) []byte {
	w := newWriter()
	w.writeU64(sessionID, 8)
	w.writeU8(uint8(len(ackIDs)))
	for _, id := range ackIDs {
		w.writeU32(id, 4)
	}
	if len(ackIDs) > 0 {
		w.writeU64(remoteSessionID, 8)
	}
	if packetID != nil {
		w.writeU32(*packetID, 4)
	}
	w.writeBytes(payload)
	return w.bytes()
}

// readControlRecord reverses writeControlRecord. hasPacketID selects
// whether a sender packet id field follows the ack section, true for
// hard-reset/ControlV1 and false for AckV1.
func readControlRecord(body []byte, hasPacketID bool) (sessionID uint64, ackIDs []uint32, remoteSessionID uint64, packetID uint32, payload []byte, err error) {
	r := newReader(body)
	sessionID, err = r.readU64(8)
	if err != nil {
		return
	}
	count, err := r.readU8()
	if err != nil {
		return
	}
	if count > 0 {
		ackIDs = make([]uint32, count)
		for i := range ackIDs {
			ackIDs[i], err = r.readU32(4)
			if err != nil {
				return
			}
		}
		remoteSessionID, err = r.readU64(8)
		if err != nil {
			return
		}
	}
	if hasPacketID {
		packetID, err = r.readU32(4)
		if err != nil {
			return
		}
	}
	payload, err = r.readBytes(r.remaining())
	return
}

func u32ptr(v uint32) *uint32 { return &v }
