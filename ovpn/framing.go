package ovpn

import "encoding/binary"

// sessionPacket is a parsed wire packet: an opcode/key-id header plus
// the opaque remainder of the packet body, per spec §3.
type sessionPacket struct {
	Opcode Opcode
	KeyID  uint8
	Body   []byte
}

// transportMode selects how the framer delimits packets on the wire.
type transportMode int

const (
	transportUDP transportMode = iota
	transportTCP
)

// framer splits/combines the opcode/key-id byte and, on TCP, a 16-bit
// length prefix, per spec §4.4. It owns an input bytePipe fed by the
// caller's raw socket reads.
type framer struct {
	mode transportMode
	in   *bytePipe   // TCP: a byte stream; unused in UDP mode
	udp  [][]byte    // UDP: one entry per datagram, in arrival order
}

func newFramer(mode transportMode) *framer {
	return &framer{mode: mode, in: newBytePipe(4096)}
}

// feed appends raw bytes read from the underlying socket. On UDP, b must
// be exactly one datagram; on TCP it may be an arbitrary chunk of the
// byte stream.
func (f *framer) feed(b []byte) {
	if f.mode == transportUDP {
		cp := append([]byte(nil), b...)
		f.udp = append(f.udp, cp)
		return
	}
	f.in.writeBytes(b)
}

// write serializes pkt to the bytes that should be sent on the wire.
func (f *framer) write(pkt sessionPacket) []byte {
	header := packOpcodeKeyID(pkt.Opcode, pkt.KeyID)
	body := make([]byte, 0, 1+len(pkt.Body))
	body = append(body, header)
	body = append(body, pkt.Body...)

	if f.mode == transportUDP {
		return body
	}

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(body)))
	out := make([]byte, 0, 2+len(body))
	out = append(out, lenPrefix[:]...)
	out = append(out, body...)
	return out
}

// read returns the next fully-buffered packet, or (zero, false) if one
// is not yet available. On TCP, a truncated trailing packet leaves the
// buffered bytes untouched so a subsequent feed can complete it.
func (f *framer) read() (sessionPacket, bool, error) {
	switch f.mode {
	case transportUDP:
		return f.readUDP()
	default:
		return f.readTCP()
	}
}

func (f *framer) readUDP() (sessionPacket, bool, error) {
	if len(f.udp) == 0 {
		return sessionPacket{}, false, nil
	}
	body := f.udp[0]
	f.udp = f.udp[1:]
	return f.parseBody(body)
}

func (f *framer) readTCP() (sessionPacket, bool, error) {
	if f.in.available() < 2 {
		return sessionPacket{}, false, nil
	}
	var lenBuf [2]byte
	f.in.peek(lenBuf[:], 0)
	bodyLen := int(binary.BigEndian.Uint16(lenBuf[:]))

	if f.in.available() < 2+bodyLen {
		return sessionPacket{}, false, nil
	}
	if err := f.in.consume(2); err != nil {
		return sessionPacket{}, false, err
	}
	body := make([]byte, bodyLen)
	f.in.readBytes(body)
	return f.parseBody(body)
}

func (f *framer) parseBody(body []byte) (sessionPacket, bool, error) {
	if len(body) == 0 {
		return sessionPacket{}, false, newError(ErrKindProtocol, "empty session packet")
	}
	op, keyID := unpackOpcodeKeyID(body[0])
	return sessionPacket{Opcode: op, KeyID: keyID, Body: body[1:]}, true, nil
}
