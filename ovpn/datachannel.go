package ovpn

// DataPacketKind identifies the type-identifier prefix byte of a data
// channel packet, per spec §4.11.
type DataPacketKind int

const (
	// DataPacketRaw is a raw IP/Ethernet frame: no type-identifier prefix.
	DataPacketRaw DataPacketKind = iota
	// DataPacketPing is a keepalive, identifier 0xFA, empty payload.
	DataPacketPing
)

// DataPacket is one decrypted/identified data-channel message.
type DataPacket struct {
	Kind    DataPacketKind
	Payload []byte
}

// dataChannel wraps the child session channel dedicated to OpcodeDataV2,
// performing encrypt/decrypt with AD=session header and maintaining the
// peer-id and monotonic send counter, per spec §4.11.
type dataChannel struct {
	demux  *demux
	child  *demuxChild
	framer *framer

	cipher dataCipher
	replay *replayWindow

	peerID uint32 // 24-bit
	keyID  uint8
	sendID uint32 // starts at 1
}

func newDataChannel(d *demux, f *framer, cipher dataCipher, peerID uint32, keyID uint8) (*dataChannel, error) {
	child, err := d.register(OpcodeDataV2)
	if err != nil {
		return nil, err
	}
	return &dataChannel{
		demux:  d,
		child:  child,
		framer: f,
		cipher: cipher,
		replay: newReplayWindow(),
		peerID: peerID,
		keyID:  keyID,
		sendID: 1,
	}, nil
}

// sessionHeader builds the AD used for both framing and encryption: the
// opcode/key-id byte followed by the 24-bit peer-id, big-endian.
func (c *dataChannel) sessionHeader() []byte {
	return []byte{
		packOpcodeKeyID(OpcodeDataV2, c.keyID),
		byte(c.peerID >> 16),
		byte(c.peerID >> 8),
		byte(c.peerID),
	}
}

// write serializes pkt with its type-identifier prefix, encrypts it with
// AD=session header, frames it, and returns the wire bytes (the caller
// still owns sending them on the socket).
func (c *dataChannel) write(pkt DataPacket) ([]byte, error) {
	var plaintext []byte
	switch pkt.Kind {
	case DataPacketPing:
		plaintext = []byte{dataIdentifierPing}
	case DataPacketRaw:
		plaintext = pkt.Payload
	default:
		return nil, newError(ErrKindProtocol, "unknown data packet kind %d", pkt.Kind)
	}

	header := c.sessionHeader()
	body, err := c.cipher.encrypt(header, plaintext, c.sendID)
	if err != nil {
		return nil, err
	}
	c.sendID++

	full := append(append([]byte{}, header[1:]...), body...) // peer-id then encrypted body
	return c.framer.write(sessionPacket{Opcode: OpcodeDataV2, KeyID: c.keyID, Body: full}), nil
}

// read pulls and decrypts the next data packet. Integrity failures and
// replays drop the offending packet and continue rather than
// propagating a fatal error, per spec §7's recovered-locally policy.
func (c *dataChannel) read() (DataPacket, bool, error) {
	for {
		sp, ok, err := c.demux.pull(c.child)
		if err != nil {
			return DataPacket{}, false, err
		}
		if !ok {
			return DataPacket{}, false, nil
		}
		if len(sp.Body) < 3 {
			continue // malformed: drop
		}
		peerID := uint32(sp.Body[0])<<16 | uint32(sp.Body[1])<<8 | uint32(sp.Body[2])
		if peerID != c.peerID {
			continue // not ours: drop
		}

		header := []byte{packOpcodeKeyID(sp.Opcode, sp.KeyID), sp.Body[0], sp.Body[1], sp.Body[2]}
		packetID, plaintext, err := c.cipher.decrypt(header, sp.Body[3:])
		if err != nil {
			continue // integrity error: drop, per spec §7
		}
		if !c.replay.accept(packetID) {
			continue // replay: drop
		}

		if len(plaintext) == 1 && plaintext[0] == dataIdentifierPing {
			return DataPacket{Kind: DataPacketPing}, true, nil
		}
		return DataPacket{Kind: DataPacketRaw, Payload: plaintext}, true, nil
	}
}
