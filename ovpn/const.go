package ovpn

// Opcode identifies a session-packet kind, carried in the high 5 bits of
// the first wire byte; key-id occupies the low 3 bits. Per spec §3.
type Opcode uint8

const (
	OpcodeControlHardResetClientV2 Opcode = 7
	OpcodeControlHardResetServerV2 Opcode = 8
	OpcodeControlV1                Opcode = 4
	OpcodeAckV1                    Opcode = 5
	OpcodeDataV2                   Opcode = 9
)

func (o Opcode) String() string {
	switch o {
	case OpcodeControlHardResetClientV2:
		return "CONTROL_HARD_RESET_CLIENT_V2"
	case OpcodeControlHardResetServerV2:
		return "CONTROL_HARD_RESET_SERVER_V2"
	case OpcodeControlV1:
		return "CONTROL_V1"
	case OpcodeAckV1:
		return "ACK_V1"
	case OpcodeDataV2:
		return "DATA_V2"
	}
	return "UNKNOWN"
}

// packOpcodeKeyID packs a 5-bit opcode and 3-bit key-id into the first
// wire byte.
func packOpcodeKeyID(op Opcode, keyID uint8) byte {
	return byte(op)<<3 | (keyID & 0x07)
}

// unpackOpcodeKeyID reverses packOpcodeKeyID.
func unpackOpcodeKeyID(b byte) (Opcode, uint8) {
	return Opcode(b >> 3), b & 0x07
}

// Control packet identifier prefixes, matched against the control
// channel's TLS-application byte stream, per spec §4.7. Built as an
// explicit table rather than via reflection-discovered attributes, per
// the design note in §9.
var (
	identifierKeyExchangeMethod2 = []byte{0x00, 0x00, 0x00, 0x00, 0x02}
	identifierPushReply          = []byte("PUSH_REPLY,")
	identifierAuthFailed         = []byte("AUTH_FAILED,")
	identifierPushRequest        = cStringIdentifier("PUSH_REQUEST")
)

// cStringIdentifier builds a NUL-terminated identifier using the same
// codec primitive the wire format's null-terminated strings use
// elsewhere, per spec §4.2.
func cStringIdentifier(s string) []byte {
	w := newWriter()
	w.writeCString(s)
	return w.bytes()
}

// Data channel packet identifiers, per spec §4.11.
const (
	dataIdentifierPing byte = 0xFA
)

// IV_PROTO bitmap flags advertised in peer-info, per spec §6.
const (
	IVProtoDataV2               uint32 = 1 << 1
	IVProtoRequestPush          uint32 = 1 << 2
	IVProtoTLSKeyMaterialExport uint32 = 1 << 3
	IVProtoAuthPending          uint32 = 1 << 4
	IVProtoNcpP2p               uint32 = 1 << 5
	IVProtoDnsOption            uint32 = 1 << 6
	IVProtoExitNotify           uint32 = 1 << 7
	IVProtoAuthFailTemp         uint32 = 1 << 8
	IVProtoDynamicTlsCrypt      uint32 = 1 << 9
	IVProtoDataEpoch            uint32 = 1 << 10
	IVProtoDnsOptionV2          uint32 = 1 << 11
)

// Epoch-format data keys are recognized but always rejected, per spec
// §1 non-goals and §9 open question (d).
const ivProtoEpochUnsupportedMessage = "epoch-format data keys are not supported"
