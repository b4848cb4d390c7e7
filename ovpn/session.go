package ovpn

import (
	"crypto/rand"
	"encoding/binary"
)

// sessionState holds the per-connection identifiers and monotonic
// counters shared across the control and data channels, per spec §3.
type sessionState struct {
	localSessionID  uint64
	remoteSessionID uint64 // 0 = unknown
	controlSendID   uint32
	dataSendID      uint32
	keyID           uint8
}

// newSessionState constructs a session with a freshly randomized local
// session ID. data_send_packet_id starts at 1 per spec §4.10.
func newSessionState() (*sessionState, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, wrapError(ErrKindProtocol, err, "generating local session id")
	}
	return &sessionState{
		localSessionID: binary.BigEndian.Uint64(b[:]),
		dataSendID:     1,
	}, nil
}

// acceptRemoteSessionID records the peer's session ID the first time it
// is observed and is a no-op afterwards; any later call with a
// different nonzero value indicates a session mismatch the caller must
// treat as a dropped packet.
func (s *sessionState) acceptRemoteSessionID(id uint64) error {
	if s.remoteSessionID == 0 {
		s.remoteSessionID = id
		return nil
	}
	if id != s.remoteSessionID {
		return newError(ErrKindProtocol, "remote session id mismatch: have %#x, got %#x", s.remoteSessionID, id)
	}
	return nil
}

func (s *sessionState) nextControlSendID() uint32 {
	id := s.controlSendID
	s.controlSendID++
	return id
}

func (s *sessionState) nextDataSendID() uint32 {
	id := s.dataSendID
	s.dataSendID++
	return id
}
