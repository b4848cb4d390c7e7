package ovpn

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// tlsCryptWrapper authenticates and encrypts the outer control envelope
// with a pre-shared static key, per spec §4.6. Keys are split from a
// 256-byte static key into directional CryptoKey blocks the same way data
// keys are split.
type tlsCryptWrapper struct {
	encryptCipherKey [32]byte
	encryptHMACKey   []byte
	decryptCipherKey [32]byte
	decryptHMACKey   []byte

	packetID uint32
	replay   *ooQueue
}

// newTLSCryptWrapper builds a wrapper from a pre-shared static key: 256
// bytes, split into client-direction then server-direction CryptoKey
// blocks exactly as data keys are. isClient selects which direction
// encrypts with which block.
func newTLSCryptWrapper(staticKey []byte, isClient bool) (*tlsCryptWrapper, error) {
	clientKey, serverKey, err := splitKeyMaterial(staticKey)
	if err != nil {
		return nil, err
	}
	w := &tlsCryptWrapper{replay: newOOQueue(), packetID: 1}
	if isClient {
		copy(w.encryptCipherKey[:], clientKey.Cipher[:32])
		w.encryptHMACKey = append([]byte{}, clientKey.HMAC[:32]...)
		copy(w.decryptCipherKey[:], serverKey.Cipher[:32])
		w.decryptHMACKey = append([]byte{}, serverKey.HMAC[:32]...)
	} else {
		copy(w.encryptCipherKey[:], serverKey.Cipher[:32])
		w.encryptHMACKey = append([]byte{}, serverKey.HMAC[:32]...)
		copy(w.decryptCipherKey[:], clientKey.Cipher[:32])
		w.decryptHMACKey = append([]byte{}, clientKey.HMAC[:32]...)
	}
	return w, nil
}

// wrap shapes plaintext (a serialized control record) into the on-wire
// envelope:
// [ packet_id:u32 | unix_seconds:u32 | MAC:32 | AES-256-CTR(plaintext) ].
// sessionHeader is the session packet's header bytes, included in the
// MAC but not in the returned envelope (the caller prepends it itself
// when framing the session packet).
func (w *tlsCryptWrapper) wrap(sessionHeader, plaintext []byte, unixSeconds uint32) ([]byte, error) {
	var idSec [8]byte
	binary.BigEndian.PutUint32(idSec[0:4], w.packetID)
	binary.BigEndian.PutUint32(idSec[4:8], unixSeconds)

	mac := hmac.New(sha256.New, w.encryptHMACKey)
	mac.Write(sessionHeader)
	mac.Write(idSec[:])
	mac.Write(plaintext)
	tag := mac.Sum(nil)

	block, err := aes.NewCipher(w.encryptCipherKey[:])
	if err != nil {
		return nil, wrapError(ErrKindIntegrity, err, "constructing AES cipher")
	}
	var iv [16]byte
	copy(iv[:], tag[:16])
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv[:]).XORKeyStream(ciphertext, plaintext)

	w.packetID++

	out := make([]byte, 0, 8+32+len(ciphertext))
	out = append(out, idSec[:]...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// unwrap reverses wrap: decrypt, then MAC-verify the candidate plaintext
// before returning the recovered packet ID and plaintext. Replay/duplicate packet IDs are offered to an
// out-of-order queue for mitigation rather than treated as an error here
// — the caller decides whether a "duplicate" result is fatal.
func (w *tlsCryptWrapper) unwrap(sessionHeader, envelope []byte) (packetID uint32, plaintext []byte, isReplay bool, err error) {
	if len(envelope) < 8+32 {
		return 0, nil, false, newError(ErrKindProtocol, "tls-crypt envelope too short")
	}
	idSec := envelope[0:8]
	tag := envelope[8:40]
	ciphertext := envelope[40:]

	pid := binary.BigEndian.Uint32(idSec[0:4])

	// The sender's MAC covers the plaintext and its first 16 bytes double
	// as the CTR IV, so the candidate plaintext must be produced before
	// it can be checked against the peer-supplied tag. It is never
	// returned to the caller until hmac.Equal passes below.
	block, cerr := aes.NewCipher(w.decryptCipherKey[:])
	if cerr != nil {
		return 0, nil, false, wrapError(ErrKindIntegrity, cerr, "constructing AES cipher")
	}
	var iv [16]byte
	copy(iv[:], tag[:16])
	candidate := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv[:]).XORKeyStream(candidate, ciphertext)

	verify := hmac.New(sha256.New, w.decryptHMACKey)
	verify.Write(sessionHeader)
	verify.Write(idSec)
	verify.Write(candidate)
	want := verify.Sum(nil)
	if !hmac.Equal(want, tag) {
		return 0, nil, false, newError(ErrKindIntegrity, "tls-crypt MAC mismatch")
	}

	replay := !w.replay.push(pid, nil)
	return pid, candidate, replay, nil
}
