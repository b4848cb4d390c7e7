package ovpn

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
	"strings"

	"golang.org/x/crypto/blowfish"
)

type cipherFamily int

const (
	familyAEAD cipherFamily = iota
	familyCBC
	familyCTR
	familyPlain
)

// cipherSpec describes one entry of the supported-cipher-names table,
// per spec §4.10.
type cipherSpec struct {
	name     string
	family   cipherFamily
	keyLen   int
	ivLen    int
	newBlock func(key []byte) (cipher.Block, error)
}

var cipherTable = map[string]cipherSpec{
	"AES-128-GCM": {name: "AES-128-GCM", family: familyAEAD, keyLen: 16, newBlock: aes.NewCipher},
	"AES-192-GCM": {name: "AES-192-GCM", family: familyAEAD, keyLen: 24, newBlock: aes.NewCipher},
	"AES-256-GCM": {name: "AES-256-GCM", family: familyAEAD, keyLen: 32, newBlock: aes.NewCipher},
	"AES-128-CBC": {name: "AES-128-CBC", family: familyCBC, keyLen: 16, ivLen: 16, newBlock: aes.NewCipher},
	"AES-192-CBC": {name: "AES-192-CBC", family: familyCBC, keyLen: 24, ivLen: 16, newBlock: aes.NewCipher},
	"AES-256-CBC": {name: "AES-256-CBC", family: familyCBC, keyLen: 32, ivLen: 16, newBlock: aes.NewCipher},
	"AES-128-CTR": {name: "AES-128-CTR", family: familyCTR, keyLen: 16, ivLen: 16, newBlock: aes.NewCipher},
	"AES-192-CTR": {name: "AES-192-CTR", family: familyCTR, keyLen: 24, ivLen: 16, newBlock: aes.NewCipher},
	"AES-256-CTR": {name: "AES-256-CTR", family: familyCTR, keyLen: 32, ivLen: 16, newBlock: aes.NewCipher},
	"BF-CBC": {name: "BF-CBC", family: familyCBC, keyLen: 16, ivLen: 8, newBlock: func(key []byte) (cipher.Block, error) {
		return blowfish.NewCipher(key)
	}},
	"PLAIN": {name: "PLAIN", family: familyPlain},
	"NONE":  {name: "NONE", family: familyPlain},
}

type macSpec struct {
	name    string
	newHash func() hash.Hash
	size    int
}

var macTable = map[string]macSpec{
	"SHA1":   {name: "SHA1", newHash: sha1.New, size: sha1.Size},
	"SHA256": {name: "SHA256", newHash: sha256.New, size: sha256.Size},
	"SHA384": {name: "SHA384", newHash: sha512.New384, size: sha512.Size384},
	"SHA512": {name: "SHA512", newHash: sha512.New, size: sha512.Size},
}

func lookupCipher(name string) (cipherSpec, error) {
	if strings.Contains(strings.ToUpper(name), "EPOCH") {
		return cipherSpec{}, newError(ErrKindConfig, "epoch-format data keys are not supported: %s", name)
	}
	spec, ok := cipherTable[strings.ToUpper(name)]
	if !ok {
		return cipherSpec{}, newError(ErrKindConfig, "unsupported cipher %q", name)
	}
	return spec, nil
}

func lookupMAC(name string) (macSpec, error) {
	spec, ok := macTable[strings.ToUpper(name)]
	if !ok {
		return macSpec{}, newError(ErrKindConfig, "unsupported mac %q", name)
	}
	return spec, nil
}

// dataCipher encrypts/decrypts one direction of the data channel, per
// spec §4.10. encrypt/decrypt both take a fixed Additional Authenticated
// Data span (the serialized session header on the wire); CBC/CTR modes
// ignore it, since the wire construction they implement has no AAD.
type dataCipher interface {
	encrypt(aad, plaintext []byte, packetID uint32) ([]byte, error)
	decrypt(aad, wire []byte) (packetID uint32, plaintext []byte, err error)
}

// newDataCipher builds the dataCipher for the given negotiated cipher
// and MAC names. cipherKey/macKey are the 64-byte CryptoKey slots; only
// the cipher's/mac's own key length is consumed from the front of each.
func newDataCipher(cipherName, macName string, cipherKey, macKey []byte) (dataCipher, error) {
	spec, err := lookupCipher(cipherName)
	if err != nil {
		return nil, err
	}

	switch spec.family {
	case familyPlain:
		return &plainCipher{}, nil

	case familyAEAD:
		if len(cipherKey) < spec.keyLen || len(macKey) < 8 {
			return nil, newError(ErrKindConfig, "key material too short for %s", spec.name)
		}
		block, err := spec.newBlock(cipherKey[:spec.keyLen])
		if err != nil {
			return nil, wrapError(ErrKindKeyExchange, err, "constructing %s block cipher", spec.name)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, wrapError(ErrKindKeyExchange, err, "constructing GCM mode")
		}
		var ivPrefix [12]byte
		copy(ivPrefix[4:12], macKey[:8])
		return &aeadCipher{gcm: gcm, ivPrefix: ivPrefix}, nil

	case familyCBC, familyCTR:
		macSp, err := lookupMAC(macName)
		if err != nil {
			return nil, err
		}
		if len(cipherKey) < spec.keyLen || len(macKey) < macSp.size {
			return nil, newError(ErrKindConfig, "key material too short for %s/%s", spec.name, macSp.name)
		}
		block, err := spec.newBlock(cipherKey[:spec.keyLen])
		if err != nil {
			return nil, wrapError(ErrKindKeyExchange, err, "constructing %s block cipher", spec.name)
		}
		cbc := &etmCipher{
			block:   block,
			ivLen:   spec.ivLen,
			ctr:     spec.family == familyCTR,
			macKey:  append([]byte{}, macKey[:macSp.size]...),
			newHash: macSp.newHash,
		}
		return cbc, nil
	}
	return nil, newError(ErrKindConfig, "unhandled cipher family for %s", spec.name)
}

// --- AEAD (AES-GCM) ---

type aeadCipher struct {
	gcm      cipher.AEAD
	ivPrefix [12]byte // byte 0-3 always zero; bytes 4-11 = HMAC-key[0:8]
}

func (c *aeadCipher) perPacketIV(packetID uint32) [12]byte {
	var iv [12]byte
	binary.BigEndian.PutUint32(iv[0:4], packetID) // XOR with zero prefix is a no-op
	copy(iv[4:12], c.ivPrefix[4:12])
	return iv
}

func (c *aeadCipher) encrypt(aad, plaintext []byte, packetID uint32) ([]byte, error) {
	iv := c.perPacketIV(packetID)
	var pidBuf [4]byte
	binary.BigEndian.PutUint32(pidBuf[:], packetID)
	fullAAD := append(append([]byte{}, aad...), pidBuf[:]...)

	sealed := c.gcm.Seal(nil, iv[:], plaintext, fullAAD)
	tagLen := c.gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, 4+tagLen+len(ciphertext))
	out = append(out, pidBuf[:]...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

func (c *aeadCipher) decrypt(aad, wire []byte) (uint32, []byte, error) {
	tagLen := c.gcm.Overhead()
	if len(wire) < 4+tagLen {
		return 0, nil, newError(ErrKindIntegrity, "AEAD packet too short")
	}
	packetID := binary.BigEndian.Uint32(wire[0:4])
	tag := wire[4 : 4+tagLen]
	ciphertext := wire[4+tagLen:]

	iv := c.perPacketIV(packetID)
	var pidBuf [4]byte
	binary.BigEndian.PutUint32(pidBuf[:], packetID)
	fullAAD := append(append([]byte{}, aad...), pidBuf[:]...)

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := c.gcm.Open(nil, iv[:], sealed, fullAAD)
	if err != nil {
		return 0, nil, newError(ErrKindIntegrity, "AEAD authentication failed")
	}
	return packetID, plaintext, nil
}

// --- CBC/CTR-then-HMAC ---

// etmCipher implements the encrypt-then-MAC CBC and CTR framings, which
// share everything but the block-cipher mode, per spec §4.10.
type etmCipher struct {
	block   cipher.Block
	ivLen   int
	ctr     bool
	macKey  []byte
	newHash func() hash.Hash
}

func (c *etmCipher) mac(parts ...[]byte) []byte {
	m := hmac.New(c.newHash, c.macKey)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

func (c *etmCipher) encrypt(aad, plaintext []byte, packetID uint32) ([]byte, error) {
	iv := make([]byte, c.ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, wrapError(ErrKindIntegrity, err, "generating IV")
	}

	var pidBuf [4]byte
	binary.BigEndian.PutUint32(pidBuf[:], packetID)
	inner := append(append([]byte{}, pidBuf[:]...), plaintext...)

	var ciphertext []byte
	if c.ctr {
		ciphertext = make([]byte, len(inner))
		cipher.NewCTR(c.block, iv).XORKeyStream(ciphertext, inner)
	} else {
		padded := padPKCS7(inner, c.block.BlockSize())
		ciphertext = make([]byte, len(padded))
		cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, padded)
	}

	tag := c.mac(iv, ciphertext)

	out := make([]byte, 0, len(tag)+len(iv)+len(ciphertext))
	out = append(out, tag...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

func (c *etmCipher) decrypt(aad, wire []byte) (uint32, []byte, error) {
	tagLen := len(c.mac()) // zero-length mac() just to get hash size cheaply
	if len(wire) < tagLen+c.ivLen {
		return 0, nil, newError(ErrKindIntegrity, "packet too short")
	}
	tag := wire[:tagLen]
	iv := wire[tagLen : tagLen+c.ivLen]
	ciphertext := wire[tagLen+c.ivLen:]

	want := c.mac(iv, ciphertext)
	if !hmac.Equal(want, tag) {
		return 0, nil, newError(ErrKindIntegrity, "HMAC verification failed")
	}

	var inner []byte
	if c.ctr {
		inner = make([]byte, len(ciphertext))
		cipher.NewCTR(c.block, iv).XORKeyStream(inner, ciphertext)
	} else {
		if len(ciphertext) == 0 || len(ciphertext)%c.block.BlockSize() != 0 {
			return 0, nil, newError(ErrKindIntegrity, "ciphertext not block-aligned")
		}
		padded := make([]byte, len(ciphertext))
		cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(padded, ciphertext)
		unpadded, err := unpadPKCS7(padded, c.block.BlockSize())
		if err != nil {
			return 0, nil, err
		}
		inner = unpadded
	}

	if len(inner) < 4 {
		return 0, nil, newError(ErrKindIntegrity, "decrypted payload missing packet id")
	}
	packetID := binary.BigEndian.Uint32(inner[0:4])
	return packetID, inner[4:], nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, newError(ErrKindIntegrity, "cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, newError(ErrKindIntegrity, "invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, newError(ErrKindIntegrity, "invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}

// --- Plain/None ---

type plainCipher struct{}

func (c *plainCipher) encrypt(aad, plaintext []byte, packetID uint32) ([]byte, error) {
	var pidBuf [4]byte
	binary.BigEndian.PutUint32(pidBuf[:], packetID)
	out := make([]byte, 0, 4+len(plaintext))
	out = append(out, pidBuf[:]...)
	out = append(out, plaintext...)
	return out, nil
}

func (c *plainCipher) decrypt(aad, wire []byte) (uint32, []byte, error) {
	if len(wire) < 4 {
		return 0, nil, newError(ErrKindProtocol, "plain packet missing packet id")
	}
	return binary.BigEndian.Uint32(wire[0:4]), wire[4:], nil
}
