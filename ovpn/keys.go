package ovpn

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"hash"
)

// CryptoKey is a 128-byte directional key block split into a cipher-key
// slot and an HMAC-key slot, per spec §3. A cipher implementation uses
// only the prefix of its chosen key size from each slot.
type CryptoKey struct {
	Cipher [64]byte
	HMAC   [64]byte
}

const keyMaterialLen = 256 // two CryptoKey blocks, client then server direction

// splitKeyMaterial splits a 256-byte derived key material buffer into
// the client-direction and server-direction CryptoKey blocks.
func splitKeyMaterial(material []byte) (client, server CryptoKey, err error) {
	if len(material) != keyMaterialLen {
		return CryptoKey{}, CryptoKey{}, newError(ErrKindKeyExchange, "key material must be %d bytes, got %d", keyMaterialLen, len(material))
	}
	copy(client.Cipher[:], material[0:64])
	copy(client.HMAC[:], material[64:128])
	copy(server.Cipher[:], material[128:192])
	copy(server.HMAC[:], material[192:256])
	return client, server, nil
}

// KeySource is a peer's contribution to key derivation, per spec §3: a
// 48-byte pre-master (empty on the server side) and two 32-byte random
// values.
type KeySource struct {
	PreMaster []byte // 48 bytes, or empty for a server-side source
	Random1   [32]byte
	Random2   [32]byte
}

// newClientKeySource generates a full 112-byte client key source.
func newClientKeySource() (*KeySource, error) {
	ks := &KeySource{PreMaster: make([]byte, 48)}
	if _, err := rand.Read(ks.PreMaster); err != nil {
		return nil, wrapError(ErrKindKeyExchange, err, "generating pre-master")
	}
	if _, err := rand.Read(ks.Random1[:]); err != nil {
		return nil, wrapError(ErrKindKeyExchange, err, "generating random1")
	}
	if _, err := rand.Read(ks.Random2[:]); err != nil {
		return nil, wrapError(ErrKindKeyExchange, err, "generating random2")
	}
	return ks, nil
}

// clear zeroes the key source in place once consumed, per spec §3.
func (k *KeySource) clear() {
	for i := range k.PreMaster {
		k.PreMaster[i] = 0
	}
	k.Random1 = [32]byte{}
	k.Random2 = [32]byte{}
}

// pHash implements the TLS 1.0 P_hash construction: iteratively
// A(0) = seed, A(i) = HMAC(secret, A(i-1)), emitting HMAC(secret, A(i)
// || seed) each round until at least n bytes have been produced.
func pHash(newHash func() hash.Hash, secret, seed []byte, n int) []byte {
	var out []byte
	a := seed
	for len(out) < n {
		am := hmac.New(newHash, secret)
		am.Write(a)
		a = am.Sum(nil)

		om := hmac.New(newHash, secret)
		om.Write(a)
		om.Write(seed)
		out = append(out, om.Sum(nil)...)
	}
	return out[:n]
}

// prf computes the TLS 1.0 PRF: P_MD5(S1, label||seed) XOR P_SHA1(S2,
// label||seed), truncated to n bytes, where S1/S2 are the first/last
// ceil(len(secret)/2) bytes of secret, per spec §4.9.
func prf(secret []byte, label string, seed []byte, n int) []byte {
	labelSeed := append([]byte(label), seed...)

	half := (len(secret) + 1) / 2
	s1 := secret[:half]
	s2 := secret[len(secret)-half:]

	md5Out := pHash(md5.New, s1, labelSeed, n)
	sha1Out := pHash(sha1.New, s2, labelSeed, n)

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = md5Out[i] ^ sha1Out[i]
	}
	return out
}

// DeriveMasterAndKeys implements the PRF path of spec §4.9: a master
// secret over the client/server pre-master and random1 values, then a
// key-expansion block over random2 and (if non-zero) the two session IDs.
func DeriveMasterAndKeys(client, server KeySource, clientSessionID, serverSessionID uint64) (CryptoKey, CryptoKey, error) {
	if len(client.PreMaster) != 48 {
		return CryptoKey{}, CryptoKey{}, newError(ErrKindKeyExchange, "client key source missing pre-master")
	}
	masterSeed := append(append([]byte{}, client.Random1[:]...), server.Random1[:]...)
	master := prf(client.PreMaster, "OpenVPN master secret", masterSeed, 48)

	expansionSeed := append(append([]byte{}, client.Random2[:]...), server.Random2[:]...)
	if clientSessionID != 0 || serverSessionID != 0 {
		var idBuf [16]byte
		binary.BigEndian.PutUint64(idBuf[0:8], clientSessionID)
		binary.BigEndian.PutUint64(idBuf[8:16], serverSessionID)
		expansionSeed = append(expansionSeed, idBuf[:]...)
	}
	material := prf(master, "OpenVPN key expansion", expansionSeed, keyMaterialLen)
	return splitKeyMaterial(material)
}

// TLSExporter produces keying material from a completed TLS session,
// implemented by the control-crypto TLS client (spec §4.8 exporter).
type TLSExporter func(label string, context []byte, length int) ([]byte, error)

const ekmLabel = "EXPORTER-OpenVPN-datakeys"

// DeriveEKM implements the EKM path of spec §4.9.
func DeriveEKM(export TLSExporter) (CryptoKey, CryptoKey, error) {
	material, err := export(ekmLabel, nil, keyMaterialLen)
	if err != nil {
		return CryptoKey{}, CryptoKey{}, wrapError(ErrKindKeyExchange, err, "exporting EKM key material")
	}
	return splitKeyMaterial(material)
}
