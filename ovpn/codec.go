package ovpn

import "encoding/binary"

// reader decodes big-endian primitives and null-terminated strings from
// a fixed byte slice, advancing an internal cursor, per spec §4.2.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

// readBytes reads exactly n raw bytes.
func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, newError(ErrKindProtocol, "end of stream: need %d bytes, have %d", n, r.remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readU8() (uint8, error) {
	b, err := r.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// readU16 reads a big-endian integer occupying `width` bytes (0..2) into
// a uint16, zero-extended.
func (r *reader) readU16(width int) (uint16, error) {
	v, err := r.readUintWidth(width, 2)
	return uint16(v), err
}

func (r *reader) readU32(width int) (uint32, error) {
	v, err := r.readUintWidth(width, 4)
	return uint32(v), err
}

func (r *reader) readU64(width int) (uint64, error) {
	return r.readUintWidth(width, 8)
}

func (r *reader) readUintWidth(width, size int) (uint64, error) {
	if width < 0 || width > size {
		return 0, newError(ErrKindProtocol, "width %d out of range for %d-byte field", width, size)
	}
	b, err := r.readBytes(width)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// writer accumulates big-endian primitives and null-terminated strings
// into a growable buffer, per spec §4.2.
type writer struct {
	buf []byte
}

func newWriter() *writer {
	return &writer{}
}

func (w *writer) bytes() []byte {
	return w.buf
}

func (w *writer) writeBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) writeU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) writeU16(v uint16, width int) error {
	return w.writeUintWidth(uint64(v), width, 2)
}

func (w *writer) writeU32(v uint32, width int) error {
	return w.writeUintWidth(uint64(v), width, 4)
}

func (w *writer) writeU64(v uint64, width int) error {
	return w.writeUintWidth(v, width, 8)
}

func (w *writer) writeUintWidth(v uint64, width, size int) error {
	if width < 0 || width > size {
		return newError(ErrKindProtocol, "width %d out of range for %d-byte field", width, size)
	}
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], v)
	// The big-endian encoding of a `size`-byte-truncated value occupies
	// the last `size` bytes of scratch; a `width`-byte field takes the
	// trailing `width` bytes of that.
	w.buf = append(w.buf, scratch[8-width:]...)
	return nil
}

// writeCString appends s followed by a single 0x00 terminator. An empty
// string serializes to zero bytes (no terminator at all).
func (w *writer) writeCString(s string) {
	if s == "" {
		return
	}
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0x00)
}
