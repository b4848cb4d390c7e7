package ovpn

import (
	"bytes"
	"testing"
)

func TestCodecU32RoundTrip(t *testing.T) {
	cases := []struct {
		v     uint32
		width int
	}{
		{0, 4}, {1, 4}, {0xFF, 1}, {0xFFFF, 2}, {0x12345678, 4}, {0x80000000, 4},
	}
	for _, c := range cases {
		w := newWriter()
		if err := w.writeU32(c.v, c.width); err != nil {
			t.Fatalf("writeU32(%x, %d): %v", c.v, c.width, err)
		}
		r := newReader(w.bytes())
		got, err := r.readU32(c.width)
		if err != nil {
			t.Fatalf("readU32(%d): %v", c.width, err)
		}
		var mask uint32 = 0xFFFFFFFF
		if c.width < 4 {
			mask = 1<<(8*c.width) - 1
		}
		want := c.v & mask
		if got != want {
			t.Fatalf("round trip v=%#x width=%d: got %#x want %#x", c.v, c.width, got, want)
		}
	}
}

func TestCodecU64RoundTrip(t *testing.T) {
	w := newWriter()
	if err := w.writeU64(0x0102030405060708, 8); err != nil {
		t.Fatal(err)
	}
	if got := w.bytes(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("writeU64 big-endian layout wrong: %x", got)
	}
	r := newReader(w.bytes())
	v, err := r.readU64(8)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x0102030405060708 {
		t.Fatalf("readU64 = %#x", v)
	}
}

func TestCodecPartialWidth(t *testing.T) {
	// A 16-bit length prefix read into a u32 destination.
	w := newWriter()
	w.writeU32(1500, 2)
	if got := w.bytes(); !bytes.Equal(got, []byte{0x05, 0xDC}) {
		t.Fatalf("partial-width write = %x", got)
	}
	r := newReader(w.bytes())
	got, err := r.readU32(2)
	if err != nil || got != 1500 {
		t.Fatalf("readU32(2) = %d, %v", got, err)
	}
}

func TestCodecWidthOutOfRangeFails(t *testing.T) {
	w := newWriter()
	if err := w.writeU16(1, 3); err == nil {
		t.Fatalf("writeU16 width=3 should fail")
	}
	r := newReader([]byte{1, 2, 3})
	if _, err := r.readU16(3); err == nil {
		t.Fatalf("readU16 width=3 should fail")
	}
}

func TestCodecEndOfStreamFails(t *testing.T) {
	r := newReader([]byte{1, 2})
	if _, err := r.readU32(4); err == nil {
		t.Fatalf("readU32 past end should fail")
	}
}

func TestCodecWriteCStringAppendsTerminator(t *testing.T) {
	w := newWriter()
	w.writeCString("PUSH_REQUEST")
	if string(w.bytes()) != "PUSH_REQUEST\x00" {
		t.Fatalf("writeCString bytes = %q", w.bytes())
	}
}

func TestCodecEmptyStringSerializesToZeroBytes(t *testing.T) {
	w := newWriter()
	w.writeCString("")
	if len(w.bytes()) != 0 {
		t.Fatalf("empty string should serialize to zero bytes, got %d", len(w.bytes()))
	}
}
