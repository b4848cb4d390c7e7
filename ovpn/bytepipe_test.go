package ovpn

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestBytePipeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := newBytePipe(0)

	var written, read bytes.Buffer
	consumed := 0

	for i := 0; i < 2000; i++ {
		switch rng.Intn(3) {
		case 0:
			n := rng.Intn(37)
			b := make([]byte, n)
			rng.Read(b)
			p.writeBytes(b)
			written.Write(b)
		case 1:
			dst := make([]byte, rng.Intn(20))
			n := p.readBytes(dst)
			read.Write(dst[:n])
		case 2:
			avail := p.available()
			if avail > 0 {
				n := rng.Intn(avail + 1)
				if err := p.consume(n); err != nil {
					t.Fatalf("consume(%d): %v", n, err)
				}
				consumed += n
			}
		}
		if avail := p.available(); avail != written.Len()-read.Len()-consumed {
			t.Fatalf("available() = %d, want %d", avail, written.Len()-read.Len()-consumed)
		}
	}

	// The concatenation of everything actually read must be a prefix-
	// consistent subsequence of everything written (accounting for the
	// bytes that were skipped via consume rather than readBytes).
	if read.Len()+consumed > written.Len() {
		t.Fatalf("read+consumed %d exceeds written %d", read.Len()+consumed, written.Len())
	}
}

func TestBytePipeSimpleWriteRead(t *testing.T) {
	p := newBytePipe(4)
	p.writeBytes([]byte("hello"))
	if got := p.available(); got != 5 {
		t.Fatalf("available() = %d, want 5", got)
	}
	dst := make([]byte, 5)
	n := p.readBytes(dst)
	if n != 5 || string(dst) != "hello" {
		t.Fatalf("readBytes() = %q, n=%d", dst, n)
	}
	if p.available() != 0 {
		t.Fatalf("available() = %d, want 0", p.available())
	}
}

func TestBytePipeConsumeBeyondAvailableFails(t *testing.T) {
	p := newBytePipe(4)
	p.writeBytes([]byte("ab"))
	if err := p.consume(3); err == nil {
		t.Fatalf("consume(3) with 2 available should fail")
	}
}

func TestBytePipeReadResetsCursorsWhenDrained(t *testing.T) {
	p := newBytePipe(8)
	p.writeBytes([]byte("abcd"))
	dst := make([]byte, 4)
	p.readBytes(dst)
	if p.read != 0 || p.write != 0 {
		t.Fatalf("cursors not reset after full drain: read=%d write=%d", p.read, p.write)
	}
}

func TestBytePipeCompactsBeforeGrowing(t *testing.T) {
	p := newBytePipe(8)
	p.writeBytes([]byte("abcdefgh"))
	dst := make([]byte, 6)
	p.readBytes(dst) // read=6 write=8, read > cap/4
	p.writeBytes([]byte("XY"))
	if p.capacity() != 8 {
		t.Fatalf("expected compaction to avoid growth, capacity = %d", p.capacity())
	}
	out := make([]byte, p.available())
	p.readBytes(out)
	if string(out) != "ghXY" {
		t.Fatalf("got %q, want %q", out, "ghXY")
	}
}

func TestBytePipeNeverShrinks(t *testing.T) {
	p := newBytePipe(0)
	p.writeBytes(make([]byte, 1000))
	cap1 := p.capacity()
	p.clear()
	if p.capacity() < cap1 {
		t.Fatalf("capacity shrank after clear: %d < %d", p.capacity(), cap1)
	}
}
