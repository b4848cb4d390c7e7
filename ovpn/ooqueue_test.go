package ovpn

import "testing"

func TestOOQueuePopsInAscendingOrder(t *testing.T) {
	q := newOOQueue()
	for _, id := range []uint32{5, 1, 3, 2, 4} {
		if !q.push(id, []byte{byte(id)}) {
			t.Fatalf("push %d should succeed", id)
		}
	}
	var got []uint32
	for q.len() > 0 {
		id, _, ok := q.pop()
		if !ok {
			t.Fatalf("pop should succeed while len > 0")
		}
		got = append(got, id)
	}
	want := []uint32{1, 2, 3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestOOQueueDuplicatePushRejected(t *testing.T) {
	q := newOOQueue()
	if !q.push(1, []byte("a")) {
		t.Fatalf("first push should succeed")
	}
	if q.push(1, []byte("b")) {
		t.Fatalf("duplicate push should be rejected")
	}
}

func TestOOQueueEmptyPopFails(t *testing.T) {
	q := newOOQueue()
	if _, _, ok := q.pop(); ok {
		t.Fatalf("pop on empty queue should fail")
	}
}
