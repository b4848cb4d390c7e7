package ovpn

import "testing"

func TestReplayWindowFirstPacketAccepted(t *testing.T) {
	w := newReplayWindow()
	if !w.accept(1) {
		t.Fatalf("first packet should be accepted")
	}
}

func TestReplayWindowRejectsExactDuplicate(t *testing.T) {
	w := newReplayWindow()
	w.accept(5)
	if w.accept(5) {
		t.Fatalf("duplicate of the newest id should be rejected")
	}
}

func TestReplayWindowAcceptsInOrder(t *testing.T) {
	w := newReplayWindow()
	for i := uint32(1); i <= 10; i++ {
		if !w.accept(i) {
			t.Fatalf("in-order id %d should be accepted", i)
		}
	}
}

func TestReplayWindowAcceptsReorderedWithinWindow(t *testing.T) {
	w := newReplayWindow()
	w.accept(10)
	if !w.accept(8) {
		t.Fatalf("id 8 within the window behind 10 should be accepted once")
	}
	if w.accept(8) {
		t.Fatalf("replaying id 8 should now be rejected")
	}
}

func TestReplayWindowRejectsTooOld(t *testing.T) {
	w := newReplayWindow()
	w.accept(200)
	if w.accept(1) {
		t.Fatalf("id far behind the window should be rejected")
	}
}

func TestReplayWindowSlidesForward(t *testing.T) {
	w := newReplayWindow()
	w.accept(1)
	w.accept(200) // slides the window far past id 1
	if w.accept(1) {
		t.Fatalf("id 1 should now be outside the slid window")
	}
}
