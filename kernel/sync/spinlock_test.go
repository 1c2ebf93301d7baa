package sync

import "testing"

func resetFlagsSeams() {
	saveFlagsAndDisableInterruptsFn = saveFlagsAndDisableInterrupts
	restoreFlagsFn = restoreFlags
}

func TestSpinlockAcquireRelease(t *testing.T) {
	defer resetFlagsSeams()

	var savedFlags uint64 = 0x246
	var restoredWith uint64
	saveFlagsAndDisableInterruptsFn = func() uint64 { return savedFlags }
	restoreFlagsFn = func(f uint64) { restoredWith = f }

	var l Spinlock
	l.Acquire()
	if l.state != 1 {
		t.Fatalf("expected lock state to be 1 after Acquire; got %d", l.state)
	}

	l.Release()
	if l.state != 0 {
		t.Fatalf("expected lock state to be 0 after Release; got %d", l.state)
	}
	if restoredWith != savedFlags {
		t.Fatalf("expected Release to restore flags %#x; got %#x", savedFlags, restoredWith)
	}
}

func TestSpinlockTryToAcquire(t *testing.T) {
	defer resetFlagsSeams()

	saveFlagsAndDisableInterruptsFn = func() uint64 { return 0 }
	restoreFlagsFn = func(uint64) {}

	var l Spinlock
	if !l.TryToAcquire() {
		t.Fatal("expected first TryToAcquire to succeed")
	}
	if l.TryToAcquire() {
		t.Fatal("expected second TryToAcquire on a held lock to fail")
	}
	l.Release()
	if !l.TryToAcquire() {
		t.Fatal("expected TryToAcquire to succeed after Release")
	}
}
