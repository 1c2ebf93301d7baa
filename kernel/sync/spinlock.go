// Package sync provides synchronization primitives for use by kernel code
// that may run with interrupts enabled. Unlike the standard library's sync
// package, locks here must be safe to acquire from interrupt handlers, so
// acquiring a lock also disables interrupts on the current core and
// releasing it restores whatever interrupt state was in effect before the
// acquire.
package sync

import "sync/atomic"

var (
	// TODO: replace with real yield function when context-switching is implemented.
	yieldFn func()
)

// Spinlock implements a lock where each caller trying to acquire it
// busy-waits till the lock becomes available. Acquiring a Spinlock also
// disables interrupts on the current core and saves the prior RFLAGS value;
// Release restores it. This makes Spinlock safe to take from both regular
// kernel code and interrupt/exception handlers without risking a handler
// re-entering a lock its own interruption already holds.
type Spinlock struct {
	state uint32
	flags uint64
}

// Acquire blocks until the lock can be acquired by the current core. Any
// attempt to re-acquire a lock already held by the same core will deadlock.
func (l *Spinlock) Acquire() {
	flags := saveFlagsAndDisableInterruptsFn()
	archAcquireSpinlock(&l.state, 1)
	l.flags = flags
}

// TryToAcquire attempts to acquire the lock without blocking. It returns
// true if the lock was acquired (interrupts are disabled and the prior
// RFLAGS value is saved, exactly as with Acquire) or false if the lock was
// already held.
func (l *Spinlock) TryToAcquire() bool {
	flags := saveFlagsAndDisableInterruptsFn()
	if atomic.SwapUint32(&l.state, 1) != 0 {
		restoreFlagsFn(flags)
		return false
	}
	l.flags = flags
	return true
}

// Release relinquishes a held lock, restoring the RFLAGS value (and hence
// the interrupt-enabled state) captured by the matching Acquire/
// TryToAcquire call. Calling Release while the lock is free has no effect
// beyond restoring flags, so it must not be called without a matching
// successful acquire.
func (l *Spinlock) Release() {
	flags := l.flags
	atomic.StoreUint32(&l.state, 0)
	restoreFlagsFn(flags)
}

// archAcquireSpinlock is an arch-specific implementation for acquiring the
// lock once interrupts are already disabled.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)
