// Package sync provides the kernel's single synchronization primitive: a
// test-and-set spinlock that executes PAUSE between attempts.
//
// Spinlock does not execute cli or sti itself; interrupts are disabled and
// re-enabled by the caller around Acquire/Release. Because this core
// targets a single CPU, the spin itself is a formality; correctness comes
// from interrupts being off for the duration of the critical section, not
// from the atomicity of the test-and-set. A future SMP port would need a
// real cross-CPU primitive here.
package sync

import (
	"sync/atomic"

	"github.com/Maxencejules/hybrid-go-os/kernel/cpu"
)

// Spinlock guards a critical section that must run with interrupts
// disabled. Acquire/Release pairs are expected to nest with
// cpu.DisableInterrupts/cpu.EnableInterrupts at the call site; Spinlock
// itself does not touch the interrupt flag.
type Spinlock struct {
	state uint32
}

// Acquire busy-waits, using PAUSE between attempts, until the lock is free
// and then takes it. Re-acquiring a lock already held by the caller
// deadlocks, as there is no owner tracking.
func (l *Spinlock) Acquire() {
	for !l.TryAcquire() {
		cpuPause()
	}
}

// TryAcquire attempts to take the lock without blocking, returning true on
// success.
func (l *Spinlock) TryAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock. Calling Release on a free lock has no
// effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// cpuPause executes the PAUSE instruction, hinting to the CPU that this is a
// spin-wait loop, through cpu.Pause (backed by kernel/cpu's assembly).
func cpuPause() {
	cpu.Pause()
}
