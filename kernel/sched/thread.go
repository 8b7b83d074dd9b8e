// Package sched implements the single-CPU round-robin scheduler: a fixed
// thread arena indexed by thread id with a next_tid index standing in for
// the source design's pointer-linked ring (spec §4.3, §9 "Cyclic thread
// list").
package sched

import "github.com/Maxencejules/hybrid-go-os/kernel/config"

// State is a thread's scheduling state.
type State uint8

const (
	// Dead marks a tid slot as unused or a thread that has exited;
	// schedule() never selects it.
	Dead State = iota

	// Ready means the thread is eligible to run the next time
	// schedule() passes over it.
	Ready

	// Running is the state of exactly the thread currently executing
	// outside of schedule() itself.
	Running

	// Blocked means the thread is parked (currently only IPC recv uses
	// this) and ineligible until something wakes it.
	Blocked
)

// TID is a thread id: an index into the fixed arena. TID 0 is always the
// boot idle thread, which owns no stack of its own (spec §3 "Thread").
type TID uint32

// idleTID is the boot idle thread's fixed slot.
const idleTID TID = 0

// thread is one arena slot. AddrSpace of 0 means kernel (spec §3).
type thread struct {
	state       State
	savedRSP    uintptr
	stackBase   uintptr
	stackSize   uintptr
	nextTID     TID
	addrSpace   uintptr
	kernelStack uintptr
	inUse       bool
}

var (
	arena        [config.MaxThreads]thread
	currentTID   TID
	tickCount    uint64
	nextFreeTID  TID = 1
)

// Init sets up thread 0 as the boot idle thread: Running, pointing at
// itself in the ring, and owning no stack. It must run once, before the
// first call to Schedule, CreateKernelThread or CreateUserThread.
func Init() {
	arena[idleTID] = thread{
		state:   Running,
		nextTID: idleTID,
		inUse:   true,
	}
	currentTID = idleTID
	nextFreeTID = 1
	tickCount = 0
}

// Current returns the currently running thread's id.
func Current() TID {
	return currentTID
}

// Ticks returns the monotonic PIT-tick counter (syscall 10, time_now).
func Ticks() uint64 {
	return tickCount
}

// Tick is called by the trap dispatcher's timer-IRQ branch before
// acknowledging the PIC: it advances the tick counter. It does not invoke
// Schedule; the caller does that separately, after the EOI write (spec
// §4.4 rule 2).
func Tick() {
	tickCount++
}

// ThreadState reports tid's current scheduling state.
func ThreadState(tid TID) State {
	return arena[tid].state
}

// KernelStackTop returns tid's recorded kernel-stack top, used by the
// context-switch path to refresh the TSS RSP0 before switching into a
// user thread.
func KernelStackTop(tid TID) uintptr {
	return arena[tid].kernelStack
}

// CurrentAddrSpace returns the physical PML4 address of the currently
// running thread's address space, or 0 for a kernel thread (spec §3
// "Thread"). Used by the syscall dispatcher to translate user pointer
// arguments (spec §4.9).
func CurrentAddrSpace() uintptr {
	return arena[currentTID].addrSpace
}
