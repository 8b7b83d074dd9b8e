package sched

import (
	"github.com/Maxencejules/hybrid-go-os/kernel"
	"github.com/Maxencejules/hybrid-go-os/kernel/gdt"
)

var (
	errOutOfThreads = &kernel.Error{Module: "sched", Message: "thread arena exhausted"}
)

// FrameAllocFn allocates a single physical frame, used to back a new
// thread's kernel stack; Frame(0) signals exhaustion.
type FrameAllocFn func() uintptr

// contextSwitchFn is the mockable indirection over the hand-written
// context_switch contract, so tests can exercise Schedule's bookkeeping
// without a real stack swap.
var contextSwitchFn = contextSwitch

// Schedule is the single transition point a thread may suspend through
// (spec §5 "Suspension points"). It walks the ring starting at
// current.next, skipping Dead and Blocked threads, until it finds a Ready
// one or wraps back to the current thread. If the current thread is
// Running on entry it is demoted to Ready; Blocked and Dead are left
// untouched. The chosen thread is marked Running and, if it is a user
// thread with a recorded kernel-stack top, the TSS RSP0 is refreshed
// before the switch so the next ring-3 -> ring-0 transition lands there.
func Schedule() {
	cur := currentTID
	if arena[cur].state == Running {
		arena[cur].state = Ready
	}

	next := arena[cur].nextTID
	for next != cur {
		if arena[next].state == Ready {
			break
		}
		next = arena[next].nextTID
	}

	if next == cur {
		arena[cur].state = Running
		return
	}

	arena[next].state = Running
	prevTID := currentTID
	currentTID = next

	if arena[next].kernelStack != 0 {
		gdt.SetKernelStack(arena[next].kernelStack)
	}

	contextSwitchFn(&arena[prevTID].savedRSP, arena[next].savedRSP, arena[prevTID].addrSpace, arena[next].addrSpace)
}

// Yield cooperatively gives up the remainder of the current thread's slice
// without changing its state (it is still Ready-eligible on the next pass).
func Yield() {
	Schedule()
}

// ThreadExit marks the current thread Dead and re-enters the scheduler; it
// never returns to its caller. Its stack frame remains reserved (spec
// §4.3, §9 "Dead-thread reclamation").
func ThreadExit() {
	arena[currentTID].state = Dead
	Schedule()
	for {
		// Unreachable: Schedule never selects a Dead thread again.
	}
}

// Block marks tid Blocked, used by ipc.Recv's parking branch before it
// yields (spec §4.5). The caller is responsible for calling Schedule
// afterwards; Block itself never switches.
func Block(tid TID) {
	arena[tid].state = Blocked
}

// Wake transitions a Blocked thread back to Ready, used by ipc.Send when a
// parked receiver must be woken (spec §4.5 invariant: "exactly one wake
// per successful enqueue while a receiver is parked"). Waking a thread
// that is not Blocked is a no-op: it means the thread already moved on by
// some other path.
func Wake(tid TID) {
	if arena[tid].state == Blocked {
		arena[tid].state = Ready
	}
}

// Kill marks tid Dead without switching away from the caller, used by the
// trap dispatcher's ring-3 fault path (spec §4.4 rules 3-4, §7 "Ring-3
// fault"). If tid is the current thread the caller is responsible for
// calling Schedule afterwards.
func Kill(tid TID) {
	if tid == idleTID {
		return
	}
	arena[tid].state = Dead
}

// allocTID reserves the lowest free non-idle slot in the arena, or 0 (an
// invalid tid, since TID 0 is always the idle thread and never reallocated)
// if the arena is full.
func allocTID() TID {
	for tid := nextFreeTID; int(tid) < len(arena); tid++ {
		if !arena[tid].inUse {
			return tid
		}
	}
	for tid := TID(1); tid < nextFreeTID; tid++ {
		if !arena[tid].inUse {
			return tid
		}
	}
	return 0
}

// kernelThreadTrampoline is the hand-written assembly contract a new
// kernel thread's stack is built to return into: it pops a function
// pointer pushed by CreateKernelThread and calls it; the function's own
// return falls through into ThreadExit (spec §4.3, §9 assembly boundary).
func kernelThreadTrampoline()

// userThreadTrampoline is the hand-written assembly contract a new user
// thread's stack is built to return into: it pops a target user RIP and
// user RSP and performs an iretq-shaped return into ring 3 with interrupts
// enabled and the user code/data selectors (DPL=3) loaded (spec §4.3, §9
// assembly boundary).
func userThreadTrampoline()

// contextSwitch is the hand-written assembly contract described in spec
// §4.3: it saves the callee-saved registers of the outgoing thread onto
// its own stack, writes the resulting stack pointer into *oldRSP, loads
// newRSP, reloads CR3 with newPML4 if it differs from curPML4, restores
// the incoming thread's callee-saved registers, and returns into whatever
// address that thread's stack now points at (either back into Schedule's
// caller, or into one of the two trampolines above for a brand-new
// thread).
func contextSwitch(oldRSP *uintptr, newRSP uintptr, curPML4, newPML4 uintptr)
