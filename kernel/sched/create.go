package sched

import (
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel"
	"github.com/Maxencejules/hybrid-go-os/kernel/config"
)

// stackAllocFn allocates one kernel stack; callers pass a function
// that maps config.KernelStackSize bytes somewhere in the kernel's own
// address space and returns its top (highest address, since the stack
// grows down).
type stackAllocFn func() (base, top uintptr, err *kernel.Error)

// CreateKernelThread reserves a thread-table slot, allocates a kernel
// stack via alloc, lays it out so the first context-switch-return lands on
// kernelThreadTrampoline with fn's address on top of the stack, and marks
// the new thread Ready. The new thread has no address space of its own
// (addrSpace == 0, meaning kernel, per spec §3).
func CreateKernelThread(fn func(), alloc stackAllocFn) (TID, *kernel.Error) {
	tid := allocTID()
	if tid == 0 {
		return 0, errOutOfThreads
	}

	base, top, err := alloc()
	if err != nil {
		return 0, err
	}

	sp := top
	sp -= unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(sp)) = codeAddr(fn)
	sp -= unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(sp)) = codeAddr(kernelThreadTrampoline)
	sp = pushZeroRegisterSet(sp)

	arena[tid] = thread{
		state:     Ready,
		savedRSP:  sp,
		stackBase: base,
		stackSize: uintptr(config.KernelStackSize),
		nextTID:   arena[currentTID].nextTID,
		addrSpace: 0,
		inUse:     true,
	}
	arena[currentTID].nextTID = tid
	advanceFreeTID(tid)

	return tid, nil
}

// CreateUserThread reserves a thread-table slot for a freshly loaded user
// process: addrSpace is the physical address of its PML4 (spec §4.2), rip
// and rsp are the entry point and initial stack top the process loader
// computed (spec §4.10), and kernelStackTop is the dedicated ring-0 stack
// the TSS will point RSP0 at on every trap from this thread. The new
// thread's own kernel stack (allocated via alloc, distinct from
// kernelStackTop's backing stack which the caller already owns) is laid out
// so the first context-switch-return lands on userThreadTrampoline with
// rip/rsp on top of it.
func CreateUserThread(addrSpace, rip, rsp, kernelStackTop uintptr, alloc stackAllocFn) (TID, *kernel.Error) {
	tid := allocTID()
	if tid == 0 {
		return 0, errOutOfThreads
	}

	base, top, err := alloc()
	if err != nil {
		return 0, err
	}

	sp := top
	sp -= unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(sp)) = rsp
	sp -= unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(sp)) = rip
	sp -= unsafe.Sizeof(uintptr(0))
	*(*uintptr)(unsafe.Pointer(sp)) = codeAddr(userThreadTrampoline)
	sp = pushZeroRegisterSet(sp)

	arena[tid] = thread{
		state:       Ready,
		savedRSP:    sp,
		stackBase:   base,
		stackSize:   uintptr(config.KernelStackSize),
		nextTID:     arena[currentTID].nextTID,
		addrSpace:   addrSpace,
		kernelStack: kernelStackTop,
		inUse:       true,
	}
	arena[currentTID].nextTID = tid
	advanceFreeTID(tid)

	return tid, nil
}

func advanceFreeTID(justUsed TID) {
	if justUsed == nextFreeTID {
		nextFreeTID++
	}
}

// calleeSavedRegisterCount is how many registers contextSwitch's assembly
// epilogue pops on every resume, including a thread's very first one:
// BP, BX, R12, R13, R14, R15.
const calleeSavedRegisterCount = 6

// pushZeroRegisterSet reserves and zeroes calleeSavedRegisterCount words
// below sp, returning the new, lower stack pointer. contextSwitch's
// epilogue always pops this many words before returning into whatever
// address sits above them; for a brand-new thread that has never run,
// these words stand in for a saved register set that was never actually
// saved; their value is irrelevant as long as the count lines up.
func pushZeroRegisterSet(sp uintptr) uintptr {
	for i := 0; i < calleeSavedRegisterCount; i++ {
		sp -= unsafe.Sizeof(uintptr(0))
		*(*uintptr)(unsafe.Pointer(sp)) = 0
	}
	return sp
}

// codeAddr recovers the code address backing a Go func value: fn (whether
// a top-level kernel-thread entry point or one of the two hand-written
// assembly trampolines declared as bodyless functions in this package) must
// capture no environment, so the func value's data word is the function's
// own address.
func codeAddr(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}
