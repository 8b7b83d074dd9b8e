package trap

import (
	"github.com/Maxencejules/hybrid-go-os/kernel/cpu"
	"github.com/Maxencejules/hybrid-go-os/kernel/kfmt"
	"github.com/Maxencejules/hybrid-go-os/kernel/pic"
	"github.com/Maxencejules/hybrid-go-os/kernel/sched"
)

const (
	syscallVector = 0x80
	irqVectorBase = 32
	irqVectorLast = 47
	pageFaultVec  = 14
)

// The following indirections exist so Dispatch's branch logic can be unit
// tested without the real hardware/scheduler calls they wrap, matching the
// mockable-function-variable convention used throughout this codebase.
var (
	readCR2Fn           = cpu.ReadCR2
	disableInterruptsFn = cpu.DisableInterrupts
	haltFn              = cpu.Halt
	eoiFn               = pic.EOI
	tickFn              = sched.Tick
	scheduleFn          = sched.Schedule
	killFn              = sched.Kill
	currentFn           = sched.Current
)

// SyscallHandlerFn dispatches a syscall number with its three argument
// registers and returns the value to write back into the frame's RAX slot
// (spec §4.9). It is installed once, by kernel/kmain with syscall.Dispatch,
// to avoid an import cycle between trap and syscall.
type SyscallHandlerFn func(num, a0, a1, a2 uint64) uint64

var syscallHandler SyscallHandlerFn

// SetSyscallHandler installs the syscall dispatch function.
func SetSyscallHandler(h SyscallHandlerFn) {
	syscallHandler = h
}

// ProcessLabelFn resolves a thread id to a short process label for fault
// log lines (SPEC_FULL.md §4.13's process-attribution supplement). It is
// installed once, by kernel/kmain with proc.Label, to avoid an import
// cycle between trap and proc; the default reports nothing, which is always correct for a
// ring-0 fault (ring-0 threads belong to no process).
type ProcessLabelFn func(tid sched.TID) string

var processLabel ProcessLabelFn = func(sched.TID) string { return "" }

// SetProcessLabelFn installs the process-attribution lookup.
func SetProcessLabelFn(f ProcessLabelFn) {
	processLabel = f
}

// recoveryRIP, when non-zero, is a RIP the test harness has armed: the
// next page fault clears it and rewrites the frame's RIP to resume there
// instead of treating the fault as fatal or thread-killing (spec §4.4 rule
// 3, §8 scenario 2).
var recoveryRIP uint64

// ArmPageFaultRecovery records rip as the next page fault's resume point.
func ArmPageFaultRecovery(rip uint64) {
	recoveryRIP = rip
}

// Dispatch is called by the shared assembly trampoline with a pointer to
// the frame it just built on the stack. It implements the four dispatch
// rules of spec §4.4, in order.
func Dispatch(f *Frame) {
	switch {
	case f.Vector == syscallVector:
		dispatchSyscall(f)

	case f.Vector >= irqVectorBase && f.Vector <= irqVectorLast:
		dispatchIRQ(f)

	case f.Vector == pageFaultVec:
		dispatchPageFault(f)

	default:
		dispatchFault(f)
	}
}

func dispatchSyscall(f *Frame) {
	if syscallHandler == nil {
		f.RAX = ^uint64(0) // -1
		return
	}
	f.RAX = syscallHandler(f.RAX, f.RDI, f.RSI, f.RDX)
}

func dispatchIRQ(f *Frame) {
	line := uint8(f.Vector - irqVectorBase)

	if line == 0 {
		tickFn()
		eoiFn(line)
		scheduleFn()
		return
	}

	eoiFn(line)
}

func dispatchPageFault(f *Frame) {
	fault := readCR2Fn()
	kfmt.Printf("PF: addr=%16x rip=%16x proc=%s\n", fault, f.RIP, processLabel(currentFn()))

	if recoveryRIP != 0 {
		f.RIP = recoveryRIP
		recoveryRIP = 0
		return
	}

	if f.RingLevel() == 3 {
		killCurrentAndReschedule()
		return
	}

	haltFatal()
}

func dispatchFault(f *Frame) {
	kfmt.Printf("FAULT: vector=%x code=%x rip=%16x proc=%s\n", f.Vector, f.Code, f.RIP, processLabel(currentFn()))

	if f.RingLevel() == 3 {
		killCurrentAndReschedule()
		return
	}

	haltFatal()
}

func killCurrentAndReschedule() {
	killFn(currentFn())
	scheduleFn()
}

// haltFatal disables interrupts and halts forever: the ring-0 fault path
// with no recovery armed never returns (spec §7 "Ring-0 fault").
func haltFatal() {
	disableInterruptsFn()
	for {
		haltFn()
	}
}
