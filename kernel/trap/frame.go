// Package trap is the central handler for CPU exceptions, IRQs and the
// syscall vector. Every interrupt gate installed by kernel/idt lands in
// the hand-written assembly trampoline, which builds a Frame on the stack
// in the layout below and calls Dispatch with a pointer to it (spec §3
// "Interrupt frame", §4.4 "Trap Dispatcher").
package trap

import (
	"io"

	"github.com/Maxencejules/hybrid-go-os/kernel/kfmt"
)

// Frame is the exact byte layout the assembly entry stubs build: the
// general-purpose registers in a fixed order, then the vector number, then
// the CPU-pushed error code (synthesized as 0 for vectors that do not push
// one), then the CPU-pushed return frame. This is a hard contract shared
// with the assembly stubs — its field order and widths must never change
// without updating them in lockstep.
type Frame struct {
	R15, R14, R13, R12 uint64
	R11, R10, R9, R8   uint64
	RBP                uint64
	RDI, RSI           uint64
	RDX, RCX, RBX, RAX uint64

	Vector uint64
	Code   uint64

	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// RingLevel returns the CPL (current privilege level) the frame was
// captured at: the low two bits of the saved CS.
func (f *Frame) RingLevel() uint8 {
	return uint8(f.CS & 0x3)
}

// DumpTo writes a register/frame dump to w, used by the fault-logging
// paths (spec §4.4 rules 3-4).
func (f *Frame) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "vector=%x code=%x\n", f.Vector, f.Code)
	kfmt.Fprintf(w, "rax=%16x rbx=%16x rcx=%16x rdx=%16x\n", f.RAX, f.RBX, f.RCX, f.RDX)
	kfmt.Fprintf(w, "rsi=%16x rdi=%16x rbp=%16x\n", f.RSI, f.RDI, f.RBP)
	kfmt.Fprintf(w, "r8 =%16x r9 =%16x r10=%16x r11=%16x\n", f.R8, f.R9, f.R10, f.R11)
	kfmt.Fprintf(w, "r12=%16x r13=%16x r14=%16x r15=%16x\n", f.R12, f.R13, f.R14, f.R15)
	kfmt.Fprintf(w, "rip=%16x cs =%16x rflags=%16x\n", f.RIP, f.CS, f.RFlags)
	kfmt.Fprintf(w, "rsp=%16x ss =%16x\n", f.RSP, f.SS)
}
