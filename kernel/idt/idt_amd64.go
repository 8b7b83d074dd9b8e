// Package idt installs the interrupt descriptor table. Vector constants and
// the gate-type split (DPL=0 for every exception/IRQ, DPL=3 for the single
// syscall vector) live here; the dispatch logic that routes a landed
// interrupt to a handler, and the interrupt-frame layout, live in
// kernel/trap (spec §4 "Descriptor Tables", §4.4).
package idt

// Blank-imported so the linker includes kernel/trap's Dispatch symbol:
// idt_amd64.s's shared trampoline calls it directly by its fully
// qualified assembly name, which the Go source here never references.
import _ "github.com/Maxencejules/hybrid-go-os/kernel/trap"

// Vector identifies one of the 256 possible interrupt/exception/syscall
// slots.
type Vector uint8

const (
	// PageFault is the CPU exception raised on an invalid address
	// translation.
	PageFault Vector = 14

	// DoubleFault is raised when an exception occurs while the CPU is
	// trying to invoke another exception's handler.
	DoubleFault Vector = 8

	// GPFault is the general protection fault vector.
	GPFault Vector = 13

	// FirstIRQVector is the remapped base vector IRQ lines land on after
	// the PIC remap (spec §4 "PIC").
	FirstIRQVector Vector = 32

	// LastIRQVector is the last of the 16 remapped IRQ vectors.
	LastIRQVector Vector = 47

	// SyscallVector is the single software-interrupt vector user code
	// traps into the kernel through (spec §4.9).
	SyscallVector Vector = 0x80
)

// Init builds the 256-entry interrupt descriptor table, points vectors
// 0-47 and SyscallVector at their per-vector entry stubs (DPL=0, except
// SyscallVector which is DPL=3 so ring-3 code may execute `int $0x80`
// directly), leaves every other entry zeroed (not present), and loads it
// with LIDT. codeSelector must be the ring-0 code selector gdt.Init
// installed, since every gate descriptor references it.
//
// The per-vector entry stubs, the shared trampoline that pushes a fixed
// register snapshot and calls into kernel/trap's dispatcher, and the LIDT
// instruction itself are hand-written assembly: the instruction sequence
// is not specified here, only that after Init returns each populated
// vector delivers control to the trap dispatcher with the frame layout
// kernel/trap documents.
func Init(codeSelector uint16)
