// Package pic remaps the legacy 8259 programmable interrupt controller
// pair off their power-on vectors (which collide with CPU exceptions) and
// onto vectors 32-47, and provides the end-of-interrupt acknowledgement
// the trap dispatcher issues on every IRQ (spec §4 "Interrupt Controller
// (PIC)", §6 "PIC").
package pic

import "github.com/Maxencejules/hybrid-go-os/kernel/cpu"

const (
	masterCommand = 0x20
	masterData    = 0x21
	slaveCommand  = 0xA0
	slaveData     = 0xA1

	icw1Init     = 0x11 // edge-triggered, cascade mode, ICW4 present
	icw4Mode8086 = 0x01
	eoiCommand   = 0x20

	// VectorBase is the first of the 16 remapped IRQ vectors (spec §4
	// "Interrupt Controller (PIC)"); IRQ line n lands on VectorBase+n.
	VectorBase = 32

	// cascadeLine is IRQ2, wired to the slave PIC's output.
	cascadeLine = 2
)

// Init remaps both PICs to VectorBase..VectorBase+15, wires the cascade on
// IRQ2, and masks every line, IRQ0 (the timer) included; kmain unmasks
// IRQ0 with Unmask(0) right after Init, before it programs the PIT.
func Init() {
	// ICW1: start initialization sequence.
	cpu.OutB(masterCommand, icw1Init)
	cpu.OutB(slaveCommand, icw1Init)

	// ICW2: vector offsets.
	cpu.OutB(masterData, VectorBase)
	cpu.OutB(slaveData, VectorBase+8)

	// ICW3: master has a slave on IRQ2; slave's cascade identity is 2.
	cpu.OutB(masterData, 1<<cascadeLine)
	cpu.OutB(slaveData, cascadeLine)

	// ICW4: 8086 mode.
	cpu.OutB(masterData, icw4Mode8086)
	cpu.OutB(slaveData, icw4Mode8086)

	// Mask every line to start; only Unmask(0) will be called to enable
	// the timer (spec: "only IRQ0 (timer) unmasked initially").
	cpu.OutB(masterData, 0xFF)
	cpu.OutB(slaveData, 0xFF)
}

// Unmask enables delivery of the given IRQ line (0-15).
func Unmask(line uint8) {
	port := masterData
	bit := line
	if line >= 8 {
		port = slaveData
		bit -= 8
	}
	mask := cpu.InB(uint16(port))
	cpu.OutB(uint16(port), mask&^(1<<bit))
}

// Mask disables delivery of the given IRQ line (0-15).
func Mask(line uint8) {
	port := masterData
	bit := line
	if line >= 8 {
		port = slaveData
		bit -= 8
	}
	mask := cpu.InB(uint16(port))
	cpu.OutB(uint16(port), mask|(1<<bit))
}

// EOI acknowledges IRQ line to the controller(s). A line handled by the
// slave (>= 8) must be acknowledged on both controllers, in slave-then-
// master order; a master-only line acknowledges only the master (spec
// §4.4 rule 2: "EOI order is PIC-specific").
func EOI(line uint8) {
	if line >= 8 {
		cpu.OutB(slaveCommand, eoiCommand)
	}
	cpu.OutB(masterCommand, eoiCommand)
}
