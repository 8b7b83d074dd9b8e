package kernel

import (
	"github.com/Maxencejules/hybrid-go-os/kernel/cpu"
	"github.com/Maxencejules/hybrid-go-os/kernel/kfmt"
)

var (
	// haltFn is mocked by tests; automatically inlined by the compiler.
	haltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic logs the supplied error (if any) to the active output sink and
// halts the CPU with interrupts off. Calls to Panic never return. This is
// the terminal action for every unrecoverable ring-0 fault (spec §7).
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	cpu.DisableInterrupts()

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***\n")
	kfmt.Printf("-----------------------------------\n")

	haltFn()
}
