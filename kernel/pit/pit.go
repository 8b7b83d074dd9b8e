// Package pit programs the 8253/8254 programmable interval timer's
// channel 0 to generate a periodic IRQ0 at a fixed target frequency,
// driving the scheduler's preemption tick (spec §4 "Timer (PIT)", §6
// "PIT").
package pit

import (
	"github.com/Maxencejules/hybrid-go-os/kernel/config"
	"github.com/Maxencejules/hybrid-go-os/kernel/cpu"
)

const (
	channel0Data  = 0x40
	commandPort   = 0x43
	baseFrequency = 1_193_182

	// mode2RateGenerator selects channel 0, lobyte/hibyte access, mode 2
	// (rate generator), binary counting.
	mode2RateGenerator = 0x34
)

// Init programs channel 0 in mode 2 with the divisor that yields
// config.PITTargetHz (spec: "divisor = 1,193,182 / target-Hz").
func Init() {
	divisor := uint16(baseFrequency / config.PITTargetHz)

	cpu.OutB(commandPort, mode2RateGenerator)
	cpu.OutB(channel0Data, uint8(divisor&0xFF))
	cpu.OutB(channel0Data, uint8(divisor>>8))
}
