// Package serial drives the COM1 UART, the kernel's only output sink until
// (and after) a user-mode console exists. It is configured for 38,400 8-N-1
// with the on-chip FIFO enabled, matching spec §6.
package serial

import "github.com/Maxencejules/hybrid-go-os/kernel/cpu"

// COM1 register offsets, relative to the port base.
const (
	portCOM1 = 0x3F8

	regData        = 0 // DLAB=0: data register
	regIntEnable   = 1 // DLAB=0: interrupt enable
	regDivisorLo   = 0 // DLAB=1: divisor latch low byte
	regDivisorHi   = 1 // DLAB=1: divisor latch high byte
	regFIFOCtrl    = 2
	regLineCtrl    = 3
	regModemCtrl   = 4
	regLineStatus  = 5
)

const (
	lineCtrlDLAB       = 1 << 7
	lineCtrl8N1        = 0x03
	fifoEnableClearTx  = 0xC7
	modemCtrlRTSDSROUT = 0x0B
	lineStatusTxEmpty  = 1 << 5

	// baseDivisor is the UART clock divided by the desired baud rate:
	// 115200 / 38400 = 3.
	baseDivisor = 3
)

// Port is a single COM-style serial port.
type Port struct {
	base uint16
}

// COM1 is the kernel's primary serial port.
var COM1 = &Port{base: portCOM1}

// Init configures the port for 38,400 8-N-1 with the FIFO enabled, as
// specified in spec §6.
func (p *Port) Init() {
	cpu.OutB(p.base+regIntEnable, 0x00) // disable UART interrupts
	cpu.OutB(p.base+regLineCtrl, lineCtrlDLAB)
	cpu.OutB(p.base+regDivisorLo, baseDivisor&0xFF)
	cpu.OutB(p.base+regDivisorHi, (baseDivisor>>8)&0xFF)
	cpu.OutB(p.base+regLineCtrl, lineCtrl8N1)
	cpu.OutB(p.base+regFIFOCtrl, fifoEnableClearTx)
	cpu.OutB(p.base+regModemCtrl, modemCtrlRTSDSROUT)
}

// WriteByte polls the line-status register until the transmit holding
// register is empty and then writes b.
func (p *Port) WriteByte(b byte) error {
	for cpu.InB(p.base+regLineStatus)&lineStatusTxEmpty == 0 {
	}
	cpu.OutB(p.base+regData, b)
	return nil
}

// Write implements io.Writer, writing each byte of p in order. It always
// returns len(p), nil; a serial port never fails to accept a byte once the
// transmitter is observed empty.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		if b == '\n' {
			p.WriteByte('\r')
		}
		p.WriteByte(b)
	}
	return len(data), nil
}
