// Package virtio implements the legacy port-IO VirtIO block transport: PCI
// discovery, device initialization, and the three-descriptor split-queue
// I/O path described in spec §4.8.
package virtio

import "github.com/Maxencejules/hybrid-go-os/kernel/cpu"

const (
	pciConfigAddress = 0x0CF8
	pciConfigData    = 0x0CFC

	pciVendorDeviceOffset = 0x00
	pciCommandOffset      = 0x04
	pciBAR0Offset         = 0x10

	pciCommandIOSpace   = 1 << 0
	pciCommandBusMaster = 1 << 2

	pciVendorAbsent = 0xFFFF
)

var (
	outlFn = cpu.OutL
	inlFn  = cpu.InL
)

type pciAddress struct {
	slot, function uint8
}

func pciConfigAddr(a pciAddress, offset uint8) uint32 {
	return 1<<31 | uint32(a.slot)<<11 | uint32(a.function)<<8 | uint32(offset&0xFC)
}

func pciReadL(a pciAddress, offset uint8) uint32 {
	outlFn(pciConfigAddress, pciConfigAddr(a, offset))
	return inlFn(pciConfigData)
}

func pciWriteL(a pciAddress, offset uint8, value uint32) {
	outlFn(pciConfigAddress, pciConfigAddr(a, offset))
	outlFn(pciConfigData, value)
}

// findDevice scans bus 0, every slot and function, for the given
// (vendor, device) pair (spec §4.8: "Discovers a device on the PCI bus 0").
// On a match it enables IO space and bus mastering and returns the 16-bit
// legacy IO port base taken from BAR0.
func findDevice(vendor, device uint16) (ioBase uint16, found bool) {
	for slot := uint8(0); slot < 32; slot++ {
		for fn := uint8(0); fn < 8; fn++ {
			addr := pciAddress{slot: slot, function: fn}
			idReg := pciReadL(addr, pciVendorDeviceOffset)
			vid := uint16(idReg & 0xFFFF)
			if vid == pciVendorAbsent {
				continue
			}
			if vid != vendor || uint16(idReg>>16) != device {
				continue
			}

			cmd := pciReadL(addr, pciCommandOffset)
			pciWriteL(addr, pciCommandOffset, cmd|pciCommandIOSpace|pciCommandBusMaster)

			bar0 := pciReadL(addr, pciBAR0Offset)
			return uint16(bar0 &^ 0x3), true
		}
	}
	return 0, false
}
