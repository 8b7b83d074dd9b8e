// Package hhdm implements the higher-half direct mapping: a single,
// constant additive offset from a physical address to the kernel-virtual
// alias the kernel uses to touch that physical memory. The kernel never
// maps page-table frames recursively; every walk of a page table goes
// through this offset instead (spec §4.2).
package hhdm

import "github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"

// offset is recorded once, from the bootloader's HHDM response, during
// early boot and never changes afterwards.
var offset uintptr

// SetOffset records the HHDM offset reported by the bootloader. It must be
// called exactly once, before any call to VirtAddr/PhysAddr.
func SetOffset(off uintptr) {
	offset = off
}

// Offset returns the currently recorded HHDM offset.
func Offset() uintptr {
	return offset
}

// VirtAddr returns the kernel-virtual alias for a physical address.
func VirtAddr(phys uintptr) uintptr {
	return phys + offset
}

// FrameVirtAddr returns the kernel-virtual alias of the start of the given
// physical frame, the form every page-table walk uses to dereference an
// intermediate table.
func FrameVirtAddr(f pmm.Frame) uintptr {
	return VirtAddr(f.Address())
}

// PhysAddr reverses VirtAddr, converting a kernel-virtual HHDM alias back to
// its physical address. Calling it on a virtual address that is not an HHDM
// alias produces a meaningless result; this core never does so.
func PhysAddr(virt uintptr) uintptr {
	return virt - offset
}
