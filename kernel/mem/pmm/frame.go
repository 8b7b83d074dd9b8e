// Package pmm implements the physical frame allocator (PFA): a bitmap over
// a bounded physical-page range that hands out 4 KiB frames, optionally as
// contiguous runs (spec §4.1).
package pmm

import "github.com/Maxencejules/hybrid-go-os/kernel/mem"

// Frame is a 4 KiB-aligned physical frame number (physical address >>
// mem.PageShift).
type Frame uintptr

// Address returns the physical address of the start of this frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// FromAddress returns the frame containing the given physical address.
func FromAddress(phys uintptr) Frame {
	return Frame(phys >> mem.PageShift)
}
