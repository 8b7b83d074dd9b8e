// Package boot declares the Limine boot-protocol request structures the
// bootloader scans for and fills in before transferring control to
// cmd/hybridkernel's entry point: the base-revision marker, the memory map
// request, and the higher-half direct-mapping (HHDM) offset request (spec
// §6's external-interfaces supplement, grounded field-for-field on
// original_source/kernel/limine.h).
//
// Limine locates these by magic ID, not by symbol name or section
// placement enforced by the Go linker; a production image still places
// them in a dedicated `.requests` section via a linker script so the
// bootloader's scan (which is bounded, not exhaustive) is guaranteed to
// find them; that placement is a linker-script concern external to this
// package; here it is documented on the exported vars below rather than
// reconstructed with struct tag tricks Go has none of.
package boot

import "unsafe"

// Limine v8 common request magic, shared by every request type.
const (
	magic0 = 0xc7b1dd30df4c8b88
	magic1 = 0x0a82e883a194f07b
)

// BaseRevision is the base-revision marker. The bootloader zeroes the
// last element (the revision field, 3) to acknowledge it; kmain must
// check Accepted before trusting anything else Limine handed it.
//
// Lives in the `.requests` section of the final image.
var BaseRevision = [3]uint64{0xf9562b2d5c95a6c8, 0x6a7b384944536bdc, 3}

// Accepted reports whether the bootloader acknowledged BaseRevision.
func Accepted() bool {
	return BaseRevision[2] == 0
}

// Memmap entry types. Only MemmapUsable entries are handed to the PFA as
// free; everything else — including ranges the memory map never mentions
// at all — stays reserved.
const (
	MemmapUsable                = 0
	MemmapReserved              = 1
	MemmapACPIReclaimable       = 2
	MemmapACPINVS               = 3
	MemmapBadMemory             = 4
	MemmapBootloaderReclaimable = 5
	MemmapKernelAndModules      = 6
	MemmapFramebuffer           = 7
)

// MemmapEntry mirrors struct limine_memmap_entry field-for-field.
type MemmapEntry struct {
	Base   uint64
	Length uint64
	Type   uint64
}

// MemmapResponse mirrors struct limine_memmap_response. Entries points at
// an array of entry_count pointers, each to one MemmapEntry — not a flat
// array of entries — per the Limine protocol's indirection.
type MemmapResponse struct {
	Revision   uint64
	EntryCount uint64
	Entries    **MemmapEntry
}

// MemmapRequest mirrors struct limine_memmap_request.
type MemmapRequest struct {
	ID       [4]uint64
	Revision uint64
	Response *MemmapResponse
}

// Memmap is the kernel's memory-map request. Lives in the `.requests`
// section.
var Memmap = MemmapRequest{
	ID:       [4]uint64{magic0, magic1, 0x67cf3d9d378a806f, 0xe304acdfc50c3c62},
	Revision: 0,
}

// Count returns the number of entries the bootloader reported, or 0 if the
// request went unanswered.
func (r *MemmapRequest) Count() uint64 {
	if r.Response == nil {
		return 0
	}
	return r.Response.EntryCount
}

// At returns the i'th memory map entry without allocating: the PFA is
// initialized before any heap exists, so this walks the bootloader's
// array of pointers directly instead of copying it into a Go slice.
func (r *MemmapRequest) At(i uint64) MemmapEntry {
	slot := unsafe.Add(unsafe.Pointer(r.Response.Entries), uintptr(i)*unsafe.Sizeof(uintptr(0)))
	entry := *(**MemmapEntry)(slot)
	return *entry
}

// HHDMResponse mirrors struct limine_hhdm_response: a single additive
// offset from physical to virtual addresses.
type HHDMResponse struct {
	Revision uint64
	Offset   uint64
}

// HHDMRequest mirrors struct limine_hhdm_request.
type HHDMRequest struct {
	ID       [4]uint64
	Revision uint64
	Response *HHDMResponse
}

// HHDM is the kernel's higher-half direct-mapping offset request. Lives in
// the `.requests` section.
var HHDM = HHDMRequest{
	ID:       [4]uint64{magic0, magic1, 0x48dcf1cb8ad2b852, 0x63984e959a98244b},
	Revision: 0,
}

// Offset returns the bootloader-reported HHDM offset, or 0 if the request
// went unanswered (hhdm.SetOffset(0) then degrades every physical-to-
// virtual translation to the identity function, which is only safe if the
// kernel happens to run with paging disabled — kmain treats an unanswered
// HHDM request as a fatal boot error instead of trusting that).
func (r *HHDMRequest) Offset() uintptr {
	if r.Response == nil {
		return 0
	}
	return uintptr(r.Response.Offset)
}
