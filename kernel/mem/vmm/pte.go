package vmm

import (
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"
)

// entriesPerTable is the number of 8-byte entries in a single page-table
// level (PML4, PDPT, PD or PT): a 4 KiB page holds 512 uint64 entries.
const entriesPerTable = 512

// kernelPML4SplitIndex is the PML4 index of the first kernel-owned entry.
// Indices [0, kernelPML4SplitIndex) are per-process; indices
// [kernelPML4SplitIndex, entriesPerTable) are the shared kernel upper half
// (spec §3: "entries 256..511 of every user PML4 equal the kernel PML4's
// entries 256..511 at the moment of creation").
const kernelPML4SplitIndex = 256

// Flag describes the attribute bits of a page-table entry. Only the three
// bits this core cares about are modeled; the remaining bits (accessed,
// dirty, PAT, NX, ...) are left zero.
type Flag uint64

const (
	// FlagPresent marks the entry as valid.
	FlagPresent Flag = 1 << 0

	// FlagWritable allows writes through this mapping.
	FlagWritable Flag = 1 << 1

	// FlagUser allows ring-3 access through this mapping. Intermediate
	// entries that must permit user access set all three flags; a leaf
	// carries exactly the caller's requested flags (spec §3).
	FlagUser Flag = 1 << 2

	// interiorFlags is the flag set every intermediate (non-leaf) entry
	// created while walking gets, so that a user leaf mapping anywhere
	// below it is reachable.
	interiorFlags = FlagPresent | FlagWritable | FlagUser

	// frameAddrMask isolates the physical frame address bits (12..51) of
	// a raw page-table entry.
	frameAddrMask uint64 = 0x000F_FFFF_FFFF_F000
)

// entry is a single raw 8-byte page-table entry.
type entry uint64

// HasFlags reports whether all bits of f are set on the entry.
func (e entry) HasFlags(f Flag) bool {
	return uint64(e)&uint64(f) == uint64(f)
}

// Present reports whether the entry's Present bit is set.
func (e entry) Present() bool {
	return e.HasFlags(FlagPresent)
}

// Frame returns the physical frame this entry points to.
func (e entry) Frame() pmm.Frame {
	return pmm.FromAddress(uintptr(uint64(e) & frameAddrMask))
}

// setEntry packs frame and flags into a raw entry value.
func setEntry(frame pmm.Frame, flags Flag) entry {
	return entry(uint64(frame.Address())&frameAddrMask | uint64(flags))
}

// table is a page table (PML4, PDPT, PD or PT) as seen through its HHDM
// alias: entriesPerTable consecutive raw entries.
type table [entriesPerTable]entry

// tableAt returns the table stored in the given physical frame, viewed
// through its HHDM virtual alias.
func tableAt(f pmm.Frame, hhdmOffset uintptr) *table {
	return (*table)(unsafe.Pointer(f.Address() + hhdmOffset))
}

// index extracts the 9-bit index for paging level `level` (0 = PML4, 1 =
// PDPT, 2 = PD, 3 = PT) out of a virtual address.
func index(vaddr uintptr, level int) int {
	shift := uint(39 - level*9)
	return int((uint64(vaddr) >> shift) & 0x1FF)
}
