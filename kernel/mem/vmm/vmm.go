// Package vmm builds and mutates the 4-level x86_64 page tables. Every
// table, at every level, is reached through the higher-half direct mapping
// (hhdm); this core never installs a recursive self-mapping (spec §4.2).
package vmm

import (
	"github.com/Maxencejules/hybrid-go-os/kernel"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/hhdm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"
)

var (
	errOutOfMemory = &kernel.Error{Module: "vmm", Message: "out of frames while walking page tables"}
)

// FrameAllocFn allocates a single physical frame, returning Frame(0) on
// exhaustion. Both the PFA's AllocPage and tests' fakes satisfy this.
type FrameAllocFn func() pmm.Frame

// AddressSpace identifies a page table hierarchy by the physical address of
// its top-level table (PML4), per spec §3.
type AddressSpace struct {
	PML4 pmm.Frame
}

// kernelPML4 is the boot address space's PML4, recorded by Init, whose
// upper half every later address space copies. CreateAddressSpace only
// reads it; while it is 0 (Init not yet called) no upper half is copied.
var kernelPML4 pmm.Frame

// Init records the kernel's own PML4 (already active, installed by the
// bootloader or an earlier boot step) as the template every subsequent user
// address space's upper half is copied from. It must be called exactly
// once, before the first call to CreateAddressSpace.
func Init(bootPML4 pmm.Frame) {
	kernelPML4 = bootPML4
}

// CreateAddressSpace allocates a zeroed PML4 frame and copies the kernel's
// upper-half entries (indices 256..511) into it, so the kernel remains
// universally visible from the new address space (spec §3). The kernel's
// upper half is frozen at the moment of this call: a kernel mapping added
// later to a new upper-half slot of the kernel PML4 is not automatically
// visible to address spaces already created (see SPEC_FULL.md's resolution
// of the corresponding open question).
func CreateAddressSpace(alloc FrameAllocFn) (AddressSpace, *kernel.Error) {
	frame := alloc()
	if frame == 0 {
		return AddressSpace{}, errOutOfMemory
	}

	newTbl := tableAt(frame, hhdm.Offset())
	for i := range newTbl {
		newTbl[i] = 0
	}

	if kernelPML4 != 0 {
		kernelTbl := tableAt(kernelPML4, hhdm.Offset())
		for i := kernelPML4SplitIndex; i < entriesPerTable; i++ {
			newTbl[i] = kernelTbl[i]
		}
	}

	return AddressSpace{PML4: frame}, nil
}

// MapPage walks PML4 -> PDPT -> PD -> PT for vaddr, allocating and zeroing
// any missing intermediate table with interiorFlags (Present|Writable|User,
// so user leaves anywhere below remain reachable), and installs a leaf
// entry pointing at paddr with exactly the caller's flags.
//
// On failure (out of frames while walking) MapPage returns a non-nil error
// and performs no cleanup of whatever intermediate tables it already
// allocated; per spec §4.2 the caller abandons the address space in that
// case.
func MapPage(as AddressSpace, vaddr, paddr uintptr, flags Flag, alloc FrameAllocFn) *kernel.Error {
	cur := as.PML4

	for level := 0; level < 3; level++ {
		tbl := tableAt(cur, hhdm.Offset())
		idx := index(vaddr, level)

		if !tbl[idx].Present() {
			child := alloc()
			if child == 0 {
				return errOutOfMemory
			}
			childTbl := tableAt(child, hhdm.Offset())
			for i := range childTbl {
				childTbl[i] = 0
			}
			tbl[idx] = setEntry(child, interiorFlags)
		} else if !tbl[idx].HasFlags(FlagUser) && flags&FlagUser != 0 {
			// Promote an existing intermediate entry to user-visible
			// if a user leaf is being installed beneath it.
			tbl[idx] = setEntry(tbl[idx].Frame(), tbl[idx].flagsOnly()|FlagUser)
		}

		cur = tbl[idx].Frame()
	}

	leafTbl := tableAt(cur, hhdm.Offset())
	leafTbl[index(vaddr, 3)] = setEntry(pmm.FromAddress(paddr), flags)

	return nil
}

// Translate walks the page tables for vaddr and returns the physical
// address it maps to, or ok=false if no present leaf mapping exists.
func Translate(as AddressSpace, vaddr uintptr) (paddr uintptr, ok bool) {
	cur := as.PML4

	for level := 0; level < 3; level++ {
		tbl := tableAt(cur, hhdm.Offset())
		idx := index(vaddr, level)
		if !tbl[idx].Present() {
			return 0, false
		}
		cur = tbl[idx].Frame()
	}

	leafTbl := tableAt(cur, hhdm.Offset())
	leaf := leafTbl[index(vaddr, 3)]
	if !leaf.Present() {
		return 0, false
	}

	return leaf.Frame().Address() + (vaddr & uintptr(mem.PageSize-1)), true
}

// flagsOnly masks off the frame-address bits of an entry, returning its
// flag bits alone.
func (e entry) flagsOnly() Flag {
	return Flag(uint64(e) &^ frameAddrMask)
}
