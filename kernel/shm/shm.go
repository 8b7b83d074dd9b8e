// Package shm implements named handles to single-page physical regions
// mappable into any address space, coherently shared by construction since
// every mapping points at the same backing frame (spec §4.6 "Shared
// Memory").
package shm

import (
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel/config"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/hhdm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/vmm"
)

// Handle identifies a shared region. 0 means unused/invalid (spec §3
// "Shared-memory region").
type Handle uint32

type region struct {
	handle Handle
	frame  pmm.Frame
	inUse  bool
}

var (
	regions    [config.MaxSharedRegions]region
	nextHandle Handle = 1
)

// AllocFrameFn allocates a single physical frame, returning Frame(0) on
// exhaustion.
type AllocFrameFn func() pmm.Frame

var allocFrame AllocFrameFn

// SetFrameAllocator installs the physical frame allocator this package
// draws backing pages from. It must be called once during boot, after the
// PFA is initialized.
func SetFrameAllocator(fn AllocFrameFn) {
	allocFrame = fn
}

// Create allocates one frame, zeroes it through its HHDM alias, and
// records a handle entry. size is accepted only up to one page in this
// core (spec: "size (capped at one page in this core)"); Create returns 0
// on any failure, including an oversize request or an exhausted frame
// allocator or handle table.
func Create(size uint64) Handle {
	if size > uint64(mem.PageSize) {
		return 0
	}
	if allocFrame == nil {
		return 0
	}

	frame := allocFrame()
	if frame == 0 {
		return 0
	}

	for i := range regions {
		if !regions[i].inUse {
			zero(frame)
			regions[i] = region{handle: nextHandle, frame: frame, inUse: true}
			h := nextHandle
			nextHandle++
			return h
		}
	}
	return 0
}

func zero(f pmm.Frame) {
	addr := hhdm.FrameVirtAddr(f)
	page := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(mem.PageSize))
	for i := range page {
		page[i] = 0
	}
}

// find returns the region backing h, or nil if h is unknown.
func find(h Handle) *region {
	if h == 0 {
		return nil
	}
	for i := range regions {
		if regions[i].inUse && regions[i].handle == h {
			return &regions[i]
		}
	}
	return nil
}

// Map maps h's backing frame into the given address space at vaddrHint (or
// config.UserStackBase's sibling default when vaddrHint is 0) with
// Present|Writable|User, and returns the virtual address used. It returns
// 0 if h is unknown or the underlying page-table walk runs out of memory.
func Map(as vmm.AddressSpace, h Handle, vaddrHint uintptr, alloc vmm.FrameAllocFn) uintptr {
	r := find(h)
	if r == nil {
		return 0
	}

	vaddr := vaddrHint
	if vaddr == 0 {
		vaddr = config.UserStackBase + uintptr(mem.PageSize) // just past the stack region
	}

	if err := vmm.MapPage(as, vaddr, r.frame.Address(), vmm.FlagPresent|vmm.FlagWritable|vmm.FlagUser, alloc); err != nil {
		return 0
	}

	return vaddr
}
