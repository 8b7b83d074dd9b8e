package virtio

import (
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel/mem"
)

const (
	descFlagNext  = 1
	descFlagWrite = 2
)

// vringDesc is one split-queue descriptor, laid out exactly as the VirtIO
// legacy spec requires (no Go-side padding: the field sizes already sum to
// a naturally aligned 16 bytes).
type vringDesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

const vringDescSize = 16

// availHeaderSize is flags(2) + idx(2) + the trailing used_event(2) the
// legacy layout reserves even though this driver never enables
// VIRTIO_RING_F_EVENT_IDX.
const availHeaderSize = 6

// usedHeaderSize is flags(2) + idx(2) + the trailing avail_event(2).
const usedHeaderSize = 6
const usedElemSize = 8

// vqLayout computes the byte layout of a split virtqueue for the given
// device-reported queue size, following the legacy formula: the descriptor
// table and available ring share the first page-unaligned region, the used
// ring starts at the next page boundary (original_source's
// virtio_blk_init does the same alignment before writing QUEUE_PFN).
func vqLayout(queueSize uint16) (usedOffset uint64, totalPages uint64) {
	qs := uint64(queueSize)
	availEnd := qs*vringDescSize + availHeaderSize + 2*qs
	usedOffset = (availEnd + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)
	usedEnd := usedOffset + usedHeaderSize + usedElemSize*qs
	totalPages = (usedEnd + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	return usedOffset, totalPages
}

func (d *device) descPtr(i uint16) *vringDesc {
	return (*vringDesc)(unsafe.Pointer(d.queueVirt + uintptr(i)*vringDescSize))
}

func (d *device) availIdxPtr() *uint16 {
	return (*uint16)(unsafe.Pointer(d.queueVirt + uintptr(d.queueSize)*vringDescSize + 2))
}

func (d *device) availRingPtr(i uint16) *uint16 {
	// The ring follows flags(2) + idx(2); used_event trails the ring.
	base := d.queueVirt + uintptr(d.queueSize)*vringDescSize + 4
	return (*uint16)(unsafe.Pointer(base + uintptr(i)*2))
}

func (d *device) usedIdxPtr() *uint16 {
	return (*uint16)(unsafe.Pointer(d.queueVirt + d.usedOffset + 2))
}
