package virtio

import (
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel"
	"github.com/Maxencejules/hybrid-go-os/kernel/config"
	"github.com/Maxencejules/hybrid-go-os/kernel/cpu"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/hhdm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"
)

const (
	vendorID = 0x1AF4
	deviceID = 0x1001
)

// Legacy register offsets from the device's IO-space BAR0 (spec §4.8;
// original_source/legacy/kernel/virtio_blk.c's VIRTIO_REG_* defines).
const (
	regDeviceFeatures = 0x00
	regGuestFeatures  = 0x04
	regQueuePFN       = 0x08
	regQueueSize      = 0x0C
	regQueueSelect    = 0x0E
	regQueueNotify    = 0x10
	regDeviceStatus   = 0x12
	regISRStatus      = 0x13
)

const (
	statusAck      = 1
	statusDriver   = 2
	statusDriverOK = 4
	statusFailed   = 128
)

const (
	blkTypeRead  = 0
	blkTypeWrite = 1
)

var (
	errNoDevice        = &kernel.Error{Module: "virtio", Message: "no virtio-blk device found on PCI bus 0"}
	errQueueSizeZero   = &kernel.Error{Module: "virtio", Message: "device reported queue size 0"}
	errOutOfMemory     = &kernel.Error{Module: "virtio", Message: "out of memory initializing virtqueue"}
	errAllocatorsUnset = &kernel.Error{Module: "virtio", Message: "frame allocators not installed"}
	errNotReady        = &kernel.Error{Module: "virtio", Message: "driver not initialized"}
	errInvalidCount    = &kernel.Error{Module: "virtio", Message: "invalid sector count for request"}
	errDeviceTimeout   = &kernel.Error{Module: "virtio", Message: "device did not complete request within poll budget"}
	errIOError         = &kernel.Error{Module: "virtio", Message: "device reported non-zero status for request"}
)

// ContigAllocFn allocates n physically contiguous frames, returning the
// lowest frame, or Frame(0) on exhaustion.
type ContigAllocFn func(n uint64) pmm.Frame

// AllocFn allocates one physical frame, returning Frame(0) on exhaustion.
type AllocFn func() pmm.Frame

var (
	allocContig ContigAllocFn
	allocSingle AllocFn
)

// SetFrameAllocators installs the physical frame allocators the driver
// draws its virtqueue and DMA buffer frames from. Must be called once
// during boot, after the PFA is initialized and before Init.
func SetFrameAllocators(contig ContigAllocFn, single AllocFn) {
	allocContig = contig
	allocSingle = single
}

type device struct {
	ioBase      uint16
	queueSize   uint16
	queuePhys   pmm.Frame
	queueVirt   uintptr
	usedOffset  uintptr
	lastUsedIdx uint16

	reqPhys  pmm.Frame
	reqVirt  uintptr
	dataPhys pmm.Frame
	dataVirt uintptr

	ready bool
}

var blk device

// mockable hooks so Init/Read/Write are unit-testable without real
// hardware; production callers never reassign these.
var (
	outbFn  = cpu.OutB
	inbFn   = cpu.InB
	outwFn  = cpu.OutW
	inwFn   = cpu.InW
	pauseFn = cpu.Pause
)

// Init discovers the virtio-blk device, negotiates no features, builds and
// registers one virtqueue, allocates the two DMA pages, and brings the
// device to Driver-OK (spec §4.8).
func Init() *kernel.Error {
	ioBase, found := findDevice(vendorID, deviceID)
	if !found {
		return errNoDevice
	}
	if allocContig == nil || allocSingle == nil {
		return errAllocatorsUnset
	}

	outbFn(ioBase+regDeviceStatus, 0)
	outbFn(ioBase+regDeviceStatus, statusAck)
	outbFn(ioBase+regDeviceStatus, statusAck|statusDriver)

	_ = inlFn(ioBase + regDeviceFeatures)
	outlFn(ioBase+regGuestFeatures, 0)

	outwFn(ioBase+regQueueSelect, 0)
	queueSize := inwFn(ioBase + regQueueSize)
	if queueSize == 0 {
		outbFn(ioBase+regDeviceStatus, statusFailed)
		return errQueueSizeZero
	}

	usedOffset, pages := vqLayout(queueSize)

	queueFrame := allocContig(pages)
	if queueFrame == 0 {
		outbFn(ioBase+regDeviceStatus, statusFailed)
		return errOutOfMemory
	}
	queueVirt := hhdm.FrameVirtAddr(queueFrame)
	zeroRange(queueVirt, pages*uint64(mem.PageSize))

	reqFrame := allocSingle()
	dataFrame := allocSingle()
	if reqFrame == 0 || dataFrame == 0 {
		outbFn(ioBase+regDeviceStatus, statusFailed)
		return errOutOfMemory
	}
	reqVirt := hhdm.FrameVirtAddr(reqFrame)
	dataVirt := hhdm.FrameVirtAddr(dataFrame)
	zeroRange(reqVirt, uint64(mem.PageSize))
	zeroRange(dataVirt, uint64(mem.PageSize))

	outlFn(ioBase+regQueuePFN, uint32(queueFrame))

	blk = device{
		ioBase:     ioBase,
		queueSize:  queueSize,
		queuePhys:  queueFrame,
		queueVirt:  queueVirt,
		usedOffset: uintptr(usedOffset),
		reqPhys:    reqFrame,
		reqVirt:    reqVirt,
		dataPhys:   dataFrame,
		dataVirt:   dataVirt,
	}

	outbFn(ioBase+regDeviceStatus, statusAck|statusDriver|statusDriverOK)
	blk.ready = true
	return nil
}

func zeroRange(addr uintptr, size uint64) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	for i := range b {
		b[i] = 0
	}
}

// blkReqHeaderSize is sizeof(struct virtio_blk_req_hdr): type(4) +
// reserved(4) + sector(8).
const blkReqHeaderSize = 16

// Read fills buf (a whole multiple of config.SectorSize, at most
// config.VirtIOMaxSectorsPerRequest sectors) from sector.
func Read(sector uint64, buf []byte) *kernel.Error {
	return blk.doIO(blkTypeRead, sector, buf)
}

// Write persists buf to sector.
func Write(sector uint64, buf []byte) *kernel.Error {
	return blk.doIO(blkTypeWrite, sector, buf)
}

func (d *device) doIO(typ uint32, sector uint64, buf []byte) *kernel.Error {
	if !d.ready {
		return errNotReady
	}
	if len(buf) == 0 || len(buf)%config.SectorSize != 0 {
		return errInvalidCount
	}
	count := len(buf) / config.SectorSize
	if count > config.VirtIOMaxSectorsPerRequest {
		return errInvalidCount
	}
	dataLen := count * config.SectorSize

	hdrAddr := (*uint32)(unsafe.Pointer(d.reqVirt))
	*hdrAddr = typ
	reservedAddr := (*uint32)(unsafe.Pointer(d.reqVirt + 4))
	*reservedAddr = 0
	sectorAddr := (*uint64)(unsafe.Pointer(d.reqVirt + 8))
	*sectorAddr = sector

	statusPtr := (*byte)(unsafe.Pointer(d.reqVirt + blkReqHeaderSize))
	*statusPtr = 0xFF

	dataBuf := unsafe.Slice((*byte)(unsafe.Pointer(d.dataVirt)), dataLen)
	if typ == blkTypeWrite {
		copy(dataBuf, buf)
	} else {
		for i := range dataBuf {
			dataBuf[i] = 0
		}
	}

	*d.descPtr(0) = vringDesc{
		addr:  uint64(d.reqPhys.Address()),
		len:   blkReqHeaderSize,
		flags: descFlagNext,
		next:  1,
	}

	dataFlags := uint16(descFlagNext)
	if typ == blkTypeRead {
		dataFlags |= descFlagWrite
	}
	*d.descPtr(1) = vringDesc{
		addr:  uint64(d.dataPhys.Address()),
		len:   uint32(dataLen),
		flags: dataFlags,
		next:  2,
	}

	*d.descPtr(2) = vringDesc{
		addr:  uint64(d.reqPhys.Address()) + blkReqHeaderSize,
		len:   1,
		flags: descFlagWrite,
		next:  0,
	}

	availIdx := *d.availIdxPtr()
	*d.availRingPtr(availIdx % d.queueSize) = 0
	cpu.CompilerBarrier()
	*d.availIdxPtr() = availIdx + 1

	outwFn(d.ioBase+regQueueNotify, 0)

	budget := config.VirtIOPollRetryBudget
	for *d.usedIdxPtr() == d.lastUsedIdx {
		pauseFn()
		budget--
		if budget == 0 {
			return errDeviceTimeout
		}
	}
	d.lastUsedIdx++

	_ = inbFn(d.ioBase + regISRStatus)
	cpu.CompilerBarrier()

	if *statusPtr != 0 {
		return errIOError
	}

	if typ == blkTypeRead {
		copy(buf, dataBuf)
	}
	return nil
}
