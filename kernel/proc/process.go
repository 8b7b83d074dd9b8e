// Package proc implements the flat-binary process loader (spec §4.10) and
// the process table SPEC_FULL.md §4.13 supplements on top of it: a small
// pid/address-space/liveness record per spawned user thread, kept purely
// for bookkeeping (it adds no scheduling fairness or priority).
package proc

import (
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel"
	"github.com/Maxencejules/hybrid-go-os/kernel/config"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/hhdm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/vmm"
	"github.com/Maxencejules/hybrid-go-os/kernel/sched"
)

var (
	errTooLarge       = &kernel.Error{Module: "proc", Message: "binary exceeds the maximum user image size"}
	errOutOfMemory    = &kernel.Error{Module: "proc", Message: "out of memory loading process image"}
	errOutOfProcesses = &kernel.Error{Module: "proc", Message: "process table exhausted"}
	errBadImage       = &kernel.Error{Module: "proc", Message: "failed to read a page of the process image"}
)

// ContigAllocFn allocates n physically contiguous frames, used for the
// dedicated kernel stacks a spawned thread needs.
type ContigAllocFn func(n uint64) pmm.Frame

// AllocFn allocates one physical frame.
type AllocFn func() pmm.Frame

var (
	allocContig ContigAllocFn
	allocFrame  AllocFn
)

// SetFrameAllocators installs the physical frame allocators Spawn draws
// address-space, image and stack frames from. Must be called once during
// boot, after the PFA is initialized.
func SetFrameAllocators(contig ContigAllocFn, single AllocFn) {
	allocContig = contig
	allocFrame = single
}

// Process is the bookkeeping entry SPEC_FULL.md §4.13 adds on top of
// spec.md §4.10's unchanged loader semantics: a pid, the process's address
// space, the kernel thread id carrying it, and a liveness flag so a ring-3
// fault can be attributed to a process in log output.
type Process struct {
	PID       uint32
	AddrSpace vmm.AddressSpace
	TID       sched.TID
	Alive     bool
}

var (
	table   [config.MaxThreads]Process
	nextPID uint32 = 1
)

// SourceFn supplies page's worth of image bytes into dst (len(dst) is
// always mem.PageSize): it zero-pads any tail past the image's real size,
// and reports false if it cannot produce the page at all (e.g. an
// unmapped source page when the image lives in a caller's user address
// space rather than kernel memory).
type SourceFn func(dst []byte, page uint64) bool

// Spawn implements spec §4.10 for a binary already resident in kernel
// memory, such as a boot-time seed process compiled into the kernel
// image. See SpawnFromSource for images that must be pulled out of a
// caller's own address space page by page (the process_spawn syscall's
// case).
func Spawn(binary []byte) (sched.TID, *kernel.Error) {
	if uint64(len(binary)) > config.MaxUserBinarySize {
		return 0, errTooLarge
	}
	return spawn(uint64(len(binary)), func(dst []byte, page uint64) bool {
		zero(dst)
		start := page * uint64(mem.PageSize)
		if start >= uint64(len(binary)) {
			return true
		}
		end := start + uint64(mem.PageSize)
		if end > uint64(len(binary)) {
			end = uint64(len(binary))
		}
		copy(dst, binary[start:end])
		return true
	})
}

// SpawnFromSource implements spec §4.10 for an image whose bytes are
// produced on demand by src rather than held in one contiguous kernel
// slice. size is the image's real length; src is asked for
// ceil(size/4096)+2 pages, the last two of which lie wholly past the
// image and must come back zero-filled.
func SpawnFromSource(size uint64, src SourceFn) (sched.TID, *kernel.Error) {
	if size > config.MaxUserBinarySize {
		return 0, errTooLarge
	}
	return spawn(size, src)
}

// spawn implements spec §4.10: given an image of size bytes supplied page
// by page through src, it creates a new address space, maps
// ceil(size/4096)+2 frames consecutively at config.UserCodeBase (the extra
// two pages zero-fill a BSS tail), maps one user stack page at
// config.UserStackBase with User|Writable, and registers a new user
// thread whose initial RIP is the code base and initial RSP is the stack
// top. There is no ELF parsing and no relocation.
func spawn(size uint64, src SourceFn) (sched.TID, *kernel.Error) {
	if allocContig == nil || allocFrame == nil {
		return 0, errOutOfMemory
	}

	slot := freeSlot()
	if slot < 0 {
		return 0, errOutOfProcesses
	}

	vmmAlloc := vmm.FrameAllocFn(allocFrame)

	as, err := vmm.CreateAddressSpace(vmmAlloc)
	if err != nil {
		return 0, err
	}

	codePages := mem.Size(size).Pages() + 2
	for i := uint64(0); i < codePages; i++ {
		frame := allocFrame()
		if frame == 0 {
			return 0, errOutOfMemory
		}
		if !copyImagePage(frame, src, i) {
			return 0, errBadImage
		}

		vaddr := uintptr(config.UserCodeBase) + uintptr(i)*uintptr(mem.PageSize)
		if verr := vmm.MapPage(as, vaddr, frame.Address(), vmm.FlagPresent|vmm.FlagWritable|vmm.FlagUser, vmmAlloc); verr != nil {
			return 0, verr
		}
	}

	stackFrame := allocFrame()
	if stackFrame == 0 {
		return 0, errOutOfMemory
	}
	zeroFrame(stackFrame)
	if verr := vmm.MapPage(as, uintptr(config.UserStackBase), stackFrame.Address(), vmm.FlagPresent|vmm.FlagWritable|vmm.FlagUser, vmmAlloc); verr != nil {
		return 0, verr
	}

	rsp0Frames := config.KernelStackSize / uint64(mem.PageSize)
	rsp0Frame := allocContig(rsp0Frames)
	if rsp0Frame == 0 {
		return 0, errOutOfMemory
	}
	rsp0Top := hhdm.FrameVirtAddr(rsp0Frame) + uintptr(config.KernelStackSize)

	rip := uintptr(config.UserCodeBase)
	rsp := uintptr(config.UserStackBase) + uintptr(mem.PageSize)

	tid, serr := sched.CreateUserThread(as.PML4.Address(), rip, rsp, rsp0Top, func() (uintptr, uintptr, *kernel.Error) {
		f := allocContig(rsp0Frames)
		if f == 0 {
			return 0, 0, errOutOfMemory
		}
		base := hhdm.FrameVirtAddr(f)
		return base, base + uintptr(config.KernelStackSize), nil
	})
	if serr != nil {
		return 0, serr
	}

	pid := nextPID
	nextPID++
	table[slot] = Process{PID: pid, AddrSpace: as, TID: tid, Alive: true}

	return tid, nil
}

// Label returns a short "pidN" attribution string for tid, or "" if tid
// does not belong to any live process (used by trap.SetProcessLabelFn).
func Label(tid sched.TID) string {
	for i := range table {
		if table[i].Alive && table[i].TID == tid {
			return "pid" + uitoa(table[i].PID)
		}
	}
	return ""
}

func freeSlot() int {
	for i := range table {
		if !table[i].Alive {
			return i
		}
	}
	return -1
}

func zeroFrame(f pmm.Frame) {
	addr := hhdm.FrameVirtAddr(f)
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(mem.PageSize))
	for i := range b {
		b[i] = 0
	}
}

// copyImagePage hands frame's HHDM-aliased bytes to src as page i of the
// image.
func copyImagePage(frame pmm.Frame, src SourceFn, page uint64) bool {
	addr := hhdm.FrameVirtAddr(frame)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(mem.PageSize))
	return src(dst, page)
}

// zero fills b with zero bytes.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// uitoa is a tiny allocation-light unsigned-to-decimal formatter, avoiding
// a strconv dependency for a single log-line use.
func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
