// Package syscall implements the single-vector syscall surface described
// in spec §4.9: a flat, numbered dispatch table reached through interrupt
// vector 0x80. Dispatch is installed into kernel/trap with
// trap.SetSyscallHandler to avoid trap importing this package (which
// would import trap back through kernel/sched's dependents and close a
// cycle); kernel/kmain wires the two together during boot.
//
// Every argument that is a user pointer is validated against
// config.KernelSpaceSplit before it is dereferenced, and invalid pointers
// fail without touching user memory or any subsystem's state, per spec
// §4.9's literal rule. A pointer is translated through the calling
// thread's own address space (sched.CurrentAddrSpace), one page at a
// time, so a buffer is never assumed to be backed by physically
// contiguous memory.
package syscall

import (
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel/config"
	"github.com/Maxencejules/hybrid-go-os/kernel/ipc"
	"github.com/Maxencejules/hybrid-go-os/kernel/kfmt"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/hhdm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/vmm"
	"github.com/Maxencejules/hybrid-go-os/kernel/proc"
	"github.com/Maxencejules/hybrid-go-os/kernel/registry"
	"github.com/Maxencejules/hybrid-go-os/kernel/sched"
	"github.com/Maxencejules/hybrid-go-os/kernel/shm"
	"github.com/Maxencejules/hybrid-go-os/kernel/virtio"
)

// The numbered syscall table, spec §4.9.
const (
	sysDebugWrite      = 0
	sysThreadExit      = 2
	sysYield           = 3
	sysShmCreate       = 6
	sysShmMap          = 7
	sysIPCSend         = 8
	sysIPCRecv         = 9
	sysTimeNow         = 10
	sysIPCCreatePort   = 11
	sysServiceRegister = 12
	sysServiceLookup   = 13
	sysBlkRead         = 14
	sysBlkWrite        = 15
	sysProcessSpawn    = 16
)

// currentTIDFn and currentAddrSpaceFn are mockable indirections over
// sched.Current/sched.CurrentAddrSpace, following the same testability
// convention used throughout this codebase (e.g. kernel/trap, kernel/ipc).
var (
	currentTIDFn       = sched.Current
	currentAddrSpaceFn = sched.CurrentAddrSpace
)

// errResult is the all-ones value returned for any failure: argument
// validation (the only case spec §4.9 mandates -1 for), and, for this
// implementation's convenience, any other failure not already carrying a
// native zero-is-invalid sentinel from the subsystem it reached.
const errResult = ^uint64(0)

// debugWriteMaxLen bounds a single debug_write call so one syscall cannot
// monopolize the kernel relaying an unbounded buffer.
const debugWriteMaxLen = 4096

// blkMaxLen bounds a single blk_read/blk_write call to the driver's
// one-page data buffer.
const blkMaxLen = config.VirtIOMaxSectorsPerRequest * config.SectorSize

// Dispatch routes a syscall by number to its implementation and returns
// the value to load into RAX (spec §4.9). It is the function installed
// via trap.SetSyscallHandler.
func Dispatch(num, a0, a1, a2 uint64) uint64 {
	switch num {
	case sysDebugWrite:
		return debugWrite(a0, a1)
	case sysThreadExit:
		sched.ThreadExit()
		return 0 // unreachable: ThreadExit never returns
	case sysYield:
		sched.Yield()
		return 0
	case sysShmCreate:
		return uint64(shm.Create(a0))
	case sysShmMap:
		return shmMap(a0, a1)
	case sysIPCSend:
		return ipcSend(a0, a1, a2)
	case sysIPCRecv:
		return ipcRecv(a0, a1, a2)
	case sysTimeNow:
		return sched.Ticks()
	case sysIPCCreatePort:
		return uint64(ipc.CreatePort(currentTIDFn()))
	case sysServiceRegister:
		return serviceRegister(a0, a1, a2)
	case sysServiceLookup:
		return serviceLookup(a0, a1)
	case sysBlkRead:
		return blkRead(a0, a1, a2)
	case sysBlkWrite:
		return blkWrite(a0, a1, a2)
	case sysProcessSpawn:
		return processSpawn(a0, a1)
	default:
		return errResult
	}
}

func debugWrite(uaddr, length uint64) uint64 {
	if length > debugWriteMaxLen {
		return errResult
	}
	ok := forEachUserChunk(uaddr, int(length), func(kaddr uintptr, chunk int) bool {
		kfmt.Write(unsafe.Slice((*byte)(unsafe.Pointer(kaddr)), chunk))
		return true
	})
	if !ok {
		return errResult
	}
	return length
}

func shmMap(handleArg, vaddrHint uint64) uint64 {
	if vaddrHint != 0 && !validUserAddr(vaddrHint) {
		return errResult
	}
	as, ok := currentAddrSpace()
	if !ok {
		return errResult
	}
	return uint64(shm.Map(as, shm.Handle(handleArg), uintptr(vaddrHint), vmmAllocFn))
}

func ipcSend(portArg, uaddr, length uint64) uint64 {
	if length > config.MaxMessagePayload {
		return errResult
	}
	var buf [config.MaxMessagePayload]byte
	n := int(length)
	if !copyFromUser(buf[:n], uaddr) {
		return errResult
	}
	if ipc.Send(ipc.Port(portArg), currentTIDFn(), buf[:n]) {
		return 1
	}
	return 0
}

func ipcRecv(portArg, bufPtr, senderOutPtr uint64) uint64 {
	if !validUserAddr(bufPtr) {
		return errResult
	}

	var buf [config.MaxMessagePayload]byte
	sender, n, ok := ipc.Recv(ipc.Port(portArg), currentTIDFn(), buf[:])
	if !ok {
		return errResult
	}
	if !copyToUser(bufPtr, buf[:n]) {
		return errResult
	}

	// senderOutPtr is best-effort: a NULL or otherwise invalid pointer
	// here only means the caller doesn't want the sender tid, not that
	// the whole receive should fail — the message is already dequeued.
	if senderOutPtr != 0 && validUserAddr(senderOutPtr) {
		var senderBytes [4]byte
		senderBytes[0] = byte(sender)
		senderBytes[1] = byte(sender >> 8)
		senderBytes[2] = byte(sender >> 16)
		senderBytes[3] = byte(sender >> 24)
		copyToUser(senderOutPtr, senderBytes[:])
	}

	return uint64(n)
}

func serviceRegister(namePtr, nameLen, portArg uint64) uint64 {
	if nameLen > config.ServiceNameLen {
		return errResult
	}
	var nameBuf [config.ServiceNameLen]byte
	n := int(nameLen)
	if !copyFromUser(nameBuf[:n], namePtr) {
		return errResult
	}
	return uint64(int64(registry.Register(string(nameBuf[:n]), uint32(portArg))))
}

func serviceLookup(namePtr, nameLen uint64) uint64 {
	if nameLen > config.ServiceNameLen {
		return errResult
	}
	var nameBuf [config.ServiceNameLen]byte
	n := int(nameLen)
	if !copyFromUser(nameBuf[:n], namePtr) {
		return errResult
	}
	return uint64(registry.Lookup(string(nameBuf[:n])))
}

func blkRead(sector, bufPtr, length uint64) uint64 {
	if length == 0 || length%config.SectorSize != 0 || length > blkMaxLen {
		return errResult
	}
	if !validRange(bufPtr, length) {
		return errResult
	}

	var buf [blkMaxLen]byte
	n := int(length)
	if err := virtio.Read(sector, buf[:n]); err != nil {
		return errResult
	}
	if !copyToUser(bufPtr, buf[:n]) {
		return errResult
	}
	return length
}

func blkWrite(sector, bufPtr, length uint64) uint64 {
	if length == 0 || length%config.SectorSize != 0 || length > blkMaxLen {
		return errResult
	}

	var buf [blkMaxLen]byte
	n := int(length)
	if !copyFromUser(buf[:n], bufPtr) {
		return errResult
	}
	if err := virtio.Write(sector, buf[:n]); err != nil {
		return errResult
	}
	return length
}

// processSpawn implements syscall 16: binaryPtr must be page-aligned, a
// simplifying requirement (documented here, not in spec.md, since it is
// an implementation detail of how the image is pulled out of the caller's
// address space rather than a semantic the caller needs to reason about
// beyond "page-align your image buffer").
func processSpawn(binaryPtr, length uint64) uint64 {
	if length == 0 || length > config.MaxUserBinarySize {
		return errResult
	}
	if binaryPtr%uint64(mem.PageSize) != 0 {
		return errResult
	}
	if !validRange(binaryPtr, length) {
		return errResult
	}

	as, ok := currentAddrSpace()
	if !ok {
		return errResult
	}

	tid, err := proc.SpawnFromSource(length, func(dst []byte, page uint64) bool {
		zeroBytes(dst)
		start := page * uint64(mem.PageSize)
		if start >= length {
			return true
		}
		paddr, ok := vmm.Translate(as, uintptr(binaryPtr+start))
		if !ok {
			return false
		}
		end := start + uint64(mem.PageSize)
		if end > length {
			end = length
		}
		src := unsafe.Slice((*byte)(unsafe.Pointer(hhdm.VirtAddr(paddr))), int(end-start))
		copy(dst, src)
		return true
	})
	if err != nil {
		return errResult
	}
	return uint64(tid)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// vmmAllocFn is the frame allocator shm.Map and this package's own
// address-space lookups use to back any page-table frame they must
// allocate while installing a mapping into a user address space.
var vmmAllocFn vmm.FrameAllocFn

// SetFrameAllocator installs the physical frame allocator used for
// on-demand page-table frames (shm_map's mapping into a user address
// space). It must be called once during boot, after the PFA is
// initialized.
func SetFrameAllocator(fn vmm.FrameAllocFn) {
	vmmAllocFn = fn
}

func currentAddrSpace() (vmm.AddressSpace, bool) {
	phys := currentAddrSpaceFn()
	if phys == 0 {
		return vmm.AddressSpace{}, false
	}
	return vmm.AddressSpace{PML4: pmm.FromAddress(phys)}, true
}

// validUserAddr reports whether addr is strictly below the kernel-space
// split (spec §4.9: "address must be below the kernel-space split").
func validUserAddr(addr uint64) bool {
	return addr < uint64(config.KernelSpaceSplit)
}

// validRange reports whether the whole [addr, addr+length) range stays
// below the kernel-space split, with no overflow.
func validRange(addr, length uint64) bool {
	if length == 0 {
		return validUserAddr(addr)
	}
	end := addr + length
	return validUserAddr(addr) && end >= addr && end <= uint64(config.KernelSpaceSplit)
}

// forEachUserChunk validates [uaddr, uaddr+n) against the calling
// thread's address space and invokes fn once per physical page the range
// touches, passing a kernel-visible (HHDM) address and the chunk length
// within that page. It returns false if the range is invalid, the
// calling thread has no address space, any page fails to translate, or
// fn itself returns false.
func forEachUserChunk(uaddr uint64, n int, fn func(kaddr uintptr, chunk int) bool) bool {
	if n == 0 {
		return true
	}
	if !validRange(uaddr, uint64(n)) {
		return false
	}

	as, ok := currentAddrSpace()
	if !ok {
		return false
	}

	cursor := uintptr(uaddr)
	remaining := n
	for remaining > 0 {
		paddr, ok := vmm.Translate(as, cursor)
		if !ok {
			return false
		}

		offsetInPage := int(cursor & uintptr(mem.PageSize-1))
		chunk := int(mem.PageSize) - offsetInPage
		if chunk > remaining {
			chunk = remaining
		}

		if !fn(hhdm.VirtAddr(paddr), chunk) {
			return false
		}

		cursor += uintptr(chunk)
		remaining -= chunk
	}
	return true
}

func copyFromUser(dst []byte, uaddr uint64) bool {
	i := 0
	return forEachUserChunk(uaddr, len(dst), func(kaddr uintptr, chunk int) bool {
		src := unsafe.Slice((*byte)(unsafe.Pointer(kaddr)), chunk)
		copy(dst[i:i+chunk], src)
		i += chunk
		return true
	})
}

func copyToUser(uaddr uint64, src []byte) bool {
	i := 0
	return forEachUserChunk(uaddr, len(src), func(kaddr uintptr, chunk int) bool {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(kaddr)), chunk)
		copy(dst, src[i:i+chunk])
		i += chunk
		return true
	})
}
