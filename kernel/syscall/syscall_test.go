package syscall

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel/config"
	"github.com/Maxencejules/hybrid-go-os/kernel/ipc"
	"github.com/Maxencejules/hybrid-go-os/kernel/kfmt"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/hhdm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/vmm"
	"github.com/Maxencejules/hybrid-go-os/kernel/sched"
	"github.com/Maxencejules/hybrid-go-os/kernel/shm"
)

// allocAlignedPage carves a page-aligned, page-sized slice out of a
// larger backing array so its address can stand in for a physical frame:
// with hhdm's offset set to 0, a Frame built from this slice's address
// behaves exactly like a frame reached through the real direct mapping
// (same pattern as vmm_test.go/shm_test.go/proc/process_test.go).
func allocAlignedPage() []byte {
	pad := uintptr(mem.PageSize)
	buf := make([]byte, 2*pad)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + pad - 1) &^ (pad - 1)
	return buf[aligned-base : aligned-base+pad]
}

func frameOf(page []byte) pmm.Frame {
	return pmm.FromAddress(uintptr(unsafe.Pointer(&page[0])))
}

type pagePool struct {
	pages [][]byte
}

func newPagePool(n int) *pagePool {
	p := &pagePool{}
	for i := 0; i < n; i++ {
		p.pages = append(p.pages, allocAlignedPage())
	}
	return p
}

func (p *pagePool) alloc() pmm.Frame {
	if len(p.pages) == 0 {
		return 0
	}
	page := p.pages[0]
	p.pages = p.pages[1:]
	return frameOf(page)
}

// setupUserSpace creates a fresh address space (backed by pool), maps one
// page at vaddr into it, points currentAddrSpaceFn at it, and returns the
// mapped page's real backing bytes for the test to pre-fill or inspect as
// if it were user memory.
func setupUserSpace(t *testing.T, pool *pagePool, vaddr uintptr) []byte {
	t.Helper()
	as, err := vmm.CreateAddressSpace(pool.alloc)
	if err != nil {
		t.Fatalf("CreateAddressSpace: %v", err)
	}
	backing := allocAlignedPage()
	flags := vmm.FlagPresent | vmm.FlagWritable | vmm.FlagUser
	if err := vmm.MapPage(as, vaddr, frameOf(backing).Address(), flags, pool.alloc); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	currentAddrSpaceFn = func() uintptr { return as.PML4.Address() }
	return backing
}

func resetForTest(t *testing.T) {
	t.Helper()
	hhdm.SetOffset(0)
	t.Cleanup(func() {
		currentTIDFn = sched.Current
		currentAddrSpaceFn = sched.CurrentAddrSpace
		vmmAllocFn = nil
	})
}

func TestPointerValidationRejectsKernelSpaceAddress(t *testing.T) {
	resetForTest(t)
	bad := uint64(config.KernelSpaceSplit)

	cases := []struct {
		name string
		got  uint64
	}{
		{"debug_write", Dispatch(sysDebugWrite, bad, 4, 0)},
		{"shm_map", Dispatch(sysShmMap, 1, bad, 0)},
		{"ipc_send", Dispatch(sysIPCSend, 1, bad, 4)},
		{"ipc_recv", Dispatch(sysIPCRecv, 1, bad, 0)},
		{"service_register", Dispatch(sysServiceRegister, bad, 4, 1)},
		{"service_lookup", Dispatch(sysServiceLookup, bad, 4, 0)},
		{"blk_read", Dispatch(sysBlkRead, 0, bad, uint64(config.SectorSize))},
		{"blk_write", Dispatch(sysBlkWrite, 0, bad, uint64(config.SectorSize))},
		{"process_spawn", Dispatch(sysProcessSpawn, bad, uint64(mem.PageSize), 0)},
	}
	for _, c := range cases {
		if c.got != errResult {
			t.Errorf("%s: expected a kernel-space pointer to be rejected with -1; got %d", c.name, c.got)
		}
	}
}

func TestUnknownSyscallNumberReturnsErrResult(t *testing.T) {
	resetForTest(t)
	if got := Dispatch(999, 0, 0, 0); got != errResult {
		t.Fatalf("expected an unknown syscall number to return -1; got %d", got)
	}
}

func TestDebugWriteRelaysUserBufferVerbatim(t *testing.T) {
	resetForTest(t)
	var out bytes.Buffer
	kfmt.SetOutputSink(&out)

	pool := newPagePool(16)
	vaddr := uintptr(0x4000)
	backing := setupUserSpace(t, pool, vaddr)
	copy(backing, []byte("hello"))

	if got := Dispatch(sysDebugWrite, uint64(vaddr), 5, 0); got != 5 {
		t.Fatalf("expected debug_write to report 5 bytes written; got %d", got)
	}
	if out.String() != "hello" {
		t.Fatalf("expected the relayed bytes to read %q; got %q", "hello", out.String())
	}
}

func TestDebugWriteRejectsOversizeLength(t *testing.T) {
	resetForTest(t)
	pool := newPagePool(16)
	vaddr := uintptr(0x4000)
	setupUserSpace(t, pool, vaddr)

	if got := Dispatch(sysDebugWrite, uint64(vaddr), debugWriteMaxLen+1, 0); got != errResult {
		t.Fatalf("expected debug_write to reject an oversize length; got %d", got)
	}
}

func TestYieldReturnsZeroAndTimeNowTracksTicks(t *testing.T) {
	resetForTest(t)
	if got := Dispatch(sysYield, 0, 0, 0); got != 0 {
		t.Fatalf("expected yield to return 0; got %d", got)
	}

	before := Dispatch(sysTimeNow, 0, 0, 0)
	sched.Tick()
	after := Dispatch(sysTimeNow, 0, 0, 0)
	if after != before+1 {
		t.Fatalf("expected time_now to reflect the tick counter; got %d then %d", before, after)
	}
}

func TestIPCCreatePortSendRecvRoundTrip(t *testing.T) {
	resetForTest(t)
	pool := newPagePool(16)

	ownerTID := sched.TID(7)
	senderTID := sched.TID(3)

	currentTIDFn = func() sched.TID { return ownerTID }
	portResult := Dispatch(sysIPCCreatePort, 0, 0, 0)
	if portResult == 0 {
		t.Fatal("expected ipc_create_port to return a nonzero port")
	}
	port := ipc.Port(portResult)

	sendVaddr := uintptr(0x10000)
	sendBacking := setupUserSpace(t, pool, sendVaddr)
	copy(sendBacking, []byte("ping"))

	currentTIDFn = func() sched.TID { return senderTID }
	if got := Dispatch(sysIPCSend, portResult, uint64(sendVaddr), 4); got != 1 {
		t.Fatalf("expected ipc_send to succeed; got %d", got)
	}

	recvVaddr := uintptr(0x20000)
	recvBacking := setupUserSpace(t, pool, recvVaddr)
	recvBufVaddr := recvVaddr
	senderOutVaddr := recvVaddr + 64

	currentTIDFn = func() sched.TID { return ownerTID }
	got := Dispatch(sysIPCRecv, uint64(port), uint64(recvBufVaddr), uint64(senderOutVaddr))
	if got != 4 {
		t.Fatalf("expected ipc_recv to report 4 bytes; got %d", got)
	}
	if string(recvBacking[:4]) != "ping" {
		t.Fatalf("expected the received payload to read %q; got %q", "ping", recvBacking[:4])
	}

	gotSender := uint32(recvBacking[64]) | uint32(recvBacking[65])<<8 |
		uint32(recvBacking[66])<<16 | uint32(recvBacking[67])<<24
	if sched.TID(gotSender) != senderTID {
		t.Fatalf("expected the reported sender to be %d; got %d", senderTID, gotSender)
	}
}

// TestIPCRecvIgnoresBadSenderOutPtr matches original_source/kernel/ipc.c's
// ipc_recv: a NULL or invalid sender_tid_out only skips that write-back, it
// does not fail the whole receive once a message is actually queued.
func TestIPCRecvIgnoresBadSenderOutPtr(t *testing.T) {
	resetForTest(t)
	pool := newPagePool(16)

	ownerTID := sched.TID(7)
	senderTID := sched.TID(3)

	currentTIDFn = func() sched.TID { return ownerTID }
	portResult := Dispatch(sysIPCCreatePort, 0, 0, 0)
	if portResult == 0 {
		t.Fatal("expected ipc_create_port to return a nonzero port")
	}
	port := ipc.Port(portResult)

	sendVaddr := uintptr(0x10000)
	sendBacking := setupUserSpace(t, pool, sendVaddr)
	copy(sendBacking, []byte("ping"))

	currentTIDFn = func() sched.TID { return senderTID }
	if got := Dispatch(sysIPCSend, portResult, uint64(sendVaddr), 4); got != 1 {
		t.Fatalf("expected ipc_send to succeed; got %d", got)
	}

	recvVaddr := uintptr(0x20000)
	recvBacking := setupUserSpace(t, pool, recvVaddr)

	currentTIDFn = func() sched.TID { return ownerTID }

	// senderOutPtr == 0 (NULL): the message must still be delivered.
	got := Dispatch(sysIPCRecv, uint64(port), uint64(recvVaddr), 0)
	if got != 4 {
		t.Fatalf("expected ipc_recv to report 4 bytes with a NULL sender_out; got %d", got)
	}
	if string(recvBacking[:4]) != "ping" {
		t.Fatalf("expected the received payload to read %q; got %q", "ping", recvBacking[:4])
	}

	// A second message, this time with a kernel-space (invalid)
	// sender_out: still delivered, the bad pointer just isn't written.
	currentTIDFn = func() sched.TID { return senderTID }
	copy(sendBacking, []byte("pong"))
	if got := Dispatch(sysIPCSend, portResult, uint64(sendVaddr), 4); got != 1 {
		t.Fatalf("expected ipc_send to succeed; got %d", got)
	}

	currentTIDFn = func() sched.TID { return ownerTID }
	got = Dispatch(sysIPCRecv, uint64(port), uint64(recvVaddr), uint64(config.KernelSpaceSplit))
	if got != 4 {
		t.Fatalf("expected ipc_recv to report 4 bytes with an invalid sender_out; got %d", got)
	}
	if string(recvBacking[:4]) != "pong" {
		t.Fatalf("expected the received payload to read %q; got %q", "pong", recvBacking[:4])
	}
}

func TestServiceRegisterLookupRoundTrip(t *testing.T) {
	resetForTest(t)
	pool := newPagePool(16)
	vaddr := uintptr(0x30000)
	backing := setupUserSpace(t, pool, vaddr)

	name := "syscalltest.disk0"
	copy(backing, []byte(name))

	if got := Dispatch(sysServiceRegister, uint64(vaddr), uint64(len(name)), 42); got != 0 {
		t.Fatalf("expected service_register to report success (0); got %d", got)
	}
	if got := Dispatch(sysServiceLookup, uint64(vaddr), uint64(len(name)), 0); got != 42 {
		t.Fatalf("expected service_lookup to resolve port 42; got %d", got)
	}
}

func TestShmCreateMapRoundTrip(t *testing.T) {
	resetForTest(t)
	pool := newPagePool(16)
	shm.SetFrameAllocator(pool.alloc)
	vmmAllocFn = pool.alloc

	as, err := vmm.CreateAddressSpace(pool.alloc)
	if err != nil {
		t.Fatalf("CreateAddressSpace: %v", err)
	}
	currentAddrSpaceFn = func() uintptr { return as.PML4.Address() }

	handle := Dispatch(sysShmCreate, uint64(mem.PageSize), 0, 0)
	if handle == 0 {
		t.Fatal("expected shm_create to return a nonzero handle")
	}

	vaddrHint := uint64(0x40000)
	if got := Dispatch(sysShmMap, handle, vaddrHint, 0); got != vaddrHint {
		t.Fatalf("expected shm_map to honor the vaddr hint; got %#x", got)
	}
}

func TestBlkReadWriteRejectNonSectorMultipleLength(t *testing.T) {
	resetForTest(t)
	pool := newPagePool(16)
	vaddr := uintptr(0x50000)
	setupUserSpace(t, pool, vaddr)

	if got := Dispatch(sysBlkRead, 0, uint64(vaddr), config.SectorSize-1); got != errResult {
		t.Fatalf("expected blk_read to reject a non-sector-multiple length; got %d", got)
	}
	if got := Dispatch(sysBlkWrite, 0, uint64(vaddr), config.SectorSize-1); got != errResult {
		t.Fatalf("expected blk_write to reject a non-sector-multiple length; got %d", got)
	}
}

func TestProcessSpawnRejectsUnalignedPointer(t *testing.T) {
	resetForTest(t)
	if got := Dispatch(sysProcessSpawn, 1, uint64(mem.PageSize), 0); got != errResult {
		t.Fatalf("expected process_spawn to reject a non-page-aligned image pointer; got %d", got)
	}
}
