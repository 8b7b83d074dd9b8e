package shm

import (
	"testing"
	"unsafe"

	"github.com/Maxencejules/hybrid-go-os/kernel/config"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/hhdm"
	"github.com/Maxencejules/hybrid-go-os/kernel/mem/pmm"
)

func alignedPage() []byte {
	const pad = uintptr(mem.PageSize)
	buf := make([]byte, 2*pad)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (addr + pad - 1) &^ (pad - 1)
	return buf[aligned-addr : aligned-addr+pad]
}

func frameOf(page []byte) pmm.Frame {
	return pmm.FromAddress(uintptr(unsafe.Pointer(&page[0])))
}

func resetForTest() {
	regions = [config.MaxSharedRegions]region{}
	nextHandle = 1
	hhdm.SetOffset(0)
	allocFrame = nil
}

func TestCreateZeroesAndAssignsHandle(t *testing.T) {
	resetForTest()
	page := alignedPage()
	for i := range page {
		page[i] = 0xAA
	}
	SetFrameAllocator(func() pmm.Frame { return frameOf(page) })

	h := Create(uint64(mem.PageSize))
	if h == 0 {
		t.Fatal("expected a non-zero handle")
	}
	for i, b := range page {
		if b != 0 {
			t.Fatalf("expected page to be zeroed at offset %d; got %x", i, b)
		}
	}
}

func TestCreateRejectsOversizeRequest(t *testing.T) {
	resetForTest()
	page := alignedPage()
	SetFrameAllocator(func() pmm.Frame { return frameOf(page) })

	if h := Create(uint64(mem.PageSize) + 1); h != 0 {
		t.Fatalf("expected Create to reject an oversize request; got handle %d", h)
	}
}

func TestCreateFailsWhenAllocatorExhausted(t *testing.T) {
	resetForTest()
	SetFrameAllocator(func() pmm.Frame { return 0 })

	if h := Create(4096); h != 0 {
		t.Fatalf("expected Create to fail when the frame allocator is exhausted; got handle %d", h)
	}
}

func TestFindUnknownHandleReturnsNil(t *testing.T) {
	resetForTest()
	if find(Handle(999)) != nil {
		t.Fatal("expected an unknown handle to resolve to nil")
	}
}
