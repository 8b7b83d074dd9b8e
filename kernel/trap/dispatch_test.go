package trap

import (
	"testing"

	"github.com/Maxencejules/hybrid-go-os/kernel/sched"
)

func restoreMocks(t *testing.T) {
	t.Helper()
	origReadCR2, origDisable, origHalt := readCR2Fn, disableInterruptsFn, haltFn
	origEOI, origTick, origSchedule := eoiFn, tickFn, scheduleFn
	origKill, origCurrent := killFn, currentFn

	t.Cleanup(func() {
		readCR2Fn, disableInterruptsFn, haltFn = origReadCR2, origDisable, origHalt
		eoiFn, tickFn, scheduleFn = origEOI, origTick, origSchedule
		killFn, currentFn = origKill, origCurrent
		recoveryRIP = 0
		syscallHandler = nil
	})
}

func TestDispatchSyscallWritesResultToRAX(t *testing.T) {
	restoreMocks(t)
	SetSyscallHandler(func(num, a0, a1, a2 uint64) uint64 {
		if num != 0 || a0 != 10 || a1 != 20 || a2 != 30 {
			t.Fatalf("unexpected syscall args: num=%d a0=%d a1=%d a2=%d", num, a0, a1, a2)
		}
		return 42
	})

	f := &Frame{Vector: syscallVector, RAX: 0, RDI: 10, RSI: 20, RDX: 30}
	Dispatch(f)

	if f.RAX != 42 {
		t.Fatalf("expected RAX=42; got %d", f.RAX)
	}
}

func TestDispatchSyscallUnknownHandlerReturnsMinusOne(t *testing.T) {
	restoreMocks(t)

	f := &Frame{Vector: syscallVector}
	Dispatch(f)

	if f.RAX != ^uint64(0) {
		t.Fatalf("expected RAX=-1 sentinel; got %x", f.RAX)
	}
}

func TestDispatchTimerIRQTicksAcksAndSchedules(t *testing.T) {
	restoreMocks(t)
	var ticks, schedules int
	var acked []uint8
	tickFn = func() { ticks++ }
	scheduleFn = func() { schedules++ }
	eoiFn = func(line uint8) { acked = append(acked, line) }

	Dispatch(&Frame{Vector: irqVectorBase})

	if ticks != 1 || schedules != 1 {
		t.Fatalf("expected exactly one tick and one schedule call; got ticks=%d schedules=%d", ticks, schedules)
	}
	if len(acked) != 1 || acked[0] != 0 {
		t.Fatalf("expected EOI(0); got %v", acked)
	}
}

func TestDispatchNonTimerIRQOnlyAcks(t *testing.T) {
	restoreMocks(t)
	var ticks, schedules int
	var acked []uint8
	tickFn = func() { ticks++ }
	scheduleFn = func() { schedules++ }
	eoiFn = func(line uint8) { acked = append(acked, line) }

	Dispatch(&Frame{Vector: irqVectorBase + 3})

	if ticks != 0 || schedules != 0 {
		t.Fatalf("expected no tick/schedule on a non-timer line; got ticks=%d schedules=%d", ticks, schedules)
	}
	if len(acked) != 1 || acked[0] != 3 {
		t.Fatalf("expected EOI(3); got %v", acked)
	}
}

func TestDispatchPageFaultWithArmedRecoveryResumesAtRIP(t *testing.T) {
	restoreMocks(t)
	readCR2Fn = func() uint64 { return 0xDEADBEEF }
	ArmPageFaultRecovery(0x1000)

	f := &Frame{Vector: pageFaultVec, RIP: 0x2000, CS: 0x08}
	Dispatch(f)

	if f.RIP != 0x1000 {
		t.Fatalf("expected RIP rewritten to the armed recovery address; got %x", f.RIP)
	}
	if recoveryRIP != 0 {
		t.Fatal("expected the armed recovery RIP to be cleared after use")
	}
}

func TestDispatchPageFaultRing3KillsThread(t *testing.T) {
	restoreMocks(t)
	readCR2Fn = func() uint64 { return 0 }
	var killed sched.TID
	var scheduled bool
	currentFn = func() sched.TID { return 9 }
	killFn = func(tid sched.TID) { killed = tid }
	scheduleFn = func() { scheduled = true }

	f := &Frame{Vector: pageFaultVec, CS: 0x1B} // RPL=3
	Dispatch(f)

	if killed != 9 || !scheduled {
		t.Fatalf("expected ring-3 page fault to kill the current thread and reschedule; killed=%d scheduled=%v", killed, scheduled)
	}
}

func TestDispatchRing0FaultHalts(t *testing.T) {
	restoreMocks(t)
	readCR2Fn = func() uint64 { return 0 }
	halts := 0
	disableInterruptsFn = func() {}
	haltFn = func() {
		halts++
		panic("test stops the halt loop here")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected the ring-0 fault path to reach the halt loop")
		}
		if halts != 1 {
			t.Fatalf("expected exactly one halt call before the test stopped it; got %d", halts)
		}
	}()

	Dispatch(&Frame{Vector: 0x0D, CS: 0x08}) // GPF, ring 0
}
