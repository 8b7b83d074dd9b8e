// Package ipc implements synchronous message-passing over owner-bound
// ports: a bounded per-port FIFO queue with single blocking-receiver
// semantics (spec §4.5 "IPC").
package ipc

import (
	"github.com/Maxencejules/hybrid-go-os/kernel/config"
	"github.com/Maxencejules/hybrid-go-os/kernel/cpu"
	"github.com/Maxencejules/hybrid-go-os/kernel/sched"
)

// Port is a 32-bit monotonic endpoint identifier. 0 means unused/invalid
// (spec §3 "Port / IPC endpoint").
type Port uint32

type message struct {
	sender  sched.TID
	size    uint32
	payload [config.MaxMessagePayload]byte
}

type port struct {
	number  Port
	owner   sched.TID
	queue   [config.PortQueueDepth]message
	head    uint32
	count   uint32
	parked  sched.TID // 0 means no parked receiver
	inUse   bool
}

var (
	ports      [config.MaxPorts]port
	nextPortID Port = 1

	// disableFn/enableFn let tests exercise the critical sections below
	// without touching real interrupt flags.
	disableFn = cpu.DisableInterrupts
	enableFn  = cpu.EnableInterrupts

	// yieldFn is the scheduler suspension point recv's blocking branch
	// uses (spec §5 "Suspension points").
	yieldFn = sched.Schedule

	// blockFn and wakeFn are the scheduler state transitions Recv/Send
	// drive; indirected so tests don't need a live scheduler arena.
	blockFn = sched.Block
	wakeFn  = sched.Wake
)

// CreatePort allocates the lowest free port slot, assigns the next
// monotonic port number, and records owner as its only legitimate
// receiver. Ports are never reused once retired within a boot: even if a
// slot is later considered free (this core has no explicit destroy),
// nextPortID only increases.
func CreatePort(owner sched.TID) Port {
	for i := range ports {
		if !ports[i].inUse {
			ports[i] = port{
				number: nextPortID,
				owner:  owner,
				inUse:  true,
			}
			nextPortID++
			return ports[i].number
		}
	}
	return 0
}

func find(p Port) *port {
	if p == 0 {
		return nil
	}
	for i := range ports {
		if ports[i].inUse && ports[i].number == p {
			return &ports[i]
		}
	}
	return nil
}

// Send validates size against the payload cap, then enqueues (sender,
// payload) onto p's FIFO under interrupts-off. If the queue is full it
// fails. If a receiver is parked on p, it is woken: exactly one wake per
// successful enqueue while a receiver is parked, never otherwise (spec
// §4.5 invariant).
func Send(p Port, sender sched.TID, buf []byte) bool {
	if len(buf) > config.MaxMessagePayload {
		return false
	}
	target := find(p)
	if target == nil {
		return false
	}

	disableFn()
	defer enableFn()

	if target.count == uint32(config.PortQueueDepth) {
		return false
	}

	tail := (target.head + target.count) % uint32(config.PortQueueDepth)
	msg := &target.queue[tail]
	msg.sender = sender
	msg.size = uint32(copy(msg.payload[:], buf))
	target.count++

	if target.parked != 0 {
		woken := target.parked
		target.parked = 0
		wakeFn(woken)
	}

	return true
}

// Recv is only valid for p's owner. While the queue is empty it parks the
// calling thread on p, marks it Blocked, and yields; on resumption it
// re-disables interrupts and re-checks (spec §4.5). Once a message is
// available it dequeues, copies the payload into buf, reports the sender,
// and returns the payload size. ok is false if caller is not p's owner.
func Recv(p Port, caller sched.TID, buf []byte) (sender sched.TID, size int, ok bool) {
	target := find(p)
	if target == nil || target.owner != caller {
		return 0, 0, false
	}

	disableFn()
	for target.count == 0 {
		target.parked = caller
		blockFn(caller)
		enableFn()
		yieldFn()
		disableFn()
	}

	msg := &target.queue[target.head]
	n := copy(buf, msg.payload[:msg.size])
	sender = msg.sender
	target.head = (target.head + 1) % uint32(config.PortQueueDepth)
	target.count--
	enableFn()

	return sender, n, true
}
