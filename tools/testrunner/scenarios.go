package main

import (
	"fmt"
	"strings"

	"github.com/Maxencejules/hybrid-go-os/kernel/config"
)

// scenario checks one of spec §8's end-to-end scenarios against the full
// captured serial log.
//
// Three scenarios are registered here. The boot smoke test and timer
// preemption lines come from kmain's own boot sequence and its two seed
// kernel threads. The page-fault recovery check looks for the line
// trap.Dispatch prints for a fault at 0xdeadbeef; nothing kmain starts
// arms a recovery RIP or touches that address, so that check fails against
// an image built from this tree. Spec §8's IPC ping-pong, SHM checksum and
// VirtIO round-trip scenarios are driven by user-mode seed processes
// (ping/pong, shm-writer/shm-reader, blkdevd/fsd in the original
// implementation) that this tree has no build step to produce flat
// executables for — see kmain.spawnSeeds's doc comment — and no check is
// registered for them.
type scenario struct {
	Name  string
	Check func(log string) error
}

var scenarios = []scenario{
	{"boot smoke test", checkBootSmoke},
	{"page-fault recovery", checkPageFault},
	{"timer preemption", checkTimerPreemption},
}

// requireInOrder fails unless every marker in order appears in log, each
// strictly after the previous one's position.
func requireInOrder(log string, markers ...string) error {
	pos := 0
	for _, m := range markers {
		idx := strings.Index(log[pos:], m)
		if idx < 0 {
			return fmt.Errorf("expected %q after offset %d, not found", m, pos)
		}
		pos += idx + len(m)
	}
	return nil
}

func checkBootSmoke(log string) error {
	return requireInOrder(log,
		"KERNEL: boot ok",
		"GDT: loaded",
		"IDT: loaded",
		"PFA: initialized",
		"VMM: initialized",
		"MM: paging=on",
	)
}

func checkPageFault(log string) error {
	const want = "addr=0x00000000deadbeef"
	if !strings.Contains(log, want) {
		return fmt.Errorf("expected a page-fault log line containing %q", want)
	}
	return nil
}

// checkTimerPreemption verifies the serial stream contains alternating
// runs of 'A' and 'B' after sti, each run roughly config.SchedTimeSliceTicks
// PIT ticks long. The harness can't observe PIT ticks directly, so it
// checks the weaker, still-meaningful property spec §8 actually demands: at
// least a handful of A<->B transitions happen (round-robin preemption is
// occurring at all, not one thread starving the other), and no run is
// wildly longer than the others (preemption is regular, not sporadic).
func checkTimerPreemption(log string) error {
	afterSTI := log
	if idx := strings.Index(log, "sti"); idx >= 0 {
		afterSTI = log[idx:]
	}

	runs := runLengths(afterSTI, 'A', 'B')
	if len(runs) < 4 {
		return fmt.Errorf("expected at least 4 alternating A/B runs after sti, found %d", len(runs))
	}

	min, max := runs[0], runs[0]
	for _, r := range runs {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	// A generous bound: real scheduling jitter (serial write latency,
	// the first partial run) can easily be 10x a single tick's nominal
	// run length, but a stuck thread would produce a run orders of
	// magnitude longer than the rest.
	if max > min*50 {
		return fmt.Errorf("run lengths too uneven to be round-robin preemption (min=%d max=%d, nominal slice=%d ticks)", min, max, config.SchedTimeSliceTicks)
	}
	return nil
}

// runLengths scans s for a run of a/b exclusively and returns the length
// of each maximal run, ignoring any other byte.
func runLengths(s string, a, b byte) []int {
	var runs []int
	cur := byte(0)
	count := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != a && c != b {
			continue
		}
		if c == cur {
			count++
			continue
		}
		if count > 0 {
			runs = append(runs, count)
		}
		cur = c
		count = 1
	}
	if count > 0 {
		runs = append(runs, count)
	}
	return runs
}
