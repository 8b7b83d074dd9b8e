package pmm

import "github.com/Maxencejules/hybrid-go-os/kernel/mem"

// Allocator is a physical frame allocator backed by a single bitmap over a
// bounded frame range: bit n set means frame n is either reserved at boot
// or currently allocated. Frames at or beyond frameCount are always
// treated as reserved. There is no concurrency inside the allocator — every
// caller is expected to hold interrupts off for the duration of the call
// (spec §4.1, §5).
type Allocator struct {
	bitmap     []byte
	frameCount uint64
	freeCount  uint64
}

// MemRegion describes one entry of the bootloader-supplied memory map.
// Usable regions clear the corresponding bitmap bits; everything else
// (and everything outside any region at all) stays reserved.
type MemRegion struct {
	Base   uintptr
	Length uint64
	Usable bool
}

// Init sizes the bitmap to cover [0, frameCount) frames, marks every frame
// reserved, and then clears the bits covered by each usable region. Frame 0
// is always left reserved (the BIOS/real-mode area in every real memory
// map already reserves it) so that the zero-frame OOM sentinel used by
// AllocPage/AllocContiguous is never a frame that could legitimately be
// handed out.
func (a *Allocator) Init(bitmapStorage []byte, frameCount uint64, regions []MemRegion) {
	a.bitmap = bitmapStorage
	a.frameCount = frameCount
	a.freeCount = 0

	for i := range a.bitmap {
		a.bitmap[i] = 0xFF
	}

	for _, r := range regions {
		if !r.Usable {
			continue
		}
		startFrame := uint64(r.Base) >> mem.PageShift
		endFrame := (uint64(r.Base) + r.Length) >> mem.PageShift
		for f := startFrame; f < endFrame && f < frameCount; f++ {
			a.clearBit(f)
		}
	}

	a.setBit(0)
}

func (a *Allocator) setBit(frame uint64) {
	byteIdx, mask := frame>>3, byte(1<<(frame&7))
	if a.bitmap[byteIdx]&mask == 0 {
		a.freeCount--
	}
	a.bitmap[byteIdx] |= mask
}

func (a *Allocator) clearBit(frame uint64) {
	byteIdx, mask := frame>>3, byte(1<<(frame&7))
	if a.bitmap[byteIdx]&mask != 0 {
		a.freeCount++
	}
	a.bitmap[byteIdx] &^= mask
}

func (a *Allocator) testBit(frame uint64) bool {
	return a.bitmap[frame>>3]&(1<<(frame&7)) != 0
}

// AllocPage scans the bitmap left to right for the first clear bit,
// skipping whole 0xFF bytes as a fast path, and returns the lowest free
// frame. It returns Frame(0) when no frame is available; callers must
// treat 0 as failure (frame 0 is never handed out, see Init).
func (a *Allocator) AllocPage() Frame {
	nbytes := uint64(len(a.bitmap))
	for byteIdx := uint64(0); byteIdx < nbytes; byteIdx++ {
		if a.bitmap[byteIdx] == 0xFF {
			continue
		}
		for bit := uint64(0); bit < 8; bit++ {
			frame := byteIdx*8 + bit
			if frame >= a.frameCount {
				return 0
			}
			if !a.testBit(frame) {
				a.setBit(frame)
				return Frame(frame)
			}
		}
	}
	return 0
}

// AllocContiguous searches for n consecutive clear frames and, on success,
// marks all of them allocated and returns the lowest frame in the run. It
// returns Frame(0) on failure.
//
// The search first tries only byte-aligned start positions (frame numbers
// that are multiples of 8): this is the alignment guarantee documented for
// VirtIO's physically-contiguous DMA buffers (spec §9 open question). If no
// byte-aligned run of the requested length exists, the search falls back to
// any bit position.
func (a *Allocator) AllocContiguous(n uint64) Frame {
	if n == 0 {
		return 0
	}
	if run, ok := a.findRun(n, true); ok {
		a.markRun(run, n)
		return Frame(run)
	}
	if run, ok := a.findRun(n, false); ok {
		a.markRun(run, n)
		return Frame(run)
	}
	return 0
}

func (a *Allocator) findRun(n uint64, byteAligned bool) (uint64, bool) {
	step := uint64(1)
	if byteAligned {
		step = 8
	}

	for start := uint64(0); start+n <= a.frameCount; start += step {
		free := true
		for f := start; f < start+n; f++ {
			if a.testBit(f) {
				free = false
				break
			}
		}
		if free {
			return start, true
		}
	}
	return 0, false
}

func (a *Allocator) markRun(start, n uint64) {
	for f := start; f < start+n; f++ {
		a.setBit(f)
	}
}

// FreePage clears the bitmap entry for frame, returning it to the pool. It
// is a no-op (not an error) to free an already-free frame, matching the
// core's choice not to treat double-free as a reportable condition (spec
// §7 lists only resource exhaustion, invalid arguments and faults as
// recognized error kinds).
func (a *Allocator) FreePage(f Frame) {
	frame := uint64(f)
	if frame == 0 || frame >= a.frameCount {
		return
	}
	a.clearBit(frame)
}

// FreeFrames returns the number of frames currently available for
// allocation.
func (a *Allocator) FreeFrames() uint64 {
	return a.freeCount
}

// TotalFrames returns the size of the managed frame range.
func (a *Allocator) TotalFrames() uint64 {
	return a.frameCount
}

// IsReserved reports whether frame is currently allocated or reserved
// (i.e. its bitmap bit is set), used by tests and invariant checks.
func (a *Allocator) IsReserved(f Frame) bool {
	frame := uint64(f)
	if frame >= a.frameCount {
		return true
	}
	return a.testBit(frame)
}
