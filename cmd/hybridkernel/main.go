// Command hybridkernel is the rt0 trampoline: the only Go symbol the
// linker's entry point jumps to once the hand-written assembly that sets
// up a minimal stack and jumps into Go has run. It exists purely to call
// kmain.Kmain and is intentionally defined to prevent the Go compiler from
// optimizing away the rest of the kernel, which it has no visibility into
// from this one call.
package main

import "github.com/Maxencejules/hybrid-go-os/kernel/kmain"

func main() {
	kmain.Kmain()
}
