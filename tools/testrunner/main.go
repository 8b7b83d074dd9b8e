// Command testrunner boots the built kernel image under QEMU, captures the
// emulated serial port, and checks the end-to-end scenarios registered in
// scenarios.go (three of spec §8's six) against the literal strings the
// kernel writes to it. None of these
// scenarios can run as a Go unit test: each requires a real ring-3
// transition or a running VM, which this host-side harness supplies.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "testrunner:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("testrunner", flag.ContinueOnError)
	kernelPath := fs.String("kernel", "hybridkernel.elf", "path to the built kernel image")
	qemuBin := fs.String("qemu", "qemu-system-x86_64", "QEMU binary to invoke")
	diskPath := fs.String("disk", "", "path to a diskimg-created backing file, passed to QEMU as the virtio-blk drive (omitted if empty)")
	memMB := fs.Int("m", 256, "guest memory size in MiB")
	timeout := fs.Duration("timeout", 20*time.Second, "how long to capture the serial port before giving up")
	watch := fs.Bool("watch", false, "rebuild and rerun whenever a tracked source file changes")
	buildPkg := fs.String("build", "./cmd/hybridkernel", "package to `go build` into -kernel before each run (used by -watch)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config{
		kernelPath: *kernelPath,
		qemuBin:    *qemuBin,
		diskPath:   *diskPath,
		memMB:      *memMB,
		timeout:    *timeout,
		buildPkg:   *buildPkg,
	}

	if *watch {
		return watchLoop(cfg)
	}
	return runOnce(cfg)
}

type config struct {
	kernelPath string
	qemuBin    string
	diskPath   string
	memMB      int
	timeout    time.Duration
	buildPkg   string
}

// runOnce boots cfg.kernelPath once, captures its serial output, and
// reports every scenario's pass/fail state. It returns an error only if
// booting the VM itself failed; individual scenario failures are printed
// but do not abort the run, so a single run reports the full picture.
func runOnce(cfg config) error {
	log, err := bootAndCapture(cfg)
	if err != nil {
		return fmt.Errorf("booting %s under qemu: %w", cfg.kernelPath, err)
	}

	failed := 0
	for _, s := range scenarios {
		if err := s.Check(log); err != nil {
			fmt.Printf("FAIL %s: %v\n", s.Name, err)
			failed++
		} else {
			fmt.Printf("PASS %s\n", s.Name)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d/%d scenarios failed", failed, len(scenarios))
	}
	fmt.Printf("all %d scenarios passed\n", len(scenarios))
	return nil
}
