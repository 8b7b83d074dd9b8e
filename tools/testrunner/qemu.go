package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ptyRedirectPattern matches QEMU's stderr announcement of the pty it
// allocated for a "-serial pty" backend, e.g.
// "char device redirected to /dev/pts/4 (label serial0)".
var ptyRedirectPattern = regexp.MustCompile(`char device redirected to (/dev/pts/\d+)`)

// bootAndCapture launches QEMU against cfg.kernelPath with its serial port
// backed by a pty, puts that pty into raw mode (golang.org/x/sys/unix, the
// same ioctl-driven approach the retrieval pack's VM-driving tools use for
// their own ptys), and reads everything written to it for cfg.timeout
// before killing the VM and returning the captured text.
func bootAndCapture(cfg config) (string, error) {
	args := []string{
		"-kernel", cfg.kernelPath,
		"-m", fmt.Sprintf("%dM", cfg.memMB),
		"-display", "none",
		"-no-reboot",
		"-serial", "pty",
		"-monitor", "none",
	}
	if cfg.diskPath != "" {
		args = append(args,
			"-drive", "file="+cfg.diskPath+",if=none,format=raw,id=blk0",
			"-device", "virtio-blk-pci,drive=blk0",
		)
	}

	cmd := exec.Command(cfg.qemuBin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("attaching stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting %s: %w", cfg.qemuBin, err)
	}
	defer cmd.Process.Kill()

	ptyPath, err := findPtyPath(stderr)
	if err != nil {
		return "", err
	}

	pty, err := os.OpenFile(ptyPath, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", ptyPath, err)
	}
	defer pty.Close()

	if err := setRaw(pty); err != nil {
		return "", fmt.Errorf("setting %s raw: %w", ptyPath, err)
	}

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		io.Copy(&buf, pty)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.timeout):
	}

	cmd.Process.Kill()
	cmd.Wait()
	return buf.String(), nil
}

// findPtyPath scans QEMU's stderr for the pty-redirect announcement. QEMU
// prints it as soon as the device is allocated, well before the guest
// writes anything, so a line-at-a-time scan never blocks past that point.
func findPtyPath(stderr io.Reader) (string, error) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		line := sc.Text()
		if m := ptyRedirectPattern.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
		if strings.Contains(line, "could not") || strings.Contains(line, "Failed") {
			return "", fmt.Errorf("qemu startup error: %s", line)
		}
	}
	return "", fmt.Errorf("qemu never announced a serial pty on stderr")
}

// setRaw disables echo, canonical mode and signal generation on fd, the
// manual cfmakeraw equivalent (x/sys/unix exposes the ioctls, not the
// libc convenience wrapper).
func setRaw(f *os.File) error {
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	raw := *t
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, &raw)
}
