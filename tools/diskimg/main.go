// Command diskimg creates and zero-fills the flat-file backing store the
// VirtIO legacy block driver (kernel/virtio) talks to under QEMU: a raw,
// unheadered file of 512*N bytes, sector addressed, with no partition
// table or filesystem of its own (SPEC_FULL.md §4.14).
//
// Usage:
//
//	diskimg -out disk.img -sectors 2048
//	diskimg -out disk.img -size 4MiB
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Maxencejules/hybrid-go-os/kernel/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "diskimg:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("diskimg", flag.ContinueOnError)
	out := fs.String("out", "disk.img", "path of the image file to create")
	sectors := fs.Uint64("sectors", 0, "image size in 512-byte sectors")
	size := fs.String("size", "", "image size as a byte count with an optional Ki/Mi/Gi suffix (overrides -sectors)")
	force := fs.Bool("force", false, "overwrite -out if it already exists")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n := *sectors
	if *size != "" {
		bytes, err := parseSize(*size)
		if err != nil {
			return fmt.Errorf("parsing -size: %w", err)
		}
		n = bytes / config.SectorSize
	}
	if n == 0 {
		return fmt.Errorf("image size is zero; pass -sectors or -size")
	}

	return create(*out, n, *force)
}

// create writes a zero-filled file of sectors*config.SectorSize bytes at
// path. It sizes the file with Truncate and writes no data, so on a
// filesystem that supports holes the file is sparse; every sector still
// reads back as zeros.
func create(path string, sectors uint64, force bool) error {
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	total := int64(sectors) * int64(config.SectorSize)
	if err := f.Truncate(total); err != nil {
		return fmt.Errorf("sizing %s to %d bytes: %w", path, total, err)
	}

	fmt.Printf("diskimg: wrote %s (%d sectors, %d bytes)\n", path, sectors, total)
	return nil
}

// parseSize accepts a byte count with an optional Ki/Mi/Gi (or K/M/G)
// binary-unit suffix, e.g. "4MiB", "512Ki", "1073741824".
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "B")

	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "Gi"):
		mult, s = 1<<30, strings.TrimSuffix(s, "Gi")
	case strings.HasSuffix(s, "Mi"):
		mult, s = 1<<20, strings.TrimSuffix(s, "Mi")
	case strings.HasSuffix(s, "Ki"):
		mult, s = 1<<10, strings.TrimSuffix(s, "Ki")
	case strings.HasSuffix(s, "G"):
		mult, s = 1<<30, strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "M"):
		mult, s = 1<<20, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		mult, s = 1<<10, strings.TrimSuffix(s, "K")
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
