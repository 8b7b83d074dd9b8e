package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchedDirs are the source trees a kernel image is actually built from;
// editing anything outside these (this tool itself, for instance) doesn't
// warrant a rebuild.
var watchedDirs = []string{"kernel", "boot", "cmd"}

// watchLoop rebuilds cfg.buildPkg into cfg.kernelPath and reruns every
// scenario each time a tracked source file changes, the same
// watch-rebuild-reboot devtool loop fsnotify's own consumers use for their
// build pipelines.
func watchLoop(cfg config) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	for _, dir := range watchedDirs {
		if err := addRecursive(w, dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	fmt.Println("watching", watchedDirs, "for changes (ctrl-c to stop)")
	if err := buildAndRun(cfg); err != nil {
		fmt.Println("testrunner:", err)
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(ev.Name) != ".go" && filepath.Ext(ev.Name) != ".s" {
				continue
			}
			fmt.Println("\nchanged:", ev.Name)
			if err := buildAndRun(cfg); err != nil {
				fmt.Println("testrunner:", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Println("watcher error:", err)
		}
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func buildAndRun(cfg config) error {
	build := exec.Command("go", "build", "-o", cfg.kernelPath, cfg.buildPkg)
	if out, err := build.CombinedOutput(); err != nil {
		return fmt.Errorf("go build: %w\n%s", err, out)
	}
	return runOnce(cfg)
}
