package main

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	munrt "github.com/mun-lang/munrt/runtime"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <path>",
		Short: "Load a .munlib and hot-reload it whenever the file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args[0])
		},
	}
}

// runWatch is the long-running side of spec section 6.3's "a caller
// drives a reload by calling Update whenever it considers a fresh
// library ready": fsnotify supplies the "whenever" so the host doesn't
// have to poll.
func runWatch(path string) error {
	rt, err := munrt.New(path, munrt.WithLogger(logger))
	if err != nil {
		return err
	}
	printSummary(rt)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("munrun: could not start file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("munrun: could not watch %s: %w", dir, err)
	}

	logger.WithField("path", path).Info("watching for changes")
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			outcome, updErr := rt.Update()
			if updErr != nil {
				logger.WithError(updErr).Warn("reload failed, still serving previous assembly")
				continue
			}
			logger.WithField("outcome", outcome).Info("reload finished")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("watcher error")
		}
	}
}
