// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sam-fredrickson/reconcile"
	"github.com/sam-fredrickson/reconcile/store"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch FILE",
		Short: "Print the patches of every change to FILE",
		Long: `watch keeps a live copy of FILE and reconciles it with each new version
written to disk, printing the patches of every commit until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, a.cfg, a.log, args[0], cmd.OutOrStdout(), nil)
		},
	}
}

// runWatch follows file until ctx is done. ready, when set, is called once
// the watcher is installed.
func runWatch(
	ctx context.Context,
	cfg *Config,
	log *zap.Logger,
	file string,
	out io.Writer,
	ready func(),
) error {
	r, err := reconcile.NewReconciler(cfg.options(log))
	if err != nil {
		return err
	}
	outputFormat, err := parseFormat(cfg.Format)
	if err != nil {
		return err
	}
	if outputFormat == "" {
		outputFormat = validFormats["text"]
	}

	initial, _, err := unmarshalFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	live, err := store.NewImmutable(initial, r, store.Options{Logger: log})
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so that editors replacing the file by rename are seen.
	file = filepath.Clean(file)
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", file, err)
	}
	log.Info("watching", zap.String("file", file))
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != file || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := reload(live, file, out, outputFormat, log); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))
		}
	}
}

// reload reconciles the live copy with the current content of file.
// Unreadable content is logged and skipped; only output failures are fatal.
func reload(live *store.Immutable, file string, out io.Writer, f format, log *zap.Logger) error {
	contents, err := os.ReadFile(file)
	if err != nil {
		log.Warn("cannot read file", zap.String("file", file), zap.Error(err))
		return nil
	}
	if len(contents) == 0 {
		// a writer truncated the file and has not finished yet
		return nil
	}
	next, _, err := unmarshalBytes(file, contents)
	if err != nil {
		log.Warn("cannot decode file", zap.String("file", file), zap.Error(err))
		return nil
	}

	commit, err := live.Set(next)
	if err != nil {
		log.Error("reconcile failed", zap.String("file", file), zap.Error(err))
		return nil
	}
	if len(commit.Patches) == 0 {
		return nil
	}
	log.Info("reconciled",
		zap.Stringer("commit", commit.ID),
		zap.Int("patches", len(commit.Patches)))
	return writePatches(out, f, commit.Patches)
}
