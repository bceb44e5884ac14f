// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sam-fredrickson/reconcile"
)

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff PREV NEXT",
		Short: "Print the patches that turn PREV into NEXT",
		Example: `  # show what changed between two releases of a config
  treediff diff old.yaml new.yaml

  # same, as JSON, matching list items by "name"
  treediff diff --key name --format json old.yaml new.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(a.cfg, a.log, args[0], args[1], cmd.OutOrStdout())
		},
	}
}

// runDiff decodes both files and writes the patches between them to out.
func runDiff(cfg *Config, log *zap.Logger, prevFile, nextFile string, out io.Writer) error {
	r, err := reconcile.NewReconciler(cfg.options(log))
	if err != nil {
		return err
	}

	prev, prevFormat, err := unmarshalFile(prevFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", prevFile, err)
	}
	next, _, err := unmarshalFile(nextFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", nextFile, err)
	}

	outputFormat, err := parseFormat(cfg.Format)
	if err != nil {
		return err
	}
	if outputFormat == "" {
		outputFormat = prevFormat
	}

	rec := reconcile.NewRecorder(prev)
	r.Diff(next, prev, rec)
	if err := rec.Err(); err != nil {
		return fmt.Errorf("diff of %s and %s failed: %w", prevFile, nextFile, err)
	}
	log.Debug("diffed documents",
		zap.String("prev", prevFile),
		zap.String("next", nextFile),
		zap.Int("patches", len(rec.Patches())))

	return writePatches(out, outputFormat, rec.Patches())
}
