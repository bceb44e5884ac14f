// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sam-fredrickson/reconcile/internal/logger"
)

// app is the state shared by the subcommands once flags are parsed.
type app struct {
	v   *viper.Viper
	cfg *Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	var configPath string

	root := &cobra.Command{
		Use:   "treediff",
		Short: "Reconcile structured documents",
		Long: `treediff compares documents (YAML, JSON, TOML) and prints the minimal
in-place patches that turn the first into the second.

Array elements carrying the key field are matched across reorders and
reported as moves instead of being rewritten.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.v, configPath)
			if err != nil {
				return err
			}
			if _, err := parseFormat(cfg.Format); err != nil {
				return err
			}
			log, err := logger.New(&cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (yaml, json or toml)")
	flags.String("key", "id", "field matching array elements")
	flags.Bool("unkeyed", false, "patch every array by position")
	flags.Bool("merge", false, "require the first array element to carry the key")
	flags.StringSlice("reserved", nil, "object keys that are never written")
	flags.String("format", "", "output format [json, yaml, toml, text] (defaults to the input's format)")
	flags.String("log-level", "warn", "log level [debug, info, warn, error]")
	flags.String("log-format", "console", "log format [console, json]")

	for key, flag := range map[string]string{
		"key":        "key",
		"unkeyed":    "unkeyed",
		"merge":      "merge",
		"reserved":   "reserved",
		"format":     "format",
		"log.level":  "log-level",
		"log.format": "log-format",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", flag, err))
		}
	}

	root.AddCommand(newDiffCmd(a), newWatchCmd(a), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
