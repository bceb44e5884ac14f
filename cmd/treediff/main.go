// SPDX-License-Identifier: Apache-2.0

// Command treediff prints the patches that turn one YAML, JSON or TOML
// document into another, or follows a file and prints them on every change.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sam-fredrickson/reconcile/internal/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		l, logErr := logger.New(&logger.Config{Level: "info", Format: "console"})
		if logErr != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
		} else {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		}
		os.Exit(1)
	}
}
