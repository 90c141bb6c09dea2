// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/careos/careos/pkg/config"
	"github.com/careos/careos/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath string
	scanJSON   bool

	// Populated by loadRuntime before any subcommand runs.
	appConfig config.Config
	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "careos",
		Short: "CareOS wellbeing guardrail and deviation pipeline",
		Long: `CareOS collects employee wellbeing check-ins, detects concerning
patterns, alerts managers with supportive prompts, and produces
advisory-only insights that pass an ethical content filter.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadRuntime,
		PersistentPostRun: func(*cobra.Command, []string) {
			if appLogger != nil {
				_ = appLogger.Close()
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sweep/dispatch scheduler",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run one deviation sweep over all employees, then dispatch alerts",
		Args:  cobra.NoArgs,
		RunE:  runSweep, // Defined in cmd_jobs.go
	}

	dispatchCmd = &cobra.Command{
		Use:   "dispatch",
		Short: "Send manager alerts for pending deviations",
		Args:  cobra.NoArgs,
		RunE:  runDispatch, // Defined in cmd_jobs.go
	}

	scanCmd = &cobra.Command{
		Use:   "scan [text|-]",
		Short: "Check text against the content policy filter",
		Long: `Scan text for disciplinary, ranking or grading language.

With no argument or "-", the text is read from standard input.

Exit Codes:
  0 = Clean
  1 = Violation found
  2 = Error`,
		Args: cobra.MaximumNArgs(1),
		Run:  runScan, // Defined in cmd_scan.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the YAML config file (env CAREOS_* overrides apply)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output the scan result as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(scanCmd)
}

// loadRuntime loads the configuration and installs the process logger.
func loadRuntime(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lc := cfg.Logging.LoggerConfig("careos")
	if cmd == scanCmd {
		// scan output is meant for pipes; keep stdout and stderr clean.
		lc.Quiet = true
	}
	appConfig = cfg
	appLogger = logging.New(lc)
	slog.SetDefault(appLogger.Slog())
	return nil
}
