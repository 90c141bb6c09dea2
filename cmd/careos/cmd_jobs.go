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
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/careos/careos/pkg/ux"
	"github.com/careos/careos/services/alerts"
	"github.com/careos/careos/services/scheduler"
)

// runSweep runs one full sweep-then-dispatch cycle against the configured
// storage and exits. Useful from cron when the server is not running.
func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.close()

	res, runErr := a.scheduler.RunNow(cmd.Context())
	printRunResult(ux.NewPrinter(cmd.OutOrStdout()), res)
	if runErr != nil {
		return fmt.Errorf("sweep finished with errors: %w", runErr)
	}
	return nil
}

// runDispatch sends pending alerts without sweeping.
func runDispatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appConfig, appLogger.Slog())
	if err != nil {
		return err
	}
	defer a.close()

	res, dispatchErr := a.scheduler.DispatchNow(cmd.Context())
	p := ux.NewPrinter(cmd.OutOrStdout())
	p.Title("Alert dispatch")
	printDispatchResult(p, res)
	if dispatchErr != nil {
		return fmt.Errorf("dispatch finished with errors: %w", dispatchErr)
	}
	return nil
}

func printRunResult(p *ux.Printer, res scheduler.RunResult) {
	p.Title("Deviation sweep")
	p.Field("Deviations created", res.DeviationsCreated)
	printDispatchResult(p, res.Dispatch)
	p.Field("Duration", res.Duration().Round(time.Millisecond))
}

func printDispatchResult(p *ux.Printer, res alerts.DispatchResult) {
	p.Field("Pending", res.Pending)
	p.Field("Sent", res.Sent)
	p.Field("Skipped no manager", res.SkippedNoManager)
	p.Field("Skipped opt out", res.SkippedOptOut)
	p.Field("Failed", res.Failed)
	if res.Failed > 0 {
		p.Warning(fmt.Sprintf("%d alert(s) failed and will be retried on the next run", res.Failed))
	}
}

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
