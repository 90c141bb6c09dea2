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
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/careos/careos/pkg/config"
	"github.com/careos/careos/pkg/ux"
	"github.com/careos/careos/services/policy_engine"
)

// Exit codes for scan.
const (
	ScanExitClean     = 0
	ScanExitViolation = 1
	ScanExitError     = 2
)

// scanReport is the --json output of scan.
type scanReport struct {
	policy_engine.ScanResult
	Categories []policy_engine.Category `json:"categories,omitempty"`
	Message    string                   `json:"message,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) {
	code, err := scan(cmd.InOrStdin(), cmd.OutOrStdout(), appConfig.Policy, args, scanJSON)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	os.Exit(code)
}

// scan checks one text against the built-in and configured policy rules.
//
// # Inputs
//
//   - in: Read when args is empty or "-".
//   - out: Receives the report.
//   - policy: Extra rules to load, if any.
//   - args: Optional text to scan.
//   - asJSON: Emit a scanReport instead of printer output.
//
// # Outputs
//
//   - int: One of the ScanExit* codes.
//   - error: Non-nil only with ScanExitError.
func scan(in io.Reader, out io.Writer, policy config.PolicyConfig, args []string, asJSON bool) (int, error) {
	text, err := scanInput(in, args)
	if err != nil {
		return ScanExitError, err
	}

	engine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return ScanExitError, err
	}
	if policy.ExtraRulesPath != "" {
		if err := engine.LoadExtraRulesFile(policy.ExtraRulesPath); err != nil {
			return ScanExitError, fmt.Errorf("load extra policy rules: %w", err)
		}
	}

	result := engine.Scan(text)
	report := scanReport{ScanResult: result, Categories: result.Categories()}
	if v, ok := policy_engine.IsGuardrailViolation(engine.Enforce(text)); ok {
		report.Message = v.Message
	}

	if asJSON {
		if err := writeJSON(out, report); err != nil {
			return ScanExitError, err
		}
	} else {
		printScanReport(ux.NewPrinter(out), report)
	}

	if !result.IsClean {
		return ScanExitViolation, nil
	}
	return ScanExitClean, nil
}

func scanInput(in io.Reader, args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func printScanReport(p *ux.Printer, r scanReport) {
	p.Title("Content policy scan")
	if r.IsClean {
		p.Success("No prohibited language found")
		return
	}
	cats := make([]string, 0, len(r.Categories))
	for _, c := range r.Categories {
		cats = append(cats, string(c))
	}
	p.WarningBox("Prohibited language", r.Message)
	p.Field("Categories", strings.Join(cats, ","))
	for _, v := range r.Violations {
		p.Field("Match", fmt.Sprintf("%s (%s)", v.MatchedText, v.RuleID))
	}
}
