// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deviation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/careos/careos/services/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// RunBatchSweep runs DetectForUser for every employee.
//
// # Description
//
// Users are processed in parallel, bounded by Config.Concurrency. A failure
// for one user is logged and counted and never stops the others. The sweep
// only fails as a whole when the user list cannot be loaded or ctx ends.
//
// # Outputs
//
//   - int: number of deviations newly persisted across all users.
//   - error: non-nil on user listing failure or context cancellation.
func (d *Detector) RunBatchSweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "deviation.RunBatchSweep")
	defer span.End()

	start := d.now()
	users, err := d.store.ListUsersByRole(ctx, datatypes.RoleEmployee)
	if err != nil {
		return 0, fmt.Errorf("list employees: %w", err)
	}

	var created, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, u := range users {
		userID := u.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			devs, err := d.DetectForUser(gctx, userID, d.cfg.LookbackDays)
			created.Add(int64(len(devs)))
			if err != nil {
				failed.Add(1)
				d.metrics.RecordSweepUserFailure()
				d.logger.Warn("Deviation detection failed for user, continuing sweep",
					"user_id", userID,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("users", len(users)),
		attribute.Int64("created", created.Load()),
		attribute.Int64("failed", failed.Load()))
	d.logger.Info("Deviation sweep complete",
		"users", len(users),
		"created", created.Load(),
		"failed", failed.Load(),
		"duration", time.Since(start))

	if err := ctx.Err(); err != nil {
		return int(created.Load()), fmt.Errorf("deviation sweep interrupted: %w", err)
	}
	return int(created.Load()), nil
}
