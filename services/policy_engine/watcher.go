// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// RuleWatcher reloads an extra rules file when it changes on disk.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename are still picked up. A reload that fails
// validation is logged and the previous rules stay active.
type RuleWatcher struct {
	engine  *PolicyEngine
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// onReload is called after every reload attempt. Used by tests.
	onReload func(err error)
}

// NewRuleWatcher creates a watcher for path. It does not load the file;
// call engine.LoadExtraRulesFile first.
func NewRuleWatcher(engine *PolicyEngine, path string, logger *slog.Logger) (*RuleWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &RuleWatcher{
		engine:  engine,
		path:    abs,
		watcher: w,
		logger:  logger,
	}, nil
}

// Start blocks until ctx is cancelled or the watcher is stopped.
func (w *RuleWatcher) Start(ctx context.Context) {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("Failed to watch policy rules directory",
			"path", dir,
			"error", err)
		return
	}

	w.logger.Debug("Started watching extra policy rules", "path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Policy rules watcher error", "error", err)

		case <-ctx.Done():
			w.logger.Debug("Policy rules watcher stopping")
			return
		}
	}
}

func (w *RuleWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	err := w.engine.LoadExtraRulesFile(w.path)
	if err != nil {
		w.logger.Warn("Rejected extra policy rules, keeping previous rules",
			"path", w.path,
			"error", err)
	} else {
		w.logger.Info("Reloaded extra policy rules", "path", w.path, "rules", w.engine.RuleCount())
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}

// Stop closes the underlying watcher.
func (w *RuleWatcher) Stop() error {
	return w.watcher.Close()
}
