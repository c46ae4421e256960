// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filestore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever a YAML file in the directory changes.
//
// Description:
//
//	Watches the store directory and its environments/ and profiles/
//	subdirectories. Events are debounced; after the quiet period the store
//	is reloaded and, if the reload succeeded, onChange is called. A failed
//	reload is logged and the previous snapshot keeps being served.
//
// Inputs:
//
//	ctx - Watch stops when ctx is done.
//	onChange - Called after each successful reload. May be nil.
//
// Outputs:
//
//	error - Non-nil only if the watcher could not be set up. Blocks until
//	ctx is done otherwise, then returns nil.
//
// Thread Safety: Safe to run concurrently with every other Store method.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	for _, dir := range []string{s.dir, filepath.Join(s.dir, environmentsDir), filepath.Join(s.dir, profilesDir)} {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := s.Reload(ctx); err != nil {
				s.logger.Warn("configuration reload failed, keeping previous records",
					"dir", s.dir, "error", err)
				continue
			}
			s.logger.Info("configuration reloaded", "dir", s.dir)
			if onChange != nil {
				onChange()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("configuration watcher error", "dir", s.dir, "error", err)
		}
	}
}

// relevant filters out temp files and chmod-only events.
func relevant(e fsnotify.Event) bool {
	if e.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(e.Name)
	return filepath.Ext(base) == yamlExt && !strings.HasPrefix(base, ".")
}
