// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package script

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a scenario file change identified by Watch.
type Change struct {
	Event    []fsnotify.Event
	Scenario *Scenario
	Err      error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	switch len(c.Event) {
	case 0:
		return 0
	case 1:
		return c.Event[0].Op
	default:
		var op fsnotify.Op
		for _, o := range c.Event {
			op |= o.Op
		}
		return op
	}
}

// Watch sends the scenario held in the file at path on changes, and then
// sends the scenario again each time the file is written or replaced.
// Watch returns when ctx is cancelled. The debounce parameter specifies
// how long to wait after an fsnotify.Event before reading the file. If it
// is less than zero, FileDebounce is used. If log is nil, logging is
// discarded.
func Watch(ctx context.Context, path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) error {
	if debounce < 0 {
		debounce = FileDebounce
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "scenario_watcher"))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so that editors that save
	// by replacing the file do not detach the watch.
	path = filepath.Clean(path)
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		return err
	}

	send := func(events []fsnotify.Event) bool {
		s, err := Load(path)
		select {
		case changes <- Change{Event: events, Scenario: s, Err: err}:
			return true
		case <-ctx.Done():
			return false
		}
	}
	if !send([]fsnotify.Event{{Name: path, Op: fsnotify.Create}}) {
		return ctx.Err()
	}

	var (
		pending []fsnotify.Event
		timer   *time.Timer
		ready   <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				log.LogAttrs(ctx, slog.LevelDebug, "ignore event", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				continue
			}
			pending = append(pending, ev)
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			ready = timer.C

		case <-ready:
			ready = nil
			events := pending
			pending = nil
			log.LogAttrs(ctx, slog.LevelDebug, "change", slog.Int("events", len(events)))
			if !send(events) {
				return ctx.Err()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.LogAttrs(ctx, slog.LevelWarn, "watch error", slog.Any("error", err))
			select {
			case changes <- Change{Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
