// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The fauxtime executable runs timeline scenario files against a
// simulated animation host, printing the event trace as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bbrks/wrap/v2"

	"github.com/kortschak/fauxtime/internal/script"
	"github.com/kortschak/fauxtime/internal/slogext"
	"github.com/kortschak/fauxtime/internal/trace"
	"github.com/kortschak/fauxtime/internal/version"
)

// Exit status codes.
const (
	success = 0
	failure = 1 << (iota - 1)
	invocationError
)

const description = `fauxtime runs a TOML timeline scenario against a simulated animation host. Each scenario step is an operation on a virtual timeline; the resulting event trace is written to stdout as JSON lines, one event per line, and may also be stored in an sqlite trace database. Steps with an expect op evaluate a CEL expression over the timeline state and fail the scenario if it is false. In watch mode the scenario is rerun each time its file changes until interrupted.`

func main() { os.Exit(Main()) }

func Main() int {
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	dbPath := flag.String("trace", "", "path to sqlite trace database")
	runName := flag.String("run", "", "trace run name (default scenario name or file stem)")
	watch := flag.Bool("watch", false, "rerun the scenario when its file changes")
	dump := flag.Bool("dump", false, "print the stored trace for -run, or the stored run names, and exit")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return failure
		}
		return success
	}
	switch {
	case *dump && (*dbPath == "" || flag.NArg() != 0 || *watch):
		flag.Usage()
		return invocationError
	case !*dump && flag.NArg() != 1:
		flag.Usage()
		return invocationError
	}
	path := flag.Arg(0)

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return invocationError
	}
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:       &level,
		AddSource:   addSource,
		ReplaceAttr: slogext.Millis,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "fauxtime.main"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		select {
		case <-c:
			mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
			cancel()
		case <-ctx.Done():
		}
	}()

	var db *trace.DB
	if *dbPath != "" {
		db, err = trace.Open(*dbPath, log)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelError, "failed to open trace db", slog.Any("error", err))
			return failure
		}
		defer db.Close()
	}
	if *dump {
		err = dumpTrace(os.Stdout, db, *runName)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelError, "failed to dump trace", slog.Any("error", err))
			return failure
		}
		return success
	}
	r := &runner{
		path: path,
		run:  *runName,
		out:  os.Stdout,
		db:   db,
		log:  log,
		mlog: mlog,
	}

	if !*watch {
		s, err := script.Load(path)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelError, "failed to load scenario", slog.String("path", path), slog.Any("error", err))
			return failure
		}
		err = r.do(ctx, s)
		if err != nil {
			return failure
		}
		return success
	}

	changes := make(chan script.Change)
	done := make(chan error, 1)
	go func() {
		done <- script.Watch(ctx, path, changes, script.FileDebounce, log)
	}()
	for {
		select {
		case <-ctx.Done():
			<-done
			mlog.LogAttrs(ctx, slog.LevelInfo, "exit")
			return success
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				mlog.LogAttrs(ctx, slog.LevelError, "watch failed", slog.Any("error", err))
				return failure
			}
			return success
		case ch := <-changes:
			if ch.Err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "scenario change", slog.String("path", path), slog.String("op", ch.Op().String()), slog.Any("error", ch.Err))
				continue
			}
			mlog.LogAttrs(ctx, slog.LevelInfo, "scenario change", slog.String("path", path), slog.String("op", ch.Op().String()))
			// Failures are logged by do and the
			// scenario is rerun on the next change.
			r.do(ctx, ch.Scenario)
		}
	}
}

func usage() {
	out := flag.CommandLine.Output()
	name := filepath.Base(os.Args[0])
	fmt.Fprintf(out, "usage: %s [options] <scenario.toml>\n       %[1]s -trace <db> -dump [-run <name>]\n\n", name)
	wrapper := wrap.NewWrapper()
	wrapper.StripTrailingNewline = true
	fmt.Fprintf(out, "%s\n\n", wrapper.Wrap(description, 80))
	flag.PrintDefaults()
}

// runner runs scenarios, sending their traces to out and the trace db.
type runner struct {
	path string
	run  string
	out  io.Writer
	db   *trace.DB

	log  *slog.Logger
	mlog *slog.Logger
}

func (r *runner) do(ctx context.Context, s *script.Scenario) error {
	run := r.runName(s)
	enc := json.NewEncoder(r.out)
	rec := trace.Recorders{trace.RecorderFunc(func(e trace.Event) error {
		return enc.Encode(e)
	})}
	if r.db != nil {
		// A rerun replaces the previous trace.
		err := r.db.Drop(run)
		if err != nil {
			r.mlog.LogAttrs(ctx, slog.LevelError, "failed to drop previous run", slog.String("run", run), slog.Any("error", err))
			return err
		}
		rec = append(rec, r.db.Recorder(run))
	}
	r.mlog.LogAttrs(ctx, slog.LevelInfo, "run", slog.String("run", run), slog.Int("steps", len(s.Steps)))
	err := script.Run(ctx, s, r.log, rec)
	if err != nil {
		r.mlog.LogAttrs(ctx, slog.LevelError, "scenario failed", slog.String("run", run), slog.Any("error", err))
		return err
	}
	r.mlog.LogAttrs(ctx, slog.LevelInfo, "scenario passed", slog.String("run", run))
	return nil
}

// runName returns the name of the trace run for s.
func (r *runner) runName(s *script.Scenario) string {
	switch {
	case r.run != "":
		return r.run
	case s.Name != "":
		return s.Name
	default:
		return strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
	}
}

// dumpTrace writes the events of the named run in db to w as a JSON
// array. If run is empty, the names of the runs held in db are written,
// one per line.
func dumpTrace(w io.Writer, db *trace.DB, run string) error {
	if run == "" {
		runs, err := db.Runs()
		if err != nil {
			return err
		}
		for _, r := range runs {
			_, err = fmt.Fprintln(w, r)
			if err != nil {
				return err
			}
		}
		return nil
	}
	events, err := db.Events(run)
	if err != nil {
		return err
	}
	b, err := trace.JSON(events)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
