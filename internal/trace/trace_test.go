// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

import (
	"bytes"
	"errors"
	"flag"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/fauxtime/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func TestDB(t *testing.T) {
	var logBuf bytes.Buffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	defer func() {
		if *verbose && logBuf.Len() != 0 {
			t.Logf("log:\n%s\n", &logBuf)
		}
	}()

	db, err := Open(filepath.Join(t.TempDir(), "trace.db"), log)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()

	runA := []Event{
		{Seq: 0, Time: 0, Kind: "call", Label: "a"},
		{Seq: 1, Time: 0, Kind: "seek", Detail: "500ms"},
		{Seq: 2, Time: 500 * time.Millisecond, Kind: "fire", Label: "a"},
	}
	runB := []Event{
		{Seq: 0, Time: 0, Kind: "rate", Detail: "2"},
	}
	for _, e := range runA {
		err = db.Record("a", e)
		if err != nil {
			t.Fatalf("failed to record %v: %v", e, err)
		}
	}
	rec := db.Recorder("b")
	for _, e := range runB {
		err = rec.Record(e)
		if err != nil {
			t.Fatalf("failed to record %v: %v", e, err)
		}
	}

	err = db.Record("a", runA[0])
	if err == nil {
		t.Error("expected error for duplicate sequence number")
	}
	err = db.Record("", runA[0])
	if err == nil {
		t.Error("expected error for empty run name")
	}

	got, err := db.Events("a")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if !cmp.Equal(runA, got) {
		t.Errorf("unexpected events:\n--- want:\n+++ got:\n%s", cmp.Diff(runA, got))
	}

	names, err := db.Runs()
	if err != nil {
		t.Fatalf("failed to get runs: %v", err)
	}
	if want := []string{"a", "b"}; !cmp.Equal(want, names) {
		t.Errorf("unexpected runs:\n--- want:\n+++ got:\n%s", cmp.Diff(want, names))
	}

	err = db.Drop("a")
	if err != nil {
		t.Fatalf("failed to drop run: %v", err)
	}
	got, err = db.Events("a")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("unexpected events after drop: %v", got)
	}
	b, err := JSON(got)
	if err != nil {
		t.Fatalf("failed to marshal events: %v", err)
	}
	if string(b) != "[]" {
		t.Errorf("unexpected JSON for empty run: %s", b)
	}
}

func TestRecorders(t *testing.T) {
	var got []Event
	errStop := errors.New("stop")
	r := Recorders{
		RecorderFunc(func(e Event) error {
			got = append(got, e)
			return nil
		}),
		RecorderFunc(func(e Event) error {
			if e.Kind == "stop" {
				return errStop
			}
			return nil
		}),
	}
	err := r.Record(Event{Kind: "seek"})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err = r.Record(Event{Kind: "stop"})
	if err != errStop {
		t.Errorf("unexpected error: got:%v want:%v", err, errStop)
	}
	want := []Event{{Kind: "seek"}, {Kind: "stop"}}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected events:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}
