// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace provides persistence of timeline scenario event traces.
package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// Event is a single timeline event.
type Event struct {
	// Seq is the event's position in its run.
	Seq int `json:"seq"`
	// Time is the virtual time of the timeline
	// when the event happened.
	Time time.Duration `json:"time"`
	// Kind is the kind of event, the scenario
	// operation or "fire" for a call being made.
	Kind   string `json:"kind"`
	Label  string `json:"label,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// DB is a persistent trace store.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Schema is the DB schema. Time is in nanoseconds.
const Schema = `
create table if not exists events(
	run    TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	time   INTEGER NOT NULL,
	kind   TEXT NOT NULL,
	label  TEXT NOT NULL,
	detail TEXT NOT NULL,
	PRIMARY KEY(run, seq)
);
`

const (
	insert = `
insert into events values(?, ?, ?, ?, ?, ?);
`

	events = `
select seq, time, kind, label, detail from events where run is ? order by seq;
`

	runs = `
select distinct run from events order by run;
`

	drop = `
delete from events where run is ?;
`
)

// Open opens a DB, creating the tables if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details. If log is nil, logging is discarded.
func Open(name string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{store: db, log: log.With(slog.String("component", "trace"))}, nil
}

// Record adds the event to the named run. Events with a sequence number
// already held for the run are rejected.
func (db *DB) Record(run string, e Event) error {
	ctx := context.Background()
	if run == "" {
		return errors.New("empty run name")
	}
	db.log.LogAttrs(ctx, slog.LevelDebug, "record", slog.String("run", run), slog.Any("event", e))
	db.mu.Lock()
	_, err := db.store.Exec(insert, run, e.Seq, int64(e.Time), e.Kind, e.Label, e.Detail)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "record", slog.String("run", run), slog.Any("error", err))
	}
	return err
}

// Events returns the events of the named run in sequence order.
func (db *DB) Events(run string) ([]Event, error) {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "events", slog.String("run", run))
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.Query(events, run)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "events", slog.String("run", run), slog.Any("error", err))
		return nil, err
	}
	defer rows.Close()
	var (
		ev []Event
		t  int64
	)
	for rows.Next() {
		var e Event
		err = rows.Scan(&e.Seq, &t, &e.Kind, &e.Label, &e.Detail)
		if err != nil {
			return nil, err
		}
		e.Time = time.Duration(t)
		ev = append(ev, e)
	}
	return ev, rows.Err()
}

// Runs returns the names of all runs held by the DB in lexical order.
func (db *DB) Runs() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.Query(runs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Drop deletes all events of the named run.
func (db *DB) Drop(run string) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "drop", slog.String("run", run))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(drop, run)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "drop", slog.String("run", run), slog.Any("error", err))
	}
	return err
}

// Recorder returns a Recorder that adds events to the named run.
func (db *DB) Recorder(run string) Recorder {
	return RecorderFunc(func(e Event) error {
		return db.Record(run, e)
	})
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}

// JSON returns a JSON representation of a run's events returned by Events.
func JSON(ev []Event) ([]byte, error) {
	if ev == nil {
		ev = []Event{}
	}
	return json.Marshal(ev)
}

// Recorder is an event sink.
type Recorder interface {
	Record(Event) error
}

// RecorderFunc is a function Recorder.
type RecorderFunc func(Event) error

func (f RecorderFunc) Record(e Event) error { return f(e) }

// Recorders is a Recorder that records to each of its elements in turn,
// stopping at the first error.
type Recorders []Recorder

func (r Recorders) Record(e Event) error {
	for _, dst := range r {
		err := dst.Record(e)
		if err != nil {
			return err
		}
	}
	return nil
}
