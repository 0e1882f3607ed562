// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/kortschak/fauxtime/internal/celext"
	"github.com/kortschak/fauxtime/internal/sim"
	"github.com/kortschak/fauxtime/internal/trace"
	"github.com/kortschak/fauxtime/timeline"
)

// Run executes the scenario against a timeline on a new simulated host,
// sending the event trace to rec. Run returns at the first step that
// fails unexpectedly, the first expectation that is not met, or when
// ctx is cancelled.
func Run(ctx context.Context, s *Scenario, log *slog.Logger, rec trace.Recorder) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r, err := newRunner(log.With(slog.String("scenario", s.Name)), rec)
	if err != nil {
		return err
	}
	for i, st := range s.Steps {
		err = ctx.Err()
		if err != nil {
			return err
		}
		err = r.do(st)
		if r.err != nil {
			return fmt.Errorf("step %d (%s): trace: %w", i, st.Op, r.err)
		}
		if st.Error != nil {
			if err == nil {
				return fmt.Errorf("step %d (%s): expected error containing %q", i, st.Op, *st.Error)
			}
			if !strings.Contains(err.Error(), *st.Error) {
				return fmt.Errorf("step %d (%s): unexpected error: got:%q want:%q", i, st.Op, err, *st.Error)
			}
			r.emit("error", st.Label, err.Error())
			continue
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, st.Op, err)
		}
	}
	return r.err
}

type runner struct {
	host *sim.Host
	tl   *timeline.Timeline

	// players holds scheduled animations by label.
	players map[string]timeline.Player
	// labels holds all labels in use.
	labels map[string]bool
	fired  []string

	env *cel.Env

	seq int
	rec trace.Recorder
	err error

	log *slog.Logger
}

func newRunner(log *slog.Logger, rec trace.Recorder) (*runner, error) {
	host := sim.New(log)
	tl, err := timeline.New(host, log)
	if err != nil {
		return nil, err
	}
	env, err := cel.NewEnv(
		celext.Lib(log),
		cel.Variable("time", cel.DurationType),
		cel.Variable("rate", cel.DoubleType),
		cel.Variable("scheduled", cel.IntType),
		cel.Variable("pending", cel.IntType),
		cel.Variable("live", cel.IntType),
		cel.Variable("fired", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create env: %v", err)
	}
	return &runner{
		host:    host,
		tl:      tl,
		players: make(map[string]timeline.Player),
		labels:  make(map[string]bool),
		env:     env,
		rec:     rec,
		log:     log,
	}, nil
}

// emit sends an event to the runner's recorder. The first recorder
// error is retained and no further events are sent.
func (r *runner) emit(kind, label, detail string) {
	if r.rec == nil || r.err != nil {
		return
	}
	e := trace.Event{
		Seq:    r.seq,
		Time:   r.tl.CurrentTime(),
		Kind:   kind,
		Label:  label,
		Detail: detail,
	}
	r.seq++
	r.err = r.rec.Record(e)
}

func (r *runner) do(st Step) error {
	r.log.LogAttrs(context.Background(), slog.LevelDebug, "step", slog.String("op", st.Op), slog.String("label", st.Label))
	switch st.Op {
	case "start":
		r.emit(st.Op, "", "")
		r.host.Start()
		return nil

	case "frame":
		dt, err := need(st.Dt, "dt")
		if err != nil {
			return err
		}
		r.emit(st.Op, "", dt.String())
		r.host.Step(dt)
		return nil

	case "rate":
		if st.Rate == nil {
			return errors.New("missing rate")
		}
		r.emit(st.Op, "", strconv.FormatFloat(*st.Rate, 'g', -1, 64))
		return r.tl.SetPlaybackRate(*st.Rate)

	case "seek":
		to, err := need(st.To, "to")
		if err != nil {
			return err
		}
		r.emit(st.Op, "", to.String())
		return r.tl.Seek(to)

	case "schedule":
		at, err := need(st.At, "at")
		if err != nil {
			return err
		}
		err = r.claim(st.Label)
		if err != nil {
			return err
		}
		timing := timing(st)
		r.emit(st.Op, st.Label, fmt.Sprintf("at=%v duration=%v", at, timing.Duration))
		p, err := r.tl.Schedule(at, timeline.Element(st.Element), st.Keyframes, timing)
		if err != nil {
			delete(r.labels, st.Label)
			return err
		}
		r.players[st.Label] = p
		return nil

	case "call":
		at, err := need(st.At, "at")
		if err != nil {
			return err
		}
		err = r.claim(st.Label)
		if err != nil {
			return err
		}
		label := st.Label
		r.emit(st.Op, label, at.String())
		err = r.tl.Call(at, func() {
			r.fired = append(r.fired, label)
			r.emit("fire", label, at.String())
		})
		if err != nil {
			delete(r.labels, label)
		}
		return err

	case "remove":
		p, ok := r.players[st.Label]
		if !ok {
			return fmt.Errorf("no scheduled animation: %q", st.Label)
		}
		r.emit(st.Op, st.Label, "")
		delete(r.players, st.Label)
		return r.tl.Remove(p)

	case "remove_all":
		r.emit(st.Op, "", "")
		clear(r.players)
		r.tl.RemoveAll()
		return nil

	case "expect":
		r.emit(st.Op, "", st.Cond)
		return r.expect(st.Cond)

	default:
		return fmt.Errorf("unknown op: %q", st.Op)
	}
}

func need(d *time.Duration, name string) (time.Duration, error) {
	if d == nil {
		return 0, fmt.Errorf("missing %s", name)
	}
	return *d, nil
}

// claim reserves a label for a scheduled animation or call.
func (r *runner) claim(label string) error {
	if label == "" {
		return errors.New("missing label")
	}
	if r.labels[label] {
		return fmt.Errorf("duplicate label: %q", label)
	}
	r.labels[label] = true
	return nil
}

func timing(st Step) timeline.Timing {
	var t timeline.Timing
	if st.Delay != nil {
		t.Delay = *st.Delay
	}
	if st.Duration != nil {
		t.Duration = *st.Duration
	}
	if st.Iterations != nil {
		t.Iterations = *st.Iterations
	}
	if st.Forever {
		t.Iterations = math.Inf(1)
	}
	return t
}

func (r *runner) expect(src string) error {
	if src == "" {
		return errors.New("missing cond")
	}
	ast, iss := r.env.Compile(src)
	if iss.Err() != nil {
		return fmt.Errorf("failed compilation: %v", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return fmt.Errorf("expectation is not boolean: %s", ast.OutputType())
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed program instantiation: %v", err)
	}
	fired := r.fired
	if fired == nil {
		fired = []string{}
	}
	out, _, err := prg.Eval(map[string]any{
		"time":      r.tl.CurrentTime(),
		"rate":      r.tl.PlaybackRate(),
		"scheduled": len(r.tl.Scheduled()),
		"pending":   r.tl.Pending(),
		"live":      r.host.Live(),
		"fired":     fired,
	})
	if err != nil {
		return fmt.Errorf("failed eval: %v", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return fmt.Errorf("expectation is not boolean: %v", out.Value())
	}
	if !ok {
		return fmt.Errorf("expectation failed: %s", src)
	}
	return nil
}
