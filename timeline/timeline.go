// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package timeline provides a virtual animation timeline layered over a
// host's native animation players.
//
// A Timeline schedules animations and deferred function calls against a
// virtual clock. The clock only moves forward, and only when it is seeked
// or when the host advances its root player, so time-based animation
// logic can be tested deterministically without waiting for real time to
// pass. Seeking synchronously runs all calls that are due by the seek
// target before returning.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"time"
)

// Errors returned by Timeline methods, wrapped with the offending values
// where there are any.
var (
	// ErrNegativeRate is returned for negative or NaN playback rates.
	ErrNegativeRate = errors.New("unsupported negative rate")
	// ErrBackwardSeek is returned for seeks before the current time.
	ErrBackwardSeek = errors.New("backward seek unsupported")
	// ErrPastCall is returned for calls registered before the
	// current time.
	ErrPastCall = errors.New("past call unsupported")
	// ErrNotPlayer is returned when Remove is given a nil or
	// incomparable player.
	ErrNotPlayer = errors.New("expected player handle")
	// ErrNilFunc is returned when Call is given a nil function.
	ErrNilFunc = errors.New("nil call function")
)

// rootTiming is the timing of the root clock player. The root never
// finishes.
var rootTiming = Timing{Duration: time.Second, Iterations: math.Inf(1)}

// Timeline is a virtual animation timeline.
//
// Timeline values must not be used concurrently. Hosts are expected
// to deliver finish notifications on the goroutine that drives the
// timeline.
type Timeline struct {
	host Host

	// root is the clock source.
	root Player
	// local is the last known current time,
	// used when the root's time is unresolved.
	local time.Duration

	players []Player
	calls   []*call
	// owners holds all unconsumed calls, including
	// calls being run by a seek.
	owners map[Player]*call

	log *slog.Logger
}

// call is a pending deferred function. fn is nil once the call has been
// consumed, either by firing or by removal.
type call struct {
	player Player
	fn     func()
}

// New returns a new Timeline using players created by host. If log is
// nil, logging is discarded.
func New(host Host, log *slog.Logger) (*Timeline, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	root, err := build(host, DefaultElement, nil, rootTiming)
	if err != nil {
		return nil, err
	}
	return &Timeline{
		host:   host,
		root:   root,
		owners: make(map[Player]*call),
		log:    log.With(slog.String("component", "timeline")),
	}, nil
}

// PlaybackRate returns the timeline's playback rate.
func (t *Timeline) PlaybackRate() float64 {
	return t.root.PlaybackRate()
}

// SetPlaybackRate sets the playback rate of the timeline and all its
// scheduled animations. Players backing pending calls keep the rate they
// were created with. Negative rates are not supported.
func (t *Timeline) SetPlaybackRate(r float64) error {
	if r < 0 || math.IsNaN(r) {
		return fmt.Errorf("%w: %v", ErrNegativeRate, r)
	}
	t.local = t.CurrentTime()
	t.root.SetPlaybackRate(r)
	for _, p := range t.players {
		p.SetPlaybackRate(r)
	}
	return nil
}

// CurrentTime returns the virtual time of the timeline. If the host has
// not yet resolved the root player's time, the last known time is
// returned.
func (t *Timeline) CurrentTime() time.Duration {
	now, ok := t.root.CurrentTime()
	if !ok {
		t.log.LogAttrs(context.Background(), slog.LevelDebug, "current time unresolved, using local time", slog.Duration("local", t.local))
		return t.local
	}
	return now
}

// Seek moves the timeline forward to the specified time, advancing all
// scheduled players by the same amount. Any pending calls that are due
// at or before to are run synchronously in the order they were
// registered before Seek returns. Seeking into the past is not
// supported.
func (t *Timeline) Seek(to time.Duration) error {
	now := t.CurrentTime()
	delta := to - now
	if delta < 0 {
		return fmt.Errorf("%w: %v is before %v", ErrBackwardSeek, to, now)
	}
	t.log.LogAttrs(context.Background(), slog.LevelDebug, "seek", slog.Duration("from", now), slog.Duration("to", to))

	t.root.SetCurrentTime(to)
	for _, p := range t.players {
		advance(p, delta)
	}

	var due []*call
	pending := t.calls[:0]
	for _, c := range t.calls {
		advance(c.player, delta)
		if at, _ := c.player.CurrentTime(); at < 0 {
			pending = append(pending, c)
			continue
		}
		due = append(due, c)
	}
	clear(t.calls[len(pending):])
	t.calls = pending

	// Run the finish handlers directly rather than waiting for the
	// host to notify; the host's notification will arrive later and
	// be ignored.
	for _, c := range due {
		t.finish(c)
	}
	return nil
}

func advance(p Player, delta time.Duration) {
	at, _ := p.CurrentTime()
	p.SetCurrentTime(at + delta)
}

// Schedule schedules an animation of el with the provided steps and
// timing to have started at when, which may be in the past. The returned
// player may be used to inspect the animation or to remove it.
func (t *Timeline) Schedule(when time.Duration, el Element, steps []Keyframe, timing Timing) (Player, error) {
	p, err := t.create(when, el, steps, timing)
	if err != nil {
		return nil, err
	}
	t.players = append(t.players, p)
	return p, nil
}

// create builds a player positioned as if it had been running
// since when.
func (t *Timeline) create(when time.Duration, el Element, steps []Keyframe, timing Timing) (Player, error) {
	now := t.CurrentTime()
	p, err := build(t.host, el, steps, timing)
	if err != nil {
		return nil, err
	}
	p.SetPlaybackRate(t.root.PlaybackRate())
	p.SetCurrentTime(now - when)
	return p, nil
}

// Call registers fn to be called when the timeline reaches when. The
// call happens either during a Seek to or past when, or when the host
// notifies that the backing player has finished, whichever is first;
// fn is called at most once. Calls in the past are not supported.
func (t *Timeline) Call(when time.Duration, fn func()) error {
	if fn == nil {
		return ErrNilFunc
	}
	now := t.CurrentTime()
	if when < now {
		return fmt.Errorf("%w: %v before %v", ErrPastCall, now-when, now)
	}
	p, err := t.create(when, DefaultElement, nil, Timing{})
	if err != nil {
		return err
	}
	c := &call{player: p, fn: fn}
	p.SetOnFinish(func() { t.finish(c) })
	t.calls = append(t.calls, c)
	t.owners[p] = c
	return nil
}

// finish runs a call's function if it has not already been consumed.
func (t *Timeline) finish(c *call) {
	fn := c.fn
	if fn == nil {
		// Finish may be signalled twice, once by a seek and once
		// by the host. The first consumed the call.
		return
	}
	c.fn = nil
	t.remove(c.player)
	c.player.SetOnFinish(nil)
	fn()
}

// Remove cancels the player and removes it from the timeline. If p backs
// a pending call, the call will not be made, even if it is due in a seek
// that is currently running. Removing a player that is not held by the
// timeline only cancels it. Players whose dynamic type is not comparable
// cannot be held by a timeline and are rejected.
func (t *Timeline) Remove(p Player) error {
	if p == nil {
		return ErrNotPlayer
	}
	if typ := reflect.TypeOf(p); !typ.Comparable() {
		return fmt.Errorf("%w: %s is not comparable", ErrNotPlayer, typ)
	}
	t.remove(p)
	return nil
}

func (t *Timeline) remove(p Player) {
	p.Cancel()
	if i := slices.Index(t.players, p); i >= 0 {
		t.players = slices.Delete(t.players, i, i+1)
	}
	c, ok := t.owners[p]
	if !ok {
		return
	}
	c.fn = nil
	delete(t.owners, p)
	if i := slices.Index(t.calls, c); i >= 0 {
		t.calls = slices.Delete(t.calls, i, i+1)
	}
}

// RemoveAll cancels all scheduled animations and pending calls,
// including calls that are due in a seek that is currently running. The
// timeline's clock is retained.
func (t *Timeline) RemoveAll() {
	t.log.LogAttrs(context.Background(), slog.LevelDebug, "remove all", slog.Int("players", len(t.players)), slog.Int("calls", len(t.owners)))
	for _, p := range t.players {
		p.Cancel()
	}
	for _, c := range t.owners {
		c.fn = nil
		c.player.Cancel()
	}
	t.players = nil
	t.calls = nil
	clear(t.owners)
}

// Scheduled returns the timeline's scheduled animation players in the
// order they were scheduled.
func (t *Timeline) Scheduled() []Player {
	return slices.Clone(t.players)
}

// Pending returns the number of calls that have not yet been made.
func (t *Timeline) Pending() int {
	return len(t.calls)
}
