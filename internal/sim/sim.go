// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides a simulated native animation host.
//
// The host does no rendering. It tracks the current time, playback rate
// and finished state of each player it creates, and advances them when
// it is stepped, in the way an engine frame loop would. Finish
// notifications are queued when a player reaches its end and are only
// delivered by a subsequent call to Step, mirroring the asynchronous
// delivery of a real host.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kortschak/fauxtime/internal/slogext"
	"github.com/kortschak/fauxtime/timeline"
)

// Host is a simulated animation host. It implements [timeline.Host] and
// [timeline.Animator].
type Host struct {
	started bool
	nextID  int

	// players is the set of uncancelled players
	// in creation order.
	players []*Player
	// queue holds players with undelivered
	// finish notifications.
	queue []*Player

	log *slog.Logger
}

var (
	_ timeline.Host     = (*Host)(nil)
	_ timeline.Animator = (*Host)(nil)
	_ timeline.Player   = (*Player)(nil)
)

// New returns a new unstarted Host. If log is nil, logging is discarded.
func New(log *slog.Logger) *Host {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Host{log: log.With(slog.String("component", "sim"))}
}

// Animate returns a new player animating el.
func (h *Host) Animate(el timeline.Element, steps []timeline.Keyframe, timing timeline.Timing) (timeline.Player, error) {
	p, err := h.create(timeline.NewAnimation(el, steps, timing))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Timeline returns the host's document timeline.
func (h *Host) Timeline() timeline.DocumentTimeline {
	return document{h}
}

// Legacy returns a view of the host that only provides the document
// timeline player construction path.
func (h *Host) Legacy() timeline.Host {
	return legacy{h}
}

type legacy struct {
	h *Host
}

func (l legacy) Timeline() timeline.DocumentTimeline {
	return document{l.h}
}

type document struct {
	h *Host
}

func (d document) Play(a *timeline.Animation) (timeline.Player, error) {
	p, err := d.h.create(a)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Host) create(a *timeline.Animation) (*Player, error) {
	err := validate(a.Steps, a.Timing)
	if err != nil {
		return nil, err
	}
	end, bounded := a.Timing.End()
	p := &Player{
		host:     h,
		id:       h.nextID,
		anim:     *a,
		end:      end,
		bounded:  bounded,
		rate:     1,
		resolved: h.started,
	}
	h.nextID++
	h.players = append(h.players, p)
	h.log.LogAttrs(context.Background(), slog.LevelDebug, "create", slog.Any("player", slogext.Stringer{Stringer: p}), slog.Bool("resolved", p.resolved))
	p.check()
	return p, nil
}

func validate(steps []timeline.Keyframe, timing timeline.Timing) error {
	var last float64
	for i, s := range steps {
		if s.Offset == nil {
			continue
		}
		o := *s.Offset
		if !(0 <= o && o <= 1) {
			return fmt.Errorf("keyframe %d: offset %v not in [0, 1]", i, o)
		}
		if o < last {
			return fmt.Errorf("keyframe %d: offsets not loosely sorted", i)
		}
		last = o
	}
	if timing.Duration < 0 {
		return fmt.Errorf("invalid duration: %v", timing.Duration)
	}
	if timing.Iterations < 0 || math.IsNaN(timing.Iterations) {
		return fmt.Errorf("invalid iteration count: %v", timing.Iterations)
	}
	return nil
}

// Start starts the host's clock, resolving the current time of all
// players that are unresolved to zero.
func (h *Host) Start() {
	if h.started {
		return
	}
	h.started = true
	for _, p := range h.players {
		if !p.resolved {
			p.resolved = true
			p.time = 0
			p.check()
		}
	}
}

// Started returns whether Start has been called.
func (h *Host) Started() bool {
	return h.started
}

// Step renders a frame dt after the previous frame. If the host is
// started, each resolved player is advanced by dt scaled by its playback
// rate. Queued finish notifications are then delivered in the order they
// were raised. Notifications raised by the delivered handlers are
// delivered on the next Step.
func (h *Host) Step(dt time.Duration) {
	if h.started {
		for _, p := range h.players {
			if !p.resolved {
				continue
			}
			p.time += time.Duration(float64(dt) * p.rate)
			p.check()
		}
	}

	queue := h.queue
	h.queue = nil
	for _, p := range queue {
		if p.cancelled || p.onFinish == nil {
			continue
		}
		h.log.LogAttrs(context.Background(), slog.LevelDebug, "finish", slog.Any("player", slogext.Stringer{Stringer: p}))
		p.onFinish()
	}
}

// Live returns the number of uncancelled players.
func (h *Host) Live() int {
	return len(h.players)
}

// Player is a simulated native animation player.
type Player struct {
	host *Host
	id   int
	anim timeline.Animation

	end     time.Duration
	bounded bool

	time     time.Duration
	resolved bool
	rate     float64

	cancelled bool
	finished  bool
	onFinish  func()
}

// CurrentTime returns the player's current time and whether it is
// resolved.
func (p *Player) CurrentTime() (time.Duration, bool) {
	if !p.resolved {
		return 0, false
	}
	return p.time, true
}

// SetCurrentTime sets the player's current time.
func (p *Player) SetCurrentTime(t time.Duration) {
	if p.cancelled {
		return
	}
	p.time = t
	p.resolved = true
	p.check()
}

// PlaybackRate returns the player's playback rate.
func (p *Player) PlaybackRate() float64 {
	return p.rate
}

// SetPlaybackRate sets the player's playback rate.
func (p *Player) SetPlaybackRate(r float64) {
	p.rate = r
	p.check()
}

// Cancel cancels the player. The player's time becomes unresolved and
// no further finish notifications are delivered.
func (p *Player) Cancel() {
	if p.cancelled {
		return
	}
	p.cancelled = true
	p.resolved = false
	p.finished = false
	h := p.host
	for i, q := range h.players {
		if q == p {
			h.players = append(h.players[:i], h.players[i+1:]...)
			break
		}
	}
}

// SetOnFinish sets the player's finish handler.
func (p *Player) SetOnFinish(fn func()) {
	p.onFinish = fn
}

// Cancelled returns whether the player has been cancelled.
func (p *Player) Cancelled() bool {
	return p.cancelled
}

// Finished returns whether the player has reached the end of its
// animation.
func (p *Player) Finished() bool {
	return p.finished
}

// Animation returns the player's animation.
func (p *Player) Animation() timeline.Animation {
	return p.anim
}

func (p *Player) String() string {
	return fmt.Sprintf("player-%d(%s)", p.id, p.anim.Target)
}

// check updates the finished state, queuing a notification on the
// transition into finished.
func (p *Player) check() {
	fin := p.resolved && !p.cancelled && p.bounded && p.rate > 0 && p.time >= p.end
	if fin && !p.finished {
		p.host.queue = append(p.host.queue, p)
	}
	p.finished = fin
}
