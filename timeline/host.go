// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package timeline

import (
	"math"
	"time"
)

// Player is a native animation player handle.
type Player interface {
	// CurrentTime returns the player's current time. If the time is
	// not yet resolved, ok is false.
	CurrentTime() (t time.Duration, ok bool)
	// SetCurrentTime sets the player's current time, resolving it if
	// it was unresolved.
	SetCurrentTime(t time.Duration)

	PlaybackRate() float64
	SetPlaybackRate(r float64)

	// Cancel cancels the player's animation.
	Cancel()

	// SetOnFinish sets the function called when the player finishes.
	// A nil fn disables notification.
	SetOnFinish(fn func())
}

// Host is a native animation environment.
type Host interface {
	// Timeline returns the host's document timeline.
	Timeline() DocumentTimeline
}

// DocumentTimeline is the legacy player construction path.
type DocumentTimeline interface {
	// Play starts the animation and returns its player.
	Play(a *Animation) (Player, error)
}

// Animator is implemented by hosts that can create players directly on
// an element. It is preferred over the DocumentTimeline path when present.
type Animator interface {
	Animate(el Element, steps []Keyframe, timing Timing) (Player, error)
}

// Element is an animation target.
type Element string

// DefaultElement is the target used when no element is given.
const DefaultElement Element = "body"

// Keyframe is a single animation step.
type Keyframe struct {
	// Offset is the position of the step within the
	// animation's duration, in [0, 1]. If Offset is nil
	// steps are spaced evenly.
	Offset     *float64          `json:"offset,omitempty" toml:"offset"`
	Easing     string            `json:"easing,omitempty" toml:"easing"`
	Properties map[string]string `json:"properties,omitempty" toml:"properties"`
}

// Timing is an animation timing configuration.
type Timing struct {
	Delay    time.Duration `json:"delay,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	// Iterations is the number of times the animation
	// repeats. Zero is treated as one and math.Inf(1)
	// repeats forever.
	Iterations float64 `json:"iterations,omitempty"`
}

// End returns the end time of an animation with the receiver's timing
// and whether the end is bounded.
func (t Timing) End() (end time.Duration, ok bool) {
	n := t.Iterations
	if n == 0 {
		n = 1
	}
	if math.IsInf(n, 1) {
		return 0, false
	}
	return t.Delay + time.Duration(float64(t.Duration)*n), true
}

// Animation is an animation to be played on a DocumentTimeline.
type Animation struct {
	Target Element
	Steps  []Keyframe
	Timing Timing
}

// NewAnimation returns an Animation, substituting DefaultElement for
// an empty el.
func NewAnimation(el Element, steps []Keyframe, timing Timing) *Animation {
	if el == "" {
		el = DefaultElement
	}
	return &Animation{Target: el, Steps: steps, Timing: timing}
}

// build creates a player on h, using the Animator path if h provides it.
func build(h Host, el Element, steps []Keyframe, timing Timing) (Player, error) {
	if el == "" {
		el = DefaultElement
	}
	if a, ok := h.(Animator); ok {
		return a.Animate(el, steps, timing)
	}
	return h.Timeline().Play(NewAnimation(el, steps, timing))
}
