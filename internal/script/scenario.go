// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package script provides timeline scenario files and their execution
// against a simulated host.
package script

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/fauxtime/timeline"
)

// Scenario is a sequence of timeline operations.
type Scenario struct {
	Name  string `json:"name,omitempty" toml:"name"`
	Steps []Step `json:"step,omitempty" toml:"step"`
}

// Step is a single scenario operation. The fields used depend on Op.
//
//	start:       start the host clock
//	frame:       render a host frame Dt after the last
//	rate:        set the timeline playback rate to Rate
//	seek:        seek the timeline to To
//	schedule:    schedule an animation of Element started at At
//	call:        register a call at At
//	remove:      remove the animation scheduled with Label
//	remove_all:  remove all animations and calls
//	expect:      evaluate the CEL expression Cond, failing if false
//
// Scheduled animations and calls are identified by Label, which is used
// in the event trace and by remove.
type Step struct {
	Op string `json:"op" toml:"op"`

	At   *time.Duration `json:"at,omitempty" toml:"at"`
	To   *time.Duration `json:"to,omitempty" toml:"to"`
	Dt   *time.Duration `json:"dt,omitempty" toml:"dt"`
	Rate *float64       `json:"rate,omitempty" toml:"rate"`

	Label     string              `json:"label,omitempty" toml:"label"`
	Element   string              `json:"element,omitempty" toml:"element"`
	Keyframes []timeline.Keyframe `json:"keyframes,omitempty" toml:"keyframes"`

	Delay      *time.Duration `json:"delay,omitempty" toml:"delay"`
	Duration   *time.Duration `json:"duration,omitempty" toml:"duration"`
	Iterations *float64       `json:"iterations,omitempty" toml:"iterations"`
	// Forever indicates the animation repeats
	// without end, overriding Iterations.
	Forever bool `json:"forever,omitempty" toml:"forever"`

	Cond string `json:"cond,omitempty" toml:"cond"`

	// Error is the expected error text for the step.
	// If it is not nil the step must fail with an
	// error containing the text.
	Error *string `json:"error,omitempty" toml:"error"`
}

// Schema is the CUE schema for a valid scenario.
const Schema = `
{
	name?: string
	step?: [... _#step]
}

_#step: {
	op:     "start" | "frame" | "rate" | "seek" | "schedule" | "call" | "remove" | "remove_all" | "expect"
	error?: string

	if op == "frame" {
		dt: int & >=0
	}
	if op == "rate" {
		rate: number
	}
	if op == "seek" {
		to: int
	}
	if op == "schedule" {
		at:          int
		label:       _#label
		element?:    string
		keyframes?:  [... _#keyframe]
		delay?:      int
		duration?:   int & >=0
		iterations?: number & >=0
		forever?:    bool
	}
	if op == "call" {
		at:    int
		label: _#label
	}
	if op == "remove" {
		label: _#label
	}
	if op == "expect" {
		cond: string & !=""
	}
}

_#label: string & !=""

_#keyframe: {
	offset?:     number
	easing?:     string
	properties?: {[string]: string}
}
`

// Parse returns the scenario held in the TOML data in b. The scenario is
// validated against Schema and a *SchemaError is returned if it does not
// conform.
func Parse(b []byte) (*Scenario, error) {
	var s Scenario
	md, err := toml.Decode(string(b), &s)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown scenario keys: %s", strings.Join(keys, " "))
	}
	if len(s.Steps) == 0 {
		return nil, errors.New("no scenario steps")
	}
	err = validate(&s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Load returns the scenario held in the TOML file at path.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}
