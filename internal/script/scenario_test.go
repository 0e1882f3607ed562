// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package script

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/fauxtime/timeline"
)

func ptr[T any](v T) *T { return &v }

var parseTests = []struct {
	name    string
	src     string
	want    *Scenario
	wantErr string
}{
	{
		name: "call_seek",
		src: `
name = "call_seek"

[[step]]
op = "start"

[[step]]
op = "call"
at = "500ms"
label = "a"

[[step]]
op = "seek"
to = "1s"

[[step]]
op = "expect"
cond = "fired == ['a']"
`,
		want: &Scenario{
			Name: "call_seek",
			Steps: []Step{
				{Op: "start"},
				{Op: "call", At: ptr(500 * time.Millisecond), Label: "a"},
				{Op: "seek", To: ptr(time.Second)},
				{Op: "expect", Cond: "fired == ['a']"},
			},
		},
	},
	{
		name: "schedule",
		src: `
[[step]]
op = "schedule"
at = 0
label = "fade"
element = "#box"
keyframes = [
	{offset = 0.0, properties = {opacity = "0"}},
	{offset = 1.0, easing = "ease-in", properties = {opacity = "1"}},
]
delay = "100ms"
duration = "1s"
iterations = 2.5
`,
		want: &Scenario{
			Steps: []Step{{
				Op:      "schedule",
				At:      ptr(time.Duration(0)),
				Label:   "fade",
				Element: "#box",
				Keyframes: []timeline.Keyframe{
					{Offset: ptr(0.0), Properties: map[string]string{"opacity": "0"}},
					{Offset: ptr(1.0), Easing: "ease-in", Properties: map[string]string{"opacity": "1"}},
				},
				Delay:      ptr(100 * time.Millisecond),
				Duration:   ptr(time.Second),
				Iterations: ptr(2.5),
			}},
		},
	},
	{
		name: "expected_error",
		src: `
[[step]]
op = "rate"
rate = -1.0
error = "negative rate"
`,
		want: &Scenario{
			Steps: []Step{{Op: "rate", Rate: ptr(-1.0), Error: ptr("negative rate")}},
		},
	},
	{
		name: "zero_rate",
		src: `
[[step]]
op = "rate"
rate = 0.0
`,
		want: &Scenario{
			Steps: []Step{{Op: "rate", Rate: ptr(0.0)}},
		},
	},
	{
		name:    "no_steps",
		src:     `name = "empty"`,
		wantErr: "no scenario steps",
	},
	{
		name: "unknown_key",
		src: `
[[step]]
op = "start"
speed = 2
`,
		wantErr: "unknown scenario keys: step.speed",
	},
	{
		name: "unknown_op",
		src: `
[[step]]
op = "rewind"
`,
		wantErr: "step[0].op",
	},
	{
		name: "missing_at",
		src: `
[[step]]
op = "call"
label = "a"
`,
		wantErr: "step[0].at",
	},
	{
		name: "empty_label",
		src: `
[[step]]
op = "remove"
label = ""
`,
		wantErr: "step[0].label",
	},
	{
		name: "field_for_other_op",
		src: `
[[step]]
op = "seek"
to = "1s"
label = "a"
`,
		wantErr: "step[0].label",
	},
	{
		name: "negative_frame",
		src: `
[[step]]
op = "frame"
dt = "-16ms"
`,
		wantErr: "step[0].dt",
	},
	{
		name: "bad_duration",
		src: `
[[step]]
op = "seek"
to = "soon"
`,
		wantErr: "soon",
	},
}

func TestParse(t *testing.T) {
	for _, test := range parseTests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Parse([]byte(test.src))
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Errorf("unexpected error: got:%q want:%q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cmp.Equal(test.want, got) {
				t.Errorf("unexpected result:\n--- want:\n+++ got:\n%s", cmp.Diff(test.want, got))
			}
		})
	}
}

func TestComparePath(t *testing.T) {
	paths := [][]string{
		{"step", "10", "label"},
		{"step", "2", "at"},
		{"name"},
		{"step", "2"},
		{"step", "2", "at"},
		{"step", "2", "keyframes", "0", "offset"},
	}
	slices.SortFunc(paths, comparePath)
	paths = slices.CompactFunc(paths, func(a, b []string) bool {
		return comparePath(a, b) == 0
	})
	want := [][]string{
		{"name"},
		{"step", "2"},
		{"step", "2", "at"},
		{"step", "2", "keyframes", "0", "offset"},
		{"step", "10", "label"},
	}
	if !cmp.Equal(want, paths) {
		t.Errorf("unexpected path order:\n--- want:\n+++ got:\n%s", cmp.Diff(want, paths))
	}
}

func TestSchemaError(t *testing.T) {
	var src strings.Builder
	for i := range 11 {
		switch i {
		case 2:
			src.WriteString("[[step]]\nop = \"call\"\nlabel = \"a\"\n\n")
		case 10:
			src.WriteString("[[step]]\nop = \"remove\"\nlabel = \"\"\n\n")
		default:
			src.WriteString("[[step]]\nop = \"start\"\n\n")
		}
	}
	_, err := Parse([]byte(src.String()))
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("unexpected error type: %T: %v", err, err)
	}
	if len(serr.Paths) < 2 {
		t.Fatalf("unexpected number of invalid paths: %q", serr.Paths)
	}
	// Steps are reported in step order, not lexical order.
	if first := serr.Paths[0]; !strings.HasPrefix(first, "step[2]") {
		t.Errorf("unexpected first invalid path: got:%q want prefix:%q", first, "step[2]")
	}
	if last := serr.Paths[len(serr.Paths)-1]; !strings.HasPrefix(last, "step[10]") {
		t.Errorf("unexpected last invalid path: got:%q want prefix:%q", last, "step[10]")
	}
	if !strings.HasPrefix(err.Error(), "invalid scenario at step[2]") {
		t.Errorf("unexpected error message: %v", err)
	}
	if serr.Unwrap() == nil {
		t.Error("missing CUE error")
	}
}

func TestPathString(t *testing.T) {
	for _, test := range []struct {
		path []string
		want string
	}{
		{path: nil, want: "<root>"},
		{path: []string{"name"}, want: "name"},
		{path: []string{"step", "2", "keyframes", "0", "offset"}, want: "step[2].keyframes[0].offset"},
	} {
		got := pathString(test.path)
		if got != test.want {
			t.Errorf("unexpected path string for %q: got:%q want:%q", test.path, got, test.want)
		}
	}
}
