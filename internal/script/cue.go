// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package script

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/gocode/gocodec"
	"golang.org/x/exp/constraints"
)

// SchemaError is returned by Parse when a scenario does not conform
// to Schema.
type SchemaError struct {
	// Paths holds the invalid scenario paths in step order,
	// for example "step[2].at".
	Paths []string
	// Err is the CUE validation error.
	Err error
}

func (e *SchemaError) Error() string {
	if len(e.Paths) == 0 {
		return fmt.Sprintf("invalid scenario: %v", e.Err)
	}
	return fmt.Sprintf("invalid scenario at %s: %v", strings.Join(e.Paths, ", "), e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// validate checks s against Schema, returning a *SchemaError if any
// step is invalid.
func validate(s *Scenario) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(Schema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("invalid scenario schema: %w", err)
	}
	v, err := gocodec.New(ctx, nil).Decode(s)
	if err != nil {
		return err
	}
	err = schema.Unify(v).Validate(cue.Concrete(true), cue.Final())
	if err == nil {
		return nil
	}
	var paths [][]string
	for _, e := range cerrors.Errors(err) {
		if p := cerrors.Path(e); len(p) != 0 {
			paths = append(paths, p)
		}
	}
	slices.SortFunc(paths, comparePath)
	paths = slices.CompactFunc(paths, func(a, b []string) bool {
		return comparePath(a, b) == 0
	})
	at := make([]string, len(paths))
	for i, p := range paths {
		at[i] = pathString(p)
	}
	return &SchemaError{Paths: at, Err: err}
}

// comparePath orders CUE error paths so that the errors of a step sort
// before those of later steps, comparing list indices numerically.
func comparePath(a, b []string) int {
	for i := range min(len(a), len(b)) {
		if c := compareSelector(a[i], b[i]); c != 0 {
			return c
		}
	}
	return order(len(a), len(b))
}

// compareSelector compares path elements, placing indices before
// field names.
func compareSelector(a, b string) int {
	i, errA := strconv.Atoi(a)
	j, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return order(i, j)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return order(a, b)
	}
}

func order[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// pathString returns a scenario path in CUE syntax, step[2].at.
func pathString(p []string) string {
	if len(p) == 0 {
		return "<root>"
	}
	sel := make([]cue.Selector, len(p))
	for i, e := range p {
		if n, err := strconv.Atoi(e); err == nil {
			sel[i] = cue.Index(n)
			continue
		}
		sel[i] = cue.Str(e)
	}
	return cue.MakePath(sel...).String()
}
