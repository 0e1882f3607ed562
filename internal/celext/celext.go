// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package celext provides CEL extensions for expressing animation times.
package celext

import (
	"context"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/types/known/structpb"
)

// Lib returns a cel.EnvOption to configure extended functions for
// working with animation times.
//
// # Milliseconds
//
// Returns a duration of the given number of milliseconds:
//
//	ms(<int>) -> <duration>
//
// Examples:
//
//	ms(500)                        // return duration("500ms")
//	ms(1500) == duration("1.5s")   // return true
//
// # Seconds
//
// Returns a duration of the given number of seconds:
//
//	seconds(<double>) -> <duration>
//
// Examples:
//
//	seconds(0.25)  // return duration("250ms")
//
// # Debug
//
// The second parameter is returned unaltered and the value is logged to the
// lib's logger:
//
//	debug(<string>, <dyn>) -> <dyn>
//
// Examples:
//
//	debug("tag", expr) // return expr even if it is an error and logs with "tag".
func Lib(log *slog.Logger) cel.EnvOption {
	return cel.Lib(lib{log: log})
}

type lib struct {
	log *slog.Logger
}

func (l lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("ms",
			cel.Overload(
				"ms_int",
				[]*cel.Type{cel.IntType},
				cel.DurationType,
				cel.UnaryBinding(millis),
			),
		),
		cel.Function("seconds",
			cel.Overload(
				"seconds_double",
				[]*cel.Type{cel.DoubleType},
				cel.DurationType,
				cel.UnaryBinding(seconds),
			),
		),
		cel.Function("debug",
			cel.Overload(
				"debug_string_dyn",
				[]*cel.Type{cel.StringType, cel.DynType},
				cel.DynType,
				cel.BinaryBinding(l.logDebug),
				cel.OverloadIsNonStrict(),
			),
		),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption { return nil }

func millis(arg ref.Val) ref.Val {
	n, ok := arg.(types.Int)
	if !ok {
		return types.ValOrErr(n, "no such overload")
	}
	if int64(n) > math.MaxInt64/int64(time.Millisecond) || int64(n) < math.MinInt64/int64(time.Millisecond) {
		return types.NewErr("duration overflow: %d ms", n)
	}
	return types.Duration{Duration: time.Duration(n) * time.Millisecond}
}

func seconds(arg ref.Val) ref.Val {
	s, ok := arg.(types.Double)
	if !ok {
		return types.ValOrErr(s, "no such overload")
	}
	d := float64(s) * float64(time.Second)
	if math.IsNaN(d) || d > math.MaxInt64 || d < math.MinInt64 {
		return types.NewErr("duration overflow: %v s", float64(s))
	}
	return types.Duration{Duration: time.Duration(d)}
}

func (l lib) logDebug(arg0, arg1 ref.Val) ref.Val {
	tag, ok := arg0.(types.String)
	if !ok {
		return types.ValOrErr(tag, "no such overload")
	}
	if l.log == nil {
		return arg1
	}
	val, err := arg1.ConvertToNative(reflect.TypeOf((*structpb.Value)(nil)))
	if err != nil {
		l.log.LogAttrs(context.Background(), slog.LevelError, "cel debug log error", slog.String("tag", string(tag)), slog.Any("error", err))
	} else {
		l.log.LogAttrs(context.Background(), slog.LevelDebug, "cel debug log", slog.String("tag", string(tag)), slog.Any("value", val))
	}
	return arg1
}
