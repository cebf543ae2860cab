// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seplayers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// PadTime pads the last axis of x with `left` zeros at the start and `right` zeros at the end.
func PadTime(x *Node, left, right int) *Node {
	if left < 0 || right < 0 {
		Panicf("PadTime: paddings must be >= 0, got left=%d, right=%d", left, right)
	}
	return PadAxisWithZeros(x, -1, left, right)
}

// PadAxisWithZeros pads the given axis of x with `before` zeros at the start and `after` zeros at the end.
func PadAxisWithZeros(x *Node, axis, before, after int) *Node {
	if before == 0 && after == 0 {
		return x
	}
	axis = MustAdjustAxis(axis, x)
	paddings := make([]PadAxis, x.Rank())
	paddings[axis] = PadAxis{Start: before, End: after}
	return Pad(x, ScalarZero(x.Graph(), x.DType()), paddings...)
}

// PadOrTrim makes the last axis of x exactly `length` long, by zero padding at the end or
// by dropping the trailing samples.
func PadOrTrim(x *Node, length int) *Node {
	current := x.Shape().Dim(-1)
	switch {
	case current == length:
		return x
	case current < length:
		return PadTime(x, 0, length-current)
	default:
		return SliceAxis(x, -1, AxisRange(0, length))
	}
}

// PadToMultiple zero pads the end of the last axis of x so its length is a multiple of `multiple`.
func PadToMultiple(x *Node, multiple int) *Node {
	if multiple <= 0 {
		Panicf("PadToMultiple: multiple must be > 0, got %d", multiple)
	}
	remainder := x.Shape().Dim(-1) % multiple
	if remainder == 0 {
		return x
	}
	return PadTime(x, 0, multiple-remainder)
}
