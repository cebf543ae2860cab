// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seplayers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/pkg/support/xslices"
)

// UpsampleNearest resizes the last axis of x to targetLen by nearest-neighbor interpolation:
// output position i takes input position floor(i*len/targetLen).
func UpsampleNearest(x *Node, targetLen int) *Node {
	length := x.Shape().Dim(-1)
	if targetLen == length {
		return x
	}
	if targetLen < length || length == 0 {
		Panicf("UpsampleNearest: can't upsample length %d to %d", length, targetLen)
	}
	outputSizes := xslices.SliceWithValue(x.Rank(), NoInterpolation)
	outputSizes[x.Rank()-1] = targetLen
	return Interpolate(x, outputSizes...).
		Nearest().
		HalfPixelCenters(false).
		AlignCorner(false).
		Done()
}
