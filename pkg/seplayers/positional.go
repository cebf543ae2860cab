// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seplayers

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// SinusoidalPositions returns the fixed positional encoding shaped `[length, dim]`:
//
//	pe[pos, 2i]   = sin(pos / 10000^(2i/dim))
//	pe[pos, 2i+1] = cos(pos / 10000^(2i/dim))
//
// dim must be even.
func SinusoidalPositions(g *Graph, dtype dtypes.DType, length, dim int) *Node {
	if dim%2 != 0 || dim <= 0 {
		Panicf("SinusoidalPositions requires an even positive dim, got %d", dim)
	}
	half := dim / 2
	pairShape := shapes.Make(dtype, length, half)
	positions := Iota(g, pairShape, 0)
	frequencies := Exp(MulScalar(Iota(g, pairShape, 1), -2*math.Log(10000.0)/float64(dim)))
	angles := Mul(positions, frequencies)
	pe := Stack([]*Node{Sin(angles), Cos(angles)}, -1)
	return Reshape(pe, length, dim)
}
