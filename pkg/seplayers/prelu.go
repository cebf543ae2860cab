// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seplayers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// PReLUInitialAlpha is the initial value of the learned negative slope.
const PReLUInitialAlpha = 0.25

// PReLU is a leaky ReLU with one learned negative slope shared by all channels.
//
// It returns `x if x >= 0; alpha*x if x < 0`.
func PReLU(ctx *context.Context, x *Node) *Node {
	ctx = ctx.In("prelu")
	g := x.Graph()
	alpha := ctx.VariableWithValue("alpha", float32(PReLUInitialAlpha)).ValueGraph(g)
	alpha = ConvertDType(alpha, x.DType())
	return Where(
		GreaterOrEqual(x, ScalarZero(g, x.DType())),
		x,
		Mul(x, alpha))
}
