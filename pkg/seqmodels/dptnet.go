// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seqmodels

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/seplayers"
)

// DPTNetNormEpsilon is the epsilon of the DPTNet layer normalizations.
const DPTNetNormEpsilon = 1e-5

// DPTNet is the improved transformer block of the dual-path transformer network: a multi-head
// self-attention with residual and layer normalization, followed by a feed-forward network
// where the first linear layer is replaced by a bidirectional LSTM with hiddenSize units.
//
// x is shaped `[batch, sequence, features]`. If hiddenSize <= 0 it defaults to 2*features.
func DPTNet(ctx *context.Context, x *Node, numHeads, hiddenSize int) *Node {
	ctx = ctx.In("dptnet")
	x.AssertRank(3)
	dModel := x.Shape().Dim(2)
	if numHeads <= 0 || dModel%numHeads != 0 {
		Panicf("DPTNet: number of heads %d must divide the number of features %d", numHeads, dModel)
	}
	if hiddenSize <= 0 {
		hiddenSize = 2 * dModel
	}
	attn := attention.SelfAttention(ctx.In("attn"), x, numHeads, dModel/numHeads).Done()
	x = seplayers.FeatureLayerNorm(ctx.In("norm1"), Add(x, attn), DPTNetNormEpsilon)

	ff := lstmLayer(ctx.In("lstm"), x, hiddenSize, true)
	ff = activations.Relu(ff)
	ff = layers.Dense(ctx.In("linear"), ff, true, dModel)
	return seplayers.FeatureLayerNorm(ctx.In("norm2"), Add(x, ff), DPTNetNormEpsilon)
}
