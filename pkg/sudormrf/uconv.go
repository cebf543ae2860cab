// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sudormrf

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"

	"github.com/gomlx/sudormrf/pkg/seplayers"
)

const (
	// DepthwiseKernelSize of the successive downsampling convolutions.
	DepthwiseKernelSize = 5

	// AttentionNormEpsilon of the layer normalization before the attention.
	AttentionNormEpsilon = 1e-5
)

// UConvBlock is one U-ConvBlock applied to x shaped `[batch, cfg.OutChannels, time]`:
//
//  1. 1x1 convolution expanding to cfg.InChannels, gLN and PReLU.
//  2. A pyramid of depthwise convolutions: the first with stride 1, the cfg.UpsamplingDepth-1
//     following ones with stride 2, each followed by a gLN.
//  3. If attentive, self-attention at the coarsest resolution.
//  4. From the coarsest level up, nearest upsampling and sum with the previous level.
//  5. gLN and PReLU, 1x1 convolution back to cfg.OutChannels and gLN.
//  6. Residual connection, followed by gLN and PReLU.
//
// The output has the same shape as x.
func UConvBlock(ctx *context.Context, x *Node, cfg Config, attentive, positional bool) *Node {
	residual := x
	output := seplayers.PointwiseConv(ctx.In("proj_1x1"), x, cfg.InChannels, true)
	output = seplayers.GlobalLayerNorm(ctx.In("proj_1x1"), output)
	output = seplayers.PReLU(ctx.In("proj_1x1"), output)

	levels := make([]*Node, 0, cfg.UpsamplingDepth)
	for level := range cfg.UpsamplingDepth {
		stride := 2
		if level == 0 {
			stride = 1
		}
		levelCtx := ctx.In(fmt.Sprintf("spp_dw_%d", level))
		output = seplayers.DepthwiseConv(levelCtx, output, DepthwiseKernelSize, stride, true)
		output = seplayers.GlobalLayerNorm(levelCtx, output)
		levels = append(levels, output)
	}

	if attentive {
		last := len(levels) - 1
		levels[last] = attentionLayer(ctx.In("attention"), levels[last], cfg, positional)
	}

	// Resample from the coarsest level up, summing on the way.
	for len(levels) > 1 {
		coarse := levels[len(levels)-1]
		levels = levels[:len(levels)-1]
		fine := levels[len(levels)-1]
		levels[len(levels)-1] = Add(fine, seplayers.UpsampleNearest(coarse, fine.Shape().Dim(-1)))
	}

	output = seplayers.GlobalLayerNorm(ctx.In("final_norm"), levels[0])
	output = seplayers.PReLU(ctx.In("final_norm"), output)
	output = seplayers.PointwiseConv(ctx.In("conv_1x1_exp"), output, cfg.OutChannels, true)
	output = seplayers.GlobalLayerNorm(ctx.In("conv_1x1_exp"), output)
	output = Add(output, residual)
	output = seplayers.GlobalLayerNorm(ctx.In("module_act"), output)
	return seplayers.PReLU(ctx.In("module_act"), output)
}

// attentionLayer is a pre-norm residual multi-head self-attention over the time axis of
// x shaped `[batch, channels, time]`.
func attentionLayer(ctx *context.Context, x *Node, cfg Config, positional bool) *Node {
	g := x.Graph()
	seq := Transpose(x, 1, 2) // [batch, time, channels]
	if positional {
		pe := seplayers.SinusoidalPositions(g, seq.DType(), seq.Shape().Dim(1), seq.Shape().Dim(2))
		seq = Add(seq, InsertAxes(pe, 0))
	}
	normed := seplayers.FeatureLayerNorm(ctx.In("norm"), seq, AttentionNormEpsilon)
	attended := attention.SelfAttention(ctx.In("mha"), normed, cfg.AttHeads, cfg.AttDims/cfg.AttHeads).
		Dropout(cfg.AttDropout).
		Done()
	seq = Add(seq, attended)
	return Transpose(seq, 1, 2)
}
