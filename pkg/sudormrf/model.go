// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sudormrf

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/seplayers"
)

// Model builds the SuDoRmRf separation graph for the mixture wav shaped `[batch, time]`
// (or `[batch, 1, time]`) and returns the estimated sources shaped `[batch, cfg.NumSources, time]`.
//
// It panics if cfg is invalid.
func Model(ctx *context.Context, cfg Config, variant Variant, wav *Node) *Node {
	sources, _ := ModelWithMasks(ctx, cfg, variant, wav)
	return sources
}

// ModelWithMasks is like Model, but also returns the estimated masks, shaped
// `[batch, cfg.NumSources, cfg.EncNumBasis, frames]`.
func ModelWithMasks(ctx *context.Context, cfg Config, variant Variant, wav *Node) (sources, masks *Node) {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if wav.Rank() == 3 {
		if wav.Shape().Dim(1) != 1 {
			Panicf("SuDoRmRf takes a single channel mixture, got shape %s", wav.Shape())
		}
		wav = Squeeze(wav, 1)
	}
	wav.AssertRank(2)
	if variant == AttentionV3 && cfg.InChannels%2 != 0 {
		Panicf("SuDoRmRf %s requires an even InChannels for the positional encoding, got %d", variant, cfg.InChannels)
	}
	ctx = ctx.In("sudormrf")
	batchSize := wav.Shape().Dim(0)
	numSamples := wav.Shape().Dim(-1)
	hop := cfg.EncKernelSize / 2

	x := seplayers.PadToMultiple(wav, cfg.MinSamples())
	encoded := seplayers.Encoder(ctx, x, cfg.EncNumBasis, cfg.EncKernelSize).
		Stride(hop).
		Padding(hop).
		Done() // [batch, basis, frames]
	numFrames := encoded.Shape().Dim(-1)

	x = seplayers.GlobalLayerNorm(ctx.In("ln"), encoded)
	x = seplayers.PointwiseConv(ctx.In("bottleneck"), x, cfg.OutChannels, true)
	for blockIdx := range cfg.NumBlocks {
		x = UConvBlock(ctx.In(fmt.Sprintf("block_%d", blockIdx)), x, cfg,
			variant.IsAttentive(blockIdx, cfg.NumBlocks), variant == AttentionV3)
	}

	// Masks: [batch, sources, basis, frames].
	x = seplayers.PReLU(ctx.In("mask_net"), x)
	x = seplayers.PointwiseConv(ctx.In("mask_net"), x, cfg.NumSources*cfg.EncNumBasis, true)
	masks = activations.Relu(Reshape(x, batchSize, cfg.NumSources, cfg.EncNumBasis, numFrames))
	masked := Mul(masks, InsertAxes(encoded, 1))

	sources = seplayers.Decoder(ctx, masked, cfg.EncKernelSize).
		Stride(hop).
		Crop(hop).
		PerSourceWeights(true).
		Done() // [batch, sources, samples]
	sources = seplayers.PadOrTrim(sources, numSamples)
	return sources, masks
}
