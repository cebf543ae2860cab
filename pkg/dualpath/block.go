// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dualpath

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/seplayers"
)

// SequenceModelFn models sequences shaped `[batch, sequence, features]` and returns
// a tensor of the same shape. It is used for both the intra-chunk and the inter-chunk
// paths of a Block.
type SequenceModelFn func(ctx *context.Context, x *Node) *Node

// IdentityModel is a SequenceModelFn that returns its input unchanged.
func IdentityModel(_ *context.Context, x *Node) *Node {
	return x
}

// BlockConfig configures one dual computation block. Create it with NewBlock, configure
// it and call Done.
type BlockConfig struct {
	ctx             *context.Context
	x               *Node
	intra, inter    SequenceModelFn
	norm            string
	linearLayer     bool
	skipAroundIntra bool
}

// NewBlock creates a dual computation block over chunks x shaped
// `[batch, channels, chunkSize, numChunks]`.
//
// The intra path models each chunk along the chunkSize axis, the inter path
// models each within-chunk position along the numChunks axis. The output has
// the same shape as x.
//
// By default it uses the "ln" normalization, a linear layer after each sequence model
// and a residual connection around the intra path.
func NewBlock(ctx *context.Context, x *Node, intra, inter SequenceModelFn) *BlockConfig {
	return &BlockConfig{
		ctx:             ctx,
		x:               x,
		intra:           intra,
		inter:           inter,
		norm:            "ln",
		linearLayer:     true,
		skipAroundIntra: true,
	}
}

// Norm selects the normalization applied after each path, see seplayers.Normalize.
// An empty name disables normalization.
func (b *BlockConfig) Norm(name string) *BlockConfig {
	b.norm = name
	return b
}

// LinearLayer sets whether a linear layer is applied after each sequence model.
func (b *BlockConfig) LinearLayer(useLinear bool) *BlockConfig {
	b.linearLayer = useLinear
	return b
}

// SkipAroundIntra sets whether the input is added to the output of the intra path.
func (b *BlockConfig) SkipAroundIntra(skip bool) *BlockConfig {
	b.skipAroundIntra = skip
	return b
}

// Done builds the block.
func (b *BlockConfig) Done() *Node {
	x := b.x
	x.AssertRank(4)
	if b.intra == nil || b.inter == nil {
		Panicf("dualpath.Block requires both the intra and the inter sequence models")
	}
	batchSize, channels := x.Shape().Dim(0), x.Shape().Dim(1)
	chunkSize, numChunks := x.Shape().Dim(2), x.Shape().Dim(3)

	// Intra: [B, N, K, S] -> [B*S, K, N].
	intra := TransposeAllAxes(x, 0, 3, 2, 1)
	intra = Reshape(intra, batchSize*numChunks, chunkSize, channels)
	intra = b.model(b.ctx.In("intra"), b.intra, intra, channels)
	intra = Reshape(intra, batchSize, numChunks, chunkSize, channels)
	intra = TransposeAllAxes(intra, 0, 3, 2, 1)
	if b.norm != "" {
		intra = seplayers.Normalize(b.ctx.In("intra_norm"), b.norm, intra)
	}
	if b.skipAroundIntra {
		intra = Add(intra, x)
	}

	// Inter: [B, N, K, S] -> [B*K, S, N].
	inter := TransposeAllAxes(intra, 0, 2, 3, 1)
	inter = Reshape(inter, batchSize*chunkSize, numChunks, channels)
	inter = b.model(b.ctx.In("inter"), b.inter, inter, channels)
	inter = Reshape(inter, batchSize, chunkSize, numChunks, channels)
	inter = TransposeAllAxes(inter, 0, 3, 1, 2)
	if b.norm != "" {
		inter = seplayers.Normalize(b.ctx.In("inter_norm"), b.norm, inter)
	}
	return Add(inter, intra)
}

// model applies the sequence model fn and the optional linear layer.
func (b *BlockConfig) model(ctx *context.Context, fn SequenceModelFn, x *Node, channels int) *Node {
	y := fn(ctx.In("model"), x)
	if b.linearLayer {
		y = layers.Dense(ctx.In("linear"), y, true, channels)
	} else if y.Shape().Dim(-1) != channels {
		Panicf("dualpath.Block: sequence model returned %d features for %d channels, enable LinearLayer "+
			"or fix the model", y.Shape().Dim(-1), channels)
	}
	return y
}
